package models

// ContentItem is a single story returned by content discovery.
type ContentItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Author   string `json:"author,omitempty"`
	Score    int    `json:"score"`
	URL      string `json:"url,omitempty"`
	Category string `json:"category"`
}

// Text returns the title and body joined for narration.
func (c ContentItem) Text() string {
	if c.Body == "" {
		return c.Title
	}
	if c.Title == "" {
		return c.Body
	}
	return c.Title + "\n\n" + c.Body
}
