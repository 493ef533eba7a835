package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
)

// RedditConfig configures a Reddit discovery client.
type RedditConfig struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	RPS       float64
	// Subreddits maps categories to listings.
	Subreddits map[string]string
}

// Reddit discovers stories from a subreddit's top listing.
type Reddit struct {
	c    *client
	subs map[string]string
}

// NewReddit creates a Reddit client.
func NewReddit(cfg RedditConfig) *Reddit {
	if cfg.URL == "" {
		cfg.URL = "https://www.reddit.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "clipforge/0.1"
	}
	return &Reddit{
		c:    newClient("reddit", cfg.URL, cfg.Timeout, cfg.RPS, map[string]string{"User-Agent": cfg.UserAgent}),
		subs: cfg.Subreddits,
	}
}

type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID        string `json:"id"`
				Title     string `json:"title"`
				Selftext  string `json:"selftext"`
				Author    string `json:"author"`
				Score     int    `json:"score"`
				Permalink string `json:"permalink"`
				Stickied  bool   `json:"stickied"`
				Over18    bool   `json:"over_18"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Fetch implements pipeline.ContentDiscovery and prefetch.Fetcher. Stickied,
// NSFW and text-less posts are skipped.
func (r *Reddit) Fetch(ctx context.Context, category string, limit int) ([]models.ContentItem, error) {
	sub := r.subs[category]
	if sub == "" {
		sub = category
	}
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{"limit": {fmt.Sprint(limit)}, "t": {"day"}, "raw_json": {"1"}}
	path := "/r/" + url.PathEscape(sub) + "/top.json?" + q.Encode()

	var l listing
	if err := r.c.do(ctx, http.MethodGet, path, nil, &l); err != nil {
		return nil, err
	}

	items := make([]models.ContentItem, 0, len(l.Data.Children))
	for _, ch := range l.Data.Children {
		p := ch.Data
		if p.Stickied || p.Over18 || strings.TrimSpace(p.Selftext) == "" {
			continue
		}
		items = append(items, models.ContentItem{
			ID:       p.ID,
			Title:    p.Title,
			Body:     p.Selftext,
			Author:   p.Author,
			Score:    p.Score,
			URL:      "https://www.reddit.com" + p.Permalink,
			Category: category,
		})
	}
	return items, nil
}
