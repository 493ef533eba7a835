package pipeline

import (
	"fmt"
	"strings"

	"github.com/clipforge/clipforge/pkg/models"
)

// wordsPerMinute is the narration pace used for estimates and fallbacks.
const wordsPerMinute = 150

func pickStory(items []models.ContentItem) (title, text string) {
	best := items[0]
	for _, it := range items[1:] {
		if it.Score > best.Score {
			best = it
		}
	}
	return best.Title, best.Text()
}

func fallbackStory(category string) (title, text string) {
	if category == "" {
		category = "story"
	}
	title = fmt.Sprintf("A %s story", category)
	text = fmt.Sprintf("This is a %s story. Something unexpected happened, "+
		"and the people involved had to decide what to do next. "+
		"Here is how it unfolded.", category)
	return title, text
}

// fallbackScript trims the source to the target length and frames it with a
// fixed intro and outro.
func fallbackScript(title, source string, minutes float64) string {
	budget := int(minutes * wordsPerMinute)
	if budget < 20 {
		budget = 20
	}
	words := strings.Fields(source)
	if len(words) > budget {
		words = append(words[:budget], "…")
	}
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteString(".\n\n")
	}
	b.WriteString(strings.Join(words, " "))
	b.WriteString("\n\nThanks for listening.")
	return b.String()
}

func placeholderURL(kind, key string) string {
	return fmt.Sprintf("fallback://%s/%s", kind, shortKey(key))
}

func shortKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}

// estimateTokens approximates prompt plus completion tokens for enhancing
// source into a script of the given length.
func estimateTokens(source string, minutes float64) float64 {
	prompt := float64(len(source)) / 4
	completion := minutes * wordsPerMinute * 1.4
	return prompt + completion
}

func narrationSeconds(script string) float64 {
	words := len(strings.Fields(script))
	if words == 0 {
		return 0
	}
	return float64(words) / wordsPerMinute * 60
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
