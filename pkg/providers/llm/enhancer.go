// Package llm rewrites source stories into narration scripts with an
// OpenAI-compatible chat completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/pricing"
)

const systemPrompt = `You write narration scripts for short vertical videos.
Rewrite the story you are given so it can be read aloud in about %.1f minutes (roughly %d words).
Keep the facts, tighten the pacing and open with a hook.
Reply with a first line of the form "Title: <title>", a blank line, then the script only.`

// Config configures an Enhancer.
type Config struct {
	// Name keys the pricing table.
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	RPS     float64
}

// Enhancer implements pipeline.TextEnhancer.
type Enhancer struct {
	client  *openai.Client
	name    string
	model   string
	limiter *rate.Limiter
	prices  *pricing.Table
}

// New creates an Enhancer. Costs are priced per total token.
func New(cfg Config, prices *pricing.Table) *Enhancer {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}
	return &Enhancer{
		client:  openai.NewClientWithConfig(oc),
		name:    cfg.Name,
		model:   cfg.Model,
		limiter: lim,
		prices:  prices,
	}
}

// Enhance rewrites sourceText into a script of about targetMinutes.
func (e *Enhancer) Enhance(ctx context.Context, sourceText string, targetMinutes float64) (pipeline.Enhancement, error) {
	if strings.TrimSpace(sourceText) == "" {
		return pipeline.Enhancement{}, errors.New("enhance: empty source text")
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return pipeline.Enhancement{}, fmt.Errorf("enhance: rate limit wait: %w", err)
	}

	words := int(targetMinutes * 150)
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, targetMinutes, words)},
			{Role: openai.ChatMessageRoleUser, Content: sourceText},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return pipeline.Enhancement{}, fmt.Errorf("enhance: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return pipeline.Enhancement{}, errors.New("enhance: no choices returned")
	}

	title, text := splitTitle(resp.Choices[0].Message.Content)
	return pipeline.Enhancement{
		Title: title,
		Text:  text,
		Cost:  e.prices.Estimate(e.name, float64(resp.Usage.TotalTokens)),
	}, nil
}

// splitTitle separates a leading "Title: ..." line from the script.
func splitTitle(content string) (title, text string) {
	content = strings.TrimSpace(content)
	first, rest, found := strings.Cut(content, "\n")
	label, value, ok := strings.Cut(first, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(label), "title") {
		return "", content
	}
	title = strings.Trim(strings.TrimSpace(value), `"`)
	if !found {
		return title, ""
	}
	return title, strings.TrimSpace(rest)
}
