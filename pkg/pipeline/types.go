package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/clipforge/clipforge/pkg/cache"
	"github.com/clipforge/clipforge/pkg/models"
)

// Stage names one step of a run.
type Stage string

const (
	StageDiscover   Stage = "discover"
	StageEnhance    Stage = "enhance"
	StageSynthesize Stage = "synthesize"
	StageRender     Stage = "render"
)

// OutcomeKind tags a StageOutcome.
type OutcomeKind string

const (
	Success  OutcomeKind = "success"
	Fallback OutcomeKind = "fallback"
)

// StageOutcome records how one stage finished.
type StageOutcome struct {
	Stage    Stage         `json:"stage"`
	Kind     OutcomeKind   `json:"kind"`
	Provider string        `json:"provider"`
	Cost     float64       `json:"cost"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ErrInvalidRequest is returned for requests with neither a category nor
// source text.
var ErrInvalidRequest = errors.New("invalid pipeline request")

// Request describes one video to produce. Every field is part of the cache
// key.
type Request struct {
	Category      string  `json:"category"`
	SourceText    string  `json:"source_text,omitempty"`
	TargetMinutes float64 `json:"target_minutes"`
	Voice         string  `json:"voice"`
	Background    string  `json:"background"`
	Captions      bool    `json:"captions"`
	// Limit is the discovery result-set size.
	Limit int `json:"limit"`
}

func (r Request) normalized(defaultLimit int) Request {
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	r.SourceText = strings.TrimSpace(r.SourceText)
	if r.TargetMinutes <= 0 {
		r.TargetMinutes = 1
	}
	if r.Voice == "" {
		r.Voice = "default"
	}
	if r.Background == "" {
		r.Background = "default"
	}
	if r.Limit <= 0 {
		r.Limit = defaultLimit
	}
	return r
}

func (r Request) validate() error {
	if r.Category == "" && r.SourceText == "" {
		return ErrInvalidRequest
	}
	return nil
}

// Key is the artifact cache key for r.
func (r Request) Key() string {
	return cache.HashKey(r)
}

// CostBreakdown itemises provider spend for one run in USD.
type CostBreakdown struct {
	Enhance float64 `json:"enhance"`
	Speech  float64 `json:"speech"`
	Render  float64 `json:"render"`
	Total   float64 `json:"total"`
}

// Result is the output of a run.
type Result struct {
	RequestID       string         `json:"request_id"`
	Key             string         `json:"key"`
	Category        string         `json:"category"`
	Title           string         `json:"title"`
	Script          string         `json:"script"`
	AudioURL        string         `json:"audio_url"`
	VideoURL        string         `json:"video_url"`
	DurationSeconds float64        `json:"duration_seconds"`
	Cost            CostBreakdown  `json:"cost"`
	Stages          []StageOutcome `json:"stages,omitempty"`
	Fallbacks       int            `json:"fallbacks"`
	Simulated       bool           `json:"simulated"`
	CacheHit        bool           `json:"cache_hit"`
	CreatedAt       time.Time      `json:"created_at"`
}

// FallbackReasons lists "stage: reason" for every stage that fell back.
func (r *Result) FallbackReasons() []string {
	var out []string
	for _, s := range r.Stages {
		if s.Kind == Fallback {
			out = append(out, string(s.Stage)+": "+s.Reason)
		}
	}
	return out
}

func (r *Result) clone() *Result {
	c := *r
	c.Stages = append([]StageOutcome(nil), r.Stages...)
	return &c
}

// Enhancement is the output of a TextEnhancer.
type Enhancement struct {
	Title string
	Text  string
	Cost  float64
}

// Speech is the output of a SpeechSynthesizer.
type Speech struct {
	AudioURL        string
	DurationSeconds float64
	Cost            float64
}

// RenderInput is everything a VideoRenderer needs.
type RenderInput struct {
	Title           string
	Text            string
	AudioURL        string
	Background      string
	Voice           string
	DurationSeconds float64
	Captions        bool
}

// Video is the output of a VideoRenderer.
type Video struct {
	VideoURL string
	Cost     float64
}

// TextEnhancer rewrites source text into a narration script.
type TextEnhancer interface {
	Enhance(ctx context.Context, sourceText string, targetMinutes float64) (Enhancement, error)
}

// SpeechSynthesizer turns a script into narration audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Speech, error)
}

// VideoRenderer composes narration, captions and background into a video.
type VideoRenderer interface {
	Render(ctx context.Context, in RenderInput) (Video, error)
}

// ContentDiscovery finds source stories for a category.
type ContentDiscovery interface {
	Fetch(ctx context.Context, category string, limit int) ([]models.ContentItem, error)
}
