package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/pricing"
)

// SpeechConfig configures a Speech client.
type SpeechConfig struct {
	Name    string
	URL     string
	APIKey  string
	ModelID string
	Timeout time.Duration
	RPS     float64
}

// Speech synthesizes narration through an ElevenLabs-style API that hosts
// the generated audio and returns its URL.
type Speech struct {
	c       *client
	name    string
	modelID string
	prices  *pricing.Table
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

type speechResponse struct {
	AudioURL        string  `json:"audio_url"`
	DurationSeconds float64 `json:"duration_seconds"`
	CharacterCount  int     `json:"character_count"`
}

// NewSpeech creates a Speech client. Costs are priced per character.
func NewSpeech(cfg SpeechConfig, prices *pricing.Table) *Speech {
	if cfg.Name == "" {
		cfg.Name = "elevenlabs"
	}
	return &Speech{
		c:       newClient(cfg.Name, cfg.URL, cfg.Timeout, cfg.RPS, map[string]string{"xi-api-key": cfg.APIKey}),
		name:    cfg.Name,
		modelID: cfg.ModelID,
		prices:  prices,
	}
}

// Synthesize implements pipeline.SpeechSynthesizer.
func (s *Speech) Synthesize(ctx context.Context, text, voice string) (pipeline.Speech, error) {
	if text == "" {
		return pipeline.Speech{}, errors.New("speech: empty text")
	}
	var resp speechResponse
	path := "/v1/text-to-speech/" + url.PathEscape(voice)
	if err := s.c.do(ctx, http.MethodPost, path, speechRequest{Text: text, ModelID: s.modelID}, &resp); err != nil {
		return pipeline.Speech{}, err
	}
	chars := resp.CharacterCount
	if chars == 0 {
		chars = len(text)
	}
	return pipeline.Speech{
		AudioURL:        resp.AudioURL,
		DurationSeconds: resp.DurationSeconds,
		Cost:            s.prices.Estimate(s.name, float64(chars)),
	}, nil
}
