// Package providers assembles the pipeline collaborators from configuration.
package providers

import (
	"fmt"

	"github.com/clipforge/clipforge/pkg/config"
	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/pricing"
	"github.com/clipforge/clipforge/pkg/providers/httpapi"
	"github.com/clipforge/clipforge/pkg/providers/llm"
)

// Set holds one collaborator per stage. Nil members make their stage fall
// back.
type Set struct {
	Enhancer    pipeline.TextEnhancer
	Synthesizer pipeline.SpeechSynthesizer
	Renderer    pipeline.VideoRenderer
	Discovery   pipeline.ContentDiscovery
	// Reddit is the concrete discovery client, also used as the prefetch
	// fetcher. Nil when simulating.
	Reddit *httpapi.Reddit
}

// Names returns the provider names keyed by stage, as used for rate
// windows, ledgers and pricing.
func Names(cfg config.ProvidersConfig) pipeline.Providers {
	return pipeline.Providers{
		Discovery: orDefault(cfg.Discovery.Name, "reddit"),
		Enhance:   "openai",
		Speech:    orDefault(cfg.Speech.Name, "elevenlabs"),
		Render:    orDefault(cfg.Render.Name, "shotstack"),
	}
}

// Build creates the collaborators. With simulate set it returns an empty
// Set and every stage falls back locally. Otherwise missing credentials
// are reported as config.ErrConfiguration.
func Build(cfg config.ProvidersConfig, prices *pricing.Table, simulate bool) (Set, error) {
	if simulate {
		return Set{}, nil
	}

	var missing []string
	if cfg.OpenAI.APIKey == "" {
		missing = append(missing, "openai")
	}
	if cfg.Speech.APIKey == "" {
		missing = append(missing, "speech")
	}
	if cfg.Render.APIKey == "" {
		missing = append(missing, "render")
	}
	if len(missing) > 0 {
		return Set{}, fmt.Errorf("%w: missing api keys for %v", config.ErrConfiguration, missing)
	}

	names := Names(cfg)
	reddit := NewDiscovery(cfg.Discovery)
	return Set{
		Enhancer: llm.New(llm.Config{
			Name:    names.Enhance,
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout,
			RPS:     cfg.OpenAI.RPS,
		}, prices),
		Synthesizer: httpapi.NewSpeech(httpapi.SpeechConfig{
			Name:    names.Speech,
			URL:     cfg.Speech.URL,
			APIKey:  cfg.Speech.APIKey,
			Timeout: cfg.Speech.Timeout,
			RPS:     cfg.Speech.RPS,
		}, prices),
		Renderer: httpapi.NewRender(httpapi.RenderConfig{
			Name:         names.Render,
			URL:          cfg.Render.URL,
			APIKey:       cfg.Render.APIKey,
			Timeout:      cfg.Render.Timeout,
			RPS:          cfg.Render.RPS,
			PollInterval: cfg.Render.PollInterval,
		}, prices),
		Discovery: reddit,
		Reddit:    reddit,
	}, nil
}

// NewDiscovery creates the discovery client on its own. It needs no
// credentials, so prefetch can run without the paid providers.
func NewDiscovery(cfg config.DiscoveryConfig) *httpapi.Reddit {
	return httpapi.NewReddit(httpapi.RedditConfig{
		URL:        cfg.URL,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.Timeout,
		RPS:        cfg.RPS,
		Subreddits: cfg.Subreddits,
	})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
