package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/pricing"
)

// RenderConfig configures a Render client.
type RenderConfig struct {
	Name         string
	URL          string
	APIKey       string
	Timeout      time.Duration
	RPS          float64
	PollInterval time.Duration
	// Resolution is passed to the render output, e.g. "sd" or "hd".
	Resolution string
}

// Render composes videos through a Shotstack-style API: it submits a
// timeline, then polls the render until it is done or failed.
type Render struct {
	c      *client
	name   string
	poll   time.Duration
	res    string
	prices *pricing.Table
}

// NewRender creates a Render client. Costs are priced per call plus per
// second of output.
func NewRender(cfg RenderConfig, prices *pricing.Table) *Render {
	if cfg.Name == "" {
		cfg.Name = "shotstack"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Resolution == "" {
		cfg.Resolution = "sd"
	}
	return &Render{
		c:      newClient(cfg.Name, cfg.URL, cfg.Timeout, cfg.RPS, map[string]string{"x-api-key": cfg.APIKey}),
		name:   cfg.Name,
		poll:   cfg.PollInterval,
		res:    cfg.Resolution,
		prices: prices,
	}
}

type asset struct {
	Type  string `json:"type"`
	Src   string `json:"src,omitempty"`
	Text  string `json:"text,omitempty"`
	Style string `json:"style,omitempty"`
}

type clip struct {
	Asset  asset   `json:"asset"`
	Start  float64 `json:"start"`
	Length float64 `json:"length"`
}

type track struct {
	Clips []clip `json:"clips"`
}

type timeline struct {
	Soundtrack *asset  `json:"soundtrack,omitempty"`
	Tracks     []track `json:"tracks"`
}

type output struct {
	Format     string `json:"format"`
	Resolution string `json:"resolution"`
}

type renderRequest struct {
	Timeline timeline `json:"timeline"`
	Output   output   `json:"output"`
}

type renderEnvelope struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Response struct {
		ID     string  `json:"id"`
		Status string  `json:"status"`
		URL    string  `json:"url"`
		Error  string  `json:"error"`
		Length float64 `json:"duration"`
	} `json:"response"`
}

// Render implements pipeline.VideoRenderer.
func (r *Render) Render(ctx context.Context, in pipeline.RenderInput) (pipeline.Video, error) {
	length := in.DurationSeconds
	if length <= 0 {
		return pipeline.Video{}, errors.New("render: zero duration")
	}

	var submitted renderEnvelope
	if err := r.c.do(ctx, http.MethodPost, "/render", r.timeline(in, length), &submitted); err != nil {
		return pipeline.Video{}, err
	}
	id := submitted.Response.ID
	if !submitted.Success || id == "" {
		return pipeline.Video{}, fmt.Errorf("render: submit rejected: %s", submitted.Message)
	}

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		var st renderEnvelope
		if err := r.c.do(ctx, http.MethodGet, "/render/"+url.PathEscape(id), nil, &st); err != nil {
			return pipeline.Video{}, err
		}
		switch st.Response.Status {
		case "done":
			return pipeline.Video{
				VideoURL: st.Response.URL,
				Cost:     r.prices.Estimate(r.name, length),
			}, nil
		case "failed":
			return pipeline.Video{}, fmt.Errorf("render %s failed: %s", id, st.Response.Error)
		}
		select {
		case <-ctx.Done():
			return pipeline.Video{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Render) timeline(in pipeline.RenderInput, length float64) renderRequest {
	background := track{Clips: []clip{{
		Asset:  asset{Type: "video", Src: in.Background},
		Start:  0,
		Length: length,
	}}}
	tracks := []track{}
	if in.Captions {
		tracks = append(tracks, track{Clips: []clip{{
			Asset:  asset{Type: "title", Text: in.Title, Style: "subtitle"},
			Start:  0,
			Length: length,
		}}})
	}
	tracks = append(tracks, background)

	req := renderRequest{
		Timeline: timeline{Tracks: tracks},
		Output:   output{Format: "mp4", Resolution: r.res},
	}
	if in.AudioURL != "" {
		req.Timeline.Soundtrack = &asset{Type: "audio", Src: in.AudioURL}
	}
	return req
}
