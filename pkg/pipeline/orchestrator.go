// Package pipeline turns a request into narrated video artifacts: it serves
// repeated requests from the artifact cache and otherwise runs discovery,
// enhancement, speech synthesis and rendering in order. Every provider call
// is gated by the limiter, and any stage that fails or is refused falls back
// to a deterministic local artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/clipforge/clipforge/pkg/alert"
	"github.com/clipforge/clipforge/pkg/budget"
	"github.com/clipforge/clipforge/pkg/cache"
	"github.com/clipforge/clipforge/pkg/clock"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/prefetch"
	"github.com/clipforge/clipforge/pkg/pricing"
)

// RunOperation is the rate window every cache-missing run must pass.
const RunOperation = "pipeline.run"

// Limiter gates provider calls and records their spend.
type Limiter interface {
	CheckRate(operation string) bool
	CheckBudget(provider string, estimatedCost float64) budget.Decision
	RecordSpend(ctx context.Context, provider string, cost float64) error
	RateStatus(operation string) models.RateStatus
	Status(provider string) []models.BudgetStatus
}

// Prefetcher schedules background refreshes.
type Prefetcher interface {
	Schedule(category string, p prefetch.Priority) prefetch.Job
}

// CostRecorder stores a cost record per completed run.
type CostRecorder interface {
	Record(ctx context.Context, rec models.CostRecord) error
}

// Providers names the collaborator behind each stage. Names key the
// limiter's rate windows and ledgers and the pricing table.
type Providers struct {
	Discovery string
	Enhance   string
	Speech    string
	Render    string
}

// Config tunes the orchestrator.
type Config struct {
	// ArtifactTTL is how long a rendered result is served from cache. Zero
	// uses the artifact cache's TTL.
	ArtifactTTL time.Duration
	// DiscoveryLimit is the default discovery result-set size.
	DiscoveryLimit int
	Providers      Providers
}

// Options carries collaborators. Nil collaborators make their stage fall
// back with reason "not configured".
type Options struct {
	Enhancer    TextEnhancer
	Synthesizer SpeechSynthesizer
	Renderer    VideoRenderer
	Discovery   ContentDiscovery

	Content   *cache.Tiered[[]models.ContentItem]
	Artifacts *cache.Tiered[Result]
	Prefetch  Prefetcher
	Limiter   Limiter
	Pricing   *pricing.Table
	Sink      *metrics.Sink
	Alerts    *alert.Engine
	Tracker   CostRecorder

	Clock  clock.Clock
	Logger *log.Logger
	Tracer trace.Tracer
}

// RateLimitStatus is the dashboard view of one provider's gates.
type RateLimitStatus struct {
	Provider string                `json:"provider"`
	Rate     models.RateStatus     `json:"rate"`
	Budget   []models.BudgetStatus `json:"budget"`
}

// Orchestrator runs pipeline requests.
type Orchestrator struct {
	cfg  Config
	opts Options

	clock  clock.Clock
	logger *log.Logger
	tracer trace.Tracer
	group  singleflight.Group
}

// New creates an Orchestrator.
func New(cfg Config, opts Options) (*Orchestrator, error) {
	if opts.Content == nil || opts.Artifacts == nil {
		return nil, errors.New("pipeline: content and artifact caches are required")
	}
	if cfg.DiscoveryLimit <= 0 {
		cfg.DiscoveryLimit = 10
	}
	p := &cfg.Providers
	if p.Discovery == "" {
		p.Discovery = "reddit"
	}
	if p.Enhance == "" {
		p.Enhance = "openai"
	}
	if p.Speech == "" {
		p.Speech = "elevenlabs"
	}
	if p.Render == "" {
		p.Render = "shotstack"
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/clipforge/clipforge/pkg/pipeline")
	}
	return &Orchestrator{
		cfg:    cfg,
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger.With("component", "pipeline"),
		tracer: opts.Tracer,
	}, nil
}

// Run produces artifacts for req. Identical requests within the artifact
// TTL are answered from cache without touching any collaborator. A cache
// miss must pass the run rate window or Run returns a *RejectionError.
// Otherwise Run always returns a result, substituting fallbacks for any
// stage that fails, unless ctx ends first.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req = req.normalized(o.cfg.DiscoveryLimit)
	if err := req.validate(); err != nil {
		return nil, err
	}
	key := req.Key()

	if e, ok := o.opts.Artifacts.Get(key); ok {
		return o.fromCache(ctx, req, e), nil
	}

	// The shared execution outlives any single caller; each caller still
	// stops waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := o.group.DoChan(key, func() (any, error) {
		return o.execute(shared, req, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Result).clone(), nil
	}
}

// Metrics summarises recorded samples over window.
func (o *Orchestrator) Metrics(window time.Duration) []metrics.Summary {
	if o.opts.Sink == nil {
		return nil
	}
	return o.opts.Sink.Snapshot(window)
}

// Alerts returns retained alerts, newest first.
func (o *Orchestrator) Alerts() []alert.Alert {
	if o.opts.Alerts == nil {
		return nil
	}
	return o.opts.Alerts.Alerts()
}

// CacheStats reports both caches.
func (o *Orchestrator) CacheStats() []models.CacheStats {
	return []models.CacheStats{o.opts.Content.Stats(), o.opts.Artifacts.Stats()}
}

// RateLimitStatus reports provider's call window and spend.
func (o *Orchestrator) RateLimitStatus(provider string) RateLimitStatus {
	st := RateLimitStatus{Provider: provider}
	if o.opts.Limiter != nil {
		st.Rate = o.opts.Limiter.RateStatus(provider)
		st.Budget = o.opts.Limiter.Status(provider)
	}
	return st
}

// Providers returns the configured provider names.
func (o *Orchestrator) Providers() Providers { return o.cfg.Providers }

func (o *Orchestrator) fromCache(ctx context.Context, req Request, e cache.Entry[Result]) *Result {
	res := e.Value.clone()
	res.RequestID = uuid.NewString()
	res.CacheHit = true
	res.Cost = CostBreakdown{}
	res.Stages = nil
	res.Fallbacks = 0
	res.CreatedAt = o.clock.Now()

	o.logger.Debug("served from cache", "key", shortKey(res.Key), "freshness", e.Freshness)
	if o.opts.Sink != nil {
		o.opts.Sink.Record(metrics.RunCost, 0, "usd", map[string]string{"category": req.Category, "cache": "hit"})
	}
	o.track(ctx, res)
	return res
}

func (o *Orchestrator) execute(ctx context.Context, req Request, key string) (*Result, error) {
	if o.opts.Limiter != nil && !o.opts.Limiter.CheckRate(RunOperation) {
		return nil, &RejectionError{
			Reason: fmt.Sprintf("%s call window exhausted", RunOperation),
			Err:    budget.ErrRateLimited,
		}
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.category", req.Category),
		attribute.String("pipeline.key", shortKey(key)),
	))
	defer span.End()

	start := time.Now()
	res := &Result{
		RequestID: uuid.NewString(),
		Key:       key,
		Category:  req.Category,
		CreatedAt: o.clock.Now(),
	}
	st := &runState{req: req, res: res}

	steps := []func(context.Context, *runState){
		o.discover,
		o.enhance,
		o.synthesize,
		o.render,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}
		step(ctx, st)
	}

	res.Cost.Total = res.Cost.Enhance + res.Cost.Speech + res.Cost.Render
	for _, s := range res.Stages {
		if s.Kind == Fallback {
			res.Fallbacks++
		}
	}
	res.Simulated = st.renderFellBack && st.speechFellBack && st.enhanceFellBack

	if !st.renderFellBack {
		o.opts.Artifacts.Put(ctx, key, *res.clone(), o.cfg.ArtifactTTL)
	}

	tags := map[string]string{"category": req.Category, "cache": "miss"}
	if o.opts.Sink != nil {
		o.opts.Sink.Record(metrics.RunCost, res.Cost.Total, "usd", tags)
		o.opts.Sink.Record(metrics.RunDuration, float64(time.Since(start).Milliseconds()), "ms", tags)
	}
	span.SetAttributes(
		attribute.Float64("pipeline.cost_total", res.Cost.Total),
		attribute.Int("pipeline.fallbacks", res.Fallbacks),
	)
	o.logger.Info("pipeline run complete",
		"request_id", res.RequestID, "category", req.Category,
		"cost", res.Cost.Total, "fallbacks", res.Fallbacks)
	o.track(ctx, res)
	return res, nil
}

// runState carries intermediate artifacts between stages of one run.
type runState struct {
	req Request
	res *Result

	title  string
	source string

	enhanceFellBack bool
	speechFellBack  bool
	renderFellBack  bool
}

func (o *Orchestrator) discover(ctx context.Context, st *runState) {
	if st.req.SourceText != "" {
		st.title = st.req.Category
		st.source = st.req.SourceText
		return
	}

	key := cache.ContentKey(st.req.Category, st.req.Limit)
	if e, ok := o.opts.Content.Get(key); ok && len(e.Value) > 0 {
		st.title, st.source = pickStory(e.Value)
		return
	}

	provider := o.cfg.Providers.Discovery
	var items []models.ContentItem
	var out StageOutcome
	if o.opts.Discovery == nil {
		out = o.fallback(StageDiscover, provider, "not configured")
	} else {
		out = o.call(ctx, StageDiscover, provider, 0, func(ctx context.Context) (float64, error) {
			var err error
			items, err = o.opts.Discovery.Fetch(ctx, st.req.Category, st.req.Limit)
			if err == nil && len(items) == 0 {
				err = fmt.Errorf("no stories found for %q", st.req.Category)
			}
			return 0, err
		})
	}
	o.finish(st.res, out)

	if out.Kind == Success {
		o.opts.Content.Put(ctx, key, items, 0)
		st.title, st.source = pickStory(items)
		return
	}
	if o.opts.Prefetch != nil {
		o.opts.Prefetch.Schedule(st.req.Category, prefetch.High)
	}
	st.title, st.source = fallbackStory(st.req.Category)
}

func (o *Orchestrator) enhance(ctx context.Context, st *runState) {
	provider := o.cfg.Providers.Enhance
	est := o.opts.Pricing.Estimate(provider, estimateTokens(st.source, st.req.TargetMinutes))

	var enh Enhancement
	var out StageOutcome
	if o.opts.Enhancer == nil {
		out = o.fallback(StageEnhance, provider, "not configured")
	} else {
		out = o.call(ctx, StageEnhance, provider, est, func(ctx context.Context) (float64, error) {
			var err error
			enh, err = o.opts.Enhancer.Enhance(ctx, st.source, st.req.TargetMinutes)
			if err == nil && enh.Text == "" {
				err = errors.New("empty enhancement")
			}
			return enh.Cost, err
		})
	}
	o.finish(st.res, out)

	if out.Kind == Success {
		st.res.Cost.Enhance = out.Cost
		st.res.Script = enh.Text
		st.res.Title = firstNonEmpty(enh.Title, st.title)
		return
	}
	st.enhanceFellBack = true
	st.res.Title = st.title
	st.res.Script = fallbackScript(st.title, st.source, st.req.TargetMinutes)
}

func (o *Orchestrator) synthesize(ctx context.Context, st *runState) {
	provider := o.cfg.Providers.Speech
	est := o.opts.Pricing.Estimate(provider, float64(len(st.res.Script)))

	var sp Speech
	var out StageOutcome
	if o.opts.Synthesizer == nil {
		out = o.fallback(StageSynthesize, provider, "not configured")
	} else {
		out = o.call(ctx, StageSynthesize, provider, est, func(ctx context.Context) (float64, error) {
			var err error
			sp, err = o.opts.Synthesizer.Synthesize(ctx, st.res.Script, st.req.Voice)
			if err == nil && sp.AudioURL == "" {
				err = errors.New("no audio returned")
			}
			return sp.Cost, err
		})
	}
	o.finish(st.res, out)

	if out.Kind == Success {
		st.res.Cost.Speech = out.Cost
		st.res.AudioURL = sp.AudioURL
		st.res.DurationSeconds = sp.DurationSeconds
		if st.res.DurationSeconds <= 0 {
			st.res.DurationSeconds = narrationSeconds(st.res.Script)
		}
		return
	}
	st.speechFellBack = true
	st.res.AudioURL = placeholderURL("audio", st.res.Key)
	st.res.DurationSeconds = narrationSeconds(st.res.Script)
}

func (o *Orchestrator) render(ctx context.Context, st *runState) {
	provider := o.cfg.Providers.Render
	est := o.opts.Pricing.Estimate(provider, st.res.DurationSeconds)
	in := RenderInput{
		Title:           st.res.Title,
		Text:            st.res.Script,
		AudioURL:        st.res.AudioURL,
		Background:      st.req.Background,
		Voice:           st.req.Voice,
		DurationSeconds: st.res.DurationSeconds,
		Captions:        st.req.Captions,
	}

	var v Video
	var out StageOutcome
	if o.opts.Renderer == nil {
		out = o.fallback(StageRender, provider, "not configured")
	} else {
		out = o.call(ctx, StageRender, provider, est, func(ctx context.Context) (float64, error) {
			var err error
			v, err = o.opts.Renderer.Render(ctx, in)
			if err == nil && v.VideoURL == "" {
				err = errors.New("no video returned")
			}
			return v.Cost, err
		})
	}
	o.finish(st.res, out)

	if out.Kind == Success {
		st.res.Cost.Render = out.Cost
		st.res.VideoURL = v.VideoURL
		return
	}
	st.renderFellBack = true
	st.res.VideoURL = placeholderURL("video", st.res.Key)
}

// call gates and invokes one provider call. Rejections and failures come
// back as Fallback outcomes; a success records its true cost exactly once.
func (o *Orchestrator) call(ctx context.Context, stage Stage, provider string, est float64, fn func(context.Context) (float64, error)) StageOutcome {
	ctx, span := o.tracer.Start(ctx, "pipeline."+string(stage), trace.WithAttributes(
		attribute.String("provider", provider),
		attribute.Float64("cost.estimated", est),
	))
	defer span.End()

	// Only calls the budget admits count against the window.
	if lim := o.opts.Limiter; lim != nil {
		if d := lim.CheckBudget(provider, est); !d.Allowed {
			span.SetStatus(codes.Error, d.Reason)
			return o.fallback(stage, provider, d.Err().Error())
		}
		if !lim.CheckRate(provider) {
			reason := fmt.Errorf("%w: %s call window exhausted", budget.ErrRateLimited, provider).Error()
			span.SetStatus(codes.Error, reason)
			return o.fallback(stage, provider, reason)
		}
	}

	start := time.Now()
	cost, err := safeCall(ctx, fn)
	elapsed := time.Since(start)
	if err != nil {
		perr := &ProviderError{Provider: provider, Stage: stage, Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, "provider failed")
		o.logger.Warn("stage fell back", "stage", stage, "provider", provider, "err", err)
		out := o.fallback(stage, provider, perr.Error())
		out.Duration = elapsed
		return out
	}
	if cost < 0 {
		cost = 0
	}
	if o.opts.Limiter != nil {
		if err := o.opts.Limiter.RecordSpend(ctx, provider, cost); err != nil {
			o.logger.Warn("record spend failed", "provider", provider, "err", err)
		}
	}
	if o.opts.Sink != nil {
		o.opts.Sink.Record(metrics.ProviderLatency, float64(elapsed.Milliseconds()), "ms",
			map[string]string{"provider": provider, "stage": string(stage)})
	}
	span.SetAttributes(attribute.Float64("cost.actual", cost))
	return StageOutcome{Stage: stage, Kind: Success, Provider: provider, Cost: cost, Duration: elapsed}
}

func (o *Orchestrator) fallback(stage Stage, provider, reason string) StageOutcome {
	return StageOutcome{Stage: stage, Kind: Fallback, Provider: provider, Reason: reason}
}

// finish appends the outcome and reports it once.
func (o *Orchestrator) finish(res *Result, out StageOutcome) {
	res.Stages = append(res.Stages, out)
	if o.opts.Sink == nil {
		return
	}
	tags := map[string]string{"stage": string(out.Stage), "provider": out.Provider}
	fell := 0.0
	if out.Kind == Fallback {
		fell = 1
	}
	o.opts.Sink.Record(metrics.StageFallback, fell, "ratio", tags)
	o.opts.Sink.Record(metrics.StageCost, out.Cost, "usd", tags)
}

func (o *Orchestrator) track(ctx context.Context, res *Result) {
	if o.opts.Tracker == nil {
		return
	}
	rec := models.CostRecord{
		RequestID:   res.RequestID,
		Category:    res.Category,
		EnhanceCost: res.Cost.Enhance,
		SpeechCost:  res.Cost.Speech,
		RenderCost:  res.Cost.Render,
		TotalCost:   res.Cost.Total,
		CacheHit:    res.CacheHit,
		Fallbacks:   res.Fallbacks,
		CreatedAt:   res.CreatedAt.UTC(),
	}
	if err := o.opts.Tracker.Record(ctx, rec); err != nil {
		o.logger.Warn("record cost failed", "request_id", res.RequestID, "err", err)
	}
}

// safeCall runs fn, converting a panic into an error.
func safeCall(ctx context.Context, fn func(context.Context) (float64, error)) (cost float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
