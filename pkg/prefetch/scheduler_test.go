package prefetch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/clock"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	block chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, category string, limit int) ([]models.ContentItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, category)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[category] {
		return nil, errors.New("origin down")
	}
	return []models.ContentItem{{ID: "1", Title: category, Category: category}}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeWriter struct {
	mu   sync.Mutex
	keys []string
}

func (w *fakeWriter) Put(_ context.Context, key string, _ []models.ContentItem, _ time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = append(w.keys, key)
}

type denyAll struct{}

func (denyAll) CheckRate(string) bool { return false }

func newTestScheduler(f Fetcher, w Writer, opts Options) (*Scheduler, *clock.Fake, *metrics.Sink) {
	clk := clock.NewFake(time.Date(2026, 10, 16, 7, 0, 0, 0, time.UTC))
	sink := metrics.NewSink(clk, 0)
	opts.Clock = clk
	opts.Sink = sink
	opts.Logger = log.New(io.Discard)
	return New(Config{Limit: 5}, f, w, opts), clk, sink
}

func TestScheduleDelays(t *testing.T) {
	s, clk, _ := newTestScheduler(&fakeFetcher{}, &fakeWriter{}, Options{})
	now := clk.Now()

	assert.Equal(t, now.Add(time.Second), s.Schedule("a", High).ScheduledAt)
	assert.Equal(t, now.Add(30*time.Second), s.Schedule("b", Medium).ScheduledAt)
	assert.Equal(t, now.Add(300*time.Second), s.Schedule("c", Low).ScheduledAt)
}

func TestScheduleDeduplicatesAndRaisesPriority(t *testing.T) {
	s, clk, _ := newTestScheduler(&fakeFetcher{}, &fakeWriter{}, Options{})
	first := s.Schedule("drama", Low)

	clk.Advance(10 * time.Second)
	j := s.Schedule("drama", High)
	assert.Equal(t, High, j.Priority)
	assert.Equal(t, first.ScheduledAt, j.ScheduledAt, "ScheduledAt is unchanged")

	j = s.Schedule("drama", Medium)
	assert.Equal(t, High, j.Priority, "priority never lowers")
	assert.Len(t, s.Pending(), 1)
}

func TestTickDispatchesDueByPriority(t *testing.T) {
	f := &fakeFetcher{}
	w := &fakeWriter{}
	s, clk, sink := newTestScheduler(f, w, Options{})
	ctx := context.Background()

	s.Schedule("low", Low)
	s.Schedule("med", Medium)
	s.Schedule("high1", High)
	s.Schedule("high2", High)

	assert.Equal(t, 0, s.Tick(ctx), "nothing due yet")

	clk.Advance(time.Hour)
	assert.Equal(t, 2, s.Tick(ctx))
	s.Wait()
	assert.ElementsMatch(t, []string{"high1", "high2"}, f.Calls())

	assert.Equal(t, 2, s.Tick(ctx))
	s.Wait()
	assert.ElementsMatch(t, []string{"high1", "high2", "med", "low"}, f.Calls())
	assert.ElementsMatch(t, []string{"high1:5", "high2:5", "med:5", "low:5"}, w.keys)

	assert.Empty(t, s.Pending())
	st := s.Stats()
	assert.Equal(t, int64(4), st.Dispatched)
	assert.Equal(t, int64(4), st.Succeeded)

	_, n, ok := sink.Mean(metrics.PrefetchSuccess, time.Minute)
	require.True(t, ok)
	assert.Equal(t, 4, n)
}

func TestTickRespectsInFlight(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	s, clk, _ := newTestScheduler(f, &fakeWriter{}, Options{})
	ctx := context.Background()

	s.Warm([]string{"a", "b", "c"}, High)
	clk.Advance(time.Second)
	assert.Equal(t, 2, s.Tick(ctx))
	assert.Equal(t, 0, s.Tick(ctx), "both slots busy")
	assert.Len(t, s.Pending(), 1)

	close(f.block)
	s.Wait()
	assert.Equal(t, 1, s.Tick(ctx))
	s.Wait()
}

func TestRemovedAtDispatch(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	s, clk, _ := newTestScheduler(f, &fakeWriter{}, Options{})
	ctx := context.Background()

	s.Schedule("drama", High)
	clk.Advance(time.Second)
	require.Equal(t, 1, s.Tick(ctx))

	j := s.Schedule("drama", Low)
	assert.Equal(t, Low, j.Priority, "a new job is created while the old one runs")
	close(f.block)
	s.Wait()
}

func TestFailureDropsJob(t *testing.T) {
	f := &fakeFetcher{fail: map[string]bool{"bad": true}}
	w := &fakeWriter{}
	s, clk, sink := newTestScheduler(f, w, Options{})

	s.Schedule("bad", High)
	clk.Advance(time.Second)
	s.Tick(context.Background())
	s.Wait()

	assert.Empty(t, w.keys)
	assert.Empty(t, s.Pending(), "no automatic retry")
	assert.Equal(t, int64(1), s.Stats().Failed)
	_, _, ok := sink.Mean(metrics.PrefetchFailure, time.Minute)
	assert.True(t, ok)
}

func TestRateLimitedSkips(t *testing.T) {
	f := &fakeFetcher{}
	s, clk, _ := newTestScheduler(f, &fakeWriter{}, Options{Rate: denyAll{}})

	s.Schedule("a", High)
	clk.Advance(time.Second)
	s.Tick(context.Background())
	s.Wait()

	assert.Empty(t, f.Calls())
	assert.Equal(t, int64(1), s.Stats().Skipped)
}

func TestOnStaleSchedulesLow(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeFetcher{}, &fakeWriter{}, Options{})
	s.OnStale("true-crime:10")
	s.OnStale("not-a-content-key")

	p := s.Pending()
	require.Len(t, p, 1)
	assert.Equal(t, "true-crime", p[0].Category)
	assert.Equal(t, Low, p[0].Priority)
}

func TestRunDrainsOnTicks(t *testing.T) {
	f := &fakeFetcher{}
	s, clk, _ := newTestScheduler(f, &fakeWriter{}, Options{})
	s.Schedule("drama", High)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		clk.Advance(time.Second)
		return len(f.Calls()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]Priority{"high": High, "MEDIUM": Medium, " low ": Low, "": Medium} {
		got, err := ParsePriority(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParsePriority("urgent")
	assert.Error(t, err)

	var p Priority
	require.NoError(t, p.UnmarshalText([]byte("high")))
	assert.Equal(t, High, p)
	b, _ := Low.MarshalText()
	assert.Equal(t, "low", string(b))
}
