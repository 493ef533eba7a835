package budget

import (
	"context"
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
	"github.com/clipforge/clipforge/pkg/storage/memory"
)

var testStart = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

func newTestLimiter(cfg Config) (*Limiter, *clock.Fake, *memory.Store) {
	clk := clock.NewFake(testStart)
	store := memory.New()
	l := New(cfg, Options{
		Clock:  clk,
		Store:  store,
		Sink:   metrics.NewSink(clk, 0),
		Logger: log.New(io.Discard),
	})
	return l, clk, store
}

func TestCheckRateExactLimit(t *testing.T) {
	l, _, _ := newTestLimiter(Config{Limits: map[string]int{"enhance": 3}})

	for i := 0; i < 3; i++ {
		assert.True(t, l.CheckRate("enhance"), "call %d", i+1)
	}
	assert.False(t, l.CheckRate("enhance"))
	assert.False(t, l.CheckRate("enhance"))

	st := l.RateStatus("enhance")
	assert.Equal(t, 3, st.Count)
	assert.True(t, st.Blocked)
	assert.Equal(t, 0, st.Remaining)
}

func TestCheckRateRollover(t *testing.T) {
	l, clk, _ := newTestLimiter(Config{Limits: map[string]int{"render": 2}})

	require.True(t, l.CheckRate("render"))
	require.True(t, l.CheckRate("render"))
	require.False(t, l.CheckRate("render"))

	clk.Advance(30 * time.Second)
	assert.False(t, l.CheckRate("render"), "still inside the window")

	clk.Advance(31 * time.Second)
	assert.True(t, l.CheckRate("render"))
	st := l.RateStatus("render")
	assert.Equal(t, 1, st.Count)
	assert.False(t, st.Blocked)
	assert.Equal(t, 1, st.Remaining)
}

func TestCheckRateIndependentOperations(t *testing.T) {
	l, _, _ := newTestLimiter(Config{DefaultLimit: 1})
	assert.True(t, l.CheckRate("a"))
	assert.False(t, l.CheckRate("a"))
	assert.True(t, l.CheckRate("b"))
}

func TestCheckRateUnlimited(t *testing.T) {
	l, _, _ := newTestLimiter(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, l.CheckRate("free"))
	}
	assert.Equal(t, 100, l.RateStatus("free").Count)
}

func TestRateStatuses(t *testing.T) {
	l, _, _ := newTestLimiter(Config{Limits: map[string]int{"b": 5, "a": 5}})
	l.CheckRate("c")
	st := l.RateStatuses()
	require.Len(t, st, 3)
	assert.Equal(t, "a", st[0].Operation)
	assert.Equal(t, "c", st[2].Operation)
}

func TestCheckBudgetDailyRejection(t *testing.T) {
	l, _, _ := newTestLimiter(Config{Budgets: []models.ProviderBudget{
		{Provider: "shotstack", DailyLimit: 5.00, MonthlyLimit: 100},
	}})

	d := l.CheckBudget("shotstack", 6.00)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.BudgetDaily, d.Boundary)
	assert.Contains(t, d.Reason, "daily")
	assert.ErrorIs(t, d.Err(), ErrBudgetExceeded)

	assert.Equal(t, 0.0, l.Spent("shotstack", models.BudgetDaily), "estimate must not be recorded")
}

func TestCheckBudgetMonthlyRejection(t *testing.T) {
	l, _, _ := newTestLimiter(Config{Budgets: []models.ProviderBudget{
		{Provider: "openai", DailyLimit: 10, MonthlyLimit: 12},
	}})
	ctx := context.Background()
	require.NoError(t, l.RecordSpend(ctx, "openai", 8))

	d := l.CheckBudget("openai", 1)
	assert.True(t, d.Allowed)
	assert.NoError(t, d.Err())

	d = l.CheckBudget("openai", 4.5)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.BudgetDaily, d.Boundary)

	l2, clk, _ := newTestLimiter(Config{Budgets: []models.ProviderBudget{
		{Provider: "openai", DailyLimit: 10, MonthlyLimit: 12},
	}})
	require.NoError(t, l2.RecordSpend(ctx, "openai", 8))
	clk.Advance(24 * time.Hour)
	d = l2.CheckBudget("openai", 4.5)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.BudgetMonthly, d.Boundary)
}

func TestCheckBudgetUnknownProviderUnlimited(t *testing.T) {
	l, _, _ := newTestLimiter(Config{})
	assert.True(t, l.CheckBudget("anyone", 1e6).Allowed)
}

func TestLedgerSumsAndRollsOver(t *testing.T) {
	l, clk, _ := newTestLimiter(Config{Budgets: []models.ProviderBudget{
		{Provider: "elevenlabs", DailyLimit: 20},
	}})
	ctx := context.Background()

	spends := []float64{0.25, 1.5, 0.75}
	for _, s := range spends {
		require.NoError(t, l.RecordSpend(ctx, "elevenlabs", s))
	}
	assert.InDelta(t, 2.5, l.Spent("elevenlabs", models.BudgetDaily), 1e-9)
	assert.InDelta(t, 2.5, l.Spent("elevenlabs", models.BudgetMonthly), 1e-9)

	clk.Advance(24 * time.Hour)
	assert.Equal(t, 0.0, l.Spent("elevenlabs", models.BudgetDaily))
	assert.InDelta(t, 2.5, l.Spent("elevenlabs", models.BudgetMonthly), 1e-9)

	assert.Error(t, l.RecordSpend(ctx, "elevenlabs", -1))
}

func TestLedgerReloadsFromStorage(t *testing.T) {
	l, clk, store := newTestLimiter(Config{})
	ctx := context.Background()
	require.NoError(t, l.RecordSpend(ctx, "shotstack", 3.25))

	l2 := New(Config{}, Options{Clock: clk, Store: store, Logger: log.New(io.Discard)})
	require.NoError(t, l2.Load(ctx))
	assert.InDelta(t, 3.25, l2.Spent("shotstack", models.BudgetDaily), 1e-9)

	clk.Advance(40 * 24 * time.Hour)
	l3 := New(Config{}, Options{Clock: clk, Store: store, Logger: log.New(io.Discard)})
	require.NoError(t, l3.Load(ctx))
	assert.Equal(t, 0.0, l3.Spent("shotstack", models.BudgetMonthly))
}

// gatedStore holds its first Set until gate is closed.
type gatedStore struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedStore) Set(ctx context.Context, key string, value []byte) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.gate
	}
	return g.Store.Set(ctx, key, value)
}

func TestConcurrentSpendPersistsLatestTotal(t *testing.T) {
	clk := clock.NewFake(testStart)
	store := &gatedStore{Store: memory.New(), entered: make(chan struct{}), gate: make(chan struct{})}
	l := New(Config{}, Options{Clock: clk, Store: store, Logger: log.New(io.Discard)})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, l.RecordSpend(ctx, "shotstack", 1))
	}()
	<-store.entered
	go func() {
		defer wg.Done()
		assert.NoError(t, l.RecordSpend(ctx, "shotstack", 2))
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.InDelta(t, 3.0, l.Spent("shotstack", models.BudgetDaily), 1e-9)

	restarted := New(Config{}, Options{Clock: clk, Store: store.Store, Logger: log.New(io.Discard)})
	require.NoError(t, restarted.Load(ctx))
	assert.InDelta(t, 3.0, restarted.Spent("shotstack", models.BudgetDaily), 1e-9)
	assert.InDelta(t, 3.0, restarted.Spent("shotstack", models.BudgetMonthly), 1e-9)
}

func TestLoadSkipsCorruptLedger(t *testing.T) {
	l, _, store := newTestLimiter(Config{})
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "ledger:x:daily:2026-10-16", []byte("{nope")))
	assert.NoError(t, l.Load(ctx))
}

func TestStatus(t *testing.T) {
	l, _, _ := newTestLimiter(Config{Budgets: []models.ProviderBudget{
		{Provider: "shotstack", DailyLimit: 5, MonthlyLimit: 50},
	}})
	require.NoError(t, l.RecordSpend(context.Background(), "shotstack", 2))

	st := l.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, models.BudgetDaily, st[0].Period)
	assert.Equal(t, "2026-10-16", st[0].Key)
	assert.InDelta(t, 3, st[0].Remaining, 1e-9)
	assert.Equal(t, "2026-10", st[1].Key)
	assert.InDelta(t, 48, st[1].Remaining, 1e-9)
}
