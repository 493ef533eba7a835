package tracker

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
)

func newTestTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tr, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRecordAndQuery(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := models.CostRecord{
		RequestID:   "req-1",
		Category:    "drama",
		EnhanceCost: 0.02,
		SpeechCost:  0.30,
		RenderCost:  1.25,
		TotalCost:   1.57,
		Fallbacks:   1,
		CreatedAt:   now,
	}
	if err := tr.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}

	records, err := tr.Query(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.ID == 0 {
		t.Error("expected an assigned id")
	}
	if got.RequestID != "req-1" || got.Category != "drama" {
		t.Errorf("unexpected record %+v", got)
	}
	if !approx(got.TotalCost, 1.57) {
		t.Errorf("expected total 1.57, got %v", got.TotalCost)
	}
	if got.Fallbacks != 1 || got.CacheHit {
		t.Errorf("unexpected flags %+v", got)
	}

	records, err = tr.Query(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records after since, got %d", len(records))
	}
}

func TestQueryNewestFirst(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		_ = tr.Record(ctx, models.CostRecord{
			RequestID: id, Category: "drama",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}

	records, err := tr.Query(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[0].RequestID != "c" || records[2].RequestID != "a" {
		t.Fatalf("unexpected order: %+v", records)
	}
}

func TestReportByCategory(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for range 2 {
		_ = tr.Record(ctx, models.CostRecord{
			RequestID: "d", Category: "drama",
			EnhanceCost: 0.02, SpeechCost: 0.30, RenderCost: 1.25, TotalCost: 1.57,
			CreatedAt: now,
		})
	}
	_ = tr.Record(ctx, models.CostRecord{RequestID: "d-hit", Category: "drama", CacheHit: true, CreatedAt: now})
	_ = tr.Record(ctx, models.CostRecord{
		RequestID: "c", Category: "comedy",
		EnhanceCost: 0.01, TotalCost: 0.01, Fallbacks: 2,
		CreatedAt: now,
	})

	reports, err := tr.ReportByCategory(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(reports))
	}

	drama := reports[0]
	if drama.Category != "drama" {
		t.Fatalf("expected drama first (highest cost), got %s", drama.Category)
	}
	if drama.Runs != 3 || drama.CacheHits != 1 {
		t.Errorf("expected 3 runs and 1 hit, got %+v", drama)
	}
	if !approx(drama.TotalCost, 3.14) || !approx(drama.RenderCost, 2.50) {
		t.Errorf("unexpected drama totals %+v", drama)
	}
	if reports[1].Fallbacks != 2 {
		t.Errorf("expected 2 comedy fallbacks, got %d", reports[1].Fallbacks)
	}
}

func TestTotal(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.CostRecord{RequestID: "old", Category: "drama", TotalCost: 5, CreatedAt: now.Add(-48 * time.Hour)})
	_ = tr.Record(ctx, models.CostRecord{RequestID: "new", Category: "drama", TotalCost: 1.5, CreatedAt: now})

	total, err := tr.Total(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !approx(total, 1.5) {
		t.Errorf("expected 1.5, got %v", total)
	}
}

func TestRecordStampsMissingTime(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	before := time.Now().UTC().Add(-time.Second)

	if err := tr.Record(ctx, models.CostRecord{RequestID: "x", Category: "drama"}); err != nil {
		t.Fatal(err)
	}
	records, err := tr.Query(ctx, before)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestMigrationIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	// Create tracker twice; the second must not fail.
	tr1, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = tr1.Close()

	tr2, err := New(dbPath)
	if err != nil {
		t.Fatal("second New() failed:", err)
	}
	_ = tr2.Close()
}

func TestMigrationAddsFallbacksColumn(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE cost_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		category TEXT NOT NULL,
		enhance_cost REAL NOT NULL DEFAULT 0,
		speech_cost REAL NOT NULL DEFAULT 0,
		render_cost REAL NOT NULL DEFAULT 0,
		total_cost REAL NOT NULL DEFAULT 0,
		cache_hit INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	tr, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Record(context.Background(), models.CostRecord{RequestID: "r", Category: "drama", Fallbacks: 3}); err != nil {
		t.Fatal(err)
	}
}
