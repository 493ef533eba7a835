package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clipforge/clipforge/pkg/models"
)

// Tracker records and queries per-run pipeline costs.
type Tracker interface {
	// Record stores a cost record.
	Record(ctx context.Context, rec models.CostRecord) error
	// Query returns cost records created since a given time, newest first.
	Query(ctx context.Context, since time.Time) ([]models.CostRecord, error)
	// ReportByCategory aggregates cost records since a given time by category.
	ReportByCategory(ctx context.Context, since time.Time) ([]models.CostReport, error)
	// Total returns the summed cost of every run since a given time.
	Total(ctx context.Context, since time.Time) (float64, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS cost_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	category TEXT NOT NULL,
	enhance_cost REAL NOT NULL DEFAULT 0,
	speech_cost REAL NOT NULL DEFAULT 0,
	render_cost REAL NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cost_category_time ON cost_records(category, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	// Older databases predate fallback counting.
	if !columnExists(db, "cost_records", "fallbacks") {
		if _, err := db.Exec(`ALTER TABLE cost_records ADD COLUMN fallbacks INTEGER NOT NULL DEFAULT 0`); err != nil {
			db.Close()
			return nil, fmt.Errorf("add fallbacks column: %w", err)
		}
	}

	return &SQLiteTracker{db: db}, nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// Record stores a cost record. A zero CreatedAt is stamped with the current time.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.CostRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO cost_records (request_id, category, enhance_cost, speech_cost, render_cost, total_cost, cache_hit, fallbacks, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Category, rec.EnhanceCost, rec.SpeechCost, rec.RenderCost, rec.TotalCost,
		rec.CacheHit, rec.Fallbacks, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

// Query returns cost records created since a given time, newest first.
func (t *SQLiteTracker) Query(ctx context.Context, since time.Time) ([]models.CostRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, category, enhance_cost, speech_cost, render_cost, total_cost, cache_hit, fallbacks, created_at
		 FROM cost_records WHERE created_at >= ? ORDER BY created_at DESC, id DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query costs: %w", err)
	}
	defer rows.Close()

	var records []models.CostRecord
	for rows.Next() {
		var r models.CostRecord
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Category, &r.EnhanceCost, &r.SpeechCost, &r.RenderCost,
			&r.TotalCost, &r.CacheHit, &r.Fallbacks, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cost: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ReportByCategory aggregates cost records since a given time, ordered by
// total cost descending.
func (t *SQLiteTracker) ReportByCategory(ctx context.Context, since time.Time) ([]models.CostReport, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT category, COUNT(*), COALESCE(SUM(cache_hit), 0), COALESCE(SUM(fallbacks), 0),
		        COALESCE(SUM(enhance_cost), 0), COALESCE(SUM(speech_cost), 0),
		        COALESCE(SUM(render_cost), 0), COALESCE(SUM(total_cost), 0)
		 FROM cost_records WHERE created_at >= ?
		 GROUP BY category ORDER BY SUM(total_cost) DESC, category`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("cost report: %w", err)
	}
	defer rows.Close()

	var reports []models.CostReport
	for rows.Next() {
		var r models.CostReport
		if err := rows.Scan(&r.Category, &r.Runs, &r.CacheHits, &r.Fallbacks,
			&r.EnhanceCost, &r.SpeechCost, &r.RenderCost, &r.TotalCost); err != nil {
			return nil, fmt.Errorf("scan cost report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Total returns the summed cost of every run since a given time.
func (t *SQLiteTracker) Total(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cost), 0) FROM cost_records WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return total, nil
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
