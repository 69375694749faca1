// Package history persists analyzed reports and technician outcomes in a
// local SQLite database, and derives per-category fix rates from them.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/recommend"
	_ "modernc.org/sqlite"
)

// Entry is one row of the history listing.
type Entry struct {
	SessionID    string          `json:"session_id"`
	Source       string          `json:"source"`
	CreatedAt    time.Time       `json:"created_at"`
	Module       string          `json:"module"`
	RootCategory domain.Category `json:"root_category"`
	Confidence   float64         `json:"confidence"`
	Resolved     *bool           `json:"resolved,omitempty"`
}

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("history: missing database path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS reports (
  session_id TEXT PRIMARY KEY,
  source TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  module_address TEXT NOT NULL DEFAULT '',
  root_category TEXT NOT NULL DEFAULT '',
  confidence REAL NOT NULL DEFAULT 0,
  report_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at_unix_ms);
CREATE TABLE IF NOT EXISTS outcomes (
  session_id TEXT PRIMARY KEY REFERENCES reports(session_id),
  resolved INTEGER NOT NULL,
  recorded_at_unix_ms INTEGER NOT NULL
);
`)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts or replaces a report.
func (s *Store) Save(ctx context.Context, source string, r *domain.RootCauseReport) error {
	if r == nil || r.SessionID == "" {
		return errors.New("history: save: report has no session id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO reports (session_id, source, created_at_unix_ms, module_address, root_category, confidence, report_json)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  source = excluded.source,
  module_address = excluded.module_address,
  root_category = excluded.root_category,
  confidence = excluded.confidence,
  report_json = excluded.report_json
`, r.SessionID, source, s.now().UnixMilli(), r.PrimaryModule.Address, string(r.RootCategory()), r.Confidence, string(data))
	if err != nil {
		return fmt.Errorf("history: save %s: %w", r.SessionID, err)
	}
	return nil
}

// Get loads a report by session ID.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.RootCauseReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report_json FROM reports WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", sessionID, err)
	}
	var r domain.RootCauseReport
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", sessionID, err)
	}
	return &r, nil
}

// List returns the most recent entries first. limit <= 0 means 50.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT r.session_id, r.source, r.created_at_unix_ms, r.module_address, r.root_category, r.confidence, o.resolved
FROM reports r LEFT JOIN outcomes o ON o.session_id = r.session_id
ORDER BY r.created_at_unix_ms DESC, r.session_id ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			ms       int64
			cat      string
			resolved sql.NullInt64
		)
		if err := rows.Scan(&e.SessionID, &e.Source, &ms, &e.Module, &cat, &e.Confidence, &resolved); err != nil {
			return nil, fmt.Errorf("history: list: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms).UTC()
		e.RootCategory = domain.Category(cat)
		if resolved.Valid {
			v := resolved.Int64 != 0
			e.Resolved = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordOutcome stores whether following the report fixed the vehicle.
func (s *Store) RecordOutcome(ctx context.Context, sessionID string, resolved bool) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO outcomes (session_id, resolved, recorded_at_unix_ms)
SELECT session_id, ?, ? FROM reports WHERE session_id = ?
ON CONFLICT(session_id) DO UPDATE SET resolved = excluded.resolved, recorded_at_unix_ms = excluded.recorded_at_unix_ms
`, boolInt(resolved), s.now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("history: outcome %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history: session %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

// Rate returns the fraction of recorded outcomes for category that were
// resolved, and the number of outcomes it is based on.
func (s *Store) Rate(ctx context.Context, category domain.Category) (rate float64, outcomes int, err error) {
	var resolved sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*), SUM(o.resolved)
FROM outcomes o JOIN reports r ON r.session_id = o.session_id
WHERE r.root_category = ?
`, string(category)).Scan(&outcomes, &resolved)
	if err != nil {
		return 0, 0, fmt.Errorf("history: rate %s: %w", category, err)
	}
	if outcomes == 0 {
		return 0, 0, nil
	}
	return float64(resolved.Int64) / float64(outcomes), outcomes, nil
}

// SuccessRate implements recommend.Baseline. It reports ok only once the
// category has at least recommend.MinOutcomes outcomes.
func (s *Store) SuccessRate(ctx context.Context, category domain.Category) (float64, bool) {
	rate, n, err := s.Rate(ctx, category)
	if err != nil || n < recommend.MinOutcomes {
		return 0, false
	}
	return rate, true
}

var _ recommend.Baseline = (*Store)(nil)

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
