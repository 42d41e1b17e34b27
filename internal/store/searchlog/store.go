// Package searchlog persists a summary row per orchestrated search.
package searchlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"compras-aggregator/internal/models"
	"compras-aggregator/internal/search"
)

const schema = `CREATE TABLE IF NOT EXISTS search_log (
	id              UUID PRIMARY KEY,
	search_id       TEXT NOT NULL,
	query           TEXT NOT NULL,
	status          TEXT NOT NULL,
	status_message  TEXT NOT NULL,
	total_results   INTEGER NOT NULL,
	fallback_used   BOOLEAN NOT NULL,
	sources         TEXT[] NOT NULL,
	source_statuses JSONB NOT NULL,
	duration_ms     BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
)`

const insertQuery = `INSERT INTO search_log (id, search_id, query, status, status_message, total_results, fallback_used, sources, source_statuses, duration_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const recentQuery = `SELECT search_id, query, status, total_results, fallback_used, sources, source_statuses, duration_ms, created_at FROM search_log ORDER BY created_at DESC LIMIT $1`

// Entry is one stored search summary.
type Entry struct {
	SearchID       string                `json:"searchId"`
	Query          string                `json:"query"`
	Status         models.Status         `json:"status"`
	TotalResults   int                   `json:"totalResults"`
	FallbackUsed   bool                  `json:"fallbackUsed"`
	Sources        []string              `json:"sources"`
	SourceStatuses []models.SourceStatus `json:"sourceStatuses"`
	DurationMs     int64                 `json:"durationMs"`
	CreatedAt      time.Time             `json:"createdAt"`
}

// Store writes to the search_log table. It implements search.Recorder.
type Store struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, timeout: 2 * time.Second, now: time.Now}
}

// EnsureSchema creates the table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create search_log: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, r *search.Result) error {
	statuses, err := json.Marshal(r.SourceStatuses)
	if err != nil {
		return fmt.Errorf("failed to encode source statuses: %w", err)
	}
	sources := r.Sources
	if sources == nil {
		sources = []string{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, insertQuery,
		uuid.New().String(),
		r.SearchID,
		r.Query,
		string(r.Status),
		r.StatusMessage,
		r.TotalResults,
		r.FallbackUsed,
		pq.Array(sources),
		string(statuses),
		r.DurationMs,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert search log: %w", err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, recentQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query search log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			status   string
			statuses []byte
		)
		if err := rows.Scan(&e.SearchID, &e.Query, &status, &e.TotalResults, &e.FallbackUsed,
			pq.Array(&e.Sources), &statuses, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search log: %w", err)
		}
		e.Status = models.Status(status)
		if len(statuses) > 0 {
			if err := json.Unmarshal(statuses, &e.SourceStatuses); err != nil {
				return nil, fmt.Errorf("failed to decode source statuses: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
