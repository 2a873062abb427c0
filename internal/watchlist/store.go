// Package watchlist persists the set of gauges a user tracks, with per-gauge
// alert settings and optional threshold overrides, in a local SQLite file.
package watchlist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/floodwatch-io/floodwatch/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS watchlist (
	gauge_id       TEXT PRIMARY KEY,
	added_at       TIMESTAMP NOT NULL,
	alerts_enabled INTEGER NOT NULL DEFAULT 1,
	watch_level    REAL,
	warning_level  REAL
);

CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is a SQLite-backed watchlist. Safe for concurrent use; database/sql
// serializes access to the single connection sqlite3 provides.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the watchlist database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Add places a gauge on the watchlist with alerts enabled. Adding a gauge
// that is already watched is a no-op and keeps its existing settings.
func (s *Store) Add(ctx context.Context, gaugeID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO watchlist (gauge_id, added_at, alerts_enabled) VALUES (?, ?, 1)`,
		gaugeID, domain.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("add watchlist entry: %w", err)
	}
	return nil
}

// Remove drops a gauge from the watchlist. Removing an unwatched gauge is a
// no-op.
func (s *Store) Remove(ctx context.Context, gaugeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE gauge_id = ?`, gaugeID)
	if err != nil {
		return fmt.Errorf("remove watchlist entry: %w", err)
	}
	return nil
}

// ToggleAlerts flips the alert flag for a watched gauge and returns the new
// state. Unwatched gauges return sql.ErrNoRows.
func (s *Store) ToggleAlerts(ctx context.Context, gaugeID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchlist SET alerts_enabled = 1 - alerts_enabled WHERE gauge_id = ?`, gaugeID)
	if err != nil {
		return false, fmt.Errorf("toggle alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("toggle alerts: %w", err)
	}
	if n == 0 {
		return false, sql.ErrNoRows
	}

	var enabled bool
	err = s.db.QueryRowContext(ctx,
		`SELECT alerts_enabled FROM watchlist WHERE gauge_id = ?`, gaugeID).Scan(&enabled)
	if err != nil {
		return false, fmt.Errorf("read alerts flag: %w", err)
	}
	return enabled, nil
}

// SetThresholds overrides the watch and warning stage levels for a gauge.
// Nil leaves the corresponding level untouched. Unwatched gauges return
// sql.ErrNoRows.
func (s *Store) SetThresholds(ctx context.Context, gaugeID string, watchLevel, warningLevel *float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchlist
		 SET watch_level = COALESCE(?, watch_level),
		     warning_level = COALESCE(?, warning_level)
		 WHERE gauge_id = ?`,
		watchLevel, warningLevel, gaugeID,
	)
	if err != nil {
		return fmt.Errorf("set thresholds: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set thresholds: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns all watchlist entries, oldest first.
func (s *Store) List(ctx context.Context) ([]domain.WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT gauge_id, added_at, alerts_enabled, watch_level, warning_level
		 FROM watchlist ORDER BY added_at, gauge_id`)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	entries := []domain.WatchlistEntry{}
	for rows.Next() {
		var (
			entry   domain.WatchlistEntry
			addedAt time.Time
		)
		if err := rows.Scan(&entry.GaugeID, &addedAt, &entry.AlertsEnabled, &entry.WatchLevel, &entry.WarningLevel); err != nil {
			return nil, fmt.Errorf("scan watchlist entry: %w", err)
		}
		entry.AddedAt = addedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	return entries, nil
}

// IsWatched reports whether a gauge is on the watchlist.
func (s *Store) IsWatched(ctx context.Context, gaugeID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM watchlist WHERE gauge_id = ?`, gaugeID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check watchlist: %w", err)
	}
	return true, nil
}

// SetPreference stores an arbitrary key/value preference, replacing any
// previous value.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// Preference returns a stored preference value, or the empty string when the
// key is unset.
func (s *Store) Preference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read preference: %w", err)
	}
	return value, nil
}
