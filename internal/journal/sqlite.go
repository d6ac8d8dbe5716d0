// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

const schema = `
CREATE TABLE IF NOT EXISTS boot_events (
	boot_id      TEXT    NOT NULL,
	seq          INTEGER NOT NULL,
	ts_unix_ns   INTEGER NOT NULL,
	kind         TEXT    NOT NULL,
	phase        TEXT    NOT NULL DEFAULT '',
	subsystem_id INTEGER NOT NULL DEFAULT 0,
	subsystem    TEXT    NOT NULL DEFAULT '',
	old_state    TEXT    NOT NULL DEFAULT '',
	new_state    TEXT    NOT NULL DEFAULT '',
	error_kind   TEXT    NOT NULL DEFAULT '',
	message      TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (boot_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_boot_events_kind ON boot_events (boot_id, kind);
`

// SQLiteConfig tunes the journal database.
type SQLiteConfig struct {
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the journal defaults.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{BusyTimeout: 5 * time.Second}
}

// SQLite is a journal stored in a single WAL-mode database file.
type SQLite struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (creating if needed) the journal at path.
func OpenSQLite(path string, cfg SQLiteConfig) (*SQLite, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultSQLiteConfig().BusyTimeout
	}
	// Pragmas in the DSN apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open failed: %w", err)
	}
	// One writer keeps sequence inserts serialized.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate failed: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Record(ctx context.Context, ev Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO boot_events
	(boot_id, seq, ts_unix_ns, kind, phase, subsystem_id, subsystem, old_state, new_state, error_kind, message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.BootID, ev.Seq, ev.Time.UnixNano(), string(ev.Kind), ev.Phase,
		int64(ev.SubsystemID), ev.Subsystem, ev.OldState, ev.NewState, ev.ErrorKind, ev.Message)
	if err != nil {
		return fmt.Errorf("journal: insert %s #%d: %w", ev.Kind, ev.Seq, err)
	}
	return nil
}

// Events returns the events of bootID ordered by sequence.
func (s *SQLite) Events(ctx context.Context, bootID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT boot_id, seq, ts_unix_ns, kind, phase, subsystem_id, subsystem, old_state, new_state, error_kind, message
FROM boot_events WHERE boot_id = ? ORDER BY seq`, bootID)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev   Event
			ts   int64
			kind string
			sid  int64
		)
		if err := rows.Scan(&ev.BootID, &ev.Seq, &ts, &kind, &ev.Phase, &sid,
			&ev.Subsystem, &ev.OldState, &ev.NewState, &ev.ErrorKind, &ev.Message); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		ev.Time = time.Unix(0, ts).UTC()
		ev.Kind = Kind(kind)
		ev.SubsystemID = uint64(sid)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Boots returns the recorded boot ids, most recent first.
func (s *SQLite) Boots(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT boot_id FROM boot_events GROUP BY boot_id ORDER BY MIN(ts_unix_ns) DESC`)
	if err != nil {
		return nil, fmt.Errorf("journal: query boots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("journal: scan boot: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Verify runs an integrity check and returns the problems found, nil when healthy.
func (s *SQLite) Verify(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA quick_check;")
	if err != nil {
		return nil, fmt.Errorf("journal: integrity pragma: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, fmt.Errorf("journal: scan integrity row: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(results) == 1 && strings.EqualFold(results[0], "ok") {
		return nil, nil
	}
	if len(results) == 0 {
		return []string{"no results returned from integrity check"}, nil
	}
	return results, nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
