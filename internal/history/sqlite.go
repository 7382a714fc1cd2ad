package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dshills/coherence/internal/schema"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore persists user events in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the event database at dsn.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS user_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id      TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			type         TEXT    NOT NULL,
			content_hash TEXT,
			old_weight   REAL,
			new_weight   REAL
		);
		CREATE INDEX IF NOT EXISTS idx_user_events_user_ts ON user_events(user_id, ts);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record appends one event for userID.
func (s *SQLiteStore) Record(ctx context.Context, userID string, e schema.UserEvent) error {
	if userID == "" {
		return fmt.Errorf("history: record: user id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("history: record: event type is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_events (user_id, ts, type, content_hash, old_weight, new_weight)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, e.Timestamp.UTC().UnixNano(), e.Type,
		nullString(e.ContentHash), nullFloat(e.OldWeight), nullFloat(e.NewWeight))
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Events implements Source.
func (s *SQLiteStore) Events(ctx context.Context, userID string, since, until time.Time) ([]schema.UserEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, type, content_hash, old_weight, new_weight
		   FROM user_events
		  WHERE user_id = ? AND ts >= ? AND ts <= ?
		  ORDER BY ts, id`,
		userID, since.UTC().UnixNano(), until.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("history: query events: %w", err)
	}
	defer rows.Close()

	var out []schema.UserEvent
	for rows.Next() {
		var (
			ts       int64
			e        schema.UserEvent
			hash     sql.NullString
			old, cur sql.NullFloat64
		)
		if err := rows.Scan(&ts, &e.Type, &hash, &old, &cur); err != nil {
			return nil, fmt.Errorf("history: scan event: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.ContentHash = hash.String
		if old.Valid {
			e.OldWeight = &old.Float64
		}
		if cur.Valid {
			e.NewWeight = &cur.Float64
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate events: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
