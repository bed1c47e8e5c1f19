package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"driveguard/internal/events"
	"driveguard/internal/location"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// EventFilter narrows ListEvents. Zero values mean no filter.
type EventFilter struct {
	Kind  events.Kind
	Since *time.Time
	Until *time.Time
	Limit int
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the HTTP readers run alongside the event writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			event_type TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			duration_seconds REAL NOT NULL DEFAULT 0,
			anomalous INTEGER NOT NULL DEFAULT 0,
			latitude REAL DEFAULT NULL,
			longitude REAL DEFAULT NULL,
			location TEXT DEFAULT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_time ON events(event_type, timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Store inserts an event row. It implements events.Store.
func (d *Database) Store(ctx context.Context, ev events.Event) error {
	query := `INSERT INTO events
		(id, timestamp, event_type, details, duration_seconds, anomalous, latitude, longitude, location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	anomalous := 0
	if ev.Anomalous {
		anomalous = 1
	}

	_, err := d.db.ExecContext(ctx, query, ev.ID, ev.OccurredAt.UTC(), string(ev.Kind), ev.Detail,
		ev.DurationSeconds, anomalous,
		ev.Location.Latitude(), ev.Location.Longitude(), ev.Location.PlaceName())
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

const eventColumns = `id, timestamp, event_type, details, duration_seconds, anomalous, latitude, longitude, location`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (events.Event, error) {
	var (
		ev        events.Event
		kind      string
		anomalous int
		lat, lng  sql.NullFloat64
		place     sql.NullString
	)

	if err := row.Scan(&ev.ID, &ev.OccurredAt, &kind, &ev.Detail, &ev.DurationSeconds, &anomalous, &lat, &lng, &place); err != nil {
		return events.Event{}, err
	}

	ev.Kind = events.Kind(kind)
	ev.Anomalous = anomalous == 1

	var latp, lngp *float64
	var placep *string
	if lat.Valid {
		latp = &lat.Float64
	}
	if lng.Valid {
		lngp = &lng.Float64
	}
	if place.Valid {
		placep = &place.String
	}
	ev.Location = location.FromNullable(latp, lngp, placep)
	return ev, nil
}

// GetEvent retrieves an event by ID
func (d *Database) GetEvent(ctx context.Context, id string) (events.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`

	ev, err := scanEvent(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return events.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// ListEvents returns events newest first
func (d *Database) ListEvents(ctx context.Context, filter EventFilter) ([]events.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	args := []interface{}{}

	if filter.Kind != "" {
		query += " AND event_type = ?"
		args = append(args, string(filter.Kind))
	}

	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	if filter.Until != nil {
		query += " AND timestamp < ?"
		args = append(args, filter.Until.UTC())
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteEventsBefore deletes events older than the specified time
func (d *Database) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected()
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value; missing keys return ""
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

// DeleteConfig deletes a configuration value
func (d *Database) DeleteConfig(key string) error {
	_, err := d.db.Exec("DELETE FROM app_config WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}
