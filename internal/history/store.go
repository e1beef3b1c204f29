package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"opdeck/internal/monitor"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device TEXT NOT NULL,
    connected INTEGER NOT NULL,
    usb_detected INTEGER NOT NULL,
    mode TEXT NOT NULL,
    path TEXT NOT NULL,
    occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_device_events_occurred_at
    ON device_events (occurred_at DESC);
`

// Event is one recorded status change.
type Event struct {
	ID          int64  `json:"id"`
	Device      string `json:"device"`
	Connected   bool   `json:"connected"`
	USBDetected bool   `json:"usb_detected"`
	Mode        string `json:"mode"`
	Path        string `json:"path"`
	OccurredAt  string `json:"occurred_at"`
}

// Store persists device events backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the backing database location.
func (s *Store) Path() string {
	return s.path
}

// Append stores one status change.
func (s *Store) Append(ctx context.Context, kindID string, status monitor.Status) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO device_events (device, connected, usb_detected, mode, path, occurred_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		kindID,
		boolToInt(status.Connected),
		boolToInt(status.USBDetected),
		string(status.Mode),
		status.Path,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert device event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, device, connected, usb_detected, mode, path, occurred_at
         FROM device_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query device events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var connected, usbDetected int
		if err := rows.Scan(&event.ID, &event.Device, &connected, &usbDetected, &event.Mode, &event.Path, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan device event: %w", err)
		}
		event.Connected = connected != 0
		event.USBDetected = usbDetected != 0
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the retention window.
func (s *Store) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-keep).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM device_events WHERE occurred_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune device events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
