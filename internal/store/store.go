// Package store provides structured access and database migrations for the
// SQLite alarm audit log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"alarmgate/internal/models"
)

// Store wraps the SQLite database connection
type Store struct {
	*sql.DB
	path string
}

// New creates a new database connection
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		DB:   db,
		path: dbPath,
	}, nil
}

// Migrate runs database migrations
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS alarms (
			id TEXT PRIMARY KEY,
			alarm_type TEXT NOT NULL,
			alarm_name TEXT,
			device_name TEXT,
			device_serial TEXT,
			device_ip TEXT,
			device_mac TEXT,
			triggered INTEGER NOT NULL,
			escalated INTEGER NOT NULL,
			raw_source TEXT,
			received_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alarms_received_at ON alarms(received_at)`,
	}

	for _, m := range migrations {
		if _, err := s.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// AlarmRow is one persisted alarm record with its escalation outcome.
type AlarmRow struct {
	ID         string    `json:"id"`
	AlarmType  string    `json:"alarm_type"`
	AlarmName  string    `json:"alarm_name,omitempty"`
	DeviceName string    `json:"device_name,omitempty"`
	DeviceIP   string    `json:"device_ip,omitempty"`
	Triggered  bool      `json:"triggered"`
	Escalated  bool      `json:"escalated"`
	ReceivedAt time.Time `json:"received_at"`
}

// SaveAlarm persists one decoded alarm record and whether it was escalated.
func (s *Store) SaveAlarm(ctx context.Context, rec *models.AlarmRecord, escalated bool) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO alarms (id, alarm_type, alarm_name, device_name, device_serial,
			device_ip, device_mac, triggered, escalated, raw_source, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.AlarmType, rec.AlarmName,
		rec.Device.Name, rec.Device.Serial, rec.Device.IP, rec.Device.MAC,
		rec.Triggered, escalated, rec.RawSource, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert alarm: %w", err)
	}
	return nil
}

// RecentAlarms returns up to limit alarms, newest first.
func (s *Store) RecentAlarms(ctx context.Context, limit int) ([]AlarmRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.QueryContext(ctx,
		`SELECT id, alarm_type, alarm_name, device_name, device_ip, triggered, escalated, received_at
		 FROM alarms ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarms: %w", err)
	}
	defer rows.Close()

	var alarms []AlarmRow
	for rows.Next() {
		var a AlarmRow
		if err := rows.Scan(&a.ID, &a.AlarmType, &a.AlarmName, &a.DeviceName,
			&a.DeviceIP, &a.Triggered, &a.Escalated, &a.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alarm row: %w", err)
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}
