package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// connParams make every transaction take the write lock up front and wait
// for it instead of failing with SQLITE_BUSY.
const connParams = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// store holds the queries. It runs either on the pool or inside a transaction.
type store struct {
	q querier
}

type DB struct {
	*sql.DB
	store
	path   string
	logger *zerolog.Logger
	locks  sync.Map // class id -> *sync.Mutex
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?"+connParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; this also keeps a :memory: database on one connection.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, store: store{q: sqlDB}, path: path, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.ensureColumn("bookings", "penalty_percentage", "REAL NOT NULL DEFAULT 0"); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.ensureColumn("waitlist_entries", "held_booking_id", "INTEGER"); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			telegram_chat_id INTEGER,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS classes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			class_type TEXT NOT NULL DEFAULT '',
			starts_at DATETIME NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 60,
			max_occupancy INTEGER NOT NULL,
			current_occupancy INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			CHECK (max_occupancy >= 0),
			CHECK (current_occupancy >= 0 AND current_occupancy <= max_occupancy)
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			class_id INTEGER NOT NULL REFERENCES classes(id),
			package_id INTEGER,
			status TEXT NOT NULL,
			attended BOOLEAN NOT NULL DEFAULT 0,
			cancellation_reason TEXT NOT NULL DEFAULT '',
			class_starts_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS waitlist_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			class_id INTEGER NOT NULL REFERENCES classes(id),
			user_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'waiting',
			held_booking_id INTEGER,
			notified_at DATETIME,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (class_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS cancellation_policies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			hours_before REAL NOT NULL,
			penalty_percentage REAL NOT NULL DEFAULT 0,
			allow_reschedule BOOLEAN NOT NULL DEFAULT 1,
			reschedule_hours_before REAL NOT NULL,
			max_reschedules_per_month INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			applicable_to TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reschedule_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL REFERENCES bookings(id),
			user_id INTEGER NOT NULL,
			original_class_id INTEGER NOT NULL REFERENCES classes(id),
			target_class_id INTEGER NOT NULL REFERENCES classes(id),
			policy_id INTEGER NOT NULL DEFAULT 0,
			requested_by INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			reason TEXT NOT NULL DEFAULT '',
			admin_notes TEXT NOT NULL DEFAULT '',
			requested_at DATETIME NOT NULL,
			processed_at DATETIME,
			processed_by INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at DATETIME NOT NULL,
			processed_at DATETIME,
			next_retry_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_classes_starts_at ON classes(starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_class_id ON bookings(class_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_user
			ON bookings(class_id, user_id)
			WHERE status IN ('confirmed', 'waitlist', 'checked_in', 'completed')`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_class_position ON waitlist_entries(class_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_expires_at ON waitlist_entries(status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_policies_priority ON cancellation_policies(is_active, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_reschedules_user ON reschedule_requests(user_id, policy_id, status, processed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// ensureColumn adds a column to databases created by older builds.
func (db *DB) ensureColumn(table, column, definition string) error {
	_, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil && !strings.Contains(err.Error(), "duplicate column") {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

// utc normalises timestamps before they are written. Stored values compare
// as text, so they all share one zone and precision.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s %d: %w", what, id, err)
}
