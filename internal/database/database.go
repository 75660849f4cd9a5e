package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"chefbook/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	ErrNotFound               = domain.ErrNotFound
	ErrConcurrentModification = domain.ErrConcurrentModification
	ErrDuplicateNotification  = domain.ErrDuplicateNotification
)

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway; a single connection also keeps
	// :memory: databases shared across calls.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(conn); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Info().Str("path", path).Msg("database initialized")

	return &DB{DB: conn, path: path, logger: logger}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on"
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
}

func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            client_id TEXT NOT NULL,
            provider_id TEXT NOT NULL,
            service_type TEXT NOT NULL,
            event_date TEXT NOT NULL,
            start_time TEXT NOT NULL,
            duration_hours INTEGER NOT NULL,
            guest_count INTEGER NOT NULL,
            event_category TEXT,
            base_price INTEGER NOT NULL,
            service_fee INTEGER NOT NULL,
            taxes INTEGER NOT NULL,
            discount INTEGER NOT NULL,
            total_amount INTEGER NOT NULL,
            payment_method TEXT,
            payment_status TEXT NOT NULL DEFAULT 'pending',
            currency TEXT NOT NULL,
            deposit_amount INTEGER NOT NULL,
            deposit_paid_at DATETIME,
            full_payment_at DATETIME,
            payment_intent_id TEXT,
            refund_amount INTEGER NOT NULL DEFAULT 0,
            refunded_at DATETIME,
            status TEXT NOT NULL DEFAULT 'pending',
            status_changed_at DATETIME NOT NULL,
            client_review TEXT,
            provider_review TEXT,
            cancellation TEXT,
            invoice TEXT,
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS booking_timeline (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id TEXT NOT NULL REFERENCES bookings(id),
            status TEXT NOT NULL,
            note TEXT NOT NULL,
            actor_id TEXT NOT NULL,
            actor_role TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS payment_intents (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL REFERENCES bookings(id),
            amount INTEGER NOT NULL,
            currency TEXT NOT NULL,
            status TEXT NOT NULL,
            client_secret TEXT,
            sandbox BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id TEXT PRIMARY KEY,
            recipient_id TEXT NOT NULL,
            sender_id TEXT,
            type TEXT NOT NULL,
            title TEXT NOT NULL,
            message TEXT NOT NULL,
            data TEXT,
            booking_id TEXT,
            is_read BOOLEAN NOT NULL DEFAULT 0,
            read_at DATETIME,
            priority TEXT NOT NULL,
            channels TEXT NOT NULL,
            sent_channels TEXT NOT NULL DEFAULT '{}',
            dedupe_key TEXT UNIQUE,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS contacts (
            user_id TEXT PRIMARY KEY,
            email TEXT,
            telegram_chat_id INTEGER,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reconciliation_issues (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id TEXT NOT NULL,
            intent_id TEXT,
            kind TEXT NOT NULL,
            amount INTEGER NOT NULL DEFAULT 0,
            detail TEXT,
            status TEXT NOT NULL DEFAULT 'open',
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_type TEXT NOT NULL,
            booking_id TEXT,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		// Timeline rows and bookings are never rewritten or removed.
		`CREATE TRIGGER IF NOT EXISTS trg_timeline_no_update
            BEFORE UPDATE ON booking_timeline
            BEGIN SELECT RAISE(ABORT, 'booking timeline is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_timeline_no_delete
            BEFORE DELETE ON booking_timeline
            BEGIN SELECT RAISE(ABORT, 'booking timeline is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_bookings_no_delete
            BEFORE DELETE ON bookings
            BEGIN SELECT RAISE(ABORT, 'bookings are never deleted'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_bookings_quote_immutable
            BEFORE UPDATE OF client_id, provider_id, service_type, base_price, service_fee, taxes, discount, total_amount ON bookings
            BEGIN SELECT RAISE(ABORT, 'booking quote is immutable'); END`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_intents_one_active
            ON payment_intents(booking_id) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_payment_intents_booking ON payment_intents(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_event ON bookings(status, event_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_client ON bookings(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_provider ON bookings(provider_id)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_booking ON booking_timeline(booking_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_booking_type ON notifications(booking_id, type, recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events(status, next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_status ON reconciliation_issues(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
