package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB is the global database connection
var DB *sql.DB

// Config holds database configuration
type Config struct {
	Path string
}

// Open initializes the database connection and runs migrations
func Open(cfg Config) error {
	// Ensure directory exists
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	var err error
	DB, err = sql.Open("sqlite", cfg.Path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := DB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Run migrations
	if err := migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

// migrate runs all database migrations
func migrate() error {
	// Create migrations table
	_, err := DB.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Run each migration
	for _, m := range migrations {
		if err := runMigration(m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
	}

	return nil
}

type migration struct {
	name string
	up   string
}

func runMigration(m migration) error {
	// Check if already applied
	var count int
	err := DB.QueryRow("SELECT COUNT(*) FROM migrations WHERE name = ?", m.name).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil // Already applied
	}

	// Run migration
	if _, err := DB.Exec(m.up); err != nil {
		return err
	}

	// Record migration
	_, err = DB.Exec("INSERT INTO migrations (name) VALUES (?)", m.name)
	return err
}

var migrations = []migration{
	{
		name: "001_create_sessions",
		up: `
			CREATE TABLE sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				mac TEXT NOT NULL,
				ip TEXT NOT NULL DEFAULT '',
				device_id TEXT NOT NULL DEFAULT '',
				token_hash TEXT NOT NULL UNIQUE,
				remaining_seconds INTEGER NOT NULL DEFAULT 0 CHECK (remaining_seconds >= 0),
				total_paid INTEGER NOT NULL DEFAULT 0,
				state TEXT NOT NULL DEFAULT 'active',
				connected_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
				expired_at DATETIME
			);
			CREATE INDEX idx_sessions_mac ON sessions(mac);
			CREATE INDEX idx_sessions_state ON sessions(state);
			CREATE INDEX idx_sessions_device_id ON sessions(device_id);
			CREATE UNIQUE INDEX idx_sessions_active_mac ON sessions(mac) WHERE state = 'active';
		`,
	},
	{
		name: "002_create_rates",
		up: `
			CREATE TABLE rates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				pesos INTEGER NOT NULL UNIQUE,
				minutes INTEGER NOT NULL,
				download_limit INTEGER NOT NULL DEFAULT 0,
				upload_limit INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
			-- Default rate card
			INSERT INTO rates (pesos, minutes) VALUES
				(1, 5),
				(5, 30),
				(10, 65);
		`,
	},
	{
		name: "003_create_sync_items",
		up: `
			CREATE TABLE sync_items (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				payload TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				retry_count INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX idx_sync_items_created_at ON sync_items(created_at);
		`,
	},
	{
		name: "004_create_coin_credits",
		up: `
			CREATE TABLE coin_credits (
				id TEXT PRIMARY KEY,
				line INTEGER NOT NULL,
				pulses INTEGER NOT NULL,
				amount INTEGER NOT NULL,
				claimed_by TEXT,
				applied INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_coin_credits_applied ON coin_credits(applied);
		`,
	},
	{
		name: "005_create_audit_logs",
		up: `
			CREATE TABLE audit_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
				action TEXT NOT NULL,
				device_id TEXT,
				mac TEXT,
				ip_address TEXT,
				details TEXT
			);
			CREATE INDEX idx_audit_logs_timestamp ON audit_logs(timestamp);
			CREATE INDEX idx_audit_logs_action ON audit_logs(action);
		`,
	},
	{
		name: "006_create_admins",
		up: `
			CREATE TABLE admins (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				last_login DATETIME
			);
			CREATE TABLE admin_sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				admin_id INTEGER NOT NULL,
				token_hash TEXT NOT NULL UNIQUE,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				expires_at DATETIME NOT NULL,
				ip_address TEXT,
				FOREIGN KEY (admin_id) REFERENCES admins(id) ON DELETE CASCADE
			);
			CREATE INDEX idx_admin_sessions_token_hash ON admin_sessions(token_hash);
		`,
	},
	{
		name: "007_create_settings",
		up: `
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
			-- Default settings
			INSERT INTO settings (key, value) VALUES
				('session.idle_cleanup_days', '30'),
				('portal.message', 'Insert coins to start browsing');
		`,
	},
}
