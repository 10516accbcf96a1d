package database

import (
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// Setting keys
const (
	SettingIdleCleanupDays = "session.idle_cleanup_days"
	SettingPortalMessage   = "portal.message"
)

var ErrSettingNotFound = errors.New("setting not found")

// SettingsRepo handles the key/value settings store
type SettingsRepo struct{}

// NewSettingsRepo creates a new settings repository
func NewSettingsRepo() *SettingsRepo {
	return &SettingsRepo{}
}

// Get retrieves a setting value
func (r *SettingsRepo) Get(key string) (string, error) {
	var value string
	err := DB.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetInt retrieves a setting as an integer
func (r *SettingsRepo) GetInt(key string) (int, error) {
	value, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// Set stores a setting value
func (r *SettingsRepo) Set(key, value string) error {
	_, err := DB.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	return err
}

// All returns every setting
func (r *SettingsRepo) All() (map[string]string, error) {
	rows, err := DB.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}
