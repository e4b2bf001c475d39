package store

import (
	"database/sql"
	"errors"
)

// Setting keys.
const (
	// SettingPrototypesChanged is "true" when stored prototypes differ from
	// the set the running classifier loaded.
	SettingPrototypesChanged = "prototypes_changed"
)

// SettingsRepository reads and writes key-value settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value for key, or ErrNotFound.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Set stores value under key.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// Bool returns true only when key is set to "true".
func (r *SettingsRepository) Bool(key string) bool {
	v, err := r.Get(key)
	return err == nil && v == "true"
}
