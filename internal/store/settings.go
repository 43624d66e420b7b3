package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Runtime-tunable settings with their seed values. Unknown keys are
// rejected by Settings.Set so the API surface stays bounded.
var settingsDefaults = map[string]string{
	"default_voice":       "af_heart",
	"delay_between_books": "0",
	"quiet_hours_start":   "",
	"quiet_hours_end":     "",
	"auto_convert":        "false",
	"auto_scan_interval":  "300",
	"webhook_url":         "",
	"webhook_on_complete": "false",
	"webhook_on_failure":  "false",
}

// ErrUnknownSetting indicates a key outside the known settings set.
var ErrUnknownSetting = errors.New("unknown setting")

// Settings is a key/value store for runtime-tunable behavior.
type Settings struct {
	store *Store
}

// Settings returns the settings accessor, seeding any missing keys
// with their defaults.
func (s *Store) Settings() (*Settings, error) {
	for key, value := range settingsDefaults {
		_, err := s.db.Exec(
			`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`,
			key, value,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to seed setting %q: %w", key, err)
		}
	}
	return &Settings{store: s}, nil
}

// Get returns the value for key, falling back to the default when unset.
func (st *Settings) Get(key string) string {
	var value string
	err := st.store.db.QueryRow(
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return settingsDefaults[key]
	}
	if err != nil {
		return settingsDefaults[key]
	}
	return value
}

// GetInt returns the value for key parsed as an integer, or fallback.
func (st *Settings) GetInt(key string, fallback int) int {
	n, err := strconv.Atoi(st.Get(key))
	if err != nil {
		return fallback
	}
	return n
}

// GetBool reports whether the value for key is the string "true".
func (st *Settings) GetBool(key string) bool {
	return st.Get(key) == "true"
}

// Set stores a value for a known key.
func (st *Settings) Set(key, value string) error {
	if _, ok := settingsDefaults[key]; !ok {
		return fmt.Errorf("%q: %w", key, ErrUnknownSetting)
	}
	_, err := st.store.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// All returns every known setting with its current value.
func (st *Settings) All() map[string]string {
	out := make(map[string]string, len(settingsDefaults))
	for key := range settingsDefaults {
		out[key] = st.Get(key)
	}
	return out
}

// Known reports whether key is a recognized setting.
func Known(key string) bool {
	_, ok := settingsDefaults[key]
	return ok
}
