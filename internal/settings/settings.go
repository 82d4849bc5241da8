// Package settings is the per-module key/value configuration store the
// sync core reads its token and target identifiers from. It deliberately
// knows nothing about which keys exist; modules own their key sets.
package settings

import (
	"database/sql"
	"fmt"
)

// Keys the notion module reads. Registered here so callers and tests agree
// on spelling; the store itself accepts any key.
const (
	ModuleNotion = "notion"

	KeyAPIKey         = "notion_api_key"
	KeyDatabaseID     = "notion_database_id"
	KeyDataSourceName = "notion_data_source_name"
	KeyBaseURL        = "notion_api_base_url"
	KeyAPIVersion     = "notion_api_version"
	KeySyncMode       = "sync_mode"
	KeySyncSchedule   = "sync_schedule"
)

// Defaults applied when a key is unset.
const (
	DefaultBaseURL    = "https://api.notion.com/v1"
	DefaultAPIVersion = "2025-09-03"
)

// Store persists module settings in a (module_id, key, value) table.
type Store struct {
	db *sql.DB
}

// New ensures the settings table exists on the given database.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			module_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			UNIQUE(module_id, key)
		)`); err != nil {
		return nil, fmt.Errorf("create settings table: %w", err)
	}
	return &Store{db: db}, nil
}

// ForModule returns every setting of one module. Missing modules yield an
// empty map, not an error.
func (s *Store) ForModule(moduleID string) (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings WHERE module_id = ?", moduleID)
	if err != nil {
		return nil, fmt.Errorf("load settings for %s: %w", moduleID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Save upserts the given keys for one module, leaving other keys alone.
func (s *Store) Save(moduleID string, values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer tx.Rollback()

	for k, v := range values {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO settings (module_id, key, value) VALUES (?, ?, ?)",
			moduleID, k, v,
		); err != nil {
			return fmt.Errorf("save setting %s/%s: %w", moduleID, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

// Get returns one setting with a fallback default.
func (s *Store) Get(moduleID, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT value FROM settings WHERE module_id = ? AND key = ?", moduleID, key,
	).Scan(&value)
	if err == sql.ErrNoRows || (err == nil && value == "") {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s/%s: %w", moduleID, key, err)
	}
	return value, nil
}
