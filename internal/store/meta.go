package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mirrorkit/notionmirror/internal/props"
)

// Meta keys the sync pipeline persists between runs.
const (
	MetaDatabaseID          = "database_id"
	MetaDataSourceID        = "data_source_id"
	MetaDataSourceName      = "data_source_name"
	MetaSchemaJSON          = "schema_json"
	MetaPropertyMapJSON     = "property_map_json"
	MetaLastFullSync        = "last_full_sync"
	MetaLastIncrementalSync = "last_incremental_sync"
	MetaAPIVersion          = "api_version"
)

// GetMeta returns the stored value for key, or "" when unset.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM notion_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetMeta(key, value string) error {
	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO notion_meta (key, value) VALUES (?, ?)", key, value,
	); err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// AllMeta returns every meta entry.
func (s *Store) AllMeta() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM notion_meta")
	if err != nil {
		return nil, fmt.Errorf("list meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SaveSchemaJSON persists the raw remote schema for inspection.
func (s *Store) SaveSchemaJSON(raw json.RawMessage) error {
	return s.SetMeta(MetaSchemaJSON, string(raw))
}

// SavePropertyMap persists the property-to-column map. It is regenerated
// every sync but read back for queries between syncs.
func (s *Store) SavePropertyMap(m props.Map) error {
	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode property map: %w", err)
	}
	return s.SetMeta(MetaPropertyMapJSON, string(encoded))
}

// PropertyMap loads the persisted property map; empty when never synced.
func (s *Store) PropertyMap() (props.Map, error) {
	raw, err := s.GetMeta(MetaPropertyMapJSON)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return props.Map{}, nil
	}
	var m props.Map
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode property map: %w", err)
	}
	return m, nil
}
