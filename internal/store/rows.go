package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/mirrorkit/notionmirror/internal/props"
)

// Base columns every row carries regardless of the discovered schema.
var baseColumns = []struct {
	name    string
	sqlType string
}{
	{"id", "TEXT"},
	{"last_edited_time", "TEXT"},
	{"created_time", "TEXT"},
	{"archived", "INTEGER"},
	{"url", "TEXT"},
}

// DisplaySuffix marks the materialized relation-label column that sits next
// to a relation property's raw value column.
const DisplaySuffix = "_display"

func isDuplicateColumnErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// WideColumns returns the physical column set of the rows table.
func (s *Store) WideColumns() (map[string]bool, error) {
	rows, err := s.db.Query("PRAGMA table_info(notion_rows)")
	if err != nil {
		return nil, fmt.Errorf("inspect rows table: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// EnsureWideTable adds any column the property map names that the rows
// table does not have yet. Existing columns are never altered or dropped,
// so re-running with an older or newer map is always safe. Relation
// properties get a second TEXT column carrying the materialized display
// labels.
func (s *Store) EnsureWideTable(m props.Map) error {
	existing, err := s.WideColumns()
	if err != nil {
		return err
	}

	type newCol struct{ name, sqlType string }
	var missing []newCol
	for _, bc := range baseColumns {
		if !existing[bc.name] {
			missing = append(missing, newCol{bc.name, bc.sqlType})
		}
	}
	for _, entry := range m {
		if entry.Column == "" {
			continue
		}
		if !existing[entry.Column] {
			missing = append(missing, newCol{entry.Column, entry.StorageType})
		}
		if entry.RemoteType == "relation" {
			if display := entry.Column + DisplaySuffix; !existing[display] {
				missing = append(missing, newCol{display, props.StorageText})
			}
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].name < missing[j].name })

	for _, col := range missing {
		ident, err := quoteIdent(col.name)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(
			fmt.Sprintf("ALTER TABLE notion_rows ADD COLUMN %s %s", ident, col.sqlType),
		); err != nil && !isDuplicateColumnErr(err) {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

// UpsertRow inserts or updates one wide-table row keyed by "id". Only the
// columns present in the payload are written; others keep their value.
func (s *Store) UpsertRow(row map[string]any) error {
	id, ok := row["id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("upsert row: missing id")
	}

	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	idents := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	updates := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		ident, err := quoteIdent(col)
		if err != nil {
			return err
		}
		idents = append(idents, ident)
		placeholders = append(placeholders, "?")
		args = append(args, row[col])
		if col != "id" {
			updates = append(updates, fmt.Sprintf("%s=excluded.%s", ident, ident))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO notion_rows (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		strings.Join(idents, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "),
	)
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("upsert row %s: %w", id, err)
	}
	return nil
}

// UpsertRawPage stores the zstd-compressed source payload of a record.
func (s *Store) UpsertRawPage(id string, raw []byte, lastEdited, created string, archived bool, syncedAt string) error {
	archivedInt := 0
	if archived {
		archivedInt = 1
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO notion_rows_raw
		 (id, raw_json, last_edited_time, created_time, archived, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, s.compress(raw), lastEdited, created, archivedInt, syncedAt,
	); err != nil {
		return fmt.Errorf("upsert raw page %s: %w", id, err)
	}
	return nil
}

// RawPage returns the decompressed source payload for a record, or nil.
func (s *Store) RawPage(id string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow("SELECT raw_json FROM notion_rows_raw WHERE id = ?", id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load raw page %s: %w", id, err)
	}
	return s.decompress(blob)
}
