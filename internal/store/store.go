// Package store owns the durable mirror state: a key/value meta table, a
// raw-snapshot table, the dynamically widened rows table, the relation edge
// table, and the relation-target page cache. The wide table's column set is
// discovered at run time and only ever grows.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding the mirror.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens (or creates) the mirror database and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}

	s := &Store{db: db, enc: enc, dec: dec}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

// DB exposes the underlying handle for collaborators (settings, captures)
// that keep their own tables in the same file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS notion_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notion_rows_raw (
	id TEXT PRIMARY KEY,
	raw_json BLOB,
	last_edited_time TEXT,
	created_time TEXT,
	archived INTEGER NOT NULL DEFAULT 0,
	synced_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_rows_raw_last_edited ON notion_rows_raw(last_edited_time);

CREATE TABLE IF NOT EXISTS notion_rows (
	id TEXT PRIMARY KEY,
	last_edited_time TEXT,
	created_time TEXT,
	archived INTEGER,
	url TEXT
);

CREATE INDEX IF NOT EXISTS idx_rows_last_edited ON notion_rows(last_edited_time);

CREATE TABLE IF NOT EXISTS notion_relations (
	from_id TEXT NOT NULL,
	property_name TEXT NOT NULL,
	to_id TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	display_column TEXT,
	display_value TEXT,
	PRIMARY KEY (from_id, property_name, to_id)
);

CREATE INDEX IF NOT EXISTS idx_relations_to ON notion_relations(to_id);

CREATE TABLE IF NOT EXISTS notion_page_cache (
	id TEXT PRIMARY KEY,
	title TEXT,
	url TEXT,
	last_edited_time TEXT,
	raw_json BLOB,
	synced_at TEXT
);
`

// compress encodes a raw JSON payload for BLOB storage. Raw page payloads
// repeat property names heavily, so zstd shrinks them well.
func (s *Store) compress(raw []byte) []byte {
	if raw == nil {
		return nil
	}
	return s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))
}

func (s *Store) decompress(blob []byte) ([]byte, error) {
	if blob == nil {
		return nil, nil
	}
	return s.dec.DecodeAll(blob, nil)
}

// quoteIdent wraps a column name for use in dynamically built SQL. Column
// names come from NormalizeColumn output or the fixed base set, but quote
// anyway and reject embedded quotes.
func quoteIdent(name string) (string, error) {
	if strings.ContainsAny(name, "\"`[]") {
		return "", fmt.Errorf("invalid column name %q", name)
	}
	return `"` + name + `"`, nil
}
