// Package capture is the quick-capture inbox: tiny free-text entries jotted
// down faster than the remote round trip, kept locally until triaged.
package capture

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one captured note.
type Entry struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// Store persists capture entries.
type Store struct {
	db *sql.DB
}

// New ensures the captures table exists on the given database.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS captures (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("create captures table: %w", err)
	}
	return &Store{db: db}, nil
}

// Add stores a new entry and returns it. Empty text is rejected.
func (s *Store) Add(text string) (*Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("capture text is required")
	}
	e := &Entry{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.db.Exec(
		"INSERT INTO captures (id, text, created_at) VALUES (?, ?, ?)",
		e.ID, e.Text, e.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert capture: %w", err)
	}
	return e, nil
}

// List returns every entry, newest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT id, text, created_at FROM captures ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes one entry; deleting an unknown id is a no-op.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM captures WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete capture: %w", err)
	}
	return nil
}
