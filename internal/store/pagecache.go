package store

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxTargetAge is how long a cached relation target stays fresh.
const DefaultMaxTargetAge = 7 * 24 * time.Hour

// CachedPage is the denormalized view of any record that has been fetched
// as a relation target, whether or not it lives in the mirrored database.
type CachedPage struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	URL            string `json:"url"`
	LastEditedTime string `json:"last_edited_time"`
	SyncedAt       string `json:"synced_at"`
}

// UpsertCachedPage stores or refreshes a relation target. raw may be nil.
func (s *Store) UpsertCachedPage(p CachedPage, raw []byte) error {
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO notion_page_cache
		 (id, title, url, last_edited_time, raw_json, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.URL, p.LastEditedTime, s.compress(raw), p.SyncedAt,
	); err != nil {
		return fmt.Errorf("upsert cached page %s: %w", p.ID, err)
	}
	return nil
}

// CachedPages returns the cache entries present for the given ids.
func (s *Store) CachedPages(ids []string) (map[string]CachedPage, error) {
	out := make(map[string]CachedPage)
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT id, COALESCE(title, ''), COALESCE(url, ''),
		        COALESCE(last_edited_time, ''), COALESCE(synced_at, '')
		 FROM notion_page_cache WHERE id IN (%s)`, placeholders,
	), args...)
	if err != nil {
		return nil, fmt.Errorf("load cached pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p CachedPage
		if err := rows.Scan(&p.ID, &p.Title, &p.URL, &p.LastEditedTime, &p.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan cached page: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// StaleOrMissingTargets filters ids down to those that need a re-fetch:
// absent from the cache, unparsable synced_at, or synced before the cutoff.
func (s *Store) StaleOrMissingTargets(ids []string, maxAge time.Duration) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxTargetAge
	}
	cached, err := s.CachedPages(ids)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	var stale []string
	for _, id := range ids {
		entry, ok := cached[id]
		if !ok {
			stale = append(stale, id)
			continue
		}
		syncedAt, err := time.Parse(time.RFC3339, entry.SyncedAt)
		if err != nil || syncedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale, nil
}
