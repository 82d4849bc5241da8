package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mirrorkit/notionmirror/internal/props"
)

// RelationEdge is one directed link between two records via a named
// property. Position preserves the remote ordering inside the property.
type RelationEdge struct {
	FromID        string `json:"from_id"`
	PropertyName  string `json:"property_name"`
	ToID          string `json:"to_id"`
	Position      int    `json:"position"`
	DisplayColumn string `json:"display_column"`
	DisplayValue  string `json:"display_value"`
}

// ReplaceRelations swaps every edge originating at fromID for the given
// set, atomically. An empty set leaves the record with no edges; stale
// edges from earlier syncs never survive.
func (s *Store) ReplaceRelations(fromID string, edges []RelationEdge) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin relations tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM notion_relations WHERE from_id = ?", fromID); err != nil {
		return fmt.Errorf("clear relations for %s: %w", fromID, err)
	}
	for _, e := range edges {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO notion_relations
			 (from_id, property_name, to_id, position, display_column, display_value)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			fromID, e.PropertyName, e.ToID, e.Position, e.DisplayColumn, e.DisplayValue,
		); err != nil {
			return fmt.Errorf("insert relation %s -> %s: %w", fromID, e.ToID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit relations for %s: %w", fromID, err)
	}
	return nil
}

// RelationsFor returns the edges of the given records grouped by from_id
// then property name, each group ordered by position.
func (s *Store) RelationsFor(ids []string) (map[string]map[string][]RelationEdge, error) {
	out := make(map[string]map[string][]RelationEdge)
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT from_id, property_name, to_id, position, display_column, display_value
		 FROM notion_relations WHERE from_id IN (%s)
		 ORDER BY from_id, property_name, position`, placeholders,
	), args...)
	if err != nil {
		return nil, fmt.Errorf("load relations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e RelationEdge
		if err := rows.Scan(&e.FromID, &e.PropertyName, &e.ToID, &e.Position, &e.DisplayColumn, &e.DisplayValue); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		byProp, ok := out[e.FromID]
		if !ok {
			byProp = make(map[string][]RelationEdge)
			out[e.FromID] = byProp
		}
		byProp[e.PropertyName] = append(byProp[e.PropertyName], e)
	}
	return out, rows.Err()
}

// MaterializeRelationColumns resolves every relation edge's target through
// the page cache and writes the ordered label list, JSON-encoded, into the
// relation property's display column. Targets without a cached title fall
// back to the edge's display value, then to the raw target id, so the
// column is always fully populated.
func (s *Store) MaterializeRelationColumns(m props.Map) error {
	relationCols := m.RelationColumns()
	if len(relationCols) == 0 {
		return nil
	}

	idRows, err := s.db.Query("SELECT id FROM notion_rows")
	if err != nil {
		return fmt.Errorf("list row ids: %w", err)
	}
	var ids []string
	for idRows.Next() {
		var id string
		if err := idRows.Scan(&id); err != nil {
			idRows.Close()
			return fmt.Errorf("scan row id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := idRows.Err(); err != nil {
		idRows.Close()
		return err
	}
	idRows.Close()
	if len(ids) == 0 {
		return nil
	}

	relations, err := s.RelationsFor(ids)
	if err != nil {
		return err
	}

	var targetIDs []string
	seen := make(map[string]bool)
	for _, byProp := range relations {
		for _, edges := range byProp {
			for _, e := range edges {
				if !seen[e.ToID] {
					seen[e.ToID] = true
					targetIDs = append(targetIDs, e.ToID)
				}
			}
		}
	}
	cached, err := s.CachedPages(targetIDs)
	if err != nil {
		return err
	}

	for _, id := range ids {
		byProp := relations[id]
		updates := make(map[string]string)
		for propName, edges := range byProp {
			col, ok := relationCols[propName]
			if !ok || col == "" {
				continue
			}
			sort.Slice(edges, func(i, j int) bool { return edges[i].Position < edges[j].Position })
			labels := make([]string, 0, len(edges))
			for _, e := range edges {
				label := ""
				if target, ok := cached[e.ToID]; ok {
					label = target.Title
				}
				if label == "" {
					label = e.DisplayValue
				}
				if label == "" {
					label = e.ToID
				}
				labels = append(labels, label)
			}
			encoded, err := json.Marshal(labels)
			if err != nil {
				return fmt.Errorf("encode labels for %s: %w", propName, err)
			}
			updates[col+DisplaySuffix] = string(encoded)
		}
		if len(updates) == 0 {
			continue
		}

		cols := make([]string, 0, len(updates))
		for col := range updates {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		var setClauses []string
		var args []any
		for _, col := range cols {
			ident, err := quoteIdent(col)
			if err != nil {
				return err
			}
			setClauses = append(setClauses, ident+" = ?")
			args = append(args, updates[col])
		}
		args = append(args, id)
		if _, err := s.db.Exec(
			fmt.Sprintf("UPDATE notion_rows SET %s WHERE id = ?", strings.Join(setClauses, ", ")),
			args...,
		); err != nil {
			return fmt.Errorf("write display columns for %s: %w", id, err)
		}
	}
	return nil
}
