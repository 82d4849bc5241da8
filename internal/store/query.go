package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mirrorkit/notionmirror/internal/props"
)

// RangeFilter bounds a column inclusively; empty ends are open.
type RangeFilter struct {
	From string
	To   string
}

// QueryOptions narrows and orders a row listing. Filter values may be a
// string (exact match), a []string (IN), or a RangeFilter. Filter keys are
// logical property names or physical columns; unknown columns are ignored
// rather than interpolated into SQL.
type QueryOptions struct {
	Text    string
	Filters map[string]any
	Sort    string // "column:asc" or "column:desc"
	Limit   int
	Offset  int
}

// QueryRows returns matching rows plus the total count of the filtered set
// independent of limit/offset.
func (s *Store) QueryRows(m props.Map, opts QueryOptions) ([]map[string]any, int, error) {
	existing, err := s.WideColumns()
	if err != nil {
		return nil, 0, err
	}

	var where []string
	var args []any

	if opts.Text != "" {
		textCols := m.TextColumns()
		sort.Strings(textCols)
		textCols = append(textCols, "url")
		var clauses []string
		like := "%" + opts.Text + "%"
		for _, col := range textCols {
			if !existing[col] {
				continue
			}
			ident, err := quoteIdent(col)
			if err != nil {
				continue
			}
			clauses = append(clauses, ident+" LIKE ?")
			args = append(args, like)
		}
		if len(clauses) > 0 {
			where = append(where, "("+strings.Join(clauses, " OR ")+")")
		}
	}

	filterKeys := make([]string, 0, len(opts.Filters))
	for k := range opts.Filters {
		filterKeys = append(filterKeys, k)
	}
	sort.Strings(filterKeys)

	for _, key := range filterKeys {
		col := m.Column(key)
		if !existing[col] {
			continue
		}
		ident, err := quoteIdent(col)
		if err != nil {
			continue
		}
		switch v := opts.Filters[key].(type) {
		case RangeFilter:
			if v.From != "" {
				where = append(where, ident+" >= ?")
				args = append(args, v.From)
			}
			if v.To != "" {
				where = append(where, ident+" <= ?")
				args = append(args, v.To)
			}
		case []string:
			if len(v) == 0 {
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(v)), ",")
			where = append(where, fmt.Sprintf("%s IN (%s)", ident, placeholders))
			for _, item := range v {
				args = append(args, item)
			}
		default:
			where = append(where, ident+" = ?")
			args = append(args, v)
		}
	}

	whereClause := "1=1"
	if len(where) > 0 {
		whereClause = strings.Join(where, " AND ")
	}

	orderClause := `"last_edited_time" DESC`
	if opts.Sort != "" {
		if col, dir, ok := parseSort(opts.Sort, m); ok && existing[col] {
			if ident, err := quoteIdent(col); err == nil {
				orderClause = ident + " " + dir
			}
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM notion_rows WHERE " + whereClause
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rows: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT * FROM notion_rows WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
		whereClause, orderClause,
	)
	rows, err := s.db.Query(query, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, 0, fmt.Errorf("row columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, total, nil
}

func parseSort(sortExpr string, m props.Map) (column, direction string, ok bool) {
	parts := strings.SplitN(sortExpr, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	direction = "ASC"
	switch strings.ToLower(parts[1]) {
	case "desc", "descending":
		direction = "DESC"
	case "asc", "ascending":
	default:
		return "", "", false
	}
	return m.Column(parts[0]), direction, true
}

// FilterValues returns the distinct non-empty values of every select-like
// property, keyed by property name. Drives dropdown filters in clients.
func (s *Store) FilterValues(m props.Map) (map[string][]string, error) {
	existing, err := s.WideColumns()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string)
	for name, entry := range m {
		switch entry.RemoteType {
		case "select", "status":
		default:
			continue
		}
		if !existing[entry.Column] {
			continue
		}
		ident, err := quoteIdent(entry.Column)
		if err != nil {
			continue
		}
		rows, err := s.db.Query(fmt.Sprintf(
			"SELECT DISTINCT %s FROM notion_rows WHERE %s IS NOT NULL AND %s != '' ORDER BY %s",
			ident, ident, ident, ident,
		))
		if err != nil {
			return nil, fmt.Errorf("distinct values for %s: %w", entry.Column, err)
		}
		var values []string
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan filter value: %w", err)
			}
			values = append(values, v)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		out[name] = values
	}
	return out, nil
}

// DayBucket is one day's record count.
type DayBucket struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// Stats aggregates the mirror for dashboard tiles.
type Stats struct {
	TotalRows     int         `json:"total_rows"`
	ArchivedRows  int         `json:"archived_rows"`
	CachedTargets int         `json:"cached_targets"`
	CreatedPerDay []DayBucket `json:"created_per_day"`
	EditedPerDay  []DayBucket `json:"edited_per_day"`
	LastFullSync  string      `json:"last_full_sync,omitempty"`
}

// QueryStats computes counts and day-bucketed histograms over the creation
// and edit timestamps of mirrored rows.
func (s *Store) QueryStats(days int) (*Stats, error) {
	if days <= 0 {
		days = 30
	}
	stats := &Stats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM notion_rows").Scan(&stats.TotalRows); err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM notion_rows WHERE archived = 1").Scan(&stats.ArchivedRows); err != nil {
		return nil, fmt.Errorf("count archived: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM notion_page_cache").Scan(&stats.CachedTargets); err != nil {
		return nil, fmt.Errorf("count page cache: %w", err)
	}

	var err error
	if stats.CreatedPerDay, err = s.dayBuckets("created_time", days); err != nil {
		return nil, err
	}
	if stats.EditedPerDay, err = s.dayBuckets("last_edited_time", days); err != nil {
		return nil, err
	}
	if stats.LastFullSync, err = s.GetMeta(MetaLastFullSync); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) dayBuckets(column string, days int) ([]DayBucket, error) {
	ident, err := quoteIdent(column)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT substr(%s, 1, 10) AS day, COUNT(*)
		 FROM notion_rows
		 WHERE %s IS NOT NULL AND %s != ''
		 GROUP BY day ORDER BY day DESC LIMIT ?`,
		ident, ident, ident,
	), days)
	if err != nil {
		return nil, fmt.Errorf("bucket %s: %w", column, err)
	}
	defer rows.Close()

	var buckets []DayBucket
	for rows.Next() {
		var b DayBucket
		if err := rows.Scan(&b.Day, &b.Count); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
