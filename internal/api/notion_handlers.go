package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/mirrorkit/notionmirror/internal/notion"
	"github.com/mirrorkit/notionmirror/internal/props"
	"github.com/mirrorkit/notionmirror/internal/store"
)

// reservedQueryKeys are read-path parameters; everything else in the query
// string is treated as a column filter.
var reservedQueryKeys = map[string]bool{
	"q":      true,
	"sort":   true,
	"limit":  true,
	"offset": true,
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ForceFull bool `json:"force_full"`
	}
	if r.ContentLength > 0 {
		if !decodeJSONBody(w, r, &req) {
			return
		}
	}

	state, started := s.manager.Start(req.ForceFull)
	status := http.StatusAccepted
	if !started {
		// A run is already in flight; report it rather than stacking.
		status = http.StatusOK
	}
	jsonResponse(w, status, state)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.PropertyMap()
	if err != nil {
		s.logger.Error("failed to load property map", "error", err)
		jsonError(w, "query failed", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	opts := store.QueryOptions{
		Text:    strings.TrimSpace(q.Get("q")),
		Sort:    q.Get("sort"),
		Limit:   parseNonNegativeInt(q.Get("limit"), 0),
		Offset:  parseNonNegativeInt(q.Get("offset"), 0),
		Filters: make(map[string]any),
	}
	for key, values := range q {
		if reservedQueryKeys[key] || len(values) == 0 {
			continue
		}
		name := filterKey(key)
		value := filterValue(key, values[0])
		// col_from and col_to arrive as separate params but must land in
		// one RangeFilter, whichever order the map yields them in.
		if rf, ok := value.(store.RangeFilter); ok {
			if prev, ok := opts.Filters[name].(store.RangeFilter); ok {
				if rf.From == "" {
					rf.From = prev.From
				}
				if rf.To == "" {
					rf.To = prev.To
				}
			}
			opts.Filters[name] = rf
			continue
		}
		opts.Filters[name] = value
	}

	rows, total, err := s.store.QueryRows(m, opts)
	if err != nil {
		s.logger.Error("record query failed", "error", err)
		jsonError(w, "query failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"records": rows,
		"total":   total,
	})
}

// filterKey strips the range suffixes so col_from and col_to address the
// same column.
func filterKey(key string) string {
	key = strings.TrimSuffix(key, "_from")
	return strings.TrimSuffix(key, "_to")
}

func filterValue(key, raw string) any {
	switch {
	case strings.HasSuffix(key, "_from"):
		return store.RangeFilter{From: raw}
	case strings.HasSuffix(key, "_to"):
		return store.RangeFilter{To: raw}
	case strings.Contains(raw, ","):
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return raw
	}
}

// handleRecordFields resolves one record's stored snapshot into the
// logical dashboard fields (title, status, due date, ...), independent of
// how the remote schema labels them.
func (s *Server) handleRecordFields(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		jsonError(w, "record id is required", http.StatusBadRequest)
		return
	}

	raw, err := s.store.RawPage(id)
	if err != nil {
		s.logger.Error("failed to load raw page", "id", id, "error", err)
		jsonError(w, "query failed", http.StatusInternalServerError)
		return
	}
	if raw == nil {
		jsonError(w, "record not found", http.StatusNotFound)
		return
	}

	page, err := notion.DecodePage(raw)
	if err != nil {
		s.logger.Error("stored snapshot is not a valid page", "id", id, "error", err)
		jsonError(w, "stored record is unreadable", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"id":     id,
		"fields": props.ResolveFields(page.Properties),
	})
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.PropertyMap()
	if err != nil {
		s.logger.Error("failed to load property map", "error", err)
		jsonError(w, "query failed", http.StatusInternalServerError)
		return
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	type columnInfo struct {
		Property    string `json:"property"`
		Column      string `json:"column"`
		Type        string `json:"type"`
		StorageType string `json:"storage_type"`
	}
	columns := make([]columnInfo, 0, len(names))
	for _, name := range names {
		e := m[name]
		columns = append(columns, columnInfo{
			Property:    name,
			Column:      e.Column,
			Type:        e.RemoteType,
			StorageType: e.StorageType,
		})
	}
	jsonResponse(w, http.StatusOK, map[string]any{"columns": columns})
}

func (s *Server) handleFilterValues(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.PropertyMap()
	if err != nil {
		s.logger.Error("failed to load property map", "error", err)
		jsonError(w, "query failed", http.StatusInternalServerError)
		return
	}
	values, err := s.store.FilterValues(m)
	if err != nil {
		s.logger.Error("filter value query failed", "error", err)
		jsonError(w, "query failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"filters": values})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := parseNonNegativeInt(r.URL.Query().Get("days"), 30)
	stats, err := s.store.QueryStats(days)
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		jsonError(w, "query failed", http.StatusInternalServerError)
		return
	}
	meta, err := s.store.AllMeta()
	if err != nil {
		s.logger.Error("meta query failed", "error", err)
		jsonError(w, "query failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, statsResponse{Stats: stats, Meta: meta})
}

// statsResponse flattens the aggregate counters and attaches the sync
// bookkeeping (database id, data source, timestamps, api version).
type statsResponse struct {
	*store.Stats
	Meta map[string]string `json:"meta,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().Ping(); err != nil {
		jsonError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
