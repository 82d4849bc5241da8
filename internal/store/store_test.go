package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mirrorkit/notionmirror/internal/props"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMap() props.Map {
	return props.BuildMap([]props.Definition{
		{Name: "Name", RemoteType: "title", RemoteID: "t"},
		{Name: "Status", RemoteType: "status", RemoteID: "s"},
		{Name: "Points", RemoteType: "number", RemoteID: "n"},
		{Name: "Blocked By", RemoteType: "relation", RemoteID: "r"},
	})
}

func TestEnsureWideTableIsAdditiveAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	m := testMap()

	if err := s.EnsureWideTable(m); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.EnsureWideTable(m); err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	cols, err := s.WideColumns()
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	for _, want := range []string{"id", "url", "name", "status", "points", "blocked_by", "blocked_by_display"} {
		if !cols[want] {
			t.Fatalf("missing column %q in %v", want, cols)
		}
	}

	// A map missing a previously seen property must not drop its column.
	smaller := props.BuildMap([]props.Definition{{Name: "Name", RemoteType: "title"}})
	if err := s.EnsureWideTable(smaller); err != nil {
		t.Fatalf("shrunken ensure: %v", err)
	}
	cols, err = s.WideColumns()
	if err != nil {
		t.Fatalf("columns after shrink: %v", err)
	}
	if !cols["status"] || !cols["blocked_by"] {
		t.Fatal("previously created columns were dropped")
	}
}

func TestEnsureWideTablePreservesData(t *testing.T) {
	s := newTestStore(t)
	m := testMap()
	if err := s.EnsureWideTable(m); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.UpsertRow(map[string]any{"id": "r1", "status": "Done"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.EnsureWideTable(m); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	rows, _, err := s.QueryRows(m, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0]["status"] != "Done" {
		t.Fatalf("data lost after re-ensure: %v", rows)
	}
}

func TestUpsertRowOnlyTouchesPresentColumns(t *testing.T) {
	s := newTestStore(t)
	m := testMap()
	if err := s.EnsureWideTable(m); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if err := s.UpsertRow(map[string]any{"id": "r1", "name": "Task", "status": "Open"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpsertRow(map[string]any{"id": "r1", "status": "Done"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	rows, total, err := s.QueryRows(m, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if rows[0]["name"] != "Task" {
		t.Fatalf("name = %v, want Task (untouched)", rows[0]["name"])
	}
	if rows[0]["status"] != "Done" {
		t.Fatalf("status = %v, want Done", rows[0]["status"])
	}
}

func TestReplaceRelationsShrinks(t *testing.T) {
	s := newTestStore(t)

	edges := []RelationEdge{
		{PropertyName: "Blocked By", ToID: "A", Position: 0, DisplayColumn: "blocked_by"},
		{PropertyName: "Blocked By", ToID: "B", Position: 1, DisplayColumn: "blocked_by"},
	}
	if err := s.ReplaceRelations("r1", edges); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.ReplaceRelations("r1", edges[:1]); err != nil {
		t.Fatalf("shrink: %v", err)
	}

	rels, err := s.RelationsFor([]string{"r1"})
	if err != nil {
		t.Fatalf("relations: %v", err)
	}
	got := rels["r1"]["Blocked By"]
	if len(got) != 1 || got[0].ToID != "A" {
		t.Fatalf("edges = %+v, want exactly [A]", got)
	}

	// Empty set clears everything.
	if err := s.ReplaceRelations("r1", nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	rels, err = s.RelationsFor([]string{"r1"})
	if err != nil {
		t.Fatalf("relations: %v", err)
	}
	if len(rels["r1"]) != 0 {
		t.Fatalf("edges = %+v, want none", rels["r1"])
	}
}

func TestRelationsForOrdersByPosition(t *testing.T) {
	s := newTestStore(t)
	edges := []RelationEdge{
		{PropertyName: "Deps", ToID: "C", Position: 2},
		{PropertyName: "Deps", ToID: "A", Position: 0},
		{PropertyName: "Deps", ToID: "B", Position: 1},
	}
	if err := s.ReplaceRelations("r1", edges); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got := make([]string, 0, 3)
	rels, err := s.RelationsFor([]string{"r1"})
	if err != nil {
		t.Fatalf("relations: %v", err)
	}
	for _, e := range rels["r1"]["Deps"] {
		got = append(got, e.ToID)
	}
	want := []string{"A", "B", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestStaleOrMissingTargets(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	fresh := CachedPage{ID: "fresh", Title: "F", SyncedAt: now.Format(time.RFC3339)}
	stale := CachedPage{ID: "stale", Title: "S", SyncedAt: now.Add(-8 * 24 * time.Hour).Format(time.RFC3339)}
	broken := CachedPage{ID: "broken", Title: "B", SyncedAt: "not-a-time"}
	for _, p := range []CachedPage{fresh, stale, broken} {
		if err := s.UpsertCachedPage(p, nil); err != nil {
			t.Fatalf("upsert cache: %v", err)
		}
	}

	got, err := s.StaleOrMissingTargets([]string{"fresh", "stale", "broken", "missing"}, DefaultMaxTargetAge)
	if err != nil {
		t.Fatalf("stale targets: %v", err)
	}
	want := map[string]bool{"stale": true, "broken": true, "missing": true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want keys %v", got, want)
	}
	for _, id := range got {
		if !want[id] {
			t.Fatalf("unexpected stale id %q", id)
		}
	}
}

func TestMaterializeRelationColumns(t *testing.T) {
	s := newTestStore(t)
	m := testMap()
	if err := s.EnsureWideTable(m); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if err := s.UpsertRow(map[string]any{"id": "r1", "name": "One"}); err != nil {
		t.Fatalf("upsert r1: %v", err)
	}
	if err := s.UpsertRow(map[string]any{"id": "r2", "name": "Two"}); err != nil {
		t.Fatalf("upsert r2: %v", err)
	}
	if err := s.ReplaceRelations("r1", []RelationEdge{
		{PropertyName: "Blocked By", ToID: "r2", Position: 0, DisplayColumn: "blocked_by"},
		{PropertyName: "Blocked By", ToID: "ghost", Position: 1, DisplayColumn: "blocked_by"},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.UpsertCachedPage(CachedPage{
		ID: "r2", Title: "Second Task", SyncedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil); err != nil {
		t.Fatalf("cache: %v", err)
	}

	if err := s.MaterializeRelationColumns(m); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	rows, _, err := s.QueryRows(m, QueryOptions{Filters: map[string]any{"id": "r1"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	// Cached title for r2, raw id fallback for the uncached target.
	if got := rows[0]["blocked_by_display"]; got != `["Second Task","ghost"]` {
		t.Fatalf("display column = %v", got)
	}
}

func TestQueryRowsFiltersAndSort(t *testing.T) {
	s := newTestStore(t)
	m := testMap()
	if err := s.EnsureWideTable(m); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	seed := []map[string]any{
		{"id": "a", "name": "Write report", "status": "Open", "points": 3.0, "last_edited_time": "2026-01-03T00:00:00Z", "url": "https://x/a"},
		{"id": "b", "name": "Review report", "status": "Done", "points": 1.0, "last_edited_time": "2026-01-02T00:00:00Z", "url": "https://x/b"},
		{"id": "c", "name": "Plan offsite", "status": "Open", "points": 5.0, "last_edited_time": "2026-01-01T00:00:00Z", "url": "https://x/c"},
	}
	for _, row := range seed {
		if err := s.UpsertRow(row); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	t.Run("text search across text columns", func(t *testing.T) {
		rows, total, err := s.QueryRows(m, QueryOptions{Text: "report"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total != 2 || len(rows) != 2 {
			t.Fatalf("total = %d rows = %d, want 2/2", total, len(rows))
		}
	})

	t.Run("exact filter by property name", func(t *testing.T) {
		_, total, err := s.QueryRows(m, QueryOptions{Filters: map[string]any{"Status": "Open"}})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total != 2 {
			t.Fatalf("total = %d, want 2", total)
		}
	})

	t.Run("list filter becomes IN", func(t *testing.T) {
		_, total, err := s.QueryRows(m, QueryOptions{Filters: map[string]any{"Status": []string{"Open", "Done"}}})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total != 3 {
			t.Fatalf("total = %d, want 3", total)
		}
	})

	t.Run("range filter on edit time", func(t *testing.T) {
		_, total, err := s.QueryRows(m, QueryOptions{
			Filters: map[string]any{"last_edited_time": RangeFilter{From: "2026-01-02", To: "2026-01-03"}},
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total != 2 {
			t.Fatalf("total = %d, want 2", total)
		}
	})

	t.Run("default sort is last edited desc", func(t *testing.T) {
		rows, _, err := s.QueryRows(m, QueryOptions{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if rows[0]["id"] != "a" || rows[2]["id"] != "c" {
			t.Fatalf("default order wrong: %v %v %v", rows[0]["id"], rows[1]["id"], rows[2]["id"])
		}
	})

	t.Run("explicit sort by property name", func(t *testing.T) {
		rows, _, err := s.QueryRows(m, QueryOptions{Sort: "Points:asc"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if rows[0]["id"] != "b" || rows[2]["id"] != "c" {
			t.Fatalf("sort order wrong: %v %v %v", rows[0]["id"], rows[1]["id"], rows[2]["id"])
		}
	})

	t.Run("count is independent of limit and offset", func(t *testing.T) {
		rows, total, err := s.QueryRows(m, QueryOptions{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total != 3 {
			t.Fatalf("total = %d, want 3", total)
		}
		if len(rows) != 1 {
			t.Fatalf("rows = %d, want 1", len(rows))
		}
	})

	t.Run("unknown filter columns are ignored", func(t *testing.T) {
		_, total, err := s.QueryRows(m, QueryOptions{Filters: map[string]any{"nope; DROP TABLE": "x"}})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total != 3 {
			t.Fatalf("total = %d, want 3", total)
		}
	})
}

func TestFilterValues(t *testing.T) {
	s := newTestStore(t)
	m := testMap()
	if err := s.EnsureWideTable(m); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, row := range []map[string]any{
		{"id": "a", "status": "Open"},
		{"id": "b", "status": "Done"},
		{"id": "c", "status": "Open"},
	} {
		if err := s.UpsertRow(row); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	values, err := s.FilterValues(m)
	if err != nil {
		t.Fatalf("filter values: %v", err)
	}
	got := values["Status"]
	if len(got) != 2 || got[0] != "Done" || got[1] != "Open" {
		t.Fatalf("status values = %v, want [Done Open]", got)
	}
}

func TestQueryStats(t *testing.T) {
	s := newTestStore(t)
	m := testMap()
	if err := s.EnsureWideTable(m); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, row := range []map[string]any{
		{"id": "a", "created_time": "2026-01-01T10:00:00Z", "last_edited_time": "2026-01-05T10:00:00Z", "archived": 0},
		{"id": "b", "created_time": "2026-01-01T12:00:00Z", "last_edited_time": "2026-01-06T10:00:00Z", "archived": 1},
		{"id": "c", "created_time": "2026-01-02T09:00:00Z", "last_edited_time": "2026-01-06T11:00:00Z", "archived": 0},
	} {
		if err := s.UpsertRow(row); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	stats, err := s.QueryStats(30)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalRows != 3 || stats.ArchivedRows != 1 {
		t.Fatalf("counts = %d/%d, want 3/1", stats.TotalRows, stats.ArchivedRows)
	}
	if len(stats.CreatedPerDay) != 2 {
		t.Fatalf("created buckets = %v, want 2 days", stats.CreatedPerDay)
	}
	// Buckets come newest first.
	if stats.CreatedPerDay[0].Day != "2026-01-02" || stats.CreatedPerDay[0].Count != 1 {
		t.Fatalf("first bucket = %+v", stats.CreatedPerDay[0])
	}
	if stats.CreatedPerDay[1].Day != "2026-01-01" || stats.CreatedPerDay[1].Count != 2 {
		t.Fatalf("second bucket = %+v", stats.CreatedPerDay[1])
	}
}

func TestMetaAndPropertyMapRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if v, err := s.GetMeta("missing"); err != nil || v != "" {
		t.Fatalf("missing meta = %q/%v", v, err)
	}
	if err := s.SetMeta(MetaDatabaseID, "db1"); err != nil {
		t.Fatalf("set meta: %v", err)
	}
	if err := s.SetMeta(MetaDatabaseID, "db2"); err != nil {
		t.Fatalf("overwrite meta: %v", err)
	}
	if v, _ := s.GetMeta(MetaDatabaseID); v != "db2" {
		t.Fatalf("meta = %q, want db2", v)
	}

	m := testMap()
	if err := s.SavePropertyMap(m); err != nil {
		t.Fatalf("save map: %v", err)
	}
	loaded, err := s.PropertyMap()
	if err != nil {
		t.Fatalf("load map: %v", err)
	}
	if loaded["Status"].Column != m["Status"].Column {
		t.Fatalf("loaded map mismatch: %+v", loaded["Status"])
	}
}

func TestRawPageCompressionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	raw := []byte(`{"id":"r1","properties":{"Name":{"type":"title","title":[{"plain_text":"x"}]}}}`)

	if err := s.UpsertRawPage("r1", raw, "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", false, "2026-01-02T00:00:00Z"); err != nil {
		t.Fatalf("upsert raw: %v", err)
	}
	got, err := s.RawPage("r1")
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("raw page mismatch: %s", got)
	}

	if got, err := s.RawPage("absent"); err != nil || got != nil {
		t.Fatalf("absent raw = %v/%v, want nil/nil", got, err)
	}
}
