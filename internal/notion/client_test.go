package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var sleeps []time.Duration
	c := NewClient(ClientOptions{
		Token:   "secret-token",
		BaseURL: srv.URL,
		Version: "2025-09-03",
		Sleep:   func(d time.Duration) { sleeps = append(sleeps, d) },
	})
	return c, &sleeps
}

func TestDoSendsAuthHeaders(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Notion-Version"); got != "2025-09-03" {
			t.Errorf("Notion-Version = %q", got)
		}
		w.Write([]byte(`{"ok":true}`))
	}))

	if _, err := c.Do(context.Background(), http.MethodGet, "/users/me", nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestDoAuthFailureDoesNotRetry(t *testing.T) {
	var calls int
	c, sleeps := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"API token is invalid."}`))
	}))

	_, err := c.Do(context.Background(), http.MethodGet, "/databases/x", nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d", authErr.Status)
	}
	if authErr.Message != "API token is invalid." {
		t.Fatalf("message = %q", authErr.Message)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no backoff sleeps, got %v", *sleeps)
	}
}

func TestDoOtherClientErrorDoesNotRetry(t *testing.T) {
	var calls int
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Could not find database."}`))
	}))

	_, err := c.Do(context.Background(), http.MethodGet, "/databases/x", nil)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestDoRateLimitRetriesWithDoublingBackoff(t *testing.T) {
	var calls int
	c, sleeps := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Do(context.Background(), http.MethodPost, "/databases/x/query", map[string]any{})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", calls)
	}
	if te.Attempts != 5 {
		t.Fatalf("Attempts = %d, want 5", te.Attempts)
	}
	if te.Status != http.StatusTooManyRequests {
		t.Fatalf("Status = %d", te.Status)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Fatalf("sleep %d = %v, want %v", i, (*sleeps)[i], want[i])
		}
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	var calls int
	c, sleeps := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))

	if _, err := c.Do(context.Background(), http.MethodGet, "/pages/p", nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 7*time.Second {
		t.Fatalf("sleeps = %v, want [7s]", *sleeps)
	}
}

func TestDoCancellationInterruptsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	// No injected Sleep: the real timer wait must yield to the context.
	c := NewClient(ClientOptions{
		Token:   "secret-token",
		BaseURL: srv.URL,
		Version: "2025-09-03",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Do(ctx, http.MethodGet, "/pages/p", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
	// The first backoff is a full second; cancellation must not wait it out.
	if elapsed := time.Since(start); elapsed >= initialBackoff {
		t.Fatalf("Do took %v, backoff ignored cancellation", elapsed)
	}
}

func TestDoServerErrorEventuallyRecovers(t *testing.T) {
	var calls int
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"db1"}`))
	}))

	raw, err := c.Do(context.Background(), http.MethodGet, "/databases/db1", nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(raw) != `{"id":"db1"}` {
		t.Fatalf("body = %s", raw)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func paginatedHandler(t *testing.T, total, perPage int) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			StartCursor string `json:"start_cursor"`
			PageSize    int    `json:"page_size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode query payload: %v", err)
		}
		start := 0
		if req.StartCursor != "" {
			fmt.Sscanf(req.StartCursor, "cursor-%d", &start)
		}
		end := start + perPage
		if end > total {
			end = total
		}
		results := make([]json.RawMessage, 0, end-start)
		for i := start; i < end; i++ {
			results = append(results, json.RawMessage(fmt.Sprintf(`{"id":"page-%03d"}`, i)))
		}
		resp := map[string]any{
			"results":  results,
			"has_more": end < total,
		}
		if end < total {
			resp["next_cursor"] = fmt.Sprintf("cursor-%d", end)
		}
		json.NewEncoder(w).Encode(resp)
	})
}

func TestQueryDataSourceWalksAllPagesInOrder(t *testing.T) {
	const total, perPage = 23, 10
	c, _ := testClient(t, paginatedHandler(t, total, perPage))

	var ids []string
	err := c.QueryDataSource(context.Background(), "ds1", nil, func(p Page) error {
		ids = append(ids, p.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("QueryDataSource: %v", err)
	}
	if len(ids) != total {
		t.Fatalf("got %d records, want %d", len(ids), total)
	}
	for i, id := range ids {
		if want := fmt.Sprintf("page-%03d", i); id != want {
			t.Fatalf("record %d = %q, want %q", i, id, want)
		}
	}
}

func TestQueryDataSourceSinglePage(t *testing.T) {
	c, _ := testClient(t, paginatedHandler(t, 3, 10))

	var count int
	err := c.QueryDataSource(context.Background(), "ds1", nil, func(p Page) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("QueryDataSource: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestQueryDataSourceStopsOnCallbackError(t *testing.T) {
	c, _ := testClient(t, paginatedHandler(t, 23, 10))

	stop := errors.New("stop")
	var count int
	err := c.QueryDataSource(context.Background(), "ds1", nil, func(p Page) error {
		count++
		if count == 5 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
}

func TestSearchDatabaseByNamePrefersExactMatch(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"id":"db-a","title":[{"plain_text":"Tasks Archive"}]},
			{"id":"db-b","title":[{"plain_text":"Tasks"}]}
		]}`))
	}))

	ref, err := c.SearchDatabaseByName(context.Background(), "Tasks")
	if err != nil {
		t.Fatalf("SearchDatabaseByName: %v", err)
	}
	if ref == nil || ref.ID != "db-b" {
		t.Fatalf("ref = %+v, want db-b", ref)
	}
}

func TestSearchDatabaseByNameFallsBackToFirstResult(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"id":"db-a","title":[{"plain_text":"Tasks Archive"}]}
		]}`))
	}))

	ref, err := c.SearchDatabaseByName(context.Background(), "Tasks")
	if err != nil {
		t.Fatalf("SearchDatabaseByName: %v", err)
	}
	if ref == nil || ref.ID != "db-a" {
		t.Fatalf("ref = %+v, want db-a", ref)
	}
}

func TestRetrieveDatabaseKeepsPropertyOrder(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "db1",
			"title": [{"plain_text": "Tasks"}],
			"data_sources": [{"id": "ds1", "name": "Main"}],
			"properties": {
				"Name": {"id": "t1", "type": "title"},
				"Status": {"id": "s1", "type": "status"},
				"Due": {"id": "d1", "type": "date"}
			}
		}`))
	}))

	db, err := c.RetrieveDatabase(context.Background(), "db1")
	if err != nil {
		t.Fatalf("RetrieveDatabase: %v", err)
	}
	if len(db.DataSources) != 1 || db.DataSources[0].Name != "Main" {
		t.Fatalf("data sources = %+v", db.DataSources)
	}
	if len(db.PropertiesRaw) == 0 {
		t.Fatal("PropertiesRaw not preserved")
	}
}
