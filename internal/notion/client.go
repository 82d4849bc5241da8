// Package notion is a minimal Notion API client: authenticated requests
// with retry and backoff, cursor pagination, and a structured error
// taxonomy so callers can tell an expired token from a flaky network.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	maxAttempts    = 5
	initialBackoff = time.Second
	requestTimeout = 10 * time.Second
)

// ClientOptions configures a Client. Token and BaseURL are required.
type ClientOptions struct {
	Token      string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Sleep is swapped out in tests; nil means a context-aware timer wait.
	Sleep func(time.Duration)
}

// Client talks to the Notion API.
type Client struct {
	token   string
	baseURL string
	version string
	http    *http.Client
	logger  *slog.Logger
	sleep   func(time.Duration)
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:   opts.Token,
		baseURL: trimTrailingSlash(opts.BaseURL),
		version: opts.Version,
		http:    httpClient,
		logger:  logger,
		sleep:   opts.Sleep,
	}
}

// wait pauses before the next attempt, returning early with the context's
// error if the caller gives up mid-backoff.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		c.sleep(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// apiError is the error body the API returns alongside non-2xx statuses.
type apiError struct {
	Message string `json:"message"`
}

// Do performs one API call with up to 5 attempts. 429 and 5xx responses
// and network errors retry with exponential backoff (1s, 2s, 4s, ...),
// honoring a Retry-After header when the server sends one. 401/403 and
// other 4xx fail immediately.
func (c *Client) Do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Notion-Version", c.version)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt == maxAttempts {
				break
			}
			c.logger.Warn("notion request failed, retrying", "method", method, "path", path, "attempt", attempt, "error", err)
			if err := c.wait(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, &AuthError{Status: resp.StatusCode, Message: apiMessage(respBody)}

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = &TransportError{Status: resp.StatusCode, Attempts: attempt}
			if attempt == maxAttempts {
				break
			}
			delay := retryAfter(resp, backoff)
			c.logger.Warn("notion request throttled, retrying", "method", method, "path", path, "status", resp.StatusCode, "attempt", attempt, "wait", delay)
			if err := c.wait(ctx, delay); err != nil {
				return nil, err
			}
			backoff *= 2
			continue

		case resp.StatusCode >= 400:
			return nil, &RequestError{Status: resp.StatusCode, Message: apiMessage(respBody)}

		default:
			if readErr != nil {
				return nil, fmt.Errorf("read response: %w", readErr)
			}
			return respBody, nil
		}
		break
	}

	if te, ok := lastErr.(*TransportError); ok {
		te.Attempts = maxAttempts
		return nil, te
	}
	return nil, &TransportError{Attempts: maxAttempts, Err: lastErr}
}

func apiMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Message
}

// retryAfter returns the server-requested wait when the Retry-After header
// carries a second count, else the current backoff value.
func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// RetrieveDatabase fetches a database's metadata, including its data
// sources and property schema.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*Database, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/databases/"+databaseID, nil)
	if err != nil {
		return nil, err
	}
	var env databaseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode database: %w", err)
	}
	db := &Database{
		ID:            env.ID,
		Title:         env.Title,
		URL:           env.URL,
		DataSources:   env.DataSources,
		PropertiesRaw: env.Properties,
	}
	if len(env.Properties) > 0 {
		if err := json.Unmarshal(env.Properties, &db.Properties); err != nil {
			return nil, fmt.Errorf("decode database properties: %w", err)
		}
	}
	return db, nil
}

// RetrieveDataSource fetches one data source's schema.
func (c *Client) RetrieveDataSource(ctx context.Context, dataSourceID string) (*DataSource, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/data_sources/"+dataSourceID, nil)
	if err != nil {
		return nil, err
	}
	var env dataSourceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode data source: %w", err)
	}
	ds := &DataSource{ID: env.ID, Name: env.Name, PropertiesRaw: env.Properties}
	if len(env.Properties) > 0 {
		if err := json.Unmarshal(env.Properties, &ds.Properties); err != nil {
			return nil, fmt.Errorf("decode data source properties: %w", err)
		}
	}
	return ds, nil
}

// RetrievePage fetches a single page by id.
func (c *Client) RetrievePage(ctx context.Context, pageID string) (*Page, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/pages/"+pageID, nil)
	if err != nil {
		return nil, err
	}
	p, err := DecodePage(raw)
	if err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &p, nil
}

// SearchDatabaseByName searches for a database by title. An exact title
// match wins; otherwise the first result is returned. Returns nil when
// nothing matches.
func (c *Client) SearchDatabaseByName(ctx context.Context, name string) (*DataSourceRef, error) {
	payload := map[string]any{
		"query":     name,
		"filter":    map[string]string{"value": "database", "property": "object"},
		"page_size": 50,
	}
	raw, err := c.Do(ctx, http.MethodPost, "/search", payload)
	if err != nil {
		return nil, err
	}
	var sr searchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	var fallback *DataSourceRef
	for _, item := range sr.Results {
		title := PlainText(item.Title)
		if title == name {
			return &DataSourceRef{ID: item.ID, Name: title}, nil
		}
		if fallback == nil {
			fallback = &DataSourceRef{ID: item.ID, Name: title}
		}
	}
	return fallback, nil
}

// Query narrows a paginated query.
type Query struct {
	Filter json.RawMessage `json:"filter,omitempty"`
	Sorts  json.RawMessage `json:"sorts,omitempty"`
}

// QueryDataSource walks every record of a data source across pages in
// server order, invoking fn per page record. It feeds next_cursor back
// until has_more is false. A non-nil error from fn stops the walk.
func (c *Client) QueryDataSource(ctx context.Context, dataSourceID string, q *Query, fn func(Page) error) error {
	return c.paginate(ctx, "/data_sources/"+dataSourceID+"/query", q, fn)
}

// QueryDatabase is the pre-data-source query path, used when a database
// exposes no sub-sources.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q *Query, fn func(Page) error) error {
	return c.paginate(ctx, "/databases/"+databaseID+"/query", q, fn)
}

func (c *Client) paginate(ctx context.Context, path string, q *Query, fn func(Page) error) error {
	payload := map[string]any{"page_size": 100}
	if q != nil {
		if len(q.Filter) > 0 {
			payload["filter"] = q.Filter
		}
		if len(q.Sorts) > 0 {
			payload["sorts"] = q.Sorts
		}
	}

	for {
		raw, err := c.Do(ctx, http.MethodPost, path, payload)
		if err != nil {
			return err
		}
		var page queryResponse
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode query response: %w", err)
		}
		for _, rawResult := range page.Results {
			p, err := DecodePage(rawResult)
			if err != nil {
				return fmt.Errorf("decode query result: %w", err)
			}
			if err := fn(p); err != nil {
				return err
			}
		}
		if !page.HasMore {
			return nil
		}
		payload["start_cursor"] = page.NextCursor
	}
}
