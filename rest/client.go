// Package rest is the shared client for the REST backend that owns the
// entry and feed tables, the Meilisearch proxy and SSE broadcasting.
//
// Error taxonomy (activities rely on it, see the workflow retry policies):
//
//   - 404 responses return the zero value with ok=false and a nil error.
//   - Other 4xx responses return *APIError so callers can surface a
//     structured error field without triggering an engine retry.
//   - 5xx and transport errors return plain errors; the durable engine
//     retries the enclosing activity.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-404 client error returned by the backend. It is not
// retryable; activities convert it into a structured error field.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsAPIError reports whether err is a non-retryable backend client error.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Client talks to the REST backend with bearer authentication and
// per-request timeouts. Safe for concurrent use.
type Client struct {
	base  string
	token string
	http  *http.Client
	long  *http.Client
}

// Options configures the backend client.
type Options struct {
	// BaseURL is the backend root URL, without a trailing slash.
	BaseURL string
	// Token is the internal shared secret for the Authorization header.
	Token string
	// Timeout bounds ordinary requests. Defaults to 30s.
	Timeout time.Duration
	// LongTimeout bounds list/stream reads. Defaults to 60s.
	LongTimeout time.Duration
	// Transport overrides the HTTP transport, used by tests.
	Transport http.RoundTripper
}

// New constructs a backend client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("rest: base URL is required")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	long := opts.LongTimeout
	if long == 0 {
		long = 60 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		base:  strings.TrimRight(opts.BaseURL, "/"),
		token: opts.Token,
		http:  &http.Client{Timeout: timeout, Transport: transport},
		long:  &http.Client{Timeout: long, Transport: transport},
	}, nil
}

// GetEntry fetches one entry. ok is false when the entry does not exist.
func (c *Client) GetEntry(ctx context.Context, id string) (*Entry, bool, error) {
	var e Entry
	found, err := c.get(ctx, "/api/entries/"+url.PathEscape(id), &e)
	if err != nil || !found {
		return nil, false, err
	}
	return &e, true, nil
}

// ListEntries pages through entries matching the filter.
func (c *Client) ListEntries(ctx context.Context, req ListEntriesRequest) ([]Entry, error) {
	q := url.Values{}
	if req.FeedID != "" {
		q.Set("feedId", req.FeedID)
	}
	if req.AfterID != "" {
		q.Set("afterId", req.AfterID)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.HasFilteredContent != nil {
		q.Set("hasFilteredContent", strconv.FormatBool(*req.HasFilteredContent))
	}
	if req.MissingEmbedding != nil {
		q.Set("missingEmbedding", strconv.FormatBool(*req.MissingEmbedding))
	}
	path := "/api/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Entry
	if _, err := c.getWith(ctx, path, &out, c.long); err != nil {
		return nil, err
	}
	return out, nil
}

// ListFeeds returns all subscribed feeds.
func (c *Client) ListFeeds(ctx context.Context) ([]Feed, error) {
	var out []Feed
	if _, err := c.get(ctx, "/api/feeds", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateEntries stores newly crawled entries and returns the subset that
// did not already exist (the backend deduplicates by canonical URL).
func (c *Client) CreateEntries(ctx context.Context, feedID string, entries []Entry) ([]Entry, error) {
	var out []Entry
	path := "/api/feeds/" + url.PathEscape(feedID) + "/entries"
	if err := c.post(ctx, path, entries, &out, c.http); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateFeedCache stores the conditional-GET validators for a feed.
func (c *Client) UpdateFeedCache(ctx context.Context, feedID, etag, lastModified string) error {
	path := "/api/feeds/" + url.PathEscape(feedID) + "/cache"
	body := map[string]string{"etag": etag, "lastModified": lastModified}
	return c.post(ctx, path, body, nil, c.http)
}

// PatchEntry applies a partial update to an entry.
func (c *Client) PatchEntry(ctx context.Context, id string, patch EntryPatch) error {
	return c.send(ctx, http.MethodPatch, "/api/entries/"+url.PathEscape(id), patch, nil, c.http)
}

// SaveEmbedding stores an entry's embedding vector.
func (c *Client) SaveEmbedding(ctx context.Context, id string, embedding []float32) error {
	path := "/api/entries/" + url.PathEscape(id) + "/embedding"
	return c.post(ctx, path, map[string]any{"embedding": embedding}, nil, c.http)
}

// Cleanup deletes (or, with DryRun, only reports) entries matching the
// cleanup predicate.
func (c *Client) Cleanup(ctx context.Context, req CleanupRequest) (CleanupResult, error) {
	var out CleanupResult
	if err := c.post(ctx, "/api/entries/cleanup", req, &out, c.long); err != nil {
		return CleanupResult{}, err
	}
	return out, nil
}

// Search queries the keyword index through the backend proxy. A 503 from
// the proxy (index offline) yields an empty result, not an error.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	var out []SearchHit
	err := c.post(ctx, "/api/search", req, &out, c.http)
	if err != nil {
		if apiErr, ok := IsAPIError(err); ok && apiErr.StatusCode == http.StatusServiceUnavailable {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// SearchByVector queries entries by embedding similarity.
func (c *Client) SearchByVector(ctx context.Context, req VectorSearchRequest) ([]VectorHit, error) {
	var out []VectorHit
	if err := c.post(ctx, "/api/entries/search-by-vector", req, &out, c.http); err != nil {
		return nil, err
	}
	return out, nil
}

// IndexDocuments upserts documents into the search index.
func (c *Client) IndexDocuments(ctx context.Context, docs []IndexDocument) error {
	return c.post(ctx, "/api/search/index", docs, nil, c.long)
}

// RemoveDocuments deletes documents from the search index by id.
func (c *Client) RemoveDocuments(ctx context.Context, ids []string) error {
	return c.post(ctx, "/api/search/remove", map[string][]string{"ids": ids}, nil, c.long)
}

// ListIndexIDs returns every document id currently in the search index.
func (c *Client) ListIndexIDs(ctx context.Context) ([]string, error) {
	var out []string
	if _, err := c.getWith(ctx, "/api/search/ids", &out, c.long); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEntryIDs returns every entry id currently in the database.
func (c *Client) ListEntryIDs(ctx context.Context) ([]string, error) {
	var out []string
	if _, err := c.getWith(ctx, "/api/entries/ids", &out, c.long); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveEnrichments replaces all enrichments of the given type for an entry.
// Delete-then-insert keeps the operation idempotent under activity retries.
func (c *Client) SaveEnrichments(ctx context.Context, entryID string, enrichments []Enrichment) error {
	path := "/api/entries/" + url.PathEscape(entryID) + "/enrichments"
	return c.post(ctx, path, enrichments, nil, c.http)
}

// DeleteEnrichment removes enrichments by type and optional source.
func (c *Client) DeleteEnrichment(ctx context.Context, entryID, typ, source string) error {
	u := "/api/entries/" + url.PathEscape(entryID) + "/enrichments?type=" + url.QueryEscape(typ)
	if source != "" {
		u += "&source=" + url.QueryEscape(source)
	}
	return c.send(ctx, http.MethodDelete, u, nil, nil, c.http)
}

// SaveLinks stores the outbound links discovered in an entry.
func (c *Client) SaveLinks(ctx context.Context, entryID string, links []EntryLink) error {
	path := "/api/entries/" + url.PathEscape(entryID) + "/links"
	return c.post(ctx, path, links, nil, c.http)
}

// GetSettings reads the backend settings the pipeline depends on.
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	var out Settings
	if _, err := c.get(ctx, "/api/settings", &out); err != nil {
		return Settings{}, err
	}
	return out, nil
}

// Broadcast forwards a workflow progress snapshot for SSE fan-out.
func (c *Client) Broadcast(ctx context.Context, b ProgressBroadcast) error {
	return c.post(ctx, "/sse/broadcast", b, nil, c.http)
}

// Name identifies the backend in health reports.
func (c *Client) Name() string { return "backend" }

// Ping reports backend reachability for the clue health checker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetSettings(ctx)
	return err
}

func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	return c.getWith(ctx, path, out, c.http)
}

func (c *Client) getWith(ctx context.Context, path string, out any, hc *http.Client) (bool, error) {
	err := c.send(ctx, http.MethodGet, path, nil, out, hc)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any, hc *http.Client) error {
	err := c.send(ctx, http.MethodPost, path, body, out, hc)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

var errNotFound = errors.New("rest: not found")

func (c *Client) send(ctx context.Context, method, path string, body, out any, hc *http.Client) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("rest: build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("rest: %s %s: backend returned %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s %s: %w", method, path, err)
	}
	return nil
}
