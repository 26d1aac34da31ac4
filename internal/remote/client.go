// Package remote is a client for a PostgREST-style relational API
// (Supabase REST). Requests are built per table with equality filters and
// executed once: there is no retry here, callers own retry policy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	restPath  = "/rest/v1/"
	userAgent = "firmsync/0.1"

	// maxErrorBody bounds how much of a failed response is kept.
	maxErrorBody = 64 << 10
)

// Client holds immutable credentials and is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the project at baseURL (for example
// "https://abc.supabase.co"). apiKey is sent both as the apikey header
// and as the bearer credential. httpClient's Timeout bounds each call.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	authed := *httpClient
	authed.Transport = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"}),
		Base:   httpClient.Transport,
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &authed,
		logger:     logger,
	}
}

// Select reads rows. columns uses PostgREST select syntax; "*" for all.
func (c *Client) Select(table, columns string) *Query {
	return c.newQuery("select", http.MethodGet, table).withParam("select", columns)
}

// Insert creates rows. payload is a row object or a slice of them.
func (c *Client) Insert(table string, payload any) *Query {
	q := c.newQuery("insert", http.MethodPost, table)
	q.body = payload

	return q
}

// Update patches the rows matched by the query's filters.
func (c *Client) Update(table string, payload any) *Query {
	q := c.newQuery("update", http.MethodPatch, table)
	q.body = payload

	return q
}

// Delete removes the rows matched by the query's filters.
func (c *Client) Delete(table string) *Query {
	return c.newQuery("delete", http.MethodDelete, table)
}

// Upsert inserts payload or, when a row with the same onConflict key
// exists, overwrites it. Applying the same payload twice leaves the
// remote in the same state as applying it once. An empty onConflict
// means "id".
func (c *Client) Upsert(table string, payload any, onConflict string) *Query {
	if onConflict == "" {
		onConflict = "id"
	}

	q := c.newQuery("upsert", http.MethodPost, table).withParam("on_conflict", onConflict)
	q.body = payload
	q.prefer = append(q.prefer, "resolution=merge-duplicates")

	return q
}

// Probe performs the cheapest possible authenticated read against table.
func (c *Client) Probe(ctx context.Context, table string) error {
	_, err := c.Select(table, "*").Limit(1).Execute(ctx)

	return err
}

func (c *Client) newQuery(op, method, table string) *Query {
	return &Query{
		client: c,
		op:     op,
		method: method,
		table:  table,
		params: url.Values{},
		prefer: []string{"return=minimal"},
	}
}

// do sends one request and classifies the response. The body of a 2xx
// response is returned in full.
func (c *Client) do(ctx context.Context, q *Query) ([]byte, error) {
	var body io.Reader

	if q.body != nil {
		data, err := json.Marshal(q.body)
		if err != nil {
			return nil, fmt.Errorf("remote: encoding %s payload for %s: %w", q.op, q.table, err)
		}

		body = bytes.NewReader(data)
	}

	endpoint := c.baseURL + restPath + url.PathEscape(q.table)
	if len(q.params) > 0 {
		endpoint += "?" + q.params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, q.method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("remote: creating %s request for %s: %w", q.op, q.table, err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if q.method != http.MethodGet {
		req.Header.Set("Prefer", strings.Join(q.prefer, ","))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("remote: %s %s canceled: %w", q.op, q.table, ctx.Err())
		}

		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnreachable, q.op, q.table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s %s response: %w", ErrUnreachable, q.op, q.table, err)
		}

		c.logger.Debug("remote request succeeded",
			slog.String("op", q.op),
			slog.String("table", q.table),
			slog.Int("status", resp.StatusCode),
		)

		return data, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Debug("remote request failed",
		slog.String("op", q.op),
		slog.String("table", q.table),
		slog.Int("status", resp.StatusCode),
	)

	return nil, &Error{
		Method:     q.op,
		Table:      q.table,
		StatusCode: resp.StatusCode,
		Body:       string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}
