package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Query is a request under construction. Filters chain:
//
//	c.Update("flashcards", row).Eq("id", id).Execute(ctx)
//
// A Query is not safe for concurrent use; build one per call.
type Query struct {
	client  *Client
	op      string
	method  string
	table   string
	params  url.Values
	prefer  []string
	body    any
	filters int
}

func (q *Query) withParam(key, value string) *Query {
	q.params.Set(key, value)

	return q
}

// Eq adds an equality filter on column.
func (q *Query) Eq(column string, value any) *Query {
	q.params.Add(column, "eq."+formatValue(value))
	q.filters++

	return q
}

// Limit caps the number of rows returned by a select.
func (q *Query) Limit(n int) *Query {
	return q.withParam("limit", strconv.Itoa(n))
}

// Execute sends the request. Any 2xx is success and returns the raw
// response body (empty for writes). Any other status yields *Error.
func (q *Query) Execute(ctx context.Context) ([]byte, error) {
	if (q.method == http.MethodPatch || q.method == http.MethodDelete) && q.filters == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrUnfiltered, q.op, q.table)
	}

	return q.client.do(ctx, q)
}

// Decode executes a select and unmarshals the returned rows into v.
func (q *Query) Decode(ctx context.Context, v any) error {
	data, err := q.Execute(ctx)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("remote: decoding %s rows: %w", q.table, err)
	}

	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
