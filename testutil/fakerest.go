package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// reservedParams are PostgREST query parameters that are not filters.
var reservedParams = map[string]bool{
	"select":      true,
	"limit":       true,
	"offset":      true,
	"order":       true,
	"on_conflict": true,
}

// Request is one call received by FakeRemote.
type Request struct {
	Method        string
	Table         string
	Query         url.Values
	Body          []byte
	APIKey        string
	Authorization string
	Prefer        string
}

// RecordID returns the row id a request targets: the eq.id filter if
// present, otherwise the id field of a single-object body.
func (r Request) RecordID() string {
	if v := r.Query.Get("id"); strings.HasPrefix(v, "eq.") {
		return strings.TrimPrefix(v, "eq.")
	}

	var row map[string]any
	if json.Unmarshal(r.Body, &row) == nil {
		if id, ok := row["id"].(string); ok {
			return id
		}
	}

	return ""
}

// FailFunc decides whether a request should fail. A non-zero status makes
// the fake answer with that status instead of handling the request.
type FailFunc func(r Request) (status int)

// FakeRemote is an in-memory PostgREST server. Rows are keyed by their
// "id" field. It implements select, insert, upsert (merge-duplicates),
// update and delete with eq filters.
type FakeRemote struct {
	server *httptest.Server

	mu       sync.Mutex
	tables   map[string]map[string]map[string]any
	requests []Request
	fail     FailFunc
}

// NewFakeRemote starts a fake server that is closed when the test ends.
func NewFakeRemote(t testing.TB) *FakeRemote {
	t.Helper()

	f := &FakeRemote{tables: make(map[string]map[string]map[string]any)}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)

	return f
}

// URL is the project base URL to hand to remote.NewClient.
func (f *FakeRemote) URL() string { return f.server.URL }

// SetFailFunc installs (or with nil, removes) a failure hook.
func (f *FakeRemote) SetFailFunc(fn FailFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fail = fn
}

// FailRecord makes every request that targets id in table fail with status.
func (f *FakeRemote) FailRecord(table, id string, status int) {
	f.SetFailFunc(func(r Request) int {
		if r.Table == table && r.RecordID() == id {
			return status
		}

		return 0
	})
}

// FailAll makes every request fail with status.
func (f *FakeRemote) FailAll(status int) {
	f.SetFailFunc(func(Request) int { return status })
}

// Seed stores rows directly, bypassing the HTTP surface.
func (f *FakeRemote) Seed(table string, rows ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, row := range rows {
		f.tableLocked(table)[idOf(row)] = copyRow(row)
	}
}

// Row returns a copy of one stored row.
func (f *FakeRemote) Row(table, id string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.tables[table][id]
	if !ok {
		return nil, false
	}

	return copyRow(row), true
}

// Rows returns copies of all rows in table, ordered by id.
func (f *FakeRemote) Rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sortedLocked(table)
}

// Requests returns every request received so far.
func (f *FakeRemote) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Request, len(f.requests))
	copy(out, f.requests)

	return out
}

// RequestCount returns how many requests hit table with method.
func (f *FakeRemote) RequestCount(method, table string) int {
	n := 0

	for _, r := range f.Requests() {
		if r.Method == method && r.Table == table {
			n++
		}
	}

	return n
}

func (f *FakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	table, ok := strings.CutPrefix(r.URL.Path, "/rest/v1/")
	if !ok || table == "" {
		writeError(w, http.StatusNotFound, "PGRST125", "invalid path")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST100", err.Error())
		return
	}

	req := Request{
		Method:        r.Method,
		Table:         table,
		Query:         r.URL.Query(),
		Body:          body,
		APIKey:        r.Header.Get("apikey"),
		Authorization: r.Header.Get("Authorization"),
		Prefer:        r.Header.Get("Prefer"),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	if req.APIKey == "" || !strings.HasPrefix(req.Authorization, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "PGRST301", "missing credentials")
		return
	}

	if f.fail != nil {
		if status := f.fail(req); status != 0 {
			writeError(w, status, "FAKE", "injected failure")
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		f.handleSelect(w, req)
	case http.MethodPost:
		f.handleInsert(w, req)
	case http.MethodPatch:
		f.handleUpdate(w, req)
	case http.MethodDelete:
		f.handleDelete(w, req)
	default:
		writeError(w, http.StatusMethodNotAllowed, "PGRST000", "method not allowed")
	}
}

func (f *FakeRemote) handleSelect(w http.ResponseWriter, req Request) {
	out := make([]map[string]any, 0)

	for _, row := range f.sortedLocked(req.Table) {
		if matches(row, req.Query) {
			out = append(out, row)
		}
	}

	if lim, err := strconv.Atoi(req.Query.Get("limit")); err == nil && lim < len(out) {
		out = out[:lim]
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (f *FakeRemote) handleInsert(w http.ResponseWriter, req Request) {
	rows, err := decodeRows(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", err.Error())
		return
	}

	upsert := req.Query.Get("on_conflict") != "" && strings.Contains(req.Prefer, "resolution=merge-duplicates")
	tbl := f.tableLocked(req.Table)

	for _, row := range rows {
		id := idOf(row)

		existing, exists := tbl[id]
		if exists && !upsert {
			writeError(w, http.StatusConflict, "23505", "duplicate key value violates unique constraint")
			return
		}

		if exists {
			for k, v := range row {
				existing[k] = v
			}

			continue
		}

		tbl[id] = copyRow(row)
	}

	w.WriteHeader(http.StatusCreated)
}

func (f *FakeRemote) handleUpdate(w http.ResponseWriter, req Request) {
	rows, err := decodeRows(req.Body)
	if err != nil || len(rows) != 1 {
		writeError(w, http.StatusBadRequest, "PGRST102", "update body must be one object")
		return
	}

	for _, row := range f.tables[req.Table] {
		if matches(row, req.Query) {
			for k, v := range rows[0] {
				row[k] = v
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeRemote) handleDelete(w http.ResponseWriter, req Request) {
	tbl := f.tables[req.Table]

	for id, row := range tbl {
		if matches(row, req.Query) {
			delete(tbl, id)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeRemote) tableLocked(name string) map[string]map[string]any {
	tbl, ok := f.tables[name]
	if !ok {
		tbl = make(map[string]map[string]any)
		f.tables[name] = tbl
	}

	return tbl
}

func (f *FakeRemote) sortedLocked(table string) []map[string]any {
	tbl := f.tables[table]

	ids := make([]string, 0, len(tbl))
	for id := range tbl {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRow(tbl[id]))
	}

	return out
}

func matches(row map[string]any, query url.Values) bool {
	for col, vals := range query {
		if reservedParams[col] {
			continue
		}

		for _, v := range vals {
			want, ok := strings.CutPrefix(v, "eq.")
			if !ok {
				continue
			}

			if stringify(row[col]) != want {
				return false
			}
		}
	}

	return true
}

func decodeRows(body []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var rows []map[string]any
		err := json.Unmarshal(body, &rows)

		return rows, err
	}

	var row map[string]any
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, err
	}

	return []map[string]any{row}, nil
}

func idOf(row map[string]any) string {
	return stringify(row["id"])
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		data, _ := json.Marshal(x)
		return string(data)
	}
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}

	return out
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}
