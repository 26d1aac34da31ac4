package sync

import (
	"log/slog"
	gosync "sync"
	"time"
)

// Sweep suppression: a row whose upsert keeps failing is left alone for a
// while instead of being retried on every cycle.
const (
	failureThreshold = 3                // skip after this many failures
	failureCooldown  = 30 * time.Minute // forget failures older than this
)

type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// failureTracker counts consecutive upsert failures per row key
// ("table/id"). Rows at or above failureThreshold within failureCooldown
// are skipped by the sweep. Success clears the record. Thread-safe.
type failureTracker struct {
	mu      gosync.Mutex
	records map[string]*failureRecord
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

func newFailureTracker(logger *slog.Logger) *failureTracker {
	return &failureTracker{
		records: make(map[string]*failureRecord),
		logger:  logger,
		nowFunc: time.Now,
	}
}

func rowKey(table, id string) string { return table + "/" + id }

// shouldSkip reports whether key is currently suppressed.
func (ft *failureTracker) shouldSkip(key string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[key]
	if !ok {
		return false
	}

	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		delete(ft.records, key)
		return false
	}

	return rec.count >= failureThreshold
}

func (ft *failureTracker) recordFailure(key, errMsg string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	now := ft.nowFunc()

	rec, ok := ft.records[key]
	if !ok {
		rec = &failureRecord{}
		ft.records[key] = rec
	}

	if now.Sub(rec.lastAt) > failureCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = now

	if rec.count == failureThreshold {
		ft.logger.Warn("row suppressed after repeated upsert failures",
			slog.String("row", key),
			slog.Int("failures", rec.count),
			slog.String("last_error", errMsg),
			slog.Duration("cooldown", failureCooldown),
		)
	}
}

func (ft *failureTracker) recordSuccess(key string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, key)
}

// suppressed returns how many rows are currently being skipped.
func (ft *failureTracker) suppressed() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	now := ft.nowFunc()
	n := 0

	for _, rec := range ft.records {
		if rec.count >= failureThreshold && now.Sub(rec.lastAt) <= failureCooldown {
			n++
		}
	}

	return n
}
