package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, remote.ErrConflict) to check.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	// ErrConflict is the sync-conflict kind: the remote rejected the write
	// because it collides with existing state. It is surfaced, never merged.
	ErrConflict    = errors.New("remote: conflict")
	ErrThrottled   = errors.New("remote: throttled")
	ErrServerError = errors.New("remote: server error")
	// ErrRejected covers any other non-2xx status.
	ErrRejected = errors.New("remote: request rejected")

	// ErrUnreachable wraps transport failures where no response arrived.
	ErrUnreachable = errors.New("remote: unreachable")
	// ErrUnfiltered is returned when an update or delete has no filter.
	ErrUnfiltered = errors.New("remote: update or delete without filter")
)

// Error is a non-2xx response. StatusCode and Body are the server's,
// verbatim.
type Error struct {
	Method     string
	Table      string
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %s %s: HTTP %d: %s", e.Method, e.Table, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from err, or 0 if err is not a
// remote response error.
func StatusCode(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.StatusCode
	}

	return 0
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrRejected
	}
}
