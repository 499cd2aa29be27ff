package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Outcome sentinels. Callers must tell "the call did not happen or failed"
// apart from "the backend answered with a negative business result".
var (
	// ErrNotAttempted means no request was sent: no connectivity or no
	// server configured.
	ErrNotAttempted = errors.New("backend call not attempted")
	// ErrBackoff means the call was suppressed by the error backoff.
	ErrBackoff = errors.New("backend call suppressed by backoff")
	// ErrUnauthorized matches 401 and 403 responses.
	ErrUnauthorized = errors.New("api key rejected")
	// ErrNotFound matches 404 responses and the "NULL" rider sentinel.
	ErrNotFound = errors.New("not found")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Path, e.Code)
}

// Is lets errors.Is match the status classes callers branch on.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}

// Failed reports whether err means the call did not produce a business
// answer, as opposed to a definitive negative one.
func Failed(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound)
}
