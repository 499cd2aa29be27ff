package backend

import (
	"net/http"
	"time"
)

// DefaultBackoffInterval is the cool-down after a server-side error.
const DefaultBackoffInterval = 60 * time.Second

// Backoff is the node's error backoff state. It is owned by the tick loop
// and is not safe for concurrent use.
type Backoff struct {
	LastServerError   time.Time
	Interval          time.Duration
	APIKeyErrorActive bool
	// WiFiAttempts counts failed connect cycles; the network manager owns it.
	WiFiAttempts int

	recovered bool
}

func NewBackoff() *Backoff {
	return &Backoff{Interval: DefaultBackoffInterval}
}

// Ready reports whether the cool-down since the last server error elapsed.
func (b *Backoff) Ready(now time.Time) bool {
	return b.LastServerError.IsZero() || now.Sub(b.LastServerError) >= b.Interval
}

// Active reports whether any server-side error state is set.
func (b *Backoff) Active() bool {
	return b.APIKeyErrorActive || !b.LastServerError.IsZero()
}

// ProbeDue reports whether an error state is set and its cool-down has
// elapsed, so one recovery probe may be sent.
func (b *Backoff) ProbeDue(now time.Time) bool {
	return b.Active() && b.Ready(now)
}

// suppressed decides whether a data-plane call may go out. Probes skip the
// API key suppression but still wait out the cool-down.
func (b *Backoff) suppressed(now time.Time, probe bool) bool {
	if b.APIKeyErrorActive && !probe {
		return true
	}
	return !b.Ready(now)
}

// observe folds one HTTP status into the state. stamp is false for the
// liveness class, which never starts a cool-down.
func (b *Backoff) observe(now time.Time, code int, stamp bool) {
	switch {
	case code == http.StatusOK:
		if b.APIKeyErrorActive {
			b.recovered = true
		}
		b.LastServerError = time.Time{}
		b.APIKeyErrorActive = false
	case code >= 200 && code < 300:
	default:
		if stamp {
			b.LastServerError = now
		}
		if code == http.StatusUnauthorized || code == http.StatusForbidden {
			b.APIKeyErrorActive = true
		}
	}
}

// TakeRecovered reports, once, that an API key error was cleared so
// suppressed display state can be refreshed.
func (b *Backoff) TakeRecovered() bool {
	r := b.recovered
	b.recovered = false
	return r
}
