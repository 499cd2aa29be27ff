// Package rider tracks which rider pulses are attributed to and resolves
// their display name.
package rider

import (
	"context"
	"errors"

	"github.com/banshee-data/bike-tacho/internal/backend"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
)

// NoRiderText is shown when no valid rider is resolved.
const NoRiderText = "NULL"

// NameStatus is what is known about the active rider's display name.
type NameStatus int

const (
	NameUnknown NameStatus = iota
	NameResolved
	NameNotFound
)

func (s NameStatus) String() string {
	switch s {
	case NameResolved:
		return "resolved"
	case NameNotFound:
		return "not-found"
	}
	return "unknown"
}

// Outcome is the result of one name query.
type Outcome int

const (
	// NotAttempted means no query went out or it failed; state is kept.
	NotAttempted Outcome = iota
	Resolved
	NotFound
)

// Session is the in-memory rider state. It is never persisted.
type Session struct {
	ActiveID   string
	TagSourced bool
	Name       string
	Status     NameStatus
	LastSentID string
}

// DisplayText is the resolved name, or NoRiderText.
func (s Session) DisplayText() string {
	if s.Status == NameResolved && s.Name != "" {
		return s.Name
	}
	return NoRiderText
}

// NameSource looks up display names. backend.Client implements it.
type NameSource interface {
	RiderName(ctx context.Context, idTag string, probe bool) (string, error)
}

// Resetter clears the distance counters. pulse.Engine implements it.
type Resetter interface {
	Reset()
}

// Options wires a Resolver to its collaborators.
type Options struct {
	Names NameSource
	Pulse Resetter
	// Cue plays the rider-change confirmation. Optional.
	Cue func()
	// CanQuery reports connectivity without an active API key error.
	CanQuery func() bool
}

type Resolver struct {
	opts    Options
	session Session
	skipCue bool
}

func NewResolver(defaultID string, opts Options) *Resolver {
	if opts.Cue == nil {
		opts.Cue = func() {}
	}
	if opts.CanQuery == nil {
		opts.CanQuery = func() bool { return true }
	}
	return &Resolver{opts: opts, session: Session{ActiveID: defaultID}}
}

// Session returns a copy of the current state.
func (r *Resolver) Session() Session { return r.session }

// ActiveID is the rider pulses are attributed to.
func (r *Resolver) ActiveID() string { return r.session.ActiveID }

// Valid reports whether the active rider has a resolved name. Pulse
// counting and sends are gated on it.
func (r *Resolver) Valid() bool { return r.session.Status == NameResolved }

// SetDefault applies a new default rider id unless a tag is active.
func (r *Resolver) SetDefault(id string) {
	if r.session.TagSourced {
		return
	}
	r.session.ActiveID = id
}

// TagDetected makes a scanned tag the active rider. The tag path has
// already cued, so Check will not cue again for this change.
func (r *Resolver) TagDetected(id string) {
	if id == "" || id == r.session.ActiveID {
		return
	}
	r.session.ActiveID = id
	r.session.TagSourced = true
	r.skipCue = true
}

// ClearLastSent forces the next Check to treat the active rider as new.
func (r *Resolver) ClearLastSent() { r.session.LastSentID = "" }

// SuppressCue makes the next Check silent, for changes the caller has
// already announced.
func (r *Resolver) SuppressCue() { r.skipCue = true }

// Changed reports whether Check would act.
func (r *Resolver) Changed() bool {
	return r.session.ActiveID != "" && r.session.ActiveID != r.session.LastSentID
}

// Check handles a rider change: cue, reset the counters, mark the id as
// sent, then query the name. It reports whether a change was handled.
func (r *Resolver) Check(ctx context.Context) (Outcome, bool) {
	if !r.Changed() {
		return NotAttempted, false
	}
	if !r.skipCue {
		r.opts.Cue()
	}
	r.skipCue = false

	// Reset and the id switch happen together, before any I/O.
	r.opts.Pulse.Reset()
	r.session.LastSentID = r.session.ActiveID
	monitoring.Logf("rider: active=%s tag=%t", r.session.ActiveID, r.session.TagSourced)

	if !r.opts.CanQuery() {
		return NotAttempted, true
	}
	return r.query(ctx, false), true
}

// Probe re-queries the active rider's name as the backoff recovery probe.
func (r *Resolver) Probe(ctx context.Context) Outcome {
	if r.session.ActiveID == "" {
		return NotAttempted
	}
	return r.query(ctx, true)
}

func (r *Resolver) query(ctx context.Context, probe bool) Outcome {
	name, err := r.opts.Names.RiderName(ctx, r.session.ActiveID, probe)
	switch {
	case err == nil:
		r.session.Name = name
		r.session.Status = NameResolved
		return Resolved
	case errors.Is(err, backend.ErrNotFound):
		r.session.Name = ""
		r.session.Status = NameNotFound
		monitoring.Logf("rider: %s not found, sends blocked", r.session.ActiveID)
		return NotFound
	default:
		monitoring.Debugf("rider: name query failed, keeping %s: %v", r.session.Status, err)
		return NotAttempted
	}
}
