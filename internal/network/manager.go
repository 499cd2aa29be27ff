// Package network owns the node's WiFi session: the bounded connect policy,
// the reconnect cadence, the config access point, and the call sequences
// that run on connectivity transitions.
package network

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/banshee-data/bike-tacho/internal/backend"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/store"
	"github.com/banshee-data/bike-tacho/internal/timeutil"
)

// Connect policy.
const (
	PollsPerCycle     = 20
	PollInterval      = 500 * time.Millisecond
	MaxCycles         = 3
	ReconnectInterval = 30 * time.Second
)

// APPrefix is prepended to the MAC suffix to name the config access point.
const APPrefix = "MCC_"

var ErrNoSSID = errors.New("wifi ssid not configured")

// Radio is the WiFi hardware.
type Radio interface {
	// Begin starts associating with ssid in client mode. It does not wait.
	Begin(ssid, password string) error
	Connected() bool
	Disconnect()
	StartAP(ssid, password string) error
	StopAP()
	HardwareAddr() net.HardwareAddr
}

// Steps are the calls made on connectivity transitions. A nil step is
// skipped.
type Steps struct {
	Report        func(ctx context.Context) error
	Fetch         func(ctx context.Context) error
	CheckFirmware func(ctx context.Context) error
	Heartbeat     func(ctx context.Context) error
}

// Step names one call in a sequence.
type Step string

const (
	StepConnect   Step = "connect"
	StepReport    Step = "report"
	StepFetch     Step = "fetch"
	StepFirmware  Step = "firmware"
	StepHeartbeat Step = "heartbeat"
)

// StepResult is one executed step of a sequence.
type StepResult struct {
	Step Step
	Err  error
}

// Manager is driven from the tick loop and is not safe for concurrent use.
type Manager struct {
	radio   Radio
	clock   timeutil.Clock
	backoff *backend.Backoff
	store   *store.Store
	steps   Steps

	ssid, password string
	apSSID         string
	lastReconnect  time.Time
	wasOnline      bool
}

// NewManager returns a Manager. The attempt counter lives in b. s may be
// nil, in which case heartbeat times are not persisted.
func NewManager(r Radio, clock timeutil.Clock, b *backend.Backoff, s *store.Store) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if b == nil {
		b = backend.NewBackoff()
	}
	return &Manager{radio: r, clock: clock, backoff: b, store: s}
}

func (m *Manager) SetCredentials(ssid, password string) {
	m.ssid, m.password = ssid, password
}

func (m *Manager) SetSteps(s Steps) { m.steps = s }

// Online reports whether the radio is associated.
func (m *Manager) Online() bool { return m.radio.Connected() }

// Attempts is the number of failed connect cycles since the last success.
func (m *Manager) Attempts() int { return m.backoff.WiFiAttempts }

// Failed reports the persistent connectivity error state: the attempt cap
// was reached and periodic reconnects have stopped.
func (m *Manager) Failed() bool { return m.backoff.WiFiAttempts >= MaxCycles }

// Connect runs one attempt cycle regardless of the cap: begin, then poll up
// to PollsPerCycle times. Success resets the attempt counter.
func (m *Manager) Connect() bool {
	if m.radio.Connected() {
		m.backoff.WiFiAttempts = 0
		return true
	}
	if m.ssid == "" {
		monitoring.Logf("network: %v", ErrNoSSID)
		return false
	}
	m.lastReconnect = m.clock.Now()
	monitoring.Debugf("network: connecting ssid=%s attempt=%d", m.ssid, m.backoff.WiFiAttempts+1)
	if err := m.radio.Begin(m.ssid, m.password); err != nil {
		monitoring.Logf("network: begin failed: %v", err)
		m.fail()
		return false
	}
	for i := 0; i < PollsPerCycle; i++ {
		if m.radio.Connected() {
			break
		}
		m.clock.Sleep(PollInterval)
	}
	if !m.radio.Connected() {
		m.fail()
		return false
	}
	m.backoff.WiFiAttempts = 0
	monitoring.Logf("network: connected ssid=%s", m.ssid)
	return true
}

func (m *Manager) fail() {
	if m.backoff.WiFiAttempts < MaxCycles {
		m.backoff.WiFiAttempts++
	}
	if m.Failed() {
		monitoring.Logf("network: %d connect cycles failed, reconnects paused", MaxCycles)
	} else {
		monitoring.Debugf("network: connect cycle failed attempts=%d", m.backoff.WiFiAttempts)
	}
}

// Maintain is the per-tick connectivity check. While offline it runs a
// connect cycle every ReconnectInterval until the cap is reached. It
// reports whether the link came up since the previous call, which the
// caller answers with AfterConnect.
func (m *Manager) Maintain(now time.Time) bool {
	online := m.radio.Connected()
	if !online && !m.Failed() && (m.lastReconnect.IsZero() || now.Sub(m.lastReconnect) >= ReconnectInterval) {
		online = m.Connect()
	}
	fresh := online && !m.wasOnline
	m.wasOnline = online
	return fresh
}

// MarkOnline records the current link state without reporting a
// transition, for callers that already ran the connect sequence.
func (m *Manager) MarkOnline() { m.wasOnline = m.radio.Connected() }

// AfterConnect runs the fresh-connection sequence: report, fetch when the
// report succeeded, firmware check, and a heartbeat on first boot only.
func (m *Manager) AfterConnect(ctx context.Context, firstBoot bool) []StepResult {
	var out []StepResult
	reportErr := m.run(ctx, &out, StepReport, m.steps.Report)
	if reportErr == nil {
		m.run(ctx, &out, StepFetch, m.steps.Fetch)
	}
	m.run(ctx, &out, StepFirmware, m.steps.CheckFirmware)
	if firstBoot {
		m.heartbeat(ctx, &out)
	}
	m.wasOnline = true
	return out
}

// AfterWake runs the wake sequence: connect, heartbeat, then fetch. The
// heartbeat goes first so liveness is signalled before config changes.
func (m *Manager) AfterWake(ctx context.Context) []StepResult {
	out := []StepResult{{Step: StepConnect}}
	if !m.Connect() {
		out[0].Err = backend.ErrNotAttempted
		return out
	}
	m.heartbeat(ctx, &out)
	m.run(ctx, &out, StepFetch, m.steps.Fetch)
	m.wasOnline = true
	return out
}

func (m *Manager) heartbeat(ctx context.Context, out *[]StepResult) {
	if err := m.run(ctx, out, StepHeartbeat, m.steps.Heartbeat); err == nil && m.steps.Heartbeat != nil && m.store != nil {
		if err := m.store.SetInt64(store.KeyLastHeartbeat, m.clock.Now().Unix()); err != nil {
			monitoring.Logf("network: %v", err)
		}
	}
}

func (m *Manager) run(ctx context.Context, out *[]StepResult, step Step, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	err := fn(ctx)
	if err != nil {
		monitoring.Logf("network: %s failed: %v", step, err)
	}
	*out = append(*out, StepResult{Step: step, Err: err})
	return err
}

// StartAccessPoint brings up the config access point named after the
// device MAC suffix and returns its SSID.
func (m *Manager) StartAccessPoint(suffix, password string) (string, error) {
	ssid := APPrefix + suffix
	if err := m.radio.StartAP(ssid, password); err != nil {
		return "", err
	}
	m.apSSID = ssid
	monitoring.Logf("network: access point up ssid=%s", ssid)
	return ssid, nil
}

// StopAccessPoint tears the access point down, leaving the radio in
// client-only mode.
func (m *Manager) StopAccessPoint() {
	if m.apSSID == "" {
		return
	}
	m.radio.StopAP()
	monitoring.Logf("network: access point down ssid=%s", m.apSSID)
	m.apSSID = ""
}

// AccessPoint returns the SSID of the running access point, or "".
func (m *Manager) AccessPoint() string { return m.apSSID }

// MACSuffix is the device suffix derived from the radio's hardware address.
func (m *Manager) MACSuffix() string { return backend.MACSuffix(m.radio.HardwareAddr()) }
