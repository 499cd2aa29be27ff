// Package sim provides host stand-ins for the node's hardware so the whole
// mode machine can run on a workstation: a radio that joins any network, a
// platform whose deep sleep blocks until the wheel turns, a spinning wheel
// that feeds the pulse register, and log-backed display, buzzer and LED.
package sim

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/bike-tacho/internal/device"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
)

// DefaultMAC is the simulated station address; its suffix is A1B2.
var DefaultMAC = net.HardwareAddr{0x24, 0x6f, 0x28, 0x00, 0xa1, 0xb2}

// Radio joins any non-empty SSID unless Offline is set. PollsToConnect is
// how many Connected calls report false after Begin.
type Radio struct {
	MAC            net.HardwareAddr
	PollsToConnect int

	mu      sync.Mutex
	offline bool
	ssid    string
	polls   int
	up      bool
	ap      string
}

func NewRadio() *Radio {
	return &Radio{MAC: DefaultMAC}
}

// SetOffline makes the radio drop and refuse association.
func (r *Radio) SetOffline(off bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = off
	if off {
		r.up = false
	}
}

func (r *Radio) Begin(ssid, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ssid == "" {
		return errors.New("sim: empty ssid")
	}
	r.ssid, r.polls, r.up = ssid, 0, false
	monitoring.Debugf("sim: radio joining %q", ssid)
	return nil
}

func (r *Radio) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.up {
		return true
	}
	if r.offline || r.ssid == "" {
		return false
	}
	r.polls++
	if r.polls > r.PollsToConnect {
		r.up = true
	}
	return r.up
}

func (r *Radio) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ssid, r.up = "", false
}

func (r *Radio) StartAP(ssid, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ap = ssid
	monitoring.Logf("sim: access point %s up", ssid)
	return nil
}

func (r *Radio) StopAP() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ap != "" {
		monitoring.Logf("sim: access point %s down", r.ap)
	}
	r.ap = ""
}

// AccessPoint is the SSID being broadcast, or "".
func (r *Radio) AccessPoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ap
}

func (r *Radio) HardwareAddr() net.HardwareAddr { return r.MAC }

// Platform simulates power control. DeepSleep blocks until Wake is called
// or ctx ends; Restart runs OnRestart.
type Platform struct {
	ctx       context.Context
	OnRestart func()

	wakeArmed atomic.Bool
	sleeping  atomic.Bool
	wake      chan struct{}
	restarts  atomic.Int32
}

func NewPlatform(ctx context.Context, onRestart func()) *Platform {
	return &Platform{ctx: ctx, OnRestart: onRestart, wake: make(chan struct{}, 1)}
}

func (p *Platform) Restart() {
	p.restarts.Add(1)
	monitoring.Logf("sim: restart requested")
	if p.OnRestart != nil {
		p.OnRestart()
	}
}

func (p *Platform) Restarts() int { return int(p.restarts.Load()) }

func (p *Platform) EnableSensorWake() { p.wakeArmed.Store(true) }

func (p *Platform) DeepSleep() {
	p.sleeping.Store(true)
	defer p.sleeping.Store(false)
	monitoring.Logf("sim: deep sleep")
	select {
	case <-p.wake:
		monitoring.Logf("sim: woken by sensor")
	case <-p.ctx.Done():
	}
	p.wakeArmed.Store(false)
}

// Sleeping reports whether DeepSleep is blocked.
func (p *Platform) Sleeping() bool { return p.sleeping.Load() }

// Wake releases DeepSleep if sensor wake was enabled.
func (p *Platform) Wake() {
	if !p.wakeArmed.Load() {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Sensor is the shared sensor line. Hold simulates a magnet parked in
// front of the reed switch.
type Sensor struct {
	held atomic.Bool
}

func (s *Sensor) Hold(on bool) { s.held.Store(on) }
func (s *Sensor) Idle() bool   { return !s.held.Load() }

// Display logs each directive.
type Display struct {
	mu   sync.Mutex
	last device.Directive
}

func (d *Display) Show(dir device.Directive) {
	d.mu.Lock()
	d.last = dir
	d.mu.Unlock()
	monitoring.Logf("display: [%s] %s", dir.Screen, strings.Join(dir.Lines, " | "))
}

// Last is the most recent directive.
func (d *Display) Last() device.Directive {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type Buzzer struct{}

func (Buzzer) Beep(n int) { monitoring.Logf("buzzer: %s", strings.TrimSpace(strings.Repeat("beep ", n))) }

type LED struct{}

func (LED) Set(on bool) { monitoring.Debugf("led: on=%t", on) }
