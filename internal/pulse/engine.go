// Package pulse turns the hardware wheel-rotation counter into distance and
// speed.
package pulse

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/units"
)

const (
	// RingSize is the number of inter-pulse speed samples averaged.
	RingSize = 5
	// IdleTimeout without a pulse forces the speed to zero.
	IdleTimeout = 5 * time.Second
)

// Counter is the 16-bit hardware pulse counter. It keeps counting while the
// tick loop is blocked.
type Counter interface {
	Read() uint16
	Clear()
}

// Reading is the engine state after one Sample.
type Reading struct {
	Changed    bool
	Count      uint32
	DistanceMM int64
	SpeedKMH   float64
}

// Interval is the distance accrued since the last successful send.
type Interval struct {
	Pulses     uint32
	DistanceMM int64
}

// SpeedKMH is the average speed over an interval of the given length.
func (i Interval) SpeedKMH(d time.Duration) float64 {
	return units.IntervalSpeedKMH(i.DistanceMM, d.Seconds())
}

type Engine struct {
	counter Counter
	wheelMM int

	lastRaw    uint16
	count      uint32
	atLastSend uint32

	prevPulse    time.Time
	lastActivity time.Time

	ring    [RingSize]float64
	ringLen int
	ringPos int
	speed   float64
}

func NewEngine(c Counter, wheelMM int) *Engine {
	return &Engine{counter: c, wheelMM: wheelMM}
}

// Start sets the idle baseline without recording a pulse.
func (e *Engine) Start(now time.Time) { e.lastActivity = now }

// SetWheel changes the circumference used for all derived values.
func (e *Engine) SetWheel(mm int) { e.wheelMM = mm }

func (e *Engine) Wheel() int { return e.wheelMM }

// Sample reads the counter. Deltas are taken modulo 2^16 so a wrapped
// register still advances the mirror.
func (e *Engine) Sample(now time.Time) Reading {
	raw := e.counter.Read()
	delta := raw - e.lastRaw
	changed := delta != 0

	if changed {
		e.count += uint32(delta)
		e.lastRaw = raw

		sample := 0.0
		if !e.prevPulse.IsZero() {
			dt := now.Sub(e.prevPulse).Milliseconds()
			if dt > 0 && dt < IdleTimeout.Milliseconds() {
				// Several rotations between ticks share one interval.
				sample = units.PulseSpeedKMH(e.wheelMM*int(delta), dt)
			}
		}
		e.push(sample)
		e.prevPulse = now
		e.lastActivity = now
		monitoring.Debugf("pulse: count=%d distance_mm=%d speed_kmh=%.1f", e.count, e.DistanceMM(), e.speed)
	} else if !e.prevPulse.IsZero() && now.Sub(e.prevPulse) >= IdleTimeout && e.ringLen > 0 {
		e.clearRing()
	}

	return Reading{Changed: changed, Count: e.count, DistanceMM: e.DistanceMM(), SpeedKMH: e.speed}
}

func (e *Engine) push(v float64) {
	e.ring[e.ringPos] = v
	e.ringPos = (e.ringPos + 1) % RingSize
	if e.ringLen < RingSize {
		e.ringLen++
	}
	e.speed = stat.Mean(e.ring[:e.ringLen], nil)
}

func (e *Engine) clearRing() {
	e.ring = [RingSize]float64{}
	e.ringLen, e.ringPos = 0, 0
	e.speed = 0
}

// Count is the number of rotations since the last reset.
func (e *Engine) Count() uint32 { return e.count }

// DistanceMM is Count times the wheel circumference, exactly.
func (e *Engine) DistanceMM() int64 { return units.DistanceMM(e.count, e.wheelMM) }

// SpeedKMH is the mean of the last RingSize samples, 0 when idle.
func (e *Engine) SpeedKMH() float64 { return e.speed }

// LastActivity is the time of the last pulse or deferral.
func (e *Engine) LastActivity() time.Time { return e.lastActivity }

// Defer pushes the idle timer forward without recording a pulse.
func (e *Engine) Defer(now time.Time) { e.lastActivity = now }

// IdleFor is how long it has been since the last pulse or deferral.
func (e *Engine) IdleFor(now time.Time) time.Duration { return now.Sub(e.lastActivity) }

// Interval returns what has accrued since the last CommitSend.
func (e *Engine) Interval() Interval {
	p := e.count - e.atLastSend
	return Interval{Pulses: p, DistanceMM: units.DistanceMM(p, e.wheelMM)}
}

// CommitSend marks the current count as delivered.
func (e *Engine) CommitSend() { e.atLastSend = e.count }

// Reset zeroes the software mirrors and clears the hardware register
// together, so no pulse is attributed across the reset.
func (e *Engine) Reset() {
	e.counter.Clear()
	e.lastRaw = 0
	e.count = 0
	e.atLastSend = 0
	e.prevPulse = time.Time{}
	e.clearRing()
	monitoring.Debugf("pulse: counters reset")
}
