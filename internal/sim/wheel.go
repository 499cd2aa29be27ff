package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/bike-tacho/internal/pulse"
	"github.com/banshee-data/bike-tacho/internal/timeutil"
)

// Wheel turns at a set road speed and adds one pulse per revolution to the
// register. Fractional revolutions carry over between steps.
type Wheel struct {
	register *pulse.Register
	clock    timeutil.Clock
	wheelMM  float64
	// OnPulse runs after pulses are added, e.g. Platform.Wake.
	OnPulse func()

	mu    sync.Mutex
	kmh   float64
	carry float64
	last  time.Time
}

func NewWheel(register *pulse.Register, clock timeutil.Clock, wheelMM int) *Wheel {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Wheel{register: register, clock: clock, wheelMM: float64(wheelMM)}
}

// SetSpeed changes the road speed. Zero stops the wheel.
func (w *Wheel) SetSpeed(kmh float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.kmh = math.Max(kmh, 0)
	w.last = w.clock.Now()
}

// Step advances the wheel to the clock's now and returns the pulses added.
func (w *Wheel) Step() uint16 {
	w.mu.Lock()
	now := w.clock.Now()
	if w.last.IsZero() {
		w.last = now
	}
	dt := now.Sub(w.last)
	w.last = now
	if w.kmh == 0 || w.wheelMM <= 0 || dt <= 0 {
		w.mu.Unlock()
		return 0
	}
	mmPerSec := w.kmh / 3.6 * 1000
	revs := w.carry + mmPerSec*dt.Seconds()/w.wheelMM
	n := math.Floor(revs)
	w.carry = revs - n
	w.mu.Unlock()

	if n <= 0 {
		return 0
	}
	pulses := uint16(math.Min(n, math.MaxUint16))
	w.register.Add(pulses)
	if w.OnPulse != nil {
		w.OnPulse()
	}
	return pulses
}

// Run steps the wheel every period until ctx is done.
func (w *Wheel) Run(ctx context.Context, period time.Duration) {
	ticker := w.clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			w.Step()
		}
	}
}
