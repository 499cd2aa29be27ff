package pulse

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func TestDistance_FiftyPulses(t *testing.T) {
	reg := &Register{}
	e := NewEngine(reg, 2075)

	reg.Add(50)
	r := e.Sample(t0)
	require.True(t, r.Changed)
	assert.Equal(t, uint32(50), r.Count)
	assert.Equal(t, int64(103750), r.DistanceMM)
}

func TestDistance_NoDriftAcrossSinglePulses(t *testing.T) {
	reg := &Register{}
	e := NewEngine(reg, 2075)

	now := t0
	for i := 1; i <= 1000; i++ {
		reg.Add(1)
		now = now.Add(300 * time.Millisecond)
		r := e.Sample(now)
		if r.DistanceMM != int64(i)*2075 {
			t.Fatalf("after %d pulses distance = %d, want %d", i, r.DistanceMM, int64(i)*2075)
		}
	}
	assert.Equal(t, int64(2075000), e.DistanceMM())
}

func TestSpeed_RingMeanAndStall(t *testing.T) {
	reg := &Register{}
	e := NewEngine(reg, 2000)

	// First pulse has no predecessor and contributes a zero sample.
	reg.Add(1)
	e.Sample(t0)
	assert.Equal(t, 0.0, e.SpeedKMH())

	// 2000 mm in 500 ms = 4 m/s = 14.4 km/h.
	now := t0
	for i := 0; i < 5; i++ {
		now = now.Add(500 * time.Millisecond)
		reg.Add(1)
		e.Sample(now)
	}
	assert.InDelta(t, 14.4, e.SpeedKMH(), 1e-9, "ring holds only the last five samples")

	// A gap of 6 s is a stall: the sample is 0 and drags the mean down.
	now = now.Add(6 * time.Second)
	reg.Add(1)
	e.Sample(now)
	assert.InDelta(t, 14.4*4/5, e.SpeedKMH(), 1e-9)
}

func TestSpeed_IdleClearsRing(t *testing.T) {
	reg := &Register{}
	e := NewEngine(reg, 2000)

	reg.Add(1)
	e.Sample(t0)
	reg.Add(1)
	e.Sample(t0.Add(time.Second))
	require.Greater(t, e.SpeedKMH(), 0.0)

	e.Sample(t0.Add(5900 * time.Millisecond))
	assert.Greater(t, e.SpeedKMH(), 0.0, "still within the idle window")

	r := e.Sample(t0.Add(6 * time.Second))
	assert.False(t, r.Changed)
	assert.Equal(t, 0.0, r.SpeedKMH)

	// The first pulse after a stall contributes 0; the ring restarts from it.
	reg.Add(1)
	e.Sample(t0.Add(7 * time.Second))
	assert.Equal(t, 0.0, e.SpeedKMH())
	reg.Add(1)
	e.Sample(t0.Add(7500 * time.Millisecond))
	assert.InDelta(t, 7.2, e.SpeedKMH(), 1e-9)
}

func TestInterval(t *testing.T) {
	reg := &Register{}
	e := NewEngine(reg, 2075)

	reg.Add(40)
	e.Sample(t0)
	iv := e.Interval()
	assert.Equal(t, uint32(40), iv.Pulses)
	assert.Equal(t, int64(83000), iv.DistanceMM)
	assert.InDelta(t, (83000.0/30)*0.0036, iv.SpeedKMH(30*time.Second), 1e-9)

	e.CommitSend()
	assert.Equal(t, Interval{}, e.Interval())

	reg.Add(10)
	e.Sample(t0.Add(time.Second))
	assert.Equal(t, uint32(10), e.Interval().Pulses)
	assert.Equal(t, int64(50*2075), e.DistanceMM(), "cumulative distance is unaffected by sends")
}

func TestIntervalSpeed_Property(t *testing.T) {
	for _, d := range []int64{0, 2075, 103750, 9_999_999} {
		for _, secs := range []int{1, 5, 30, 3600} {
			iv := Interval{DistanceMM: d}
			want := (float64(d) / float64(secs)) * 0.0036
			got := iv.SpeedKMH(time.Duration(secs) * time.Second)
			if math.Abs(got-want) > 1e-9 {
				t.Errorf("d=%d t=%d: got %v want %v", d, secs, got, want)
			}
		}
	}
}

func TestReset_ClearsHardwareAndMirrors(t *testing.T) {
	reg := &Register{}
	e := NewEngine(reg, 2075)

	reg.Add(40)
	e.Sample(t0)
	e.Reset()

	assert.Equal(t, uint16(0), reg.Read())
	assert.Equal(t, uint32(0), e.Count())
	assert.Equal(t, int64(0), e.DistanceMM())
	assert.Equal(t, Interval{}, e.Interval())
	assert.Equal(t, 0.0, e.SpeedKMH())

	reg.Add(1)
	r := e.Sample(t0.Add(time.Second))
	assert.Equal(t, int64(2075), r.DistanceMM)
}

func TestSample_CounterWrap(t *testing.T) {
	reg := &Register{}
	e := NewEngine(reg, 1000)

	reg.Add(65530)
	e.Sample(t0)
	reg.Add(10) // wraps to 4
	r := e.Sample(t0.Add(time.Second))

	assert.Equal(t, uint16(4), reg.Read())
	assert.Equal(t, uint32(65540), r.Count)
	assert.Equal(t, int64(65540000), r.DistanceMM)
}

func TestIdleFor_AndDefer(t *testing.T) {
	reg := &Register{}
	e := NewEngine(reg, 2075)
	e.Start(t0)

	assert.Equal(t, 10*time.Second, e.IdleFor(t0.Add(10*time.Second)))

	e.Defer(t0.Add(10 * time.Second))
	assert.Equal(t, time.Duration(0), e.IdleFor(t0.Add(10*time.Second)))

	reg.Add(1)
	e.Sample(t0.Add(20 * time.Second))
	assert.Equal(t, t0.Add(20*time.Second), e.LastActivity())
}
