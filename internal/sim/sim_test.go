package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bike-tacho/internal/device"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/network"
	"github.com/banshee-data/bike-tacho/internal/pulse"
	"github.com/banshee-data/bike-tacho/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var (
	_ network.Radio   = (*Radio)(nil)
	_ device.Platform = (*Platform)(nil)
	_ device.Sensor   = (*Sensor)(nil)
	_ device.Display  = (*Display)(nil)
	_ device.Buzzer   = Buzzer{}
	_ device.LED      = LED{}
)

func TestRadio_ConnectsAfterPolls(t *testing.T) {
	r := NewRadio()
	r.PollsToConnect = 2

	assert.False(t, r.Connected(), "not joined yet")
	require.NoError(t, r.Begin("home", "pw"))
	assert.False(t, r.Connected())
	assert.False(t, r.Connected())
	assert.True(t, r.Connected())

	r.SetOffline(true)
	assert.False(t, r.Connected())
	require.NoError(t, r.Begin("home", "pw"))
	for i := 0; i < 5; i++ {
		assert.False(t, r.Connected())
	}

	assert.Error(t, r.Begin("", ""))
}

func TestRadio_AccessPoint(t *testing.T) {
	r := NewRadio()
	require.NoError(t, r.StartAP("MCC_A1B2", "mccmuims"))
	assert.Equal(t, "MCC_A1B2", r.AccessPoint())
	r.StopAP()
	assert.Empty(t, r.AccessPoint())
	assert.Equal(t, DefaultMAC, r.HardwareAddr())
}

func TestPlatform_DeepSleepWaitsForArmedWake(t *testing.T) {
	p := NewPlatform(context.Background(), nil)

	p.Wake()
	p.EnableSensorWake()

	done := make(chan struct{})
	go func() {
		p.DeepSleep()
		close(done)
	}()
	require.Eventually(t, p.Sleeping, time.Second, time.Millisecond)

	select {
	case <-done:
		t.Fatal("woke before the sensor fired")
	case <-time.After(20 * time.Millisecond):
	}

	p.Wake()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wake did not release deep sleep")
	}
	assert.False(t, p.Sleeping())
}

func TestPlatform_DeepSleepEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPlatform(ctx, nil)
	cancel()
	p.DeepSleep()
}

func TestPlatform_Restart(t *testing.T) {
	called := false
	p := NewPlatform(context.Background(), func() { called = true })
	p.Restart()
	assert.True(t, called)
	assert.Equal(t, 1, p.Restarts())
}

func TestWheel_PulsesAtSpeed(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	reg := &pulse.Register{}
	woke := 0
	w := NewWheel(reg, clock, 2000)
	w.OnPulse = func() { woke++ }

	assert.Zero(t, w.Step(), "stationary")

	// 36 km/h is 10 m/s, five 2 m revolutions a second.
	w.SetSpeed(36)
	clock.Advance(time.Second)
	assert.Equal(t, uint16(5), w.Step())

	// Fractions carry: 0.3 s is 1.5 revolutions, then another 1.5.
	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, uint16(1), w.Step())
	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, uint16(2), w.Step())

	assert.Equal(t, uint16(8), reg.Read())
	assert.Equal(t, 3, woke)

	w.SetSpeed(0)
	clock.Advance(time.Minute)
	assert.Zero(t, w.Step())
}

func TestDisplayKeepsLast(t *testing.T) {
	d := &Display{}
	d.Show(device.Directive{Screen: device.ScreenRide, Lines: []string{"12.0 km/h"}})
	assert.Equal(t, device.ScreenRide, d.Last().Screen)
}

func TestSensorHold(t *testing.T) {
	s := &Sensor{}
	assert.True(t, s.Idle())
	s.Hold(true)
	assert.False(t, s.Idle())
}
