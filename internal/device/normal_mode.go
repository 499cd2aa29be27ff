package device

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/bike-tacho/internal/backend"
	"github.com/banshee-data/bike-tacho/internal/firmware"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/rider"
	"github.com/banshee-data/bike-tacho/internal/units"
)

// normalTick runs one NormalMode step. The order matters: a rider change
// resets the counters before any pulse of this tick is read.
func (d *DeviceContext) normalTick(ctx context.Context, now time.Time) {
	d.pollTag()

	if outcome, handled := d.rider.Check(ctx); handled && outcome != rider.NotAttempted {
		d.showRider()
	}

	if d.net.Maintain(now) {
		d.net.AfterConnect(ctx, d.firstBoot)
		d.firstBoot = false
	}
	d.showNetwork()

	if d.rider.Valid() {
		if r := d.pulse.Sample(now); r.Changed {
			d.show(ScreenRide,
				fmt.Sprintf("%.1f km/h", r.SpeedKMH),
				fmt.Sprintf("%.2f m", units.MMToMetres(r.DistanceMM)))
		}
	}

	if d.cfg.TestMode.Active {
		d.testSendCycle(ctx, now)
	} else {
		d.sendCycle(ctx, now)
	}

	d.fetchCycle(ctx, now)
	d.probe(ctx, now)
	d.sleepDecision(ctx, now)
}

func (d *DeviceContext) pollTag() {
	if d.opts.Tags == nil {
		return
	}
	id, ok := d.opts.Tags.Poll()
	if !ok || id == "" || id == d.rider.ActiveID() {
		return
	}
	d.opts.Buzzer.Beep(riderBeeps)
	d.rider.TagDetected(id)
	monitoring.Debugf("device: tag detected id=%s", id)
}

// sendCycle reports the distance accrued since the last successful send.
// The cycle advances whether or not the send succeeds; only a delivered
// interval moves the send baseline.
func (d *DeviceContext) sendCycle(ctx context.Context, now time.Time) {
	elapsed := now.Sub(d.lastSend)
	if elapsed < time.Duration(d.cfg.SendIntervalSec)*time.Second {
		return
	}
	d.lastSend = now

	iv := d.pulse.Interval()
	if iv.DistanceMM <= 0 || !d.rider.Valid() {
		return
	}
	km := units.MMToKM(iv.DistanceMM)
	err := d.withLED(func() error {
		return d.client.SendData(ctx, backend.IntervalPoint(d.deviceID, d.rider.ActiveID(), km))
	})
	if err != nil {
		monitoring.Logf("device: send failed, keeping %d pulses: %v", iv.Pulses, err)
		return
	}
	d.pulse.CommitSend()
	monitoring.Logf("device: sent rider=%s pulses=%d distance_km=%.5f speed_kmh=%.1f",
		d.rider.ActiveID(), iv.Pulses, km, iv.SpeedKMH(elapsed))
}

// testSendCycle sends the fixed test distance for the test rider. No
// pulses or resolved rider are needed.
func (d *DeviceContext) testSendCycle(ctx context.Context, now time.Time) {
	if now.Sub(d.lastTest) < time.Duration(d.cfg.TestMode.IntervalSec)*time.Second {
		return
	}
	d.lastTest = now
	id := TestRiderPrefix + d.suffix
	err := d.withLED(func() error {
		return d.client.SendData(ctx, backend.TestPoint(d.deviceID, id, d.cfg.TestMode.DistanceKM))
	})
	if err != nil {
		monitoring.Logf("device: test send failed: %v", err)
		return
	}
	d.show(ScreenTestMode, id, fmt.Sprintf("%.2f km", d.cfg.TestMode.DistanceKM))
}

func (d *DeviceContext) fetchCycle(ctx context.Context, now time.Time) {
	if !d.net.Online() || now.Sub(d.lastFetch) < time.Duration(d.cfg.ConfigFetchIntervalSec)*time.Second {
		return
	}
	if err := d.fetch(ctx); err != nil {
		monitoring.Logf("device: %v", err)
	}
}

// probe re-queries the rider name once per backoff interval while an error
// state is set, and refreshes the display when an API key error clears.
func (d *DeviceContext) probe(ctx context.Context, now time.Time) {
	if d.backoff.APIKeyErrorActive && !d.authShown {
		d.authShown = true
		d.show(ScreenAuthError, d.deviceID)
	}
	if d.net.Online() && d.backoff.ProbeDue(now) && now.Sub(d.lastProbe) >= d.backoff.Interval {
		d.lastProbe = now
		d.rider.Probe(ctx)
	}
	if d.backoff.TakeRecovered() {
		d.authShown = false
		monitoring.Logf("device: api key error cleared")
		d.showRider()
	}
}

// sleepDecision suspends the node once it has been idle for the deep sleep
// timeout. A busy sensor line defers the decision instead.
func (d *DeviceContext) sleepDecision(ctx context.Context, now time.Time) {
	timeout := time.Duration(d.cfg.DeepSleepTimeoutSec) * time.Second
	if timeout <= 0 || d.pulse.IdleFor(now) < timeout {
		return
	}
	if !d.opts.Sensor.Idle() {
		monitoring.Debugf("device: sensor busy, deferring sleep")
		d.pulse.Defer(now)
		return
	}
	if d.net.Online() {
		if res, err := d.firmware.Update(ctx); res == firmware.Installed {
			return
		} else if err != nil {
			monitoring.Logf("device: pre-sleep %v", err)
		}
	}

	monitoring.Logf("device: idle %s, entering deep sleep", d.pulse.IdleFor(now).Round(time.Second))
	d.show(ScreenSleep, d.deviceID)
	d.opts.Platform.EnableSensorWake()
	d.opts.Platform.DeepSleep()

	// Nothing in memory survives a real suspend.
	if err := d.Boot(ctx, SensorWake); err != nil {
		monitoring.Logf("device: wake failed: %v", err)
	}
}

func (d *DeviceContext) withLED(fn func() error) error {
	if d.opts.LED == nil || !d.cfg.LEDEnabled {
		return fn()
	}
	d.opts.LED.Set(true)
	defer d.opts.LED.Set(false)
	return fn()
}
