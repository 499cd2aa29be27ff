package device

import (
	"context"
	"strings"
	"time"

	"github.com/banshee-data/bike-tacho/internal/config"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/store"
)

// enterConfigMode brings up the access point and the config UI. forced is
// set when critical configuration is missing.
func (d *DeviceContext) enterConfigMode(forced bool) {
	now := d.clock.Now()
	ssid, err := d.net.StartAccessPoint(d.suffix, d.cfg.APPassword)
	if err != nil {
		monitoring.Logf("device: access point failed: %v", err)
	}
	if d.opts.ConfigUI != nil {
		if err := d.opts.ConfigUI.Start(); err != nil {
			monitoring.Logf("device: config ui failed to start: %v", err)
		}
	}
	d.mode = ConfigMode
	d.cm = ConfigModeState{Forced: forced, Start: now, TagAtEntry: d.rider.ActiveID()}
	if forced {
		monitoring.Logf("device: config mode forced, missing %s", strings.Join(d.cfg.MissingCritical(d.opts.Defaults), ","))
	} else {
		monitoring.Logf("device: config mode ap=%s", ssid)
	}
	d.show(ScreenConfig, ssid)
}

func (d *DeviceContext) configModeTimeout() time.Duration {
	return time.Duration(d.opts.Defaults.GetConfigModeTimeoutSeconds()) * time.Second
}

// configTick checks the ConfigMode exits in order: a presented tag, a
// counted pulse, then the timeout or an operator exit request.
func (d *DeviceContext) configTick(ctx context.Context, now time.Time) {
	d.pollTag()
	if id := d.rider.ActiveID(); id != "" && id != d.cm.TagAtEntry {
		d.exitConfigMode(ctx, "tag")
		return
	}
	if d.opts.Counter.Read() > 0 {
		d.exitConfigMode(ctx, "pulse")
		return
	}

	requested := d.store.Bool(store.KeyConfigExit, false)
	if requested {
		if err := d.store.Delete(store.KeyConfigExit); err != nil {
			monitoring.Logf("device: %v", err)
		}
	}
	if !requested && now.Sub(d.cm.Start) < d.configModeTimeout() {
		return
	}

	cfg, _, err := config.Load(d.store, d.opts.Defaults)
	if err != nil {
		monitoring.Logf("device: config reload failed, staying in config mode: %v", err)
		d.cm.Start = now
		return
	}
	if missing := cfg.MissingCritical(d.opts.Defaults); len(missing) > 0 {
		monitoring.Logf("device: config mode exit refused, missing %s", strings.Join(missing, ","))
		d.cm.Start = now
		return
	}
	if requested {
		d.exitConfigMode(ctx, "operator")
	} else {
		d.exitConfigMode(ctx, "timeout")
	}
}

// exitConfigMode tears down the UI and access point and enters NormalMode
// without a restart.
func (d *DeviceContext) exitConfigMode(ctx context.Context, reason string) {
	monitoring.Logf("device: leaving config mode reason=%s after=%s", reason, d.clock.Since(d.cm.Start).Round(time.Second))
	if d.opts.ConfigUI != nil {
		if err := d.opts.ConfigUI.Stop(); err != nil {
			monitoring.Logf("device: config ui stop: %v", err)
		}
	}
	d.net.StopAccessPoint()
	if err := d.reload(); err != nil {
		monitoring.Logf("device: config reload failed, keeping current: %v", err)
	}
	d.enterNormal(ctx)
}

// enterNormal connects and runs the fresh-connection sequence.
func (d *DeviceContext) enterNormal(ctx context.Context) {
	d.startNormal()
	d.rider.ClearLastSent()
	d.show(ScreenConnecting, d.cfg.WiFiSSID)
	if d.net.Connect() {
		d.net.AfterConnect(ctx, d.firstBoot)
		d.firstBoot = false
	}
	d.net.MarkOnline()
	d.showNetwork()
}

func (d *DeviceContext) startNormal() {
	now := d.clock.Now()
	d.mode = NormalMode
	d.cm = ConfigModeState{}
	d.lastSend, d.lastTest, d.lastFetch = now, now, now
	d.pulse.Start(now)
}
