// Package device is the node's mode state machine. A DeviceContext owns the
// configuration and every component, and is advanced one Tick at a time by
// an external scheduler.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/bike-tacho/internal/backend"
	"github.com/banshee-data/bike-tacho/internal/config"
	"github.com/banshee-data/bike-tacho/internal/firmware"
	"github.com/banshee-data/bike-tacho/internal/httputil"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/network"
	"github.com/banshee-data/bike-tacho/internal/pulse"
	"github.com/banshee-data/bike-tacho/internal/reconcile"
	"github.com/banshee-data/bike-tacho/internal/rider"
	"github.com/banshee-data/bike-tacho/internal/store"
	"github.com/banshee-data/bike-tacho/internal/timeutil"
)

// Beep counts for the audible cues.
const (
	startupBeeps = 3
	wakeBeeps    = 2
	riderBeeps   = 1
)

// TestRiderPrefix names the rider used by test-mode sends.
const TestRiderPrefix = "MCC-Testuser_"

// Mode is the top-level state.
type Mode int

const (
	ConfigMode Mode = iota
	NormalMode
)

func (m Mode) String() string {
	if m == NormalMode {
		return "normal"
	}
	return "config"
}

// ConfigModeState is the bookkeeping for one stay in ConfigMode.
type ConfigModeState struct {
	Forced     bool
	Start      time.Time
	TagAtEntry string
}

// Options wires a DeviceContext to its hardware and storage. Store, Radio,
// Counter and Platform are required.
type Options struct {
	Store     *store.Store
	Defaults  *config.BuildDefaults
	Clock     timeutil.Clock
	HTTP      httputil.HTTPClient
	Counter   pulse.Counter
	Radio     network.Radio
	Partition firmware.Partition
	Platform  Platform
	Tags      TagReader
	Display   Display
	Buzzer    Buzzer
	Sensor    Sensor
	LED       LED
	ConfigUI  ConfigUI
}

// DeviceContext is the node's whole runtime state. Only the tick goroutine
// may touch it.
type DeviceContext struct {
	opts  Options
	store *store.Store
	clock timeutil.Clock

	cfg      config.DeviceConfig
	mode     Mode
	cm       ConfigModeState
	suffix   string
	deviceID string

	backoff    *backend.Backoff
	client     *backend.Client
	net        *network.Manager
	pulse      *pulse.Engine
	rider      *rider.Resolver
	reconciler *reconcile.Reconciler
	firmware   *firmware.Orchestrator

	firstBoot bool
	lastSend  time.Time
	lastTest  time.Time
	lastFetch time.Time
	lastProbe time.Time
	authShown bool
	linkShown bool
	offShown  bool
}

func New(opts Options) (*DeviceContext, error) {
	if opts.Store == nil || opts.Radio == nil || opts.Counter == nil || opts.Platform == nil {
		return nil, errors.New("device: store, radio, counter and platform are required")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Display == nil {
		opts.Display = nopDisplay{}
	}
	if opts.Buzzer == nil {
		opts.Buzzer = nopBuzzer{}
	}
	if opts.Sensor == nil {
		opts.Sensor = idleSensor{}
	}
	if opts.Partition == nil {
		opts.Partition = firmware.NewFilePartition("firmware")
	}
	return &DeviceContext{opts: opts, store: opts.Store, clock: opts.Clock}, nil
}

// Boot rebuilds all in-memory state from the store and picks the initial
// mode. A cold boot goes to ConfigMode unless the config exit flag was set;
// a sensor wake goes straight to NormalMode.
func (d *DeviceContext) Boot(ctx context.Context, wake WakeCause) error {
	cfg, _, err := config.Load(d.store, d.opts.Defaults)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	d.build(cfg)

	configExit := d.store.Bool(store.KeyConfigExit, false)
	if configExit {
		if err := d.store.Delete(store.KeyConfigExit); err != nil {
			monitoring.Logf("device: %v", err)
		}
	}
	monitoring.Logf("device: boot wake=%s id=%s version=%s config_exit=%t", wake, d.deviceID, cfg.FirmwareVersion, configExit)

	switch {
	case wake == SensorWake:
		d.opts.Buzzer.Beep(wakeBeeps)
		d.firstBoot = false
		d.startNormal()
		d.net.AfterWake(ctx)
		d.showNetwork()
	case configExit:
		d.opts.Buzzer.Beep(startupBeeps)
		d.show(ScreenSplash, d.deviceID, cfg.FirmwareVersion)
		d.enterNormal(ctx)
	default:
		d.opts.Buzzer.Beep(startupBeeps)
		d.show(ScreenSplash, d.deviceID, cfg.FirmwareVersion)
		d.enterConfigMode(!cfg.Critical(d.opts.Defaults))
	}
	return nil
}

// build replaces every component, as after a power cycle.
func (d *DeviceContext) build(cfg config.DeviceConfig) {
	d.backoff = backend.NewBackoff()
	d.net = network.NewManager(d.opts.Radio, d.clock, d.backoff, d.store)
	d.suffix = d.net.MACSuffix()
	d.client = backend.New(backend.Options{
		HTTP:    d.opts.HTTP,
		Clock:   d.clock,
		Backoff: d.backoff,
		Online:  d.net.Online,
	})
	d.pulse = pulse.NewEngine(d.opts.Counter, cfg.WheelCircumferenceMM)
	d.pulse.Start(d.clock.Now())
	d.rider = rider.NewResolver(cfg.DefaultRiderID, rider.Options{
		Names:    d.client,
		Pulse:    d.pulse,
		Cue:      func() { d.opts.Buzzer.Beep(riderBeeps) },
		CanQuery: d.canQuery,
	})
	// The boot cue already announced the default rider.
	d.rider.SuppressCue()
	d.reconciler = reconcile.New(d.store, d.client)
	d.firmware = firmware.New(d.client, d.opts.Partition, d.opts.Platform, d.store, d.clock, cfg.FirmwareVersion)
	d.net.SetSteps(network.Steps{
		Report:        d.report,
		Fetch:         d.fetch,
		CheckFirmware: d.updateFirmware,
		Heartbeat:     d.client.Heartbeat,
	})

	d.firstBoot = true
	d.authShown, d.linkShown, d.offShown = false, false, false
	d.apply(cfg)
}

// apply pushes cfg into the components that cache parts of it.
func (d *DeviceContext) apply(cfg config.DeviceConfig) {
	d.cfg = cfg
	monitoring.SetDebug(cfg.DebugEnabled)
	d.deviceID = backend.DeviceID(cfg.DeviceName, d.suffix)
	d.client.Configure(cfg.ServerURL, cfg.APIKey, d.deviceID)
	d.net.SetCredentials(cfg.WiFiSSID, cfg.WiFiPassword)
	d.pulse.SetWheel(cfg.WheelCircumferenceMM)
	d.rider.SetDefault(cfg.DefaultRiderID)
}

// reload re-reads the store, picking up config UI writes.
func (d *DeviceContext) reload() error {
	cfg, _, err := config.Load(d.store, d.opts.Defaults)
	if err != nil {
		return err
	}
	d.apply(cfg)
	return nil
}

func (d *DeviceContext) canQuery() bool {
	return d.net.Online() && !d.backoff.APIKeyErrorActive
}

func (d *DeviceContext) report(ctx context.Context) error {
	_, err := d.reconciler.Report(ctx, d.cfg, d.deviceID)
	return err
}

func (d *DeviceContext) fetch(ctx context.Context) error {
	d.lastFetch = d.clock.Now()
	cfg := d.cfg
	changes, err := d.reconciler.Fetch(ctx, &cfg)
	if len(changes) > 0 {
		d.apply(cfg)
	}
	return err
}

func (d *DeviceContext) updateFirmware(ctx context.Context) error {
	_, err := d.firmware.Update(ctx)
	return err
}

// Tick advances the state machine by one step.
func (d *DeviceContext) Tick(ctx context.Context) {
	now := d.clock.Now()
	switch d.mode {
	case ConfigMode:
		d.configTick(ctx, now)
	case NormalMode:
		d.normalTick(ctx, now)
	}
}

// Run ticks every period until ctx is done.
func (d *DeviceContext) Run(ctx context.Context, period time.Duration) error {
	t := d.clock.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			d.Tick(ctx)
		}
	}
}

func (d *DeviceContext) Mode() Mode                       { return d.mode }
func (d *DeviceContext) ConfigModeState() ConfigModeState { return d.cm }
func (d *DeviceContext) Config() config.DeviceConfig      { return d.cfg }
func (d *DeviceContext) DeviceID() string                 { return d.deviceID }
func (d *DeviceContext) Rider() rider.Session             { return d.rider.Session() }
func (d *DeviceContext) Backoff() backend.Backoff         { return *d.backoff }
func (d *DeviceContext) Pulse() *pulse.Engine             { return d.pulse }
func (d *DeviceContext) AccessPoint() string              { return d.net.AccessPoint() }

func (d *DeviceContext) show(s Screen, lines ...string) {
	d.opts.Display.Show(Directive{Screen: s, Lines: lines})
}

func (d *DeviceContext) showRider() {
	s := d.rider.Session()
	d.show(ScreenRider, s.ActiveID, s.DisplayText())
}

// showNetwork shows link transitions once each.
func (d *DeviceContext) showNetwork() {
	if d.net.Online() {
		if !d.linkShown {
			d.linkShown, d.offShown = true, false
			d.show(ScreenConnected, d.cfg.WiFiSSID)
		}
		return
	}
	d.linkShown = false
	if d.net.Failed() && !d.offShown {
		d.offShown = true
		d.show(ScreenOffline, d.cfg.WiFiSSID)
	}
}
