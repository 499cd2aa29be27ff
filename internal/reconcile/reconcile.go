// Package reconcile synchronises local configuration with the backend:
// a report of the local snapshot on connect, and a fetch that applies
// backend-approved values.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/bike-tacho/internal/backend"
	"github.com/banshee-data/bike-tacho/internal/config"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/store"
)

// wheelTolerance is the smallest wheel difference worth a write.
const wheelTolerance = 1.0

// Backend is the subset of backend.Client the reconciler uses.
type Backend interface {
	ReportConfig(ctx context.Context, cfg backend.ReportedConfig) (backend.ReportResult, error)
	FetchConfig(ctx context.Context) (backend.RemoteConfig, error)
	TestAPIKey(ctx context.Context, key string) (bool, error)
}

// Change is one field the fetch wrote.
type Change struct {
	Field string
	Old   string
	New   string
}

type Reconciler struct {
	store   *store.Store
	backend Backend
}

func New(s *store.Store, b Backend) *Reconciler {
	return &Reconciler{store: s, backend: b}
}

// Snapshot is the report body for cfg. Secrets are left out.
func Snapshot(cfg config.DeviceConfig, deviceID string) backend.ReportedConfig {
	return backend.ReportedConfig{
		DeviceName:                 deviceID,
		DefaultIDTag:               cfg.DefaultRiderID,
		SendIntervalSeconds:        cfg.SendIntervalSec,
		ServerURL:                  cfg.ServerURL,
		WiFiSSID:                   cfg.WiFiSSID,
		DebugMode:                  cfg.DebugEnabled,
		TestMode:                   cfg.TestMode.Active,
		DeepSleepSeconds:           cfg.DeepSleepTimeoutSec,
		WheelSize:                  cfg.WheelCircumferenceMM,
		ConfigFetchIntervalSeconds: cfg.ConfigFetchIntervalSec,
		APPassword:                 cfg.APPassword,
	}
}

// Report posts the local snapshot. Differences in the reply are logged
// only; the backend does not overwrite anything on report.
func (r *Reconciler) Report(ctx context.Context, cfg config.DeviceConfig, deviceID string) (backend.ReportResult, error) {
	res, err := r.backend.ReportConfig(ctx, Snapshot(cfg, deviceID))
	if err != nil {
		return res, fmt.Errorf("config report: %w", err)
	}
	for _, d := range res.Differences {
		monitoring.Logf("config report: field=%s server=%v device=%v", d.Field, d.ServerValue, d.DeviceValue)
	}
	return res, nil
}

// Fetch pulls the backend config and applies every real value that differs
// from cfg, updating both the store and cfg. Empty strings and zero
// thresholds are ignored; deep sleep and the booleans apply whenever
// present. The device name is never taken from the backend.
func (r *Reconciler) Fetch(ctx context.Context, cfg *config.DeviceConfig) ([]Change, error) {
	rc, err := r.backend.FetchConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("config fetch: %w", err)
	}
	return r.Apply(ctx, cfg, rc)
}

// Apply is the policy half of Fetch.
func (r *Reconciler) Apply(ctx context.Context, cfg *config.DeviceConfig, rc backend.RemoteConfig) ([]Change, error) {
	a := applier{r: r}

	if rc.DeviceName != nil {
		monitoring.Debugf("config fetch: ignoring device_name %q", *rc.DeviceName)
	}

	if rc.DefaultIDTag != nil && *rc.DefaultIDTag != "" {
		// Compare with the persisted default, not a scanned tag.
		current := r.store.String(store.KeyDefaultRiderID, cfg.DefaultRiderID)
		if a.set(store.KeyDefaultRiderID, current, *rc.DefaultIDTag) {
			cfg.DefaultRiderID = *rc.DefaultIDTag
		}
	}

	if rc.SendIntervalSeconds != nil && *rc.SendIntervalSeconds > 0 {
		if a.setInt(store.KeySendInterval, cfg.SendIntervalSec, *rc.SendIntervalSeconds) {
			cfg.SendIntervalSec = *rc.SendIntervalSeconds
		}
	}

	if rc.ServerURL != nil {
		if u := config.SanitizeServerURL(*rc.ServerURL); u != "" {
			if a.set(store.KeyServerURL, cfg.ServerURL, u) {
				cfg.ServerURL = u
			}
		}
	}

	if rc.WheelSize != nil {
		mm := *rc.WheelSize
		switch {
		case config.ValidateWheel(int(math.Round(mm))) != nil:
			monitoring.Logf("config fetch: wheel_size %.1f out of range, keeping %d", mm, cfg.WheelCircumferenceMM)
		case math.Abs(mm-float64(cfg.WheelCircumferenceMM)) > wheelTolerance:
			n := int(math.Round(mm))
			if a.setInt(store.KeyWheelSize, cfg.WheelCircumferenceMM, n) {
				cfg.WheelCircumferenceMM = n
			}
		}
	}

	if rc.DebugMode != nil {
		if a.setBool(store.KeyDebugEnabled, cfg.DebugEnabled, *rc.DebugMode) {
			cfg.DebugEnabled = *rc.DebugMode
		}
	}

	if rc.TestMode != nil {
		if a.setBool(store.KeyTestMode, cfg.TestMode.Active, *rc.TestMode) {
			cfg.TestMode.Active = *rc.TestMode
		}
	}

	if rc.DeepSleepSeconds != nil {
		if *rc.DeepSleepSeconds < 0 {
			monitoring.Logf("config fetch: deep_sleep_seconds %d negative, ignoring", *rc.DeepSleepSeconds)
		} else if a.setInt(store.KeyDeepSleep, cfg.DeepSleepTimeoutSec, *rc.DeepSleepSeconds) {
			cfg.DeepSleepTimeoutSec = *rc.DeepSleepSeconds
		}
	}

	if rc.APPassword != nil && *rc.APPassword != "" {
		if err := config.ValidateAPPassword(*rc.APPassword); err != nil {
			monitoring.Logf("config fetch: %v, keeping current", err)
		} else if a.set(store.KeyAPPassword, cfg.APPassword, *rc.APPassword) {
			cfg.APPassword = *rc.APPassword
		}
	}

	if rc.DeviceAPIKey != nil && *rc.DeviceAPIKey != "" && *rc.DeviceAPIKey != cfg.APIKey {
		ok, err := r.backend.TestAPIKey(ctx, *rc.DeviceAPIKey)
		switch {
		case err != nil:
			monitoring.Logf("config fetch: api key test failed, keeping current: %v", err)
		case !ok:
			monitoring.Logf("config fetch: new api key rejected, keeping current")
		default:
			if a.setSecret(store.KeyAPIKey, cfg.APIKey, *rc.DeviceAPIKey) {
				cfg.APIKey = *rc.DeviceAPIKey
			}
		}
	}

	if rc.ConfigFetchIntervalSeconds != nil && *rc.ConfigFetchIntervalSeconds > 0 {
		if a.setInt(store.KeyConfigFetchInt, cfg.ConfigFetchIntervalSec, *rc.ConfigFetchIntervalSeconds) {
			cfg.ConfigFetchIntervalSec = *rc.ConfigFetchIntervalSeconds
		}
	}

	for _, c := range a.changes {
		monitoring.Logf("config fetch: %s %q -> %q", c.Field, c.Old, c.New)
	}
	return a.changes, errors.Join(a.errs...)
}

// applier writes one field at a time and collects what changed.
type applier struct {
	r       *Reconciler
	changes []Change
	errs    []error
}

func (a *applier) set(key, old, value string) bool {
	return a.write(key, old, value, false)
}

func (a *applier) setSecret(key, old, value string) bool {
	return a.write(key, old, value, true)
}

func (a *applier) setInt(key string, old, value int) bool {
	return a.write(key, strconv.Itoa(old), strconv.Itoa(value), false)
}

func (a *applier) setBool(key string, old, value bool) bool {
	return a.write(key, strconv.FormatBool(old), strconv.FormatBool(value), false)
}

func (a *applier) write(key, old, value string, secret bool) bool {
	if old == value {
		return false
	}
	if _, err := a.r.store.SetFrom(store.SourceBackend, key, value); err != nil {
		a.errs = append(a.errs, err)
		return false
	}
	c := Change{Field: key, Old: old, New: value}
	if secret {
		c.Old, c.New = redact(old), redact(value)
	}
	a.changes = append(a.changes, c)
	return true
}

func redact(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
