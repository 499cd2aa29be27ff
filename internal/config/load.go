package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/store"
)

// AppliedDefault records one fallback the loader had to take.
type AppliedDefault struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

func (a AppliedDefault) String() string { return a.Key + ": " + a.Reason }

// legacyKeys maps keys written by older firmware to their current names.
var legacyKeys = []struct{ old, new string }{
	{store.KeyLegacyRiderID, store.KeyDefaultRiderID},
	{store.KeyLegacyAuthToken, store.KeyAPIKey},
}

// Load builds the DeviceConfig from s. Every fallback is a separate step and
// is reported in the returned slice. Only the legacy key migration writes to
// the store.
func Load(s *store.Store, d *BuildDefaults) (DeviceConfig, []AppliedDefault, error) {
	applied, err := MigrateLegacyKeys(s)
	if err != nil {
		return DeviceConfig{}, nil, err
	}

	cfg, wheelRaw := readStore(s, d)

	steps := []func(DeviceConfig) (DeviceConfig, []AppliedDefault){
		func(c DeviceConfig) (DeviceConfig, []AppliedDefault) { return ApplyBuildDefaults(c, d) },
		SanitizeServerURLStep,
		func(c DeviceConfig) (DeviceConfig, []AppliedDefault) { return NormaliseWheel(c, wheelRaw) },
		func(c DeviceConfig) (DeviceConfig, []AppliedDefault) { return NormaliseIntervals(c, d) },
		func(c DeviceConfig) (DeviceConfig, []AppliedDefault) { return NormaliseAPPassword(c, d) },
	}
	for _, step := range steps {
		var a []AppliedDefault
		cfg, a = step(cfg)
		applied = append(applied, a...)
	}

	for _, a := range applied {
		monitoring.Debugf("config: default applied %s", a)
	}
	return cfg, applied, nil
}

// MigrateLegacyKeys renames keys written by older firmware.
func MigrateLegacyKeys(s *store.Store) ([]AppliedDefault, error) {
	var applied []AppliedDefault
	for _, k := range legacyKeys {
		moved, err := s.Rename(k.old, k.new)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate legacy key %s: %w", k.old, err)
		}
		if moved {
			applied = append(applied, AppliedDefault{Key: k.new, Reason: "migrated from legacy key " + k.old})
		}
	}
	return applied, nil
}

// readStore reads every field with no normalisation. The wheel value is
// returned raw because older firmware stored it as float centimetres.
func readStore(s *store.Store, d *BuildDefaults) (DeviceConfig, float64) {
	cfg := DeviceConfig{
		WiFiSSID:               s.String(store.KeyWiFiSSID, ""),
		WiFiPassword:           s.String(store.KeyWiFiPassword, ""),
		DeviceName:             s.String(store.KeyDeviceName, ""),
		DefaultRiderID:         s.String(store.KeyDefaultRiderID, ""),
		ServerURL:              s.String(store.KeyServerURL, ""),
		APIKey:                 s.String(store.KeyAPIKey, ""),
		SendIntervalSec:        s.Int(store.KeySendInterval, d.GetSendIntervalSeconds()),
		DeepSleepTimeoutSec:    s.Int(store.KeyDeepSleep, d.GetDeepSleepSeconds()),
		LEDEnabled:             s.Bool(store.KeyLEDEnabled, true),
		DebugEnabled:           s.Bool(store.KeyDebugEnabled, false),
		ConfigFetchIntervalSec: s.Int(store.KeyConfigFetchInt, d.GetConfigFetchIntervalSeconds()),
		APPassword:             s.String(store.KeyAPPassword, d.GetAPPassword()),
		FirmwareVersion:        s.String(store.KeyFirmwareVersion, ""),
		TestMode: TestMode{
			Active:      s.Bool(store.KeyTestMode, false),
			DistanceKM:  s.Float(store.KeyTestDistance, d.GetTestDistanceKM()),
			IntervalSec: s.Int(store.KeyTestInterval, d.GetTestIntervalSeconds()),
		},
	}
	return cfg, s.Float(store.KeyWheelSize, math.NaN())
}

// ApplyBuildDefaults fills empty backend settings and the firmware version
// from the image defaults.
func ApplyBuildDefaults(c DeviceConfig, d *BuildDefaults) (DeviceConfig, []AppliedDefault) {
	var applied []AppliedDefault
	if c.ServerURL == "" {
		if v := d.GetServerURL(); v != "" {
			c.ServerURL = v
			applied = append(applied, AppliedDefault{Key: store.KeyServerURL, Reason: "build-time default"})
		}
	}
	if c.APIKey == "" {
		if v := d.GetAPIKey(); v != "" {
			c.APIKey = v
			applied = append(applied, AppliedDefault{Key: store.KeyAPIKey, Reason: "build-time default"})
		}
	}
	if c.FirmwareVersion == "" {
		c.FirmwareVersion = d.GetFirmwareVersion()
		applied = append(applied, AppliedDefault{Key: store.KeyFirmwareVersion, Reason: "build-time default"})
	}
	return c, applied
}

// SanitizeServerURL trims whitespace, adds http:// when no scheme is given
// and drops trailing slashes. An empty input stays empty.
func SanitizeServerURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

func SanitizeServerURLStep(c DeviceConfig) (DeviceConfig, []AppliedDefault) {
	clean := SanitizeServerURL(c.ServerURL)
	if clean == c.ServerURL {
		return c, nil
	}
	c.ServerURL = clean
	return c, []AppliedDefault{{Key: store.KeyServerURL, Reason: "sanitised"}}
}

// NormaliseWheel turns the raw stored wheel value into millimetres. Values
// in the old centimetre range are scaled; anything else outside the valid
// range falls back to the default.
func NormaliseWheel(c DeviceConfig, raw float64) (DeviceConfig, []AppliedDefault) {
	switch {
	case math.IsNaN(raw):
		c.WheelCircumferenceMM = DefaultWheelMM
		return c, []AppliedDefault{{Key: store.KeyWheelSize, Reason: "missing"}}
	case raw >= legacyWheelCentimetresMin && raw <= legacyWheelCentimetresMax:
		c.WheelCircumferenceMM = int(math.Round(raw * 10))
		return c, []AppliedDefault{{Key: store.KeyWheelSize, Reason: "converted from centimetres"}}
	}
	mm := int(math.Round(raw))
	if ValidateWheel(mm) != nil {
		c.WheelCircumferenceMM = DefaultWheelMM
		return c, []AppliedDefault{{Key: store.KeyWheelSize, Reason: "out of range " + strconv.FormatFloat(raw, 'f', -1, 64)}}
	}
	c.WheelCircumferenceMM = mm
	return c, nil
}

// NormaliseIntervals replaces zero or negative cadences. A deep sleep of 0
// is legitimate and means disabled.
func NormaliseIntervals(c DeviceConfig, d *BuildDefaults) (DeviceConfig, []AppliedDefault) {
	var applied []AppliedDefault
	if c.SendIntervalSec <= 0 {
		c.SendIntervalSec = DefaultSendIntervalSec
		applied = append(applied, AppliedDefault{Key: store.KeySendInterval, Reason: "must be positive"})
	}
	if c.ConfigFetchIntervalSec <= 0 {
		c.ConfigFetchIntervalSec = d.GetConfigFetchIntervalSeconds()
		applied = append(applied, AppliedDefault{Key: store.KeyConfigFetchInt, Reason: "must be positive"})
	}
	if c.DeepSleepTimeoutSec < 0 {
		c.DeepSleepTimeoutSec = 0
		applied = append(applied, AppliedDefault{Key: store.KeyDeepSleep, Reason: "negative, disabled"})
	}
	if c.TestMode.IntervalSec <= 0 {
		c.TestMode.IntervalSec = d.GetTestIntervalSeconds()
		applied = append(applied, AppliedDefault{Key: store.KeyTestInterval, Reason: "must be positive"})
	}
	return c, applied
}

func NormaliseAPPassword(c DeviceConfig, d *BuildDefaults) (DeviceConfig, []AppliedDefault) {
	if ValidateAPPassword(c.APPassword) == nil {
		return c, nil
	}
	c.APPassword = d.GetAPPassword()
	return c, []AppliedDefault{{Key: store.KeyAPPassword, Reason: "too short"}}
}

// Save writes every operator-editable field of c. Firmware version is owned
// by the update orchestrator and is not written here. It returns the keys
// whose stored value changed.
func Save(s *store.Store, c DeviceConfig, source string) ([]string, error) {
	if err := ValidateWheel(c.WheelCircumferenceMM); err != nil {
		return nil, err
	}
	if c.SendIntervalSec <= 0 {
		return nil, fmt.Errorf("send interval must be positive, got %d", c.SendIntervalSec)
	}
	if err := ValidateAPPassword(c.APPassword); err != nil {
		return nil, err
	}

	values := []struct{ key, value string }{
		{store.KeyWiFiSSID, c.WiFiSSID},
		{store.KeyWiFiPassword, c.WiFiPassword},
		{store.KeyDeviceName, c.DeviceName},
		{store.KeyDefaultRiderID, c.DefaultRiderID},
		{store.KeyWheelSize, strconv.Itoa(c.WheelCircumferenceMM)},
		{store.KeyServerURL, SanitizeServerURL(c.ServerURL)},
		{store.KeyAPIKey, c.APIKey},
		{store.KeySendInterval, strconv.Itoa(c.SendIntervalSec)},
		{store.KeyDeepSleep, strconv.Itoa(c.DeepSleepTimeoutSec)},
		{store.KeyLEDEnabled, strconv.FormatBool(c.LEDEnabled)},
		{store.KeyDebugEnabled, strconv.FormatBool(c.DebugEnabled)},
		{store.KeyTestMode, strconv.FormatBool(c.TestMode.Active)},
		{store.KeyTestDistance, strconv.FormatFloat(c.TestMode.DistanceKM, 'f', -1, 64)},
		{store.KeyTestInterval, strconv.Itoa(c.TestMode.IntervalSec)},
		{store.KeyConfigFetchInt, strconv.Itoa(c.ConfigFetchIntervalSec)},
		{store.KeyAPPassword, c.APPassword},
	}
	var changed []string
	for _, v := range values {
		ok, err := s.SetFrom(source, v.key, v.value)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, v.key)
		}
	}
	return changed, nil
}
