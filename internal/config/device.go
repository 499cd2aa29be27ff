// Package config holds the node's typed configuration and the loader that
// builds it from the persisted store.
package config

import (
	"fmt"
	"strings"
)

// TestMode makes the node send a fixed distance on a fixed cadence without
// any pulses, for bench testing the backend path.
type TestMode struct {
	Active      bool    `json:"active"`
	DistanceKM  float64 `json:"distance_km"`
	IntervalSec int     `json:"interval_sec"`
}

// DeviceConfig is the typed view of the persisted settings.
type DeviceConfig struct {
	WiFiSSID               string   `json:"wifi_ssid"`
	WiFiPassword           string   `json:"wifi_password"`
	DeviceName             string   `json:"device_name"`
	DefaultRiderID         string   `json:"default_rider_id"`
	WheelCircumferenceMM   int      `json:"wheel_circumference_mm"`
	ServerURL              string   `json:"server_url"`
	APIKey                 string   `json:"api_key"`
	SendIntervalSec        int      `json:"send_interval_sec"`
	DeepSleepTimeoutSec    int      `json:"deep_sleep_timeout_sec"`
	LEDEnabled             bool     `json:"led_enabled"`
	DebugEnabled           bool     `json:"debug_enabled"`
	TestMode               TestMode `json:"test_mode"`
	ConfigFetchIntervalSec int      `json:"config_fetch_interval_sec"`
	APPassword             string   `json:"ap_password"`
	FirmwareVersion        string   `json:"firmware_version"`
}

// ValidateWheel rejects circumferences outside the physical range.
func ValidateWheel(mm int) error {
	if mm < MinWheelMM || mm > MaxWheelMM {
		return fmt.Errorf("wheel size %d mm outside %d-%d", mm, MinWheelMM, MaxWheelMM)
	}
	return nil
}

// ValidateAPPassword rejects access point passwords WPA2 would refuse.
func ValidateAPPassword(pw string) error {
	if len(pw) < MinAPPasswordLen {
		return fmt.Errorf("ap password must be at least %d characters", MinAPPasswordLen)
	}
	return nil
}

// MissingCritical lists the fields that must be set before the node may
// leave ConfigMode. Server URL and API key only count when the image has no
// build-time default for them.
func (c DeviceConfig) MissingCritical(d *BuildDefaults) []string {
	var missing []string
	if strings.TrimSpace(c.WiFiSSID) == "" {
		missing = append(missing, "wifi_ssid")
	}
	if strings.TrimSpace(c.DefaultRiderID) == "" {
		missing = append(missing, "default_rider_id")
	}
	if ValidateWheel(c.WheelCircumferenceMM) != nil {
		missing = append(missing, "wheel_circumference_mm")
	}
	if c.SendIntervalSec <= 0 {
		missing = append(missing, "send_interval_sec")
	}
	if c.ServerURL == "" && d.GetServerURL() == "" {
		missing = append(missing, "server_url")
	}
	if c.APIKey == "" && d.GetAPIKey() == "" {
		missing = append(missing, "api_key")
	}
	return missing
}

// Critical reports whether all critical fields are present.
func (c DeviceConfig) Critical(d *BuildDefaults) bool {
	return len(c.MissingCritical(d)) == 0
}

// Redacted returns a copy safe to log or serve.
func (c DeviceConfig) Redacted() DeviceConfig {
	if c.WiFiPassword != "" {
		c.WiFiPassword = "***"
	}
	if c.APIKey != "" {
		c.APIKey = "***"
	}
	if c.APPassword != "" {
		c.APPassword = "***"
	}
	return c
}
