package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/bike-tacho/internal/version"
)

// DefaultsPath is the path to the build-time defaults file shipped with the
// node image.
const DefaultsPath = "config/device.defaults.json"

// Hard defaults used when neither the store nor the defaults file supply a
// value.
const (
	DefaultWheelMM            = 2075
	MinWheelMM                = 500
	MaxWheelMM                = 3000
	DefaultSendIntervalSec    = 30
	DefaultDeepSleepSec       = 300
	DefaultConfigFetchSec     = 3600
	DefaultConfigModeTimeout  = 300
	DefaultAPPassword         = "mccmuims"
	MinAPPasswordLen          = 8
	DefaultTestDistanceKM     = 0.01
	DefaultTestIntervalSec    = 5
	legacyWheelCentimetresMin = 50
	legacyWheelCentimetresMax = 300
)

// BuildDefaults are the values baked into an image. Pointer fields are
// optional; unset fields fall back to the linker-set variables in
// internal/version and then to the hard defaults above.
type BuildDefaults struct {
	ServerURL                  *string  `json:"server_url,omitempty"`
	APIKey                     *string  `json:"api_key,omitempty"`
	FirmwareVersion            *string  `json:"firmware_version,omitempty"`
	WheelSizeMM                *int     `json:"wheel_size_mm,omitempty"`
	SendIntervalSeconds        *int     `json:"send_interval_seconds,omitempty"`
	DeepSleepSeconds           *int     `json:"deep_sleep_seconds,omitempty"`
	ConfigFetchIntervalSeconds *int     `json:"config_fetch_interval_seconds,omitempty"`
	ConfigModeTimeoutSeconds   *int     `json:"config_mode_timeout_seconds,omitempty"`
	APPassword                 *string  `json:"ap_password,omitempty"`
	TestDistanceKM             *float64 `json:"test_distance_km,omitempty"`
	TestIntervalSeconds        *int     `json:"test_interval_seconds,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// LoadBuildDefaults loads BuildDefaults from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadBuildDefaults(path string) (*BuildDefaults, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("defaults file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat defaults file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("defaults file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read defaults file: %w", err)
	}

	d := &BuildDefaults{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to parse defaults JSON: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid defaults: %w", err)
	}
	return d, nil
}

// MustLoadDefaults loads DefaultsPath from the current directory or one of
// its parents. Panics if the file cannot be found, intended for test setup.
func MustLoadDefaults() *BuildDefaults {
	candidates := []string{
		DefaultsPath,
		"../../" + DefaultsPath,
		"../../../" + DefaultsPath,
	}
	for _, path := range candidates {
		if d, err := LoadBuildDefaults(path); err == nil {
			return d
		}
	}
	panic("cannot find " + DefaultsPath + " - run tests from repository root")
}

// Validate checks that every set field is usable.
func (d *BuildDefaults) Validate() error {
	if d.WheelSizeMM != nil && (*d.WheelSizeMM < MinWheelMM || *d.WheelSizeMM > MaxWheelMM) {
		return fmt.Errorf("wheel_size_mm must be between %d and %d, got %d", MinWheelMM, MaxWheelMM, *d.WheelSizeMM)
	}
	if d.SendIntervalSeconds != nil && *d.SendIntervalSeconds <= 0 {
		return fmt.Errorf("send_interval_seconds must be positive, got %d", *d.SendIntervalSeconds)
	}
	if d.DeepSleepSeconds != nil && *d.DeepSleepSeconds < 0 {
		return fmt.Errorf("deep_sleep_seconds must be non-negative, got %d", *d.DeepSleepSeconds)
	}
	if d.ConfigFetchIntervalSeconds != nil && *d.ConfigFetchIntervalSeconds <= 0 {
		return fmt.Errorf("config_fetch_interval_seconds must be positive, got %d", *d.ConfigFetchIntervalSeconds)
	}
	if d.ConfigModeTimeoutSeconds != nil && *d.ConfigModeTimeoutSeconds <= 0 {
		return fmt.Errorf("config_mode_timeout_seconds must be positive, got %d", *d.ConfigModeTimeoutSeconds)
	}
	if d.APPassword != nil && len(*d.APPassword) < MinAPPasswordLen {
		return fmt.Errorf("ap_password must be at least %d characters", MinAPPasswordLen)
	}
	if d.TestIntervalSeconds != nil && *d.TestIntervalSeconds <= 0 {
		return fmt.Errorf("test_interval_seconds must be positive, got %d", *d.TestIntervalSeconds)
	}
	return nil
}

// GetServerURL returns the build-time server URL, or "" when none exists.
func (d *BuildDefaults) GetServerURL() string {
	if d != nil && d.ServerURL != nil && *d.ServerURL != "" {
		return *d.ServerURL
	}
	return version.DefaultServerURL
}

// GetAPIKey returns the build-time API key, or "" when none exists.
func (d *BuildDefaults) GetAPIKey() string {
	if d != nil && d.APIKey != nil && *d.APIKey != "" {
		return *d.APIKey
	}
	return version.DefaultAPIKey
}

func (d *BuildDefaults) GetFirmwareVersion() string {
	if d != nil && d.FirmwareVersion != nil && *d.FirmwareVersion != "" {
		return *d.FirmwareVersion
	}
	return version.Version
}

func (d *BuildDefaults) GetWheelSizeMM() int {
	if d != nil && d.WheelSizeMM != nil {
		return *d.WheelSizeMM
	}
	return DefaultWheelMM
}

func (d *BuildDefaults) GetSendIntervalSeconds() int {
	if d != nil && d.SendIntervalSeconds != nil {
		return *d.SendIntervalSeconds
	}
	return DefaultSendIntervalSec
}

func (d *BuildDefaults) GetDeepSleepSeconds() int {
	if d != nil && d.DeepSleepSeconds != nil {
		return *d.DeepSleepSeconds
	}
	return DefaultDeepSleepSec
}

func (d *BuildDefaults) GetConfigFetchIntervalSeconds() int {
	if d != nil && d.ConfigFetchIntervalSeconds != nil {
		return *d.ConfigFetchIntervalSeconds
	}
	return DefaultConfigFetchSec
}

// GetConfigModeTimeoutSeconds is how long ConfigMode waits before
// re-validating the critical configuration.
func (d *BuildDefaults) GetConfigModeTimeoutSeconds() int {
	if d != nil && d.ConfigModeTimeoutSeconds != nil {
		return *d.ConfigModeTimeoutSeconds
	}
	return DefaultConfigModeTimeout
}

func (d *BuildDefaults) GetAPPassword() string {
	if d != nil && d.APPassword != nil {
		return *d.APPassword
	}
	return DefaultAPPassword
}

func (d *BuildDefaults) GetTestDistanceKM() float64 {
	if d != nil && d.TestDistanceKM != nil {
		return *d.TestDistanceKM
	}
	return DefaultTestDistanceKM
}

func (d *BuildDefaults) GetTestIntervalSeconds() int {
	if d != nil && d.TestIntervalSeconds != nil {
		return *d.TestIntervalSeconds
	}
	return DefaultTestIntervalSec
}
