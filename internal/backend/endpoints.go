package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// NotFoundSentinel is the user_id value the backend returns for an unknown
// tag.
const NotFoundSentinel = "NULL"

// DataPoint is the body of an update-data call. Distance is kilometres,
// a float for real intervals and a two-decimal string in test mode.
type DataPoint struct {
	Distance any    `json:"distance"`
	DeviceID string `json:"device_id"`
	IDTag    string `json:"id_tag"`
}

// IntervalPoint builds a DataPoint for a measured interval.
func IntervalPoint(deviceID, rider string, distanceKM float64) DataPoint {
	return DataPoint{Distance: distanceKM, DeviceID: deviceID, IDTag: rider}
}

// TestPoint builds a DataPoint for a test-mode send.
func TestPoint(deviceID, rider string, distanceKM float64) DataPoint {
	return DataPoint{Distance: strconv.FormatFloat(distanceKM, 'f', 2, 64), DeviceID: deviceID, IDTag: rider}
}

// SendData posts one distance record.
func (c *Client) SendData(ctx context.Context, p DataPoint) error {
	return c.call(ctx, http.MethodPost, PathUpdateData, nil, p, nil, dataPlane, false)
}

// RiderName resolves a rider id to a display name. An unknown rider yields
// ErrNotFound; any other error means no answer was obtained. probe lets the
// call through while the API key error is active.
func (c *Client) RiderName(ctx context.Context, idTag string, probe bool) (string, error) {
	var out struct {
		UserID *string `json:"user_id"`
	}
	err := c.call(ctx, http.MethodPost, PathGetUserID, nil, map[string]string{"id_tag": idTag}, &out, dataPlane, probe)
	if err != nil {
		return "", err
	}
	if out.UserID == nil {
		return "", fmt.Errorf("%s: response has no user_id", PathGetUserID)
	}
	if *out.UserID == "" || *out.UserID == NotFoundSentinel {
		return "", fmt.Errorf("rider %q: %w", idTag, ErrNotFound)
	}
	return *out.UserID, nil
}

// ReportedConfig is the config snapshot sent on connect. It never carries
// the WiFi password or the API key.
type ReportedConfig struct {
	DeviceName                 string `json:"device_name"`
	DefaultIDTag               string `json:"default_id_tag"`
	SendIntervalSeconds        int    `json:"send_interval_seconds"`
	ServerURL                  string `json:"server_url"`
	WiFiSSID                   string `json:"wifi_ssid"`
	DebugMode                  bool   `json:"debug_mode"`
	TestMode                   bool   `json:"test_mode"`
	DeepSleepSeconds           int    `json:"deep_sleep_seconds"`
	WheelSize                  int    `json:"wheel_size"`
	ConfigFetchIntervalSeconds int    `json:"config_fetch_interval_seconds"`
	APPassword                 string `json:"ap_password"`
}

// Difference is one field the backend holds differently. Informational.
type Difference struct {
	Field       string `json:"field"`
	ServerValue any    `json:"server_value"`
	DeviceValue any    `json:"device_value"`
}

type ReportResult struct {
	Success        bool         `json:"success"`
	HasDifferences bool         `json:"has_differences"`
	Differences    []Difference `json:"differences"`
}

// ReportConfig posts the local config snapshot.
func (c *Client) ReportConfig(ctx context.Context, cfg ReportedConfig) (ReportResult, error) {
	body := struct {
		DeviceID string         `json:"device_id"`
		Config   ReportedConfig `json:"config"`
	}{c.deviceID, cfg}

	var out ReportResult
	if err := c.call(ctx, http.MethodPost, PathConfigReport, nil, body, &out, dataPlane, false); err != nil {
		return ReportResult{}, err
	}
	if !out.Success {
		return out, fmt.Errorf("%s: backend reported failure", PathConfigReport)
	}
	return out, nil
}

// RemoteConfig is the backend-authoritative config. Nil fields were absent
// from the response.
type RemoteConfig struct {
	DeviceName                 *string  `json:"device_name,omitempty"`
	DefaultIDTag               *string  `json:"default_id_tag,omitempty"`
	SendIntervalSeconds        *int     `json:"send_interval_seconds,omitempty"`
	ServerURL                  *string  `json:"server_url,omitempty"`
	WheelSize                  *float64 `json:"wheel_size,omitempty"`
	DebugMode                  *bool    `json:"debug_mode,omitempty"`
	TestMode                   *bool    `json:"test_mode,omitempty"`
	DeepSleepSeconds           *int     `json:"deep_sleep_seconds,omitempty"`
	APPassword                 *string  `json:"ap_password,omitempty"`
	DeviceAPIKey               *string  `json:"device_api_key,omitempty"`
	ConfigFetchIntervalSeconds *int     `json:"config_fetch_interval_seconds,omitempty"`
}

// FetchConfig pulls the backend's config for this device.
func (c *Client) FetchConfig(ctx context.Context) (RemoteConfig, error) {
	var out struct {
		Success bool          `json:"success"`
		Config  *RemoteConfig `json:"config"`
	}
	q := url.Values{"device_id": {c.deviceID}}
	if err := c.call(ctx, http.MethodGet, PathConfigFetch, q, nil, &out, dataPlane, false); err != nil {
		return RemoteConfig{}, err
	}
	if !out.Success || out.Config == nil {
		return RemoteConfig{}, fmt.Errorf("%s: backend returned no config", PathConfigFetch)
	}
	return *out.Config, nil
}

// Heartbeat signals liveness. It bypasses the backoff.
func (c *Client) Heartbeat(ctx context.Context) error {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.call(ctx, http.MethodPost, PathHeartbeat, nil, map[string]string{"device_id": c.deviceID}, &out, liveness, false); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("%s: backend reported failure", PathHeartbeat)
	}
	return nil
}

// TestAPIKey sends a heartbeat authenticated with key instead of the
// active key. Only a 200 counts as valid. The backoff state is untouched.
func (c *Client) TestAPIKey(ctx context.Context, key string) (bool, error) {
	resp, err := c.send(ctx, http.MethodPost, PathHeartbeat, nil, map[string]string{"device_id": c.deviceID}, keyProbe, false, key)
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return false, nil
	case err != nil:
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	return resp.StatusCode == http.StatusOK, nil
}

type FirmwareInfo struct {
	Success          bool   `json:"success"`
	UpdateAvailable  bool   `json:"update_available"`
	AvailableVersion string `json:"available_version,omitempty"`
}

// FirmwareInfo asks whether a newer image than current exists.
func (c *Client) FirmwareInfo(ctx context.Context, current string) (FirmwareInfo, error) {
	q := url.Values{"device_id": {c.deviceID}, "current_version": {current}}
	var out FirmwareInfo
	if err := c.call(ctx, http.MethodGet, PathFirmwareInfo, q, nil, &out, dataPlane, false); err != nil {
		return FirmwareInfo{}, err
	}
	if !out.Success {
		return out, fmt.Errorf("%s: backend reported failure", PathFirmwareInfo)
	}
	return out, nil
}

// FirmwareImage is an open firmware download. The caller must close Body.
type FirmwareImage struct {
	Body io.ReadCloser
	// Size is the Content-Length, or -1 when the server did not send one.
	Size    int64
	Version string
}

// DownloadFirmware opens the firmware stream.
func (c *Client) DownloadFirmware(ctx context.Context) (*FirmwareImage, error) {
	q := url.Values{"device_id": {c.deviceID}}
	resp, err := c.send(ctx, http.MethodGet, PathFirmwareDownload, q, nil, dataPlane, false, c.apiKey)
	if err != nil {
		return nil, err
	}
	return &FirmwareImage{
		Body:    resp.Body,
		Size:    resp.ContentLength,
		Version: resp.Header.Get("X-Firmware-Version"),
	}, nil
}
