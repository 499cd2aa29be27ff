package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bike-tacho/internal/backend"
	"github.com/banshee-data/bike-tacho/internal/config"
	"github.com/banshee-data/bike-tacho/internal/store"
)

type fakeBackend struct {
	remote   backend.RemoteConfig
	fetchErr error
	reported []backend.ReportedConfig
	keyOK    map[string]bool
	tested   []string
}

func (f *fakeBackend) ReportConfig(ctx context.Context, cfg backend.ReportedConfig) (backend.ReportResult, error) {
	f.reported = append(f.reported, cfg)
	return backend.ReportResult{Success: true}, nil
}

func (f *fakeBackend) FetchConfig(ctx context.Context) (backend.RemoteConfig, error) {
	return f.remote, f.fetchErr
}

func (f *fakeBackend) TestAPIKey(ctx context.Context, key string) (bool, error) {
	f.tested = append(f.tested, key)
	return f.keyOK[key], nil
}

func ptr[T any](v T) *T { return &v }

func baseConfig() config.DeviceConfig {
	return config.DeviceConfig{
		WiFiSSID:               "home",
		WiFiPassword:           "wifi-secret",
		DeviceName:             "bike",
		DefaultRiderID:         "default123",
		WheelCircumferenceMM:   2075,
		ServerURL:              "http://backend",
		APIKey:                 "key-1",
		SendIntervalSec:        30,
		DeepSleepTimeoutSec:    300,
		ConfigFetchIntervalSec: 3600,
		APPassword:             "mccmuims",
	}
}

func setup(t *testing.T, remote backend.RemoteConfig) (*Reconciler, *fakeBackend, *store.Store) {
	t.Helper()
	s, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	fb := &fakeBackend{remote: remote, keyOK: map[string]bool{}}
	return New(s, fb), fb, s
}

func TestSnapshot_ExcludesSecrets(t *testing.T) {
	snap := Snapshot(baseConfig(), "bike_A1B2")
	want := backend.ReportedConfig{
		DeviceName:                 "bike_A1B2",
		DefaultIDTag:               "default123",
		SendIntervalSeconds:        30,
		ServerURL:                  "http://backend",
		WiFiSSID:                   "home",
		DeepSleepSeconds:           300,
		WheelSize:                  2075,
		ConfigFetchIntervalSeconds: 3600,
		APPassword:                 "mccmuims",
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestReport(t *testing.T) {
	r, fb, _ := setup(t, backend.RemoteConfig{})
	_, err := r.Report(context.Background(), baseConfig(), "bike_A1B2")
	require.NoError(t, err)
	require.Len(t, fb.reported, 1)
	assert.Equal(t, "bike_A1B2", fb.reported[0].DeviceName)
}

func TestFetch_ZeroSendIntervalIgnored(t *testing.T) {
	r, _, s := setup(t, backend.RemoteConfig{SendIntervalSeconds: ptr(0)})
	cfg := baseConfig()

	changes, err := r.Fetch(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, 30, cfg.SendIntervalSec)
	assert.False(t, s.Has(store.KeySendInterval))
}

func TestFetch_ZeroDeepSleepApplied(t *testing.T) {
	r, _, s := setup(t, backend.RemoteConfig{DeepSleepSeconds: ptr(0)})
	cfg := baseConfig()

	changes, err := r.Fetch(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Equal(t, []Change{{Field: store.KeyDeepSleep, Old: "300", New: "0"}}, changes)
	assert.Equal(t, 0, cfg.DeepSleepTimeoutSec)
	assert.Equal(t, 0, s.Int(store.KeyDeepSleep, -1))
}

func TestFetch_NeverOverwritesWithEmptyOrZero(t *testing.T) {
	r, _, s := setup(t, backend.RemoteConfig{
		DefaultIDTag:               ptr(""),
		SendIntervalSeconds:        ptr(0),
		ServerURL:                  ptr("  "),
		WheelSize:                  ptr(0.0),
		APPassword:                 ptr(""),
		DeviceAPIKey:               ptr(""),
		ConfigFetchIntervalSeconds: ptr(0),
	})
	cfg := baseConfig()
	before := cfg

	changes, err := r.Fetch(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, before, cfg)
	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFetch_AppliesRealValues(t *testing.T) {
	r, _, s := setup(t, backend.RemoteConfig{
		DeviceName:                 ptr("renamed"),
		DefaultIDTag:               ptr("station-9"),
		SendIntervalSeconds:        ptr(60),
		ServerURL:                  ptr("new.example.org/"),
		WheelSize:                  ptr(2100.4),
		DebugMode:                  ptr(true),
		TestMode:                   ptr(false),
		APPassword:                 ptr("new-ap-pass"),
		ConfigFetchIntervalSeconds: ptr(600),
	})
	cfg := baseConfig()

	changes, err := r.Fetch(context.Background(), &cfg)
	require.NoError(t, err)

	var fields []string
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	assert.ElementsMatch(t, []string{
		store.KeyDefaultRiderID, store.KeySendInterval, store.KeyServerURL, store.KeyWheelSize,
		store.KeyDebugEnabled, store.KeyAPPassword, store.KeyConfigFetchInt,
	}, fields, "test_mode false equals current and is not rewritten")

	assert.Equal(t, "bike", cfg.DeviceName, "device name is never remotely set")
	assert.Equal(t, "station-9", cfg.DefaultRiderID)
	assert.Equal(t, "http://new.example.org", cfg.ServerURL)
	assert.Equal(t, 2100, cfg.WheelCircumferenceMM)
	assert.True(t, cfg.DebugEnabled)
	assert.Equal(t, 600, cfg.ConfigFetchIntervalSec)

	assert.Equal(t, "station-9", s.String(store.KeyDefaultRiderID, ""))
	assert.Equal(t, 2100, s.Int(store.KeyWheelSize, 0))
	assert.False(t, s.Has(store.KeyDeviceName))
}

func TestFetch_WheelToleranceAndRange(t *testing.T) {
	tests := []struct {
		name   string
		wheel  float64
		want   int
		writes bool
	}{
		{"within tolerance", 2075.9, 2075, false},
		{"just over tolerance", 2076.5, 2077, true},
		{"below range", 499, 2075, false},
		{"above range", 3001, 2075, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, s := setup(t, backend.RemoteConfig{WheelSize: ptr(tt.wheel)})
			cfg := baseConfig()
			_, err := r.Fetch(context.Background(), &cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.WheelCircumferenceMM)
			assert.Equal(t, tt.writes, s.Has(store.KeyWheelSize))
		})
	}
}

func TestFetch_ShortAPPasswordRejected(t *testing.T) {
	r, _, _ := setup(t, backend.RemoteConfig{APPassword: ptr("short")})
	cfg := baseConfig()
	changes, err := r.Fetch(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, "mccmuims", cfg.APPassword)
}

func TestFetch_APIKeyTestedBeforeCommit(t *testing.T) {
	t.Run("rejected key keeps current", func(t *testing.T) {
		r, fb, s := setup(t, backend.RemoteConfig{DeviceAPIKey: ptr("bad-key")})
		cfg := baseConfig()
		changes, err := r.Fetch(context.Background(), &cfg)
		require.NoError(t, err)
		assert.Empty(t, changes)
		assert.Equal(t, []string{"bad-key"}, fb.tested)
		assert.Equal(t, "key-1", cfg.APIKey)
		assert.False(t, s.Has(store.KeyAPIKey))
	})

	t.Run("working key is committed", func(t *testing.T) {
		r, fb, s := setup(t, backend.RemoteConfig{DeviceAPIKey: ptr("good-key-123")})
		fb.keyOK["good-key-123"] = true
		cfg := baseConfig()
		changes, err := r.Fetch(context.Background(), &cfg)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, "********-123", changes[0].New)
		assert.Equal(t, "good-key-123", cfg.APIKey)
		assert.Equal(t, "good-key-123", s.String(store.KeyAPIKey, ""))
	})

	t.Run("same key is not retested", func(t *testing.T) {
		r, fb, _ := setup(t, backend.RemoteConfig{DeviceAPIKey: ptr("key-1")})
		cfg := baseConfig()
		_, err := r.Fetch(context.Background(), &cfg)
		require.NoError(t, err)
		assert.Empty(t, fb.tested)
	})
}

func TestFetch_DefaultTagComparedWithPersistedDefault(t *testing.T) {
	r, _, s := setup(t, backend.RemoteConfig{DefaultIDTag: ptr("default123")})
	require.NoError(t, s.Set(store.KeyDefaultRiderID, "default123"))
	cfg := baseConfig()
	cfg.DefaultRiderID = "default123"

	changes, err := r.Fetch(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestFetch_Error(t *testing.T) {
	r, fb, _ := setup(t, backend.RemoteConfig{})
	fb.fetchErr = backend.ErrBackoff
	cfg := baseConfig()
	_, err := r.Fetch(context.Background(), &cfg)
	assert.True(t, errors.Is(err, backend.ErrBackoff))
}
