package firmware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bike-tacho/internal/backend"
	"github.com/banshee-data/bike-tacho/internal/httputil"
	"github.com/banshee-data/bike-tacho/internal/store"
	"github.com/banshee-data/bike-tacho/internal/timeutil"
)

var epoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeSource struct {
	info    backend.FirmwareInfo
	infoErr error
	image   []byte
	size    int64
	version string
	dlErr   error
}

func (f *fakeSource) FirmwareInfo(ctx context.Context, current string) (backend.FirmwareInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeSource) DownloadFirmware(ctx context.Context) (*backend.FirmwareImage, error) {
	if f.dlErr != nil {
		return nil, f.dlErr
	}
	return &backend.FirmwareImage{
		Body:    io.NopCloser(bytes.NewReader(f.image)),
		Size:    f.size,
		Version: f.version,
	}, nil
}

type recordingPartition struct {
	began    int64
	chunks   []int
	data     bytes.Buffer
	finished bool
	aborted  bool
	writeErr error
}

func (p *recordingPartition) Begin(size int64) error { p.began = size; return nil }

func (p *recordingPartition) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.chunks = append(p.chunks, len(b))
	return p.data.Write(b)
}

func (p *recordingPartition) Finish() error { p.finished = true; return nil }
func (p *recordingPartition) Abort()        { p.aborted = true }

type countingPlatform struct{ restarts int }

func (p *countingPlatform) Restart() { p.restarts++ }

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpdate_UpToDate(t *testing.T) {
	s := newStore(t)
	src := &fakeSource{info: backend.FirmwareInfo{Success: true}}
	plat := &countingPlatform{}
	o := New(src, &recordingPartition{}, plat, s, timeutil.NewMockClock(epoch), "1.0.0")

	res, err := o.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res)
	assert.Zero(t, plat.restarts)
	assert.Equal(t, epoch.Unix(), s.Int64(store.KeyLastFirmwareChk, 0))
}

func TestUpdate_InstallsInChunksAndRestarts(t *testing.T) {
	s := newStore(t)
	image := bytes.Repeat([]byte{0xE9}, 1300)
	src := &fakeSource{
		info:  backend.FirmwareInfo{Success: true, UpdateAvailable: true, AvailableVersion: "1.1.0"},
		image: image,
		size:  int64(len(image)),
	}
	part := &recordingPartition{}
	plat := &countingPlatform{}
	o := New(src, part, plat, s, timeutil.NewMockClock(epoch), "1.0.0")

	res, err := o.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Installed, res)
	assert.Equal(t, int64(1300), part.began)
	assert.Equal(t, []int{512, 512, 276}, part.chunks)
	assert.Equal(t, image, part.data.Bytes())
	assert.True(t, part.finished)
	assert.Equal(t, 1, plat.restarts)
	assert.Equal(t, "1.1.0", s.String(store.KeyFirmwareVersion, ""))
}

func TestUpdate_HeaderVersionFallback(t *testing.T) {
	s := newStore(t)
	src := &fakeSource{
		info:    backend.FirmwareInfo{Success: true, UpdateAvailable: true},
		image:   []byte("image"),
		size:    5,
		version: "1.2.0",
	}
	o := New(src, &recordingPartition{}, &countingPlatform{}, s, nil, "1.0.0")

	res, err := o.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Installed, res)
	assert.Equal(t, "1.2.0", s.String(store.KeyFirmwareVersion, ""))
}

func TestUpdate_FailuresDoNotRestart(t *testing.T) {
	avail := backend.FirmwareInfo{Success: true, UpdateAvailable: true, AvailableVersion: "1.1.0"}
	tests := []struct {
		name    string
		src     *fakeSource
		part    *recordingPartition
		wantErr error
		aborted bool
	}{
		{"check fails", &fakeSource{infoErr: backend.ErrBackoff}, &recordingPartition{}, backend.ErrBackoff, false},
		{"download fails", &fakeSource{info: avail, dlErr: backend.ErrNotAttempted}, &recordingPartition{}, backend.ErrNotAttempted, false},
		{"no size", &fakeSource{info: avail, image: []byte("x"), size: -1}, &recordingPartition{}, ErrInvalidSize, false},
		{"short image", &fakeSource{info: avail, image: []byte("abc"), size: 10}, &recordingPartition{}, ErrShortImage, true},
		{"write fails", &fakeSource{info: avail, image: []byte("abc"), size: 3}, &recordingPartition{writeErr: io.ErrClosedPipe}, io.ErrClosedPipe, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			plat := &countingPlatform{}
			o := New(tt.src, tt.part, plat, s, nil, "1.0.0")

			res, err := o.Update(context.Background())
			assert.Equal(t, Failed, res)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Zero(t, plat.restarts)
			assert.Equal(t, tt.aborted, tt.part.aborted)
			assert.False(t, s.Has(store.KeyFirmwareVersion))
		})
	}
}

func TestUpdate_ThroughBackendClient(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.On(http.MethodGet, backend.PathFirmwareInfo, http.StatusOK,
		`{"success":true,"update_available":true}`)
	mock.OnResponse(http.MethodGet, backend.PathFirmwareDownload, &httputil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       "new-image-bytes",
		Headers:    http.Header{"X-Firmware-Version": {"2.0.0"}},
	})
	client := backend.New(backend.Options{HTTP: mock, Clock: timeutil.NewMockClock(epoch)})
	client.Configure("http://backend.test", "key-1", "bike_A1B2")

	dir := t.TempDir()
	part := NewFilePartition(dir)
	plat := &countingPlatform{}
	s := newStore(t)
	o := New(client, part, plat, s, nil, "1.0.0")

	res, err := o.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Installed, res)
	assert.Equal(t, 1, plat.restarts)
	assert.Equal(t, "2.0.0", s.String(store.KeyFirmwareVersion, ""))

	got, err := os.ReadFile(filepath.Join(dir, "firmware.bin"))
	require.NoError(t, err)
	assert.Equal(t, "new-image-bytes", string(got))

	info := mock.GetRequest(0)
	assert.Equal(t, "1.0.0", info.URL.Query().Get("current_version"))
	assert.Equal(t, "bike_A1B2", info.URL.Query().Get("device_id"))
}

func TestFilePartition_AbortLeavesNoImage(t *testing.T) {
	dir := t.TempDir()
	p := NewFilePartition(dir)
	require.NoError(t, p.Begin(4))
	_, err := p.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Error(t, p.Finish())
	p.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFilePartition_RejectsOversize(t *testing.T) {
	p := NewFilePartition(t.TempDir())
	require.NoError(t, p.Begin(2))
	_, err := p.Write([]byte("abc"))
	assert.Error(t, err)
	p.Abort()
}
