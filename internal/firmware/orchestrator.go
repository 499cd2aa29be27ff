// Package firmware checks for and installs over-the-air updates. It is
// only called at the two safe points: right after a fresh connect, and
// before deep sleep.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/bike-tacho/internal/backend"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/store"
	"github.com/banshee-data/bike-tacho/internal/timeutil"
)

// ChunkSize is the largest write handed to the partition at once.
const ChunkSize = 512

var (
	ErrInvalidSize = errors.New("firmware image has no usable size")
	ErrShortImage  = errors.New("firmware image shorter than announced")
)

// Source is the subset of backend.Client the orchestrator uses.
type Source interface {
	FirmwareInfo(ctx context.Context, current string) (backend.FirmwareInfo, error)
	DownloadFirmware(ctx context.Context) (*backend.FirmwareImage, error)
}

// Partition is the inactive update slot.
type Partition interface {
	Begin(size int64) error
	Write(p []byte) (int, error)
	// Finish verifies the written image and marks it bootable.
	Finish() error
	Abort()
}

// Platform restarts the node into the new image.
type Platform interface {
	Restart()
}

// Result is the outcome of an update attempt.
type Result int

const (
	UpToDate Result = iota
	Installed
	Failed
)

func (r Result) String() string {
	switch r {
	case UpToDate:
		return "up-to-date"
	case Installed:
		return "installed"
	default:
		return "failed"
	}
}

type Orchestrator struct {
	source    Source
	partition Partition
	platform  Platform
	store     *store.Store
	clock     timeutil.Clock

	current string
	pending string
}

func New(src Source, p Partition, plat Platform, s *store.Store, clock timeutil.Clock, current string) *Orchestrator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Orchestrator{source: src, partition: p, platform: plat, store: s, clock: clock, current: current}
}

// Current is the running firmware version.
func (o *Orchestrator) Current() string { return o.current }

// Pending is the version advertised by the last check, if any.
func (o *Orchestrator) Pending() string { return o.pending }

// Check asks the backend for a newer image and records the check time.
func (o *Orchestrator) Check(ctx context.Context) (bool, error) {
	info, err := o.source.FirmwareInfo(ctx, o.current)
	if o.store != nil {
		if serr := o.store.SetInt64(store.KeyLastFirmwareChk, o.clock.Now().Unix()); serr != nil {
			monitoring.Logf("firmware: %v", serr)
		}
	}
	if err != nil {
		return false, fmt.Errorf("firmware check: %w", err)
	}
	if !info.UpdateAvailable {
		o.pending = ""
		monitoring.Debugf("firmware: up to date version=%s", o.current)
		return false, nil
	}
	o.pending = info.AvailableVersion
	monitoring.Logf("firmware: update available current=%s available=%s", o.current, info.AvailableVersion)
	return true, nil
}

// Update checks and, when an update is available, installs it and
// restarts. Any failure leaves the running image in place and does not
// restart.
func (o *Orchestrator) Update(ctx context.Context) (Result, error) {
	available, err := o.Check(ctx)
	if err != nil {
		return Failed, err
	}
	if !available {
		return UpToDate, nil
	}
	if err := o.install(ctx); err != nil {
		monitoring.Logf("firmware: update aborted: %v", err)
		return Failed, err
	}
	o.platform.Restart()
	return Installed, nil
}

func (o *Orchestrator) install(ctx context.Context) error {
	img, err := o.source.DownloadFirmware(ctx)
	if err != nil {
		return fmt.Errorf("firmware download: %w", err)
	}
	defer img.Body.Close()

	if img.Size <= 0 {
		return fmt.Errorf("firmware download: %w (size=%d)", ErrInvalidSize, img.Size)
	}
	if err := o.partition.Begin(img.Size); err != nil {
		return fmt.Errorf("firmware begin: %w", err)
	}

	written, err := copyChunks(o.partition, io.LimitReader(img.Body, img.Size))
	if err == nil && written < img.Size {
		err = fmt.Errorf("%w: %d of %d bytes", ErrShortImage, written, img.Size)
	}
	if err != nil {
		o.partition.Abort()
		return fmt.Errorf("firmware write: %w", err)
	}
	if err := o.partition.Finish(); err != nil {
		o.partition.Abort()
		return fmt.Errorf("firmware verify: %w", err)
	}

	version := o.pending
	if version == "" {
		version = img.Version
	}
	if version == "" {
		monitoring.Logf("firmware: installed image has no version")
	} else if o.store != nil {
		if _, err := o.store.SetFrom(store.SourceFirmware, store.KeyFirmwareVersion, version); err != nil {
			monitoring.Logf("firmware: failed to persist version: %v", err)
		}
	}
	monitoring.Logf("firmware: installed version=%s bytes=%d, restarting", version, written)
	return nil
}

// copyChunks streams r into w in ChunkSize pieces. A short write is an
// error.
func copyChunks(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
