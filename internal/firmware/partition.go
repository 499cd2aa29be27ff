package firmware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilePartition stages an image in a directory on the host. The image is
// written to a temp file and renamed into place by Finish.
type FilePartition struct {
	Dir  string
	Name string

	f       *os.File
	size    int64
	written int64
}

// NewFilePartition stages images as dir/firmware.bin.
func NewFilePartition(dir string) *FilePartition {
	return &FilePartition{Dir: dir, Name: "firmware.bin"}
}

// Path is where a finished image lands.
func (p *FilePartition) Path() string { return filepath.Join(p.Dir, p.Name) }

func (p *FilePartition) Begin(size int64) error {
	if p.f != nil {
		return errors.New("partition: update already in progress")
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	f, err := os.CreateTemp(p.Dir, p.Name+".*.part")
	if err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	p.f, p.size, p.written = f, size, 0
	return nil
}

func (p *FilePartition) Write(b []byte) (int, error) {
	if p.f == nil {
		return 0, errors.New("partition: write before begin")
	}
	if p.written+int64(len(b)) > p.size {
		return 0, fmt.Errorf("partition: image exceeds %d bytes", p.size)
	}
	n, err := p.f.Write(b)
	p.written += int64(n)
	return n, err
}

func (p *FilePartition) Finish() error {
	if p.f == nil {
		return errors.New("partition: finish before begin")
	}
	if p.written != p.size {
		return fmt.Errorf("partition: wrote %d of %d bytes", p.written, p.size)
	}
	if err := p.f.Sync(); err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	tmp := p.f.Name()
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	p.f = nil
	if err := os.Rename(tmp, p.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("partition: %w", err)
	}
	return nil
}

func (p *FilePartition) Abort() {
	if p.f == nil {
		return
	}
	name := p.f.Name()
	p.f.Close()
	os.Remove(name)
	p.f = nil
}
