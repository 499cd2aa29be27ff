// Package serialbridge talks to the RFID and pulse bridge board over a
// serial line. Scanned tags are queued for the tick loop to poll and pulse
// counts are added to a software counter register. The board also takes
// BEEP and LED commands.
package serialbridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
	"tailscale.com/tsweb"

	"github.com/banshee-data/bike-tacho/internal/httputil"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/pulse"
)

// tagQueueSize bounds unpolled tags. When full the oldest scan is dropped.
const tagQueueSize = 8

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// Port is the minimal serial port surface. serial.Port satisfies it.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Stats counts lines by outcome since the bridge was created.
type Stats struct {
	Lines   uint64 `json:"lines"`
	Tags    uint64 `json:"tags"`
	Pulses  uint64 `json:"pulses"`
	Dropped uint64 `json:"dropped"`
	Invalid uint64 `json:"invalid"`
}

type Bridge struct {
	port     Port
	register *pulse.Register
	tags     chan string
	// OnPulse runs after pulses are added, e.g. to wake a sleeping node.
	OnPulse func()

	commandMu sync.Mutex
	closed    atomic.Bool

	lines, nTags, nPulses, dropped, invalid atomic.Uint64
}

// New wraps port. Pulses are added to register.
func New(port Port, register *pulse.Register) *Bridge {
	return &Bridge{
		port:     port,
		register: register,
		tags:     make(chan string, tagQueueSize),
	}
}

// Open opens the serial device at path.
func Open(path string, opts PortOptions, register *pulse.Register) (*Bridge, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	monitoring.Logf("serialbridge: opened %s at %d baud", path, mode.BaudRate)
	return New(port, register), nil
}

// Monitor reads lines until ctx is done, the port reaches EOF or the bridge
// is closed.
func (b *Bridge) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(b.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs on its own goroutine so cancellation is seen
	// promptly.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if b.closed.Load() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok || b.closed.Load() {
				return nil
			}
			b.handle(line)
		}
	}
}

func (b *Bridge) handle(line string) {
	b.lines.Add(1)
	ev, err := ParseLine(line)
	if err != nil {
		b.invalid.Add(1)
		monitoring.Debugf("serialbridge: %v", err)
		return
	}
	switch ev.Kind {
	case KindTag:
		b.nTags.Add(1)
		b.enqueue(ev.Tag)
	case KindPulse:
		b.nPulses.Add(uint64(ev.Pulses))
		b.register.Add(ev.Pulses)
		if b.OnPulse != nil && ev.Pulses > 0 {
			b.OnPulse()
		}
	}
}

func (b *Bridge) enqueue(tag string) {
	for {
		select {
		case b.tags <- tag:
			return
		default:
		}
		select {
		case old := <-b.tags:
			b.dropped.Add(1)
			monitoring.Logf("serialbridge: tag queue full, dropped %s", old)
		default:
		}
	}
}

// Poll returns the oldest unread tag without blocking.
func (b *Bridge) Poll() (string, bool) {
	select {
	case t := <-b.tags:
		return t, true
	default:
		return "", false
	}
}

// SendCommand writes one newline-terminated command to the board.
func (b *Bridge) SendCommand(command string) error {
	b.commandMu.Lock()
	defer b.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := b.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Beep asks the board to sound n short tones.
func (b *Bridge) Beep(n int) {
	if err := b.SendCommand(fmt.Sprintf("BEEP %d", n)); err != nil {
		monitoring.Logf("serialbridge: beep: %v", err)
	}
}

// Set switches the activity LED.
func (b *Bridge) Set(on bool) {
	v := 0
	if on {
		v = 1
	}
	if err := b.SendCommand(fmt.Sprintf("LED %d", v)); err != nil {
		monitoring.Logf("serialbridge: led: %v", err)
	}
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Lines:   b.lines.Load(),
		Tags:    b.nTags.Load(),
		Pulses:  b.nPulses.Load(),
		Dropped: b.dropped.Load(),
		Invalid: b.invalid.Load(),
	}
}

func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.port.Close()
}

// AttachAdminRoutes mounts the bridge debug pages under /debug/.
func (b *Bridge) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("bridge", "Serial bridge line counters", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, b.Stats())
	}))

	debug.HandleSilentFunc("bridge-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			httputil.BadRequest(w, "missing command")
			return
		}
		if err := b.SendCommand(command); err != nil {
			httputil.InternalServerError(w, "failed to write command")
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"sent": command})
	})
}
