package device

import (
	"net"
	"sync"
	"sync/atomic"
)

type fakeRadio struct {
	mu     sync.Mutex
	fail   bool
	up     bool
	begins int
	ap     string
}

func (r *fakeRadio) Begin(ssid, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begins++
	r.up = !r.fail
	return nil
}

func (r *fakeRadio) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.up
}

func (r *fakeRadio) Disconnect() {
	r.mu.Lock()
	r.up = false
	r.mu.Unlock()
}

func (r *fakeRadio) StartAP(ssid, password string) error {
	r.mu.Lock()
	r.ap = ssid
	r.mu.Unlock()
	return nil
}

func (r *fakeRadio) StopAP() {
	r.mu.Lock()
	r.ap = ""
	r.mu.Unlock()
}

func (r *fakeRadio) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr{0x24, 0x6f, 0x28, 0x01, 0xa1, 0xb2}
}

type fakePlatform struct {
	restarts    int
	wakeEnabled int
	sleeps      int
}

func (p *fakePlatform) Restart()          { p.restarts++ }
func (p *fakePlatform) EnableSensorWake() { p.wakeEnabled++ }
func (p *fakePlatform) DeepSleep()        { p.sleeps++ }

type recordingDisplay struct {
	directives []Directive
}

func (d *recordingDisplay) Show(dir Directive) { d.directives = append(d.directives, dir) }

func (d *recordingDisplay) screens(s Screen) []Directive {
	var out []Directive
	for _, dir := range d.directives {
		if dir.Screen == s {
			out = append(out, dir)
		}
	}
	return out
}

type recordingBuzzer struct {
	beeps []int
}

func (b *recordingBuzzer) Beep(n int) { b.beeps = append(b.beeps, n) }

type tagQueue struct {
	ids []string
}

func (q *tagQueue) Poll() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

type fakeSensor struct {
	busy bool
}

func (s *fakeSensor) Idle() bool { return !s.busy }

type fakeUI struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (u *fakeUI) Start() error { u.starts.Add(1); return nil }
func (u *fakeUI) Stop() error  { u.stops.Add(1); return nil }

type recordingLED struct {
	toggles []bool
}

func (l *recordingLED) Set(on bool) { l.toggles = append(l.toggles, on) }
