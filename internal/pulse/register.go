package pulse

import "sync"

// Register is a software Counter. Writers on other goroutines (the serial
// bridge, the simulator) call Add; the tick loop reads it like hardware.
type Register struct {
	mu    sync.Mutex
	value uint16
}

// Add advances the register by n, wrapping at 2^16 like the hardware unit.
func (r *Register) Add(n uint16) {
	r.mu.Lock()
	r.value += n
	r.mu.Unlock()
}

func (r *Register) Read() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

func (r *Register) Clear() {
	r.mu.Lock()
	r.value = 0
	r.mu.Unlock()
}
