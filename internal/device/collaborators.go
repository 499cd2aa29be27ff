package device

import "fmt"

// WakeCause is why the node is booting.
type WakeCause int

const (
	ColdBoot WakeCause = iota
	SensorWake
)

func (w WakeCause) String() string {
	if w == SensorWake {
		return "sensor"
	}
	return "cold"
}

// TagReader is the RFID reader. Poll does not block.
type TagReader interface {
	Poll() (string, bool)
}

// Buzzer plays n short confirmation beeps.
type Buzzer interface {
	Beep(n int)
}

// Sensor is the wake line shared with the pulse input.
type Sensor interface {
	Idle() bool
}

// LED is the activity indicator lit during backend calls.
type LED interface {
	Set(on bool)
}

// Platform is the power and reset control.
type Platform interface {
	Restart()
	EnableSensorWake()
	// DeepSleep suspends until the sensor line wakes the node.
	DeepSleep()
}

// ConfigUI is the local configuration web service served on the access
// point while in ConfigMode.
type ConfigUI interface {
	Start() error
	Stop() error
}

// Screen selects what the status display shows.
type Screen int

const (
	ScreenSplash Screen = iota
	ScreenConfig
	ScreenConnecting
	ScreenConnected
	ScreenOffline
	ScreenRider
	ScreenRide
	ScreenAuthError
	ScreenTestMode
	ScreenSleep
)

var screenNames = [...]string{"splash", "config", "connecting", "connected", "offline", "rider", "ride", "auth-error", "test-mode", "sleep"}

func (s Screen) String() string {
	if int(s) < len(screenNames) {
		return screenNames[s]
	}
	return fmt.Sprintf("screen(%d)", int(s))
}

// Directive is one display update. The display decides layout.
type Directive struct {
	Screen Screen
	Lines  []string
}

// Display consumes directives. It holds no state the node depends on.
type Display interface {
	Show(Directive)
}

type nopDisplay struct{}

func (nopDisplay) Show(Directive) {}

type nopBuzzer struct{}

func (nopBuzzer) Beep(int) {}

type idleSensor struct{}

func (idleSensor) Idle() bool { return true }
