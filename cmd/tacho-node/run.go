package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/bike-tacho/internal/configui"
	"github.com/banshee-data/bike-tacho/internal/device"
	"github.com/banshee-data/bike-tacho/internal/firmware"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/pulse"
	"github.com/banshee-data/bike-tacho/internal/serialbridge"
	"github.com/banshee-data/bike-tacho/internal/sim"
	"github.com/banshee-data/bike-tacho/internal/store"
)

const wheelStep = 200 * time.Millisecond

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node",
		Args:  cobra.NoArgs,
		RunE:  runNode,
	}
	cmd.Flags().StringVar(&flagListen, "listen", ":8080", "Config UI listen address")
	cmd.Flags().StringVar(&flagPort, "port", "/dev/ttyUSB0", "Bridge board serial port (ignored with --dev)")
	cmd.Flags().IntVar(&flagBaud, "baud", serialbridge.DefaultBaudRate, "Bridge board baud rate")
	cmd.Flags().BoolVar(&flagDev, "dev", false, "Read tags and pulses from stdin and simulate the hardware")
	cmd.Flags().DurationVar(&flagTick, "tick", 100*time.Millisecond, "Mode machine tick period")
	cmd.Flags().Float64Var(&flagSpeed, "speed", 0, "Simulated wheel speed in km/h (with --dev)")
	return cmd
}

// stdioPort stands in for the bridge board in dev mode: lines typed on
// stdin are read as board output and commands are echoed to stdout.
type stdioPort struct{}

func (stdioPort) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioPort) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioPort) Close() error                { return nil }

func runNode(cmd *cobra.Command, args []string) error {
	if flagTick <= 0 {
		return fmt.Errorf("--tick must be positive, got %s", flagTick)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defaults, err := loadDefaults()
	if err != nil {
		return err
	}
	s, err := store.Open(flagDB)
	if err != nil {
		return err
	}
	defer s.Close()

	register := &pulse.Register{}
	var bridge *serialbridge.Bridge
	if flagDev {
		bridge = serialbridge.New(stdioPort{}, register)
	} else {
		bridge, err = serialbridge.Open(flagPort, serialbridge.PortOptions{BaudRate: flagBaud}, register)
		if err != nil {
			return err
		}
	}
	defer bridge.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("serial bridge stopped: %v", err)
		}
	}()

	restart := make(chan struct{}, 1)
	platform := sim.NewPlatform(ctx, func() {
		select {
		case restart <- struct{}{}:
		default:
		}
	})
	bridge.OnPulse = platform.Wake

	radio := sim.NewRadio()
	if mac := hostMAC(); mac != nil {
		radio.MAC = mac
	}

	ui := configui.NewServer(s, defaults, flagListen)
	ui.AddAdminRoutes(bridge.AttachAdminRoutes)

	opts := device.Options{
		Store:     s,
		Defaults:  defaults,
		Counter:   register,
		Radio:     radio,
		Partition: firmware.NewFilePartition(filepath.Join(filepath.Dir(flagDB), "firmware")),
		Platform:  platform,
		Tags:      bridge,
		Display:   &sim.Display{},
		Buzzer:    bridge,
		Sensor:    &sim.Sensor{},
		LED:       bridge,
		ConfigUI:  ui,
	}
	if flagDev {
		opts.Buzzer, opts.LED = sim.Buzzer{}, sim.LED{}
		if flagSpeed > 0 {
			wheel := sim.NewWheel(register, nil, s.Int(store.KeyWheelSize, 2075))
			wheel.OnPulse = platform.Wake
			wheel.SetSpeed(flagSpeed)
			wg.Add(1)
			go func() {
				defer wg.Done()
				wheel.Run(ctx, wheelStep)
			}()
		}
	}

	dev, err := device.New(opts)
	if err != nil {
		return err
	}

	err = runUntilDone(ctx, dev, restart)
	stop()
	if stopErr := ui.Stop(); stopErr != nil {
		monitoring.Logf("%v", stopErr)
	}
	bridge.Close()
	wg.Wait()
	monitoring.Logf("graceful shutdown complete")
	return err
}

// runUntilDone boots and ticks the node. A restart request ends the current
// run and boots again from cold, as the hardware would.
func runUntilDone(ctx context.Context, dev *device.DeviceContext, restart <-chan struct{}) error {
	for {
		if err := dev.Boot(ctx, device.ColdBoot); err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(ctx)
		var restarted atomic.Bool
		go func() {
			select {
			case <-restart:
				restarted.Store(true)
				cancel()
			case <-runCtx.Done():
			}
		}()
		err := dev.Run(runCtx, flagTick)
		cancel()
		if err != nil || ctx.Err() != nil || !restarted.Load() {
			return err
		}
		monitoring.Logf("restarting")
	}
}

// hostMAC is the address of the first non-loopback interface, so the device
// id is stable per host.
func hostMAC() net.HardwareAddr {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) >= 2 {
			return iface.HardwareAddr
		}
	}
	return nil
}
