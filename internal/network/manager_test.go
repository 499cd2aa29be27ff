package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bike-tacho/internal/backend"
	"github.com/banshee-data/bike-tacho/internal/store"
	"github.com/banshee-data/bike-tacho/internal/timeutil"
)

// fakeRadio associates after a fixed number of polls once Begin has been
// called, or never when pollsToConnect is negative.
type fakeRadio struct {
	pollsToConnect int
	begins         int
	polls          int
	up             bool
	ap             string
	apStops        int
}

func (r *fakeRadio) Begin(ssid, password string) error {
	r.begins++
	r.polls = 0
	return nil
}

func (r *fakeRadio) Connected() bool {
	if r.up {
		return true
	}
	if r.begins == 0 || r.pollsToConnect < 0 {
		return false
	}
	r.polls++
	if r.polls > r.pollsToConnect {
		r.up = true
	}
	return r.up
}

func (r *fakeRadio) Disconnect() { r.up = false }

func (r *fakeRadio) StartAP(ssid, password string) error {
	r.ap = ssid
	return nil
}

func (r *fakeRadio) StopAP() {
	r.ap = ""
	r.apStops++
}

func (r *fakeRadio) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr{0x24, 0x6f, 0x28, 0x01, 0xa1, 0xb2}
}

var epoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newManager(t *testing.T, r *fakeRadio) (*Manager, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	m := NewManager(r, clock, backend.NewBackoff(), nil)
	m.SetCredentials("home", "secret")
	return m, clock
}

func TestConnect_SucceedsWithinCycle(t *testing.T) {
	r := &fakeRadio{pollsToConnect: 3}
	m, clock := newManager(t, r)

	require.True(t, m.Connect())
	assert.Equal(t, 0, m.Attempts())
	assert.Equal(t, 1, r.begins)
	assert.Len(t, clock.Sleeps(), 3)
}

func TestConnect_BoundedPolls(t *testing.T) {
	r := &fakeRadio{pollsToConnect: -1}
	m, clock := newManager(t, r)

	assert.False(t, m.Connect())
	assert.Len(t, clock.Sleeps(), PollsPerCycle)
	for _, d := range clock.Sleeps() {
		assert.Equal(t, PollInterval, d)
	}
	assert.Equal(t, 1, m.Attempts())
}

func TestConnect_NoSSID(t *testing.T) {
	r := &fakeRadio{}
	m, _ := newManager(t, r)
	m.SetCredentials("", "")
	assert.False(t, m.Connect())
	assert.Zero(t, r.begins)
}

func TestMaintain_ReconnectCadenceAndCap(t *testing.T) {
	r := &fakeRadio{pollsToConnect: -1}
	m, clock := newManager(t, r)

	assert.False(t, m.Maintain(clock.Now()))
	assert.Equal(t, 1, r.begins)

	// Within the reconnect interval nothing is attempted.
	clock.Advance(10 * time.Second)
	m.Maintain(clock.Now())
	assert.Equal(t, 1, r.begins)

	for i := 0; i < 5; i++ {
		clock.Advance(ReconnectInterval)
		m.Maintain(clock.Now())
	}
	assert.Equal(t, MaxCycles, r.begins, "reconnects stop at the cap")
	assert.True(t, m.Failed())

	// A forced connect still tries and success clears the counter.
	r.pollsToConnect = 0
	require.True(t, m.Connect())
	assert.Equal(t, 0, m.Attempts())
	assert.False(t, m.Failed())
}

func TestMaintain_ReportsFreshConnectOnce(t *testing.T) {
	r := &fakeRadio{pollsToConnect: 0}
	m, clock := newManager(t, r)

	assert.True(t, m.Maintain(clock.Now()))
	clock.Advance(time.Second)
	assert.False(t, m.Maintain(clock.Now()))

	r.Disconnect()
	r.pollsToConnect = -1
	clock.Advance(ReconnectInterval)
	assert.False(t, m.Maintain(clock.Now()))

	r.up = true
	clock.Advance(time.Second)
	assert.True(t, m.Maintain(clock.Now()))
}

func recorder(calls *[]Step, step Step, err error) func(context.Context) error {
	return func(context.Context) error {
		*calls = append(*calls, step)
		return err
	}
}

func TestAfterConnect_Order(t *testing.T) {
	tests := []struct {
		name      string
		firstBoot bool
		reportErr error
		want      []Step
	}{
		{"first boot", true, nil, []Step{StepReport, StepFetch, StepFirmware, StepHeartbeat}},
		{"reconnect", false, nil, []Step{StepReport, StepFetch, StepFirmware}},
		{"report failed skips fetch", false, errors.New("boom"), []Step{StepReport, StepFirmware}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newManager(t, &fakeRadio{pollsToConnect: 0})
			var calls []Step
			m.SetSteps(Steps{
				Report:        recorder(&calls, StepReport, tt.reportErr),
				Fetch:         recorder(&calls, StepFetch, nil),
				CheckFirmware: recorder(&calls, StepFirmware, nil),
				Heartbeat:     recorder(&calls, StepHeartbeat, nil),
			})
			res := m.AfterConnect(context.Background(), tt.firstBoot)
			assert.Equal(t, tt.want, calls)
			assert.Len(t, res, len(tt.want))
		})
	}
}

func TestAfterWake_Order(t *testing.T) {
	s, err := store.NewMemory()
	require.NoError(t, err)
	defer s.Close()

	r := &fakeRadio{pollsToConnect: 1}
	clock := timeutil.NewMockClock(epoch)
	m := NewManager(r, clock, nil, s)
	m.SetCredentials("home", "secret")

	var calls []Step
	m.SetSteps(Steps{
		Report:    recorder(&calls, StepReport, nil),
		Fetch:     recorder(&calls, StepFetch, nil),
		Heartbeat: recorder(&calls, StepHeartbeat, nil),
	})
	res := m.AfterWake(context.Background())
	assert.Equal(t, []Step{StepHeartbeat, StepFetch}, calls)
	require.Len(t, res, 3)
	assert.Equal(t, StepConnect, res[0].Step)
	assert.NoError(t, res[0].Err)
	assert.Equal(t, clock.Now().Unix(), s.Int64(store.KeyLastHeartbeat, 0))
}

func TestAfterWake_ConnectFails(t *testing.T) {
	m, _ := newManager(t, &fakeRadio{pollsToConnect: -1})
	var calls []Step
	m.SetSteps(Steps{Heartbeat: recorder(&calls, StepHeartbeat, nil)})

	res := m.AfterWake(context.Background())
	require.Len(t, res, 1)
	assert.ErrorIs(t, res[0].Err, backend.ErrNotAttempted)
	assert.Empty(t, calls)
}

func TestAccessPoint(t *testing.T) {
	r := &fakeRadio{}
	m, _ := newManager(t, r)

	ssid, err := m.StartAccessPoint(m.MACSuffix(), "mccmuims")
	require.NoError(t, err)
	assert.Equal(t, "MCC_A1B2", ssid)
	assert.Equal(t, "MCC_A1B2", r.ap)
	assert.Equal(t, "MCC_A1B2", m.AccessPoint())

	m.StopAccessPoint()
	m.StopAccessPoint()
	assert.Equal(t, 1, r.apStops)
	assert.Empty(t, m.AccessPoint())
}
