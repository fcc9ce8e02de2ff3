package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nobreak/internal/driver"
	"nobreak/internal/transport"
)

// mockDriver is the in-memory stand-in for the six-method driver
// capability set, scripted per test via a queue of canned outcomes.
type mockDriver struct {
	connectErr error
	readQueue  []readOutcome

	connected      bool
	disconnectCall int
	connectCalls   int
	current        *transport.DeviceInfo
}

type readOutcome struct {
	result driver.ReadResult
	err    error
	delay  time.Duration
}

func (m *mockDriver) Discover() []transport.DeviceInfo { return nil }

func (m *mockDriver) Connect(preferredID string) (transport.DeviceInfo, error) {
	m.connectCalls++
	if m.connectErr != nil {
		m.connected = false
		return transport.DeviceInfo{}, m.connectErr
	}
	dev := transport.DeviceInfo{ID: "cdc:/dev/ttyACM0", Model: transport.Model, Transport: "cdc", Path: "/dev/ttyACM0"}
	m.current = &dev
	m.connected = true
	return dev, nil
}

func (m *mockDriver) Read() (driver.ReadResult, error) {
	if len(m.readQueue) == 0 {
		return driver.ReadResult{}, errors.New("mock exhausted")
	}
	out := m.readQueue[0]
	m.readQueue = m.readQueue[1:]
	if out.delay > 0 {
		time.Sleep(out.delay)
	}
	return out.result, out.err
}

func (m *mockDriver) Disconnect() error {
	m.disconnectCall++
	m.connected = false
	m.current = nil
	return nil
}

func (m *mockDriver) IsConnected() bool { return m.connected }

func (m *mockDriver) CurrentDevice() *transport.DeviceInfo { return m.current }

func newTestMonitor(drv *mockDriver, cfg Config) *Monitor {
	return newWithDriver(drv, cfg, "")
}

// Tick always returns a Snapshot respecting the connected/status
// invariants, whatever the driver does.
func TestTickTotalOnConnectFailure(t *testing.T) {
	drv := &mockDriver{connectErr: errorsErrDeviceNotFound()}
	m := newTestMonitor(drv, DefaultConfig())

	snap := m.Tick()
	require.False(t, snap.Device.Connected)
	require.Equal(t, "DISCONNECTED", snap.Status.Code)
	require.NotEmpty(t, snap.Status.Failures)
	require.Equal(t, uint64(0), snap.Fresh.RTTMs)
}

// Three consecutive driver errors with an error threshold of 3 trigger
// exactly one reconnect; tick 4 reconnects and streams.
func TestErrorStreakTriggersSingleReconnect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 3
	cfg.AutoTune = false

	drv := &mockDriver{
		readQueue: []readOutcome{
			{err: errors.New("x")},
			{err: errors.New("x")},
			{err: errors.New("x")},
			{result: driver.ReadResult{StatusCode: "ONLINE_RAW", Vars: map[string]any{}}},
		},
	}
	m := newTestMonitor(drv, cfg)

	// tick 1: connects, then read fails (1/3)
	s1 := m.Tick()
	require.False(t, s1.Device.Connected)
	require.Equal(t, 0, drv.disconnectCall)

	// tick 2: read fails (2/3)
	s2 := m.Tick()
	require.False(t, s2.Device.Connected)
	require.Equal(t, 0, drv.disconnectCall)

	// tick 3: read fails (3/3) -> reconnect triggered
	s3 := m.Tick()
	require.False(t, s3.Device.Connected)
	require.Equal(t, uint64(1), s3.Quality.Reconnects)
	require.Equal(t, 1, drv.disconnectCall)
	require.Equal(t, uint64(3), s3.Quality.ReadsErr)

	// tick 4: reconnects and streams
	s4 := m.Tick()
	require.True(t, s4.Device.Connected)
	require.Equal(t, "ONLINE_RAW", s4.Status.Code)
	require.Equal(t, uint64(1), s4.Quality.ReadsOK)
	require.Equal(t, uint64(1), s4.Quality.Reconnects)
}

// Two consecutive failures with auto-tune on widen the interval by
// 250ms each, from 1000ms to 1500ms.
func TestAutoTuneWidensOnFailures(t *testing.T) {
	cfg := Config{
		SampleInterval:    time.Second,
		SampleIntervalMin: time.Second,
		SampleIntervalMax: 3 * time.Second,
		StaleAfter:        2500 * time.Millisecond,
		DisconnectedAfter: 5000 * time.Millisecond,
		PollTimeout:       700 * time.Millisecond,
		ErrorThreshold:    10,
		AutoTune:          true,
	}
	drv := &mockDriver{
		readQueue: []readOutcome{
			{err: errors.New("x")},
			{err: errors.New("x")},
		},
	}
	m := newTestMonitor(drv, cfg)

	m.Tick()
	m.Tick()

	require.Equal(t, 1500*time.Millisecond, m.EffectiveInterval())
}

// effective_interval always stays within [min, max] and narrows by
// exactly one 100ms step after 30 consecutive fast successes.
func TestAutoTuneNarrowsEvery30Successes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleInterval = 2 * time.Second
	cfg.SampleIntervalMin = time.Second
	cfg.SampleIntervalMax = 3 * time.Second

	var queue []readOutcome
	for i := 0; i < 30; i++ {
		queue = append(queue, readOutcome{result: driver.ReadResult{StatusCode: "ONLINE_RAW", Vars: map[string]any{}}})
	}
	drv := &mockDriver{readQueue: queue}
	m := newTestMonitor(drv, cfg)

	for i := 0; i < 30; i++ {
		snap := m.Tick()
		require.GreaterOrEqual(t, snap.Quality.EffectiveIntervalMs, uint64(cfg.SampleIntervalMin.Milliseconds()))
		require.LessOrEqual(t, snap.Quality.EffectiveIntervalMs, uint64(cfg.SampleIntervalMax.Milliseconds()))
	}

	require.Equal(t, 1900*time.Millisecond, m.EffectiveInterval())
}

// A driver read that outlasts poll_timeout reports the literal
// "timeout" failure with rtt_ms == poll_timeout.
func TestPollTimeoutReportsLiteralTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollTimeout = 30 * time.Millisecond
	cfg.ErrorThreshold = 100

	drv := &mockDriver{
		readQueue: []readOutcome{
			{result: driver.ReadResult{StatusCode: "ONLINE_RAW"}, delay: 200 * time.Millisecond},
		},
	}
	m := newTestMonitor(drv, cfg)

	snap := m.Tick()
	require.False(t, snap.Device.Connected)
	require.Equal(t, []string{"timeout"}, snap.Status.Failures)
	require.Equal(t, uint64(cfg.PollTimeout.Milliseconds()), snap.Fresh.RTTMs)
}

// Hot-unplug style scenario via the driver surface: connected, then the
// driver reports disconnection on the next read.
func TestTickSuccessThenDisconnectUpdatesFreshness(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoTune = false
	drv := &mockDriver{
		readQueue: []readOutcome{
			{result: driver.ReadResult{StatusCode: "ONLINE_RAW", Vars: map[string]any{"vInput": 220.0}}},
			{err: errors.New("disconnected")},
		},
	}
	m := newTestMonitor(drv, cfg)

	s1 := m.Tick()
	require.True(t, s1.Device.Connected)
	require.Equal(t, uint64(0), s1.Fresh.AgeMs)
	require.False(t, s1.Fresh.Stale)

	s2 := m.Tick()
	require.False(t, s2.Device.Connected)
	require.NotNil(t, s2.Fresh.LastOkTS)
	// Below the error threshold the device identity is retained.
	require.Equal(t, "cdc:/dev/ttyACM0", s2.Device.ID)
}

func errorsErrDeviceNotFound() error {
	return &driver.Error{Kind: driver.DeviceNotFound}
}
