// Package monitor implements the supervisory state machine that wraps a
// Driver and turns its discover/connect/read contract into a continuous
// stream of Snapshots: a Snapshot is emitted on every tick, success or
// failure, carrying freshness, status, telemetry, and running quality
// counters. tick() itself never fails.
package monitor

import (
	"context"
	"time"

	"nobreak/internal/driver"
	"nobreak/internal/snapshot"
	"nobreak/internal/transport"
)

// connectionState is informative only; it never gates tick()'s behavior,
// it just narrates it for logs and diagnostics.
type connectionState int

const (
	stateDisconnected connectionState = iota
	stateConnecting
	stateStreaming
	stateDegraded
	stateReconnecting
)

func (s connectionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateStreaming:
		return "streaming"
	case stateDegraded:
		return "degraded"
	case stateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// upsDriver is the six-method driver capability set; *driver.Driver
// satisfies it, and tests supply an in-memory mock of the same shape.
type upsDriver interface {
	Discover() []transport.DeviceInfo
	Connect(preferredID string) (transport.DeviceInfo, error)
	Read() (driver.ReadResult, error)
	Disconnect() error
	IsConnected() bool
	CurrentDevice() *transport.DeviceInfo
}

// Monitor supervises a single Driver instance. It is not safe to call
// Tick concurrently with itself on the same Monitor; a Monitor is
// exclusively owned for the duration of a tick. Independent Monitors may
// run on independent goroutines.
type Monitor struct {
	drv      upsDriver
	config   Config
	state    connectionState
	targetID string
	current  *transport.DeviceInfo

	errorsInRow uint32
	readsOK     uint64
	readsErr    uint64
	reconnects  uint64

	effectiveInterval time.Duration
	processStart      time.Time

	lastOkMono time.Time
	haveLastOk bool
	lastOkTS   time.Time
}

// New constructs a disconnected Monitor over drv targeting targetID (may
// be empty to mean "first device found").
func New(drv *driver.Driver, config Config, targetID string) *Monitor {
	return newWithDriver(drv, config, targetID)
}

func newWithDriver(drv upsDriver, config Config, targetID string) *Monitor {
	return &Monitor{
		drv:               drv,
		config:            config,
		state:             stateDisconnected,
		targetID:          targetID,
		effectiveInterval: config.SampleInterval,
		processStart:      time.Now(),
	}
}

// EffectiveInterval returns the monitor's current adaptive polling
// period. It starts at SampleInterval; auto-tune widening is capped at
// SampleIntervalMax and narrowing stops at SampleIntervalMin.
func (m *Monitor) EffectiveInterval() time.Duration {
	return m.effectiveInterval
}

// Discover passes through to the underlying driver's device enumeration.
func (m *Monitor) Discover() []transport.DeviceInfo {
	return m.drv.Discover()
}

// Tick drives one connect-or-read cycle and always returns a Snapshot;
// it never returns an error, per the monitor's outward contract.
func (m *Monitor) Tick() snapshot.Snapshot {
	if !m.drv.IsConnected() {
		m.state = stateConnecting
		dev, err := m.drv.Connect(m.targetID)
		if err != nil {
			m.readsErr++
			m.errorsInRow++
			m.state = stateDisconnected
			return m.disconnectedSnapshot(err.Error(), 0, nil)
		}
		m.current = &dev
		m.state = stateStreaming
	}

	started := time.Now()
	result, err := m.readWithTimeout(m.config.PollTimeout)

	if err == nil {
		m.readsOK++
		m.errorsInRow = 0
		rtt := time.Since(started)
		m.lastOkMono = time.Now()
		m.haveLastOk = true
		m.lastOkTS = time.Now()
		m.state = stateStreaming

		if m.config.AutoTune {
			m.tuneInterval(rtt, true)
		}

		return m.connectedSnapshot(result.StatusCode, result.Failures, result.Vars, rtt)
	}

	m.readsErr++
	m.errorsInRow++

	if m.config.AutoTune {
		m.tuneInterval(m.config.PollTimeout, false)
	}

	shouldReconnect := m.errorsInRow >= m.config.ErrorThreshold
	if shouldReconnect {
		m.state = stateReconnecting
		_ = m.drv.Disconnect()
		m.reconnects++
		m.current = nil
	} else {
		m.state = stateDegraded
	}

	if isTimeoutErr(err) {
		return m.disconnectedSnapshot("timeout", uint64(m.config.PollTimeout.Milliseconds()), nil)
	}
	return m.disconnectedSnapshot(err.Error(), uint64(time.Since(started).Milliseconds()), nil)
}

// timeoutSentinel marks a poll-timeout outcome distinctly from a driver
// error so Tick can report the literal failure message "timeout".
type timeoutSentinel struct{}

func (timeoutSentinel) Error() string { return "timeout" }

func isTimeoutErr(err error) bool {
	_, ok := err.(timeoutSentinel)
	return ok
}

// readWithTimeout enforces config.PollTimeout around drv.Read. This is
// the one suspension boundary besides Connect; the driver's own 3s
// response deadline is an independent safety net, not the timeout
// enforcer.
func (m *Monitor) readWithTimeout(timeout time.Duration) (driver.ReadResult, error) {
	type outcome struct {
		result driver.ReadResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, err := m.drv.Read()
		ch <- outcome{r, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return driver.ReadResult{}, timeoutSentinel{}
	}
}

// tuneInterval adjusts effectiveInterval per the auto-tune policy:
// widen on any failure or on a slow read, narrow by a 100ms step every
// 30th successful read. Always clamped, never wrapping.
func (m *Monitor) tuneInterval(rtt time.Duration, ok bool) {
	if !ok {
		m.effectiveInterval = minDur(m.effectiveInterval+250*time.Millisecond, m.config.SampleIntervalMax)
		return
	}

	threshold := time.Duration(float64(m.effectiveInterval) * 0.6)
	if rtt > threshold {
		m.effectiveInterval = minDur(m.effectiveInterval+200*time.Millisecond, m.config.SampleIntervalMax)
		return
	}

	if m.readsOK%30 == 0 {
		m.effectiveInterval = maxDur(m.effectiveInterval-100*time.Millisecond, m.config.SampleIntervalMin)
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDur(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func (m *Monitor) connectedSnapshot(statusCode string, failures []string, vars map[string]any, rtt time.Duration) snapshot.Snapshot {
	now := time.Now()
	if vars == nil {
		vars = map[string]any{}
	}
	return snapshot.Snapshot{
		TS:     now,
		MonoMs: uint64(now.Sub(m.processStart).Milliseconds()),
		Device: m.snapshotDevice(true),
		Fresh: snapshot.Freshness{
			RTTMs:    uint64(rtt.Milliseconds()),
			AgeMs:    0,
			Stale:    false,
			LastOkTS: m.lastOkTSPtr(),
		},
		Status: snapshot.Status{
			Code:     statusCode,
			Failures: nilToEmptyFailures(failures),
		},
		Vars: vars,
		Quality: snapshot.Quality{
			PollMs:              uint64(rtt.Milliseconds()),
			StaleSeconds:        0,
			ReadsOK:             m.readsOK,
			ReadsErr:            m.readsErr,
			Reconnects:          m.reconnects,
			EffectiveIntervalMs: uint64(m.effectiveInterval.Milliseconds()),
		},
	}
}

func (m *Monitor) disconnectedSnapshot(reason string, rttMs uint64, vars map[string]any) snapshot.Snapshot {
	now := time.Now()
	if vars == nil {
		vars = map[string]any{}
	}

	var ageMs uint64
	if m.haveLastOk {
		ageMs = uint64(time.Since(m.lastOkMono).Milliseconds())
	} else {
		ageMs = uint64(m.config.DisconnectedAfter.Milliseconds())
	}
	stale := ageMs > uint64(m.config.StaleAfter.Milliseconds())

	return snapshot.Snapshot{
		TS:     now,
		MonoMs: uint64(now.Sub(m.processStart).Milliseconds()),
		Device: m.snapshotDevice(false),
		Fresh: snapshot.Freshness{
			RTTMs:    rttMs,
			AgeMs:    ageMs,
			Stale:    stale,
			LastOkTS: m.lastOkTSPtr(),
		},
		Status: snapshot.Status{
			Code:     "DISCONNECTED",
			Failures: []string{reason},
		},
		Vars: vars,
		Quality: snapshot.Quality{
			PollMs:              rttMs,
			StaleSeconds:        float64(ageMs) / 1000.0,
			ReadsOK:             m.readsOK,
			ReadsErr:            m.readsErr,
			Reconnects:          m.reconnects,
			EffectiveIntervalMs: uint64(m.effectiveInterval.Milliseconds()),
		},
	}
}

// snapshotDevice reports the monitor's own notion of the current device;
// it survives a transient driver-side disconnect so degraded snapshots
// still carry the device identity, and is only dropped on a threshold
// teardown.
func (m *Monitor) snapshotDevice(connected bool) snapshot.Device {
	dev := m.current
	if dev == nil {
		id := m.targetID
		if id == "" {
			id = "unknown"
		}
		dev = &transport.DeviceInfo{ID: id, Model: transport.Model, Transport: "unknown"}
	}

	return snapshot.Device{
		ID:    dev.ID,
		Model: dev.Model,
		Transport: snapshot.Transport{
			Kind: dev.Transport,
			Path: dev.Path,
			VID:  dev.VID,
			PID:  dev.PID,
		},
		Connected: connected,
	}
}

func (m *Monitor) lastOkTSPtr() *time.Time {
	if !m.haveLastOk {
		return nil
	}
	ts := m.lastOkTS
	return &ts
}

func nilToEmptyFailures(failures []string) []string {
	if len(failures) == 0 {
		return []string{}
	}
	return failures
}
