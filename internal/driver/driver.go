// Package driver owns at most one open transport handle to a RagTech UPS
// and exposes the read-only capability set the monitor supervisor drives:
// discover, connect, read, disconnect, is_connected, current_device. It
// never writes anything to the device beyond the fixed read-request
// opcode, and issues no configuration or control commands.
package driver

import (
	"errors"
	"fmt"
	"time"

	"nobreak/internal/protocol"
	"nobreak/internal/transport"
)

// ErrKind distinguishes the recoverable error taxonomy the monitor
// supervisor branches on. All of these are handled inside tick(); none
// propagate further.
type ErrKind int

const (
	DeviceNotFound ErrKind = iota
	Disconnected
	Timeout
	Io
	Other
)

// Error is the driver's single error type; Kind lets callers branch
// without string matching while Error() still renders a useful message.
type Error struct {
	Kind ErrKind
	msg  string
}

func (e *Error) Error() string {
	switch e.Kind {
	case Io:
		return "io error: " + e.msg
	case Other:
		return "driver error: " + e.msg
	default:
		return e.msg
	}
}

func newErr(kind ErrKind, msg string) *Error { return &Error{Kind: kind, msg: msg} }

func wrapIo(context string, err error) *Error {
	return newErr(Io, fmt.Sprintf("%s: %v", context, err))
}

var (
	errDeviceNotFound = newErr(DeviceNotFound, "device not found")
	errDisconnected   = newErr(Disconnected, "device disconnected")
	errTimeout        = newErr(Timeout, "timeout")
)

// requestCommand is the fixed 6-byte read-request opcode. It is the only
// thing ever written to the device.
var requestCommand = []byte{0xAA, 0x04, 0x00, 0x80, 0x1E, 0x9E}

// RequestCommandHex is the same opcode, as the hex literal recorded in
// every ReadResult's vars for forensic traceability.
const RequestCommandHex = "AA0400801E9E"

const (
	cdcBaud           = 2560
	cdcPortTimeout    = 350 * time.Millisecond
	cdcResponseBudget = 3 * time.Second
	cdcFlushChunk     = 256
	cdcReadChunk      = 128
	cdcReadExitLen    = 64
)

// serialPort is the subset of *serial.Port the driver depends on; real
// instances come from openCDCPort (cdc_serial.go), tests substitute a
// fake.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Driver owns the current device selection and, for CDC transports, the
// open serial handle. VendorDir is reserved for the optional vendor
// shared-library probe (see internal/diagnostics); the driver never
// reads it for normal operation.
type Driver struct {
	VendorDir string

	current *transport.DeviceInfo
	port    serialPort

	// openCDC is overridden in tests to avoid touching a real serial port.
	openCDC func(path string) (serialPort, error)
	// scan is overridden in tests to avoid touching the real sysfs tree.
	scan func() []transport.DeviceInfo
}

// New builds a Driver rooted at vendorDir.
func New(vendorDir string) *Driver {
	return &Driver{
		VendorDir: vendorDir,
		openCDC:   openCDCPort,
		scan:      transport.Scan,
	}
}

// Discover lists every candidate device currently visible on the bus.
func (d *Driver) Discover() []transport.DeviceInfo {
	return d.scan()
}

// IsConnected reports whether a device is currently selected.
func (d *Driver) IsConnected() bool {
	return d.current != nil
}

// CurrentDevice returns the presently connected device, if any.
func (d *Driver) CurrentDevice() *transport.DeviceInfo {
	return d.current
}

// Connect selects a device (preferredID if present among the scan
// results, otherwise the first candidate), closes any prior handle, and
// for CDC transports opens a fresh serial port.
func (d *Driver) Connect(preferredID string) (transport.DeviceInfo, error) {
	devices := d.scan()
	if len(devices) == 0 {
		d.closePort()
		d.current = nil
		return transport.DeviceInfo{}, errDeviceNotFound
	}

	chosen := devices[0]
	if preferredID != "" {
		for _, dev := range devices {
			if dev.ID == preferredID {
				chosen = dev
				break
			}
		}
	}

	d.closePort()

	if chosen.Transport == "cdc" {
		port, err := d.openCDC(chosen.Path)
		if err != nil {
			d.current = nil
			return transport.DeviceInfo{}, wrapIo("failed to open serial port "+chosen.Path, err)
		}
		d.port = port
	}

	chosenCopy := chosen
	d.current = &chosenCopy
	return chosen, nil
}

// Read performs one request/response exchange and returns the decoded
// ReadResult, or fails with Disconnected/Timeout/Io per the taxonomy.
func (d *Driver) Read() (ReadResult, error) {
	if d.current == nil {
		return ReadResult{}, errDisconnected
	}

	devices := d.scan()
	stillPresent := false
	for _, dev := range devices {
		if dev.ID == d.current.ID {
			stillPresent = true
			break
		}
	}
	if !stillPresent {
		d.closePort()
		d.current = nil
		return ReadResult{}, errDisconnected
	}

	if d.current.Transport != "cdc" {
		return ReadResult{
			StatusCode: "UNKNOWN",
			Failures:   []string{"vendor_snapshot_unimplemented"},
			Vars:       map[string]any{},
		}, nil
	}

	if d.port == nil {
		port, err := d.openCDC(d.current.Path)
		if err != nil {
			return ReadResult{}, wrapIo("failed to reopen serial port "+d.current.Path, err)
		}
		d.port = port
	}

	frame, err := cdcExchange(d.port)
	if err != nil {
		return ReadResult{}, err
	}

	return buildReadResult(frame), nil
}

// Disconnect releases any open transport handle. Idempotent.
func (d *Driver) Disconnect() error {
	d.closePort()
	d.current = nil
	return nil
}

func (d *Driver) closePort() {
	if d.port != nil {
		_ = d.port.Close()
		d.port = nil
	}
}

// cdcExchange drains pending input, writes the fixed request, and reads
// the response under the exact exit conditions described in the wire
// protocol: a single read of >=64 bytes, cumulative buffer >=64 bytes, a
// timeout with a non-empty buffer, or the 3s deadline.
func cdcExchange(port serialPort) ([]byte, error) {
	flush := make([]byte, cdcFlushChunk)
	for {
		n, err := port.Read(flush)
		if err != nil || n == 0 {
			break
		}
	}

	if _, err := port.Write(requestCommand); err != nil {
		return nil, wrapIo("failed to write request command", err)
	}

	deadline := time.Now().Add(cdcResponseBudget)
	buf := make([]byte, 0, cdcReadChunk)
	chunk := make([]byte, cdcReadChunk)

	for {
		n, err := port.Read(chunk)
		if err != nil {
			if isTimeout(err) {
				if len(buf) > 0 {
					break
				}
			} else {
				return nil, wrapIo("serial read failed", err)
			}
		} else if n > 0 {
			buf = append(buf, chunk[:n]...)
			if n >= cdcReadExitLen || len(buf) >= cdcReadExitLen {
				break
			}
		}

		if time.Now().After(deadline) {
			break
		}
	}

	if len(buf) == 0 {
		return nil, errTimeout
	}
	return buf, nil
}

func isTimeout(err error) bool {
	type timeoutErr interface{ Timeout() bool }
	var te timeoutErr
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}

func buildReadResult(frame []byte) ReadResult {
	decoded := protocol.Decode(frame)

	vars := map[string]any{
		"rawFrameHex":    hexString(frame),
		"rawFrameLen":    len(frame),
		"requestCommand": RequestCommandHex,
		"frameDecoded":   decoded,
	}

	if decoded.LikelyMetrics.VInputEst != nil {
		vars["vInput"] = *decoded.LikelyMetrics.VInputEst
	}
	if decoded.LikelyMetrics.VOutputEst != nil {
		vars["vOutput"] = *decoded.LikelyMetrics.VOutputEst
	}
	if decoded.LikelyMetrics.FOutputEst != nil {
		vars["fOutput"] = *decoded.LikelyMetrics.FOutputEst
	}
	if decoded.LikelyMetrics.POutputEst != nil {
		vars["pOutput"] = *decoded.LikelyMetrics.POutputEst
	}
	if decoded.LikelyMetrics.VBatteryEst != nil {
		vars["vBattery"] = *decoded.LikelyMetrics.VBatteryEst
	}
	if decoded.LikelyMetrics.CBatteryEst != nil {
		vars["cBattery"] = *decoded.LikelyMetrics.CBatteryEst
	}
	if decoded.LikelyMetrics.TemperatureEst != nil {
		vars["temperature"] = *decoded.LikelyMetrics.TemperatureEst
	}
	vars["metricsConfidence"] = decoded.LikelyMetrics.MappingConfidence

	return ReadResult{
		StatusCode: "ONLINE_RAW",
		Failures:   nil,
		Vars:       vars,
	}
}

func hexString(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}
