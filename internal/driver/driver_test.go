package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"nobreak/internal/transport"
)

// fakeTimeout satisfies the net.Error-style Timeout() interface the
// driver's isTimeout helper checks for.
type fakeTimeout struct{}

func (fakeTimeout) Error() string { return "i/o timeout" }
func (fakeTimeout) Timeout() bool { return true }

// fakePort is an in-memory serialPort the tests drive directly; it never
// touches a real device node. The first Read call always stands in for
// the drain-pending-input step (returns 0, nil immediately); subsequent
// calls hand out queued response chunks, then a timeout once exhausted,
// so tests never block on the real 3s response deadline.
type fakePort struct {
	toRead    [][]byte
	written   [][]byte
	closed    bool
	callCount int
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.callCount++
	if p.callCount == 1 {
		return 0, nil
	}
	if len(p.toRead) == 0 {
		return 0, fakeTimeout{}
	}
	chunk := p.toRead[0]
	p.toRead = p.toRead[1:]
	n := copy(buf, chunk)
	return n, nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.written = append(p.written, append([]byte(nil), buf...))
	return len(buf), nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func alignedFrame() []byte {
	frame := make([]byte, 31)
	frame[0], frame[1], frame[2], frame[3] = 0xAA, 0x21, 0x00, 0x0C
	return frame
}

func newTestDriver(devices []transport.DeviceInfo, port *fakePort) *Driver {
	d := New("./vendor")
	d.scan = func() []transport.DeviceInfo { return devices }
	d.openCDC = func(path string) (serialPort, error) { return port, nil }
	return d
}

func TestConnectPrefersPreferredID(t *testing.T) {
	devices := []transport.DeviceInfo{
		{ID: "cdc:/dev/ttyACM0", Transport: "cdc", Path: "/dev/ttyACM0"},
		{ID: "cdc:/dev/ttyACM1", Transport: "cdc", Path: "/dev/ttyACM1"},
	}
	d := newTestDriver(devices, &fakePort{})

	dev, err := d.Connect("cdc:/dev/ttyACM1")
	require.NoError(t, err)
	require.Equal(t, "cdc:/dev/ttyACM1", dev.ID)
	require.True(t, d.IsConnected())
}

func TestConnectFallsBackToFirstWhenPreferredAbsent(t *testing.T) {
	devices := []transport.DeviceInfo{{ID: "cdc:/dev/ttyACM0", Transport: "cdc", Path: "/dev/ttyACM0"}}
	d := newTestDriver(devices, &fakePort{})

	dev, err := d.Connect("cdc:/dev/ttyACM9")
	require.NoError(t, err)
	require.Equal(t, "cdc:/dev/ttyACM0", dev.ID)
}

func TestConnectNoDevicesFails(t *testing.T) {
	d := newTestDriver(nil, &fakePort{})

	_, err := d.Connect("")
	require.Error(t, err)
	var derr *Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, DeviceNotFound, derr.Kind)
	require.False(t, d.IsConnected())
}

func TestReadWhenDisconnectedFails(t *testing.T) {
	d := newTestDriver(nil, &fakePort{})

	_, err := d.Read()
	var derr *Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, Disconnected, derr.Kind)
}

func TestReadSuccessDecodesFrame(t *testing.T) {
	devices := []transport.DeviceInfo{{ID: "cdc:/dev/ttyACM0", Transport: "cdc", Path: "/dev/ttyACM0"}}
	port := &fakePort{toRead: [][]byte{alignedFrame()}}
	d := newTestDriver(devices, port)

	_, err := d.Connect("")
	require.NoError(t, err)

	result, err := d.Read()
	require.NoError(t, err)
	require.Equal(t, "ONLINE_RAW", result.StatusCode)
	require.Empty(t, result.Failures)
	require.Equal(t, RequestCommandHex, result.Vars["requestCommand"])
	require.Equal(t, "experimental", result.Vars["metricsConfidence"])
	require.Contains(t, result.Vars, "vInput")

	// The fixed read-request opcode is the only thing ever written.
	require.Len(t, port.written, 1)
	require.Equal(t, requestCommand, port.written[0])
}

func TestReadHotUnplugReturnsDisconnected(t *testing.T) {
	devices := []transport.DeviceInfo{{ID: "cdc:/dev/ttyACM0", Transport: "cdc", Path: "/dev/ttyACM0"}}
	port := &fakePort{toRead: [][]byte{alignedFrame()}}
	d := newTestDriver(devices, port)

	_, err := d.Connect("")
	require.NoError(t, err)

	// Simulate a hot-unplug: the next enumeration no longer lists the device.
	d.scan = func() []transport.DeviceInfo { return nil }

	_, err = d.Read()
	var derr *Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, Disconnected, derr.Kind)
	require.False(t, d.IsConnected())
	require.True(t, port.closed)
}

func TestReadHIDTransportReturnsUnknownNotError(t *testing.T) {
	devices := []transport.DeviceInfo{{ID: "hid:/dev/hidraw0", Transport: "hid", Path: "/dev/hidraw0"}}
	d := newTestDriver(devices, &fakePort{})

	_, err := d.Connect("")
	require.NoError(t, err)

	result, err := d.Read()
	require.NoError(t, err)
	require.Equal(t, "UNKNOWN", result.StatusCode)
	require.Equal(t, []string{"vendor_snapshot_unimplemented"}, result.Failures)
	require.Empty(t, result.Vars)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	d := newTestDriver(nil, &fakePort{})
	require.NoError(t, d.Disconnect())
	require.NoError(t, d.Disconnect())
	require.False(t, d.IsConnected())
}
