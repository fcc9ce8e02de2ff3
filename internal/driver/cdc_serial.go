// CDC transport: a thin adapter over github.com/tarm/serial.
package driver

import (
	"github.com/tarm/serial"
)

// openCDCPort opens the named device node at the fixed RagTech CDC baud
// rate with the 350ms per-I/O timeout (a safety net, not the response
// deadline; that is enforced by cdcExchange itself).
func openCDCPort(path string) (serialPort, error) {
	cfg := &serial.Config{
		Name:        path,
		Baud:        cdcBaud,
		ReadTimeout: cdcPortTimeout,
	}
	return serial.OpenPort(cfg)
}
