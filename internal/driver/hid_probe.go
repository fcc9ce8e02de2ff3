// Raw-HID capability probe: never performs a data read (the HID
// transport always returns UNKNOWN/vendor_snapshot_unimplemented from
// Read), but the `probe` command still wants to confirm the endpoint
// actually opens: open by VID:PID, confirm, close immediately.
package driver

import (
	"fmt"
	"strconv"

	"github.com/google/gousb"
)

// ProbeHID attempts a read-only open of a raw-HID candidate identified by
// lowercase hex vid/pid strings (as produced by transport.Scan). It never
// reads or writes to the endpoint; the device is opened purely to confirm
// reachability and closed immediately.
func ProbeHID(vid, pid string) (bool, error) {
	vidN, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return false, fmt.Errorf("invalid hid vid %q: %w", vid, err)
	}
	pidN, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return false, fmt.Errorf("invalid hid pid %q: %w", pid, err)
	}

	ctx := gousb.NewContext()
	defer ctx.Close()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vidN), gousb.ID(pidN))
	if err != nil {
		return false, fmt.Errorf("open hid device %s:%s: %w", vid, pid, err)
	}
	if dev == nil {
		return false, nil
	}
	defer dev.Close()

	return true, nil
}
