// Package transport scans the host's serial/tty and raw-HID subsystems for
// candidate RagTech UPS device nodes, the way a udev-based enumerator would:
// per-device identity properties first, falling back to walking the parent
// device chain for idVendor/idProduct sysfs attributes.
package transport

import (
	"os"
	"path/filepath"
	"strings"
)

// Model is the fixed human label reported for every discovered device of
// this hardware family.
const Model = "RagTech 3200VA"

const (
	cdcVendorID  = "04d8"
	cdcProductID = "000a"
	hidVendorID  = "0425"
	hidProductID = "0301"
)

// DeviceInfo identifies one candidate device node.
type DeviceInfo struct {
	ID        string
	Model     string
	Transport string
	Path      string
	VID       string
	PID       string
}

// sysClassRoot is overridable in tests so Scan can run against a synthetic
// sysfs tree instead of the real /sys.
var sysClassRoot = "/sys/class"

// Scan enumerates candidate devices: the tty (CDC) subsystem is tried
// first; only if it yields nothing is the hidraw subsystem consulted. CDC
// is therefore always preferred when both transports are present.
func Scan() []DeviceInfo {
	if cdc := scanSubsystem("tty", "cdc", cdcVendorID, cdcProductID); len(cdc) > 0 {
		return cdc
	}
	return scanSubsystem("hidraw", "hid", hidVendorID, hidProductID)
}

func scanSubsystem(subsystem, transportName, vid, pid string) []DeviceInfo {
	root := filepath.Join(sysClassRoot, subsystem)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var out []DeviceInfo
	for _, entry := range entries {
		node := entry.Name()
		devicePath := filepath.Join(root, node)

		gotVID, gotPID := identityProperties(devicePath)
		if gotVID == "" || gotPID == "" {
			gotVID, gotPID = walkParentChain(devicePath)
		}
		if !strings.EqualFold(gotVID, vid) || !strings.EqualFold(gotPID, pid) {
			continue
		}

		nodePath := "/dev/" + node
		out = append(out, DeviceInfo{
			ID:        transportName + ":" + nodePath,
			Model:     Model,
			Transport: transportName,
			Path:      nodePath,
			VID:       strings.ToLower(gotVID),
			PID:       strings.ToLower(gotPID),
		})
	}
	return out
}

// identityProperties reads a device's own uevent file for ID_VENDOR_ID /
// ID_MODEL_ID style properties, the fast path udev itself would use.
func identityProperties(devicePath string) (vid, pid string) {
	data, err := os.ReadFile(filepath.Join(devicePath, "device", "uevent"))
	if err != nil {
		return "", ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "ID_VENDOR_ID":
			vid = v
		case "ID_MODEL_ID":
			pid = v
		}
	}
	return vid, pid
}

// walkParentChain ascends the device symlink chain (as /sys/class/<subsys>/
// <node>/device resolves through a USB topology) looking for the first
// ancestor exposing idVendor and idProduct attribute files.
func walkParentChain(devicePath string) (vid, pid string) {
	cur, err := filepath.EvalSymlinks(filepath.Join(devicePath, "device"))
	if err != nil {
		return "", ""
	}
	for i := 0; i < 8 && cur != "" && cur != "/"; i++ {
		vidBytes, vErr := os.ReadFile(filepath.Join(cur, "idVendor"))
		pidBytes, pErr := os.ReadFile(filepath.Join(cur, "idProduct"))
		if vErr == nil && pErr == nil {
			return strings.TrimSpace(string(vidBytes)), strings.TrimSpace(string(pidBytes))
		}
		cur = filepath.Dir(cur)
	}
	return "", ""
}
