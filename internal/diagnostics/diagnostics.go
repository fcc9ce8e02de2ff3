// Package diagnostics implements the `probe` command's two read-only
// checks: attempting to load candidate vendor shared libraries (for
// inspection only, no symbols are ever resolved or called) and gathering
// host facts to accompany a discovery listing. Presence of the vendor
// libraries is never required for normal monitor operation.
package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"nobreak/internal/driver"
	"nobreak/internal/transport"
)

// vendorLibraries are the only filenames ever probed under --vendor-dir.
var vendorLibraries = []string{"device.so", "config.so", "supapi.so"}

// VendorProbe reports which candidate vendor libraries were found and
// successfully opened under vendorDir. Opening is read-only inspection:
// plugin.Open maps and validates the shared object but no symbol is ever
// looked up or invoked, matching the non-intrusive design.
type VendorProbe struct {
	VendorDir string   `json:"vendor_dir"`
	Loaded    []string `json:"loaded_libraries"`
	ReadOnly  bool     `json:"read_only"`
}

// ProbeVendorLibraries attempts to open the candidate libraries under
// vendorDir in order and reports which ones loaded. Missing files are
// skipped silently; the first file that exists but fails to load as a Go
// plugin ends the probe (later candidates are not tried) and is reported
// via the returned error, keeping "no libraries found" and "load failed"
// distinguishable for the probe output.
func ProbeVendorLibraries(vendorDir string) (VendorProbe, error) {
	probe := VendorProbe{VendorDir: vendorDir, ReadOnly: true}

	for _, name := range vendorLibraries {
		path := filepath.Join(vendorDir, name)
		if !fileExists(path) {
			continue
		}
		if _, err := plugin.Open(path); err != nil {
			return probe, fmt.Errorf("failed to load %s: %w", path, err)
		}
		probe.Loaded = append(probe.Loaded, path)
	}

	if len(probe.Loaded) == 0 {
		return probe, fmt.Errorf("no vendor libraries found under %s", vendorDir)
	}
	return probe, nil
}

// HIDCapability reports whether a discovered raw-HID candidate can be
// opened read-only, as an additional reachability signal alongside the
// vendor-library probe.
type HIDCapability struct {
	DeviceID string `json:"device_id"`
	Openable bool   `json:"openable"`
	Error    string `json:"error,omitempty"`
}

// ProbeHIDCandidates runs the read-only open/close check (internal/driver's
// ProbeHID) against every HID-transport device in devices.
func ProbeHIDCandidates(devices []transport.DeviceInfo) []HIDCapability {
	var out []HIDCapability
	for _, dev := range devices {
		if dev.Transport != "hid" {
			continue
		}
		ok, err := driver.ProbeHID(dev.VID, dev.PID)
		hc := HIDCapability{DeviceID: dev.ID, Openable: ok}
		if err != nil {
			hc.Error = err.Error()
		}
		out = append(out, hc)
	}
	return out
}

// HostFacts is the gopsutil-backed system summary attached to `probe`
// output.
type HostFacts struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	KernelVersion string  `json:"kernel_version"`
	CPUModel      string  `json:"cpu_model"`
	CPUCores      int     `json:"cpu_cores"`
	TotalMemMB    uint64  `json:"total_mem_mb"`
	UsedMemPct    float64 `json:"used_mem_percent"`
}

// GatherHostFacts collects a best-effort snapshot of host identity,
// CPU, and memory facts. Missing subsystems degrade to zero values
// rather than failing the probe.
func GatherHostFacts() HostFacts {
	var facts HostFacts

	if info, err := host.Info(); err == nil {
		facts.Hostname = info.Hostname
		facts.OS = info.OS
		facts.Platform = info.Platform
		facts.KernelVersion = info.KernelVersion
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		facts.CPUModel = cpus[0].ModelName
	}
	if counts, err := cpu.Counts(true); err == nil {
		facts.CPUCores = counts
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		facts.TotalMemMB = vm.Total / (1024 * 1024)
		facts.UsedMemPct = vm.UsedPercent
	}

	return facts
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
