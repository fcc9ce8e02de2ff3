// Command nobreakd is the read-only RagTech 3200VA UPS monitor: discover
// the device, decode its binary status frame, and stream Snapshots to
// stdout, an HTTP status endpoint, a terminal graph viewer, or a
// day-rotated JSON-lines export, never writing to the device beyond its
// fixed read-request opcode.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"nobreak/internal/diagnostics"
	"nobreak/internal/driver"
	"nobreak/internal/export"
	"nobreak/internal/monitor"
	"nobreak/internal/obslog"
	"nobreak/internal/protocol"
	"nobreak/internal/snapshot"
	"nobreak/internal/statushttp"
	"nobreak/internal/view"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "nobreakd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: nobreakd <scan|probe|once|run|watch|view|export> [flags]")
	}
	command := args[0]
	rest := args[1:]

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	vendorDir := fs.String("vendor-dir", "./vendor", "directory searched for optional vendor shared libraries")
	intervalMs := fs.Uint64("interval-ms", 1000, "base sample interval in milliseconds")
	staleAfterMs := fs.Uint64("stale-after-ms", 2500, "age after which a reading is marked stale")
	disconnectedAfterMs := fs.Uint64("disconnected-after-ms", 5000, "age after which the device is considered disconnected")
	pollTimeoutMs := fs.Uint64("poll-timeout-ms", 700, "per-read timeout in milliseconds")
	errorThreshold := fs.Uint("error-threshold", 3, "consecutive read failures before reconnecting")
	deviceID := fs.String("device-id", "", "preferred device id (default: first device found)")
	defaultFormat := "human"
	if command == "once" {
		defaultFormat = "json"
	}
	format := fs.String("format", defaultFormat, "output format: human, json, ndjson")
	windowSec := fs.Float64("window-sec", 180.0, "viewer rolling window in seconds")
	outputDir := fs.String("output-dir", "./data/metrics", "export output directory")
	retentionDays := fs.Int("retention-days", 90, "export retention window in days")
	httpAddr := fs.String("http-addr", "", "loopback address for the read-only status server (disabled if empty)")

	if err := fs.Parse(rest); err != nil {
		return err
	}

	instanceID := uuid.NewString()
	logger := obslog.New(instanceID)

	cfg := monitor.Config{
		SampleInterval:    time.Duration(*intervalMs) * time.Millisecond,
		SampleIntervalMin: time.Second,
		SampleIntervalMax: 3 * time.Second,
		StaleAfter:        time.Duration(*staleAfterMs) * time.Millisecond,
		DisconnectedAfter: time.Duration(*disconnectedAfterMs) * time.Millisecond,
		PollTimeout:       time.Duration(*pollTimeoutMs) * time.Millisecond,
		ErrorThreshold:    uint32(*errorThreshold),
		AutoTune:          true,
	}

	drv := driver.New(*vendorDir)

	switch command {
	case "scan":
		devices := drv.Discover()
		return printJSON(devices)

	case "probe":
		return runProbe(drv, *vendorDir)

	case "once":
		mon := monitor.New(drv, cfg, *deviceID)
		snap := mon.Tick()
		return printSnapshot(snap, *format)

	case "run", "watch":
		mon := monitor.New(drv, cfg, *deviceID)
		return streamLoop(mon, *format, *httpAddr, logger)

	case "view":
		mon := monitor.New(drv, cfg, *deviceID)
		program := tea.NewProgram(view.New(mon, *windowSec), tea.WithAltScreen())
		_, err := program.Run()
		return err

	case "export":
		mon := monitor.New(drv, cfg, *deviceID)
		return runExport(mon, *outputDir, *retentionDays, logger)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runProbe(drv *driver.Driver, vendorDir string) error {
	vendorProbe, probeErr := diagnostics.ProbeVendorLibraries(vendorDir)
	devices := drv.Discover()
	hidCandidates := diagnostics.ProbeHIDCandidates(devices)
	facts := diagnostics.GatherHostFacts()

	out := map[string]any{
		"devices":    devices,
		"hid_probe":  hidCandidates,
		"host":       facts,
		"read_only":  true,
		"vendor_dir": vendorDir,
	}
	if probeErr != nil {
		out["probe_error"] = probeErr.Error()
	} else {
		out["probe"] = vendorProbe
	}
	return printJSON(out)
}

func streamLoop(mon *monitor.Monitor, format, httpAddr string, logger *obslog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *statushttp.Store
	if httpAddr != "" {
		store = &statushttp.Store{}
		server := statushttp.New(httpAddr, store)
		go func() {
			if err := server.ListenAndServe(); err != nil {
				logger.Error("status server stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	timer := time.NewTimer(50 * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Warn("received shutdown signal, stopping")
			return nil
		case <-timer.C:
			snap := mon.Tick()
			if err := printSnapshot(snap, format); err != nil {
				return err
			}
			if store != nil {
				store.Set(snap)
			}
			logger.Info("tick effective_interval_ms=%d connected=%v stale=%v",
				mon.EffectiveInterval().Milliseconds(), snap.Device.Connected, snap.Fresh.Stale)
			timer.Reset(mon.EffectiveInterval())
		}
	}
}

func runExport(mon *monitor.Monitor, outputDir string, retentionDays int, logger *obslog.Logger) error {
	writer, err := export.New(outputDir, retentionDays)
	if err != nil {
		return err
	}
	defer writer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Warn("received shutdown signal, stopping export")
			return nil
		case <-timer.C:
			snap := mon.Tick()
			if err := writer.Write(snap); err != nil {
				logger.Error("write export record: %v", err)
			}
			if err := writer.MaybePrune(); err != nil {
				logger.Error("prune export directory: %v", err)
			}
			timer.Reset(mon.EffectiveInterval())
		}
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printSnapshot(snap snapshot.Snapshot, format string) error {
	switch format {
	case "json":
		return printJSON(snap)
	case "ndjson":
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		fmt.Println(string(data))
		return nil
	default:
		printHuman(snap)
		return nil
	}
}

func printHuman(snap snapshot.Snapshot) {
	fmt.Println("=== Nobreak Snapshot ===")
	fmt.Printf("Time:       %s\n", snap.TS.Format(time.RFC3339))
	fmt.Printf("Device:     %s (%s)\n", snap.Device.ID, snap.Device.Model)
	fmt.Printf("Transport:  %s %s [%s:%s]\n",
		snap.Device.Transport.Kind, snap.Device.Transport.Path, snap.Device.Transport.VID, snap.Device.Transport.PID)
	fmt.Printf("State:      connected=%v status=%s stale=%v age_ms=%d rtt_ms=%d\n",
		snap.Device.Connected, snap.Status.Code, snap.Fresh.Stale, snap.Fresh.AgeMs, snap.Fresh.RTTMs)

	if len(snap.Status.Failures) > 0 {
		fmt.Printf("Failures:   %s\n", strings.Join(snap.Status.Failures, ", "))
	}
	if raw, ok := snap.Vars["rawFrameHex"].(string); ok {
		fmt.Printf("Raw Frame:  %s\n", raw)
	}

	decoded, ok := snap.Vars["frameDecoded"].(protocol.DecodedView)
	if !ok {
		return
	}

	fmt.Println("Frame Info:")
	fmt.Printf("  start=%s code=%s declared_len=%d actual_len=%d checksum=%s length_match=%v\n",
		decoded.Header.StartByteHex, decoded.Header.FrameCodeHex,
		decoded.Header.DeclaredLen, decoded.Header.ActualLen,
		decoded.Header.ChecksumHex, decoded.Header.LengthMatch)

	if decoded.PayloadHex != "" {
		fmt.Printf("Payload:    %s\n", decoded.PayloadHex)
	}

	if len(decoded.WordsLE) > 0 {
		shown := decoded.WordsLE
		suffix := ""
		if len(shown) > 8 {
			shown = shown[:8]
			suffix = ", ..."
		}
		parts := make([]string, len(shown))
		for i, w := range shown {
			parts[i] = fmt.Sprintf("%d", w)
		}
		fmt.Printf("Words LE:   [%s%s]\n", strings.Join(parts, ", "), suffix)
	}

	metrics := decoded.LikelyMetrics
	fmt.Println("Likely Metrics (experimental):")
	fmt.Printf("  mapping_confidence: %s\n", metrics.MappingConfidence)
	printEstMetric("VInput (V)", metrics.VInputEst)
	printEstMetric("VOutput (V)", metrics.VOutputEst)
	printEstMetric("FOutput (Hz)", metrics.FOutputEst)
	printEstMetric("POutput (%)", metrics.POutputEst)
	printEstMetric("VBattery (V)", metrics.VBatteryEst)
	printEstMetric("CBattery (%)", metrics.CBatteryEst)
	printEstMetric("Temperature (C)", metrics.TemperatureEst)
}

func printEstMetric(label string, value *float64) {
	if value == nil {
		return
	}
	fmt.Printf("  %-16s ~ %.2f\n", label, *value)
}
