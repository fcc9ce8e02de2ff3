// Package export writes the Snapshot stream to day-rotated JSON-lines
// files plus a pretty-printed latest.json, and periodically prunes files
// older than a retention window. One record per line, flushed
// immediately, rotated on UTC-day change.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nobreak/internal/snapshot"
)

const pruneInterval = 30 * time.Minute

const (
	filePrefix = "nobreak-"
	fileSuffix = ".jsonl"
	dateLayout = "2006-01-02"
)

// Writer owns the open append file for the current UTC day and rotates
// it as snapshot timestamps cross a day boundary.
type Writer struct {
	outDir        string
	retentionDays int
	currentDay    string
	file          *os.File
	lastPrune     time.Time
}

// New creates outDir if needed and opens (or appends to) today's file.
func New(outDir string, retentionDays int) (*Writer, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir %s: %w", outDir, err)
	}

	day := time.Now().UTC().Format(dateLayout)
	file, err := openDayFile(outDir, day)
	if err != nil {
		return nil, err
	}

	return &Writer{
		outDir:        outDir,
		retentionDays: retentionDays,
		currentDay:    day,
		file:          file,
		lastPrune:     time.Now().Add(-time.Hour),
	}, nil
}

func openDayFile(outDir, day string) (*os.File, error) {
	path := filepath.Join(outDir, filePrefix+day+fileSuffix)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open export file %s: %w", path, err)
	}
	return file, nil
}

// exportedRecord is the flattened record written to the JSON-lines file
// and latest.json: device identity and freshness at the top level, the
// seven metric estimates under "metrics", frame provenance under "meta".
type exportedRecord struct {
	TS         time.Time          `json:"ts"`
	UnixMs     int64              `json:"unix_ms"`
	DeviceID   string             `json:"device_id"`
	Model      string             `json:"model"`
	Transport  snapshot.Transport `json:"transport"`
	Connected  bool               `json:"connected"`
	Freshness  snapshot.Freshness `json:"freshness"`
	Status     snapshot.Status    `json:"status"`
	Metrics    metricsRecord      `json:"metrics"`
	Meta       metaRecord         `json:"meta"`
}

type metricsRecord struct {
	VInput      any `json:"vInput"`
	VOutput     any `json:"vOutput"`
	FOutput     any `json:"fOutput"`
	POutput     any `json:"pOutput"`
	VBattery    any `json:"vBattery"`
	CBattery    any `json:"cBattery"`
	Temperature any `json:"temperature"`
}

type metaRecord struct {
	MetricsConfidence any `json:"metricsConfidence"`
	RawFrameHex       any `json:"rawFrameHex"`
	RawFrameLen       any `json:"rawFrameLen"`
}

func toExportedRecord(snap snapshot.Snapshot) exportedRecord {
	return exportedRecord{
		TS:        snap.TS,
		UnixMs:    snap.TS.UnixMilli(),
		DeviceID:  snap.Device.ID,
		Model:     snap.Device.Model,
		Transport: snap.Device.Transport,
		Connected: snap.Device.Connected,
		Freshness: snap.Fresh,
		Status:    snap.Status,
		Metrics: metricsRecord{
			VInput:      snap.Vars["vInput"],
			VOutput:     snap.Vars["vOutput"],
			FOutput:     snap.Vars["fOutput"],
			POutput:     snap.Vars["pOutput"],
			VBattery:    snap.Vars["vBattery"],
			CBattery:    snap.Vars["cBattery"],
			Temperature: snap.Vars["temperature"],
		},
		Meta: metaRecord{
			MetricsConfidence: snap.Vars["metricsConfidence"],
			RawFrameHex:       snap.Vars["rawFrameHex"],
			RawFrameLen:       snap.Vars["rawFrameLen"],
		},
	}
}

// Write appends one snapshot as a JSON line, rotating the day file first
// if the snapshot's UTC day differs from the currently open one, then
// refreshes latest.json. Both writes are flushed immediately.
func (w *Writer) Write(snap snapshot.Snapshot) error {
	if err := w.rotateIfNeeded(snap.TS); err != nil {
		return err
	}

	record := toExportedRecord(snap)

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("write snapshot line: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("flush snapshot line: %w", err)
	}

	pretty, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal latest snapshot: %w", err)
	}
	latestPath := filepath.Join(w.outDir, "latest.json")
	if err := os.WriteFile(latestPath, pretty, 0o644); err != nil {
		return fmt.Errorf("write latest.json: %w", err)
	}

	return nil
}

func (w *Writer) rotateIfNeeded(ts time.Time) error {
	day := ts.UTC().Format(dateLayout)
	if day == w.currentDay {
		return nil
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close previous export file: %w", err)
	}
	file, err := openDayFile(w.outDir, day)
	if err != nil {
		return err
	}
	w.file = file
	w.currentDay = day
	return nil
}

// MaybePrune runs Prune at most once every 30 minutes of wall-clock
// time.
func (w *Writer) MaybePrune() error {
	if time.Since(w.lastPrune) < pruneInterval {
		return nil
	}
	w.lastPrune = time.Now()
	return Prune(w.outDir, w.retentionDays, time.Now())
}

// Close closes the currently open day file.
func (w *Writer) Close() error {
	return w.file.Close()
}

// Prune deletes every nobreak-YYYY-MM-DD.jsonl file whose encoded date
// is strictly older than now's UTC date minus retentionDays. Files that
// don't match the naming pattern are left untouched.
func Prune(outDir string, retentionDays int, now time.Time) error {
	today := now.UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return fmt.Errorf("read export dir %s: %w", outDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		datePart := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		fileDate, err := time.Parse(dateLayout, datePart)
		if err != nil {
			continue
		}

		if fileDate.Before(cutoff) {
			_ = os.Remove(filepath.Join(outDir, name))
		}
	}

	return nil
}
