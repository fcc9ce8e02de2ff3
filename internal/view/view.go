// Package view implements the interactive terminal graph viewer (`view`
// subcommand): a bubbletea program that ticks the Monitor on its own
// effective interval and renders a rolling window of the seven telemetry
// metrics as text sparklines inside a scrollable viewport.
package view

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nobreak/internal/monitor"
	"nobreak/internal/snapshot"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("6"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	copyNoticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)
)

type tickMsg struct{}

// Model is the bubbletea model driving the viewer. Not safe for concurrent
// use; bubbletea itself is single-threaded per program.
type Model struct {
	mon       *monitor.Monitor
	windowSec float64

	series  []*series
	latest  snapshot.Snapshot
	haveAny bool

	start time.Time

	viewport    viewport.Model
	width       int
	height      int
	copyNotice  bool
	quitMessage string
}

// New constructs a viewer Model over mon with a rolling window of
// windowSec seconds (the `view` subcommand's `--window-sec` flag).
func New(mon *monitor.Monitor, windowSec float64) Model {
	m := Model{
		mon:       mon,
		windowSec: windowSec,
		start:     time.Now(),
		viewport:  viewport.New(80, 20),
	}
	for _, key := range metricKeys {
		m.series = append(m.series, newSeries(key))
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tickCmd(m.mon.EffectiveInterval())
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "y":
			m.copyNotice = false
			if m.haveAny {
				if data, err := json.MarshalIndent(m.latest, "", "  "); err == nil {
					if clipboard.WriteAll(string(data)) == nil {
						m.copyNotice = true
					}
				}
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tickMsg:
		snap := m.mon.Tick()
		m.latest = snap
		m.haveAny = true
		m.copyNotice = false

		elapsed := time.Since(m.start).Seconds()
		for i, key := range metricKeys {
			if value, ok := asFloat(snap.Vars[key.field]); ok {
				m.series[i].push(elapsed, value, m.windowSec)
			}
		}

		m.viewport.SetContent(m.renderBody())
		return m, tickCmd(m.mon.EffectiveInterval())
	}

	return m, nil
}

func (m Model) View() string {
	header := headerStyle.Render("Nobreak Graph Viewer") + "  " + m.renderStatusLine()
	footer := footerStyle.Render("q: quit   y: copy latest snapshot json")
	if m.copyNotice {
		footer = copyNoticeStyle.Render("copied to clipboard") + "   " + footer
	}
	return header + "\n" + m.viewport.View() + "\n" + footer
}

func (m Model) renderStatusLine() string {
	if !m.haveAny {
		return "waiting for first snapshot..."
	}
	snap := m.latest
	confidence := "n/a"
	if v, ok := snap.Vars["metricsConfidence"].(string); ok {
		confidence = v
	}
	return fmt.Sprintf(
		"connected=%v stale=%v age_ms=%d rtt_ms=%d status=%s confidence=%s window=%.0fs",
		snap.Device.Connected, snap.Fresh.Stale, snap.Fresh.AgeMs, snap.Fresh.RTTMs,
		snap.Status.Code, confidence, m.windowSec,
	)
}

func (m Model) renderBody() string {
	var b strings.Builder
	width := m.width - 4
	if width <= 0 {
		width = 60
	}

	for i, s := range m.series {
		last, ok := s.last()
		lastStr := "--"
		if ok {
			lastStr = fmt.Sprintf("%.2f", last)
		}
		line := lipgloss.NewStyle().Foreground(lipgloss.Color(metricKeys[i].color)).Render(s.sparkline(width))
		fmt.Fprintf(&b, "%-16s %8s  %s\n", metricKeys[i].label, lastStr, line)
	}
	return b.String()
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
