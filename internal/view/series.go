package view

// metricKey describes one of the seven telemetry series plotted by the
// viewer, along with the color used for its sparkline.
type metricKey struct {
	field string
	label string
	color string
}

var metricKeys = []metricKey{
	{"vInput", "VInput (V)", "3"},
	{"vOutput", "VOutput (V)", "6"},
	{"vBattery", "VBattery (V)", "2"},
	{"cBattery", "CBattery (%)", "5"},
	{"fOutput", "FOutput (Hz)", "4"},
	{"temperature", "Temp (C)", "1"},
	{"pOutput", "POutput (%)", "11"},
}

// point is one (elapsed-seconds, value) sample.
type point struct {
	x float64
	y float64
}

// series holds a sliding window of samples for one metric, trimmed to
// windowSec of elapsed time on every push.
type series struct {
	key    metricKey
	points []point
}

func newSeries(key metricKey) *series {
	return &series{key: key}
}

func (s *series) push(x, y, windowSec float64) {
	s.points = append(s.points, point{x, y})
	cut := 0
	for cut < len(s.points) && x-s.points[cut].x > windowSec {
		cut++
	}
	if cut > 0 {
		s.points = s.points[cut:]
	}
}

// bounds returns [min, max] y bounds padded by 12%, widening a
// degenerate range to +-1 so a flat series still renders.
func (s *series) bounds() (min, max float64) {
	if len(s.points) == 0 {
		return 0, 1
	}
	min, max = s.points[0].y, s.points[0].y
	for _, p := range s.points[1:] {
		if p.y < min {
			min = p.y
		}
		if p.y > max {
			max = p.y
		}
	}
	if max-min < 1e-9 {
		return min - 1, max + 1
	}
	pad := (max - min) * 0.12
	return min - pad, max + pad
}

func (s *series) last() (float64, bool) {
	if len(s.points) == 0 {
		return 0, false
	}
	return s.points[len(s.points)-1].y, true
}

// sparkline renders the series as a fixed-width string of block glyphs
// scaled to the series' own bounds.
const sparkBlocks = " ▁▂▃▄▅▆▇█"

func (s *series) sparkline(width int) string {
	if width <= 0 || len(s.points) == 0 {
		return ""
	}
	min, max := s.bounds()
	span := max - min
	if span <= 0 {
		span = 1
	}

	start := 0
	if len(s.points) > width {
		start = len(s.points) - width
	}
	sample := s.points[start:]

	runes := make([]rune, 0, len(sample))
	levels := []rune(sparkBlocks)
	for _, p := range sample {
		frac := (p.y - min) / span
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		idx := int(frac * float64(len(levels)-1))
		runes = append(runes, levels[idx])
	}
	return string(runes)
}
