package voltacq

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/term"
	"gonum.org/v1/gonum/floats"
)

const (
	terminalWidthBackup = 80
	minSparkWidth       = 10
	clearLine           = "\x1b[2K"
)

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// TermDisplay draws the rolling windows as one sparkline per channel, with the latest
// statistics below them. On a terminal the block is redrawn in place; on any other writer
// each update is appended.
type TermDisplay struct {
	w           io.Writer
	width       int
	interactive bool

	sync.Mutex
	titles []string // in first-seen order
	lines  map[string]string
	stats  []string
	drawn  int
}

// NewTermDisplay creates a TermDisplay writing to w. A width of 0 means the terminal width
// (or 80 columns when w is not a terminal).
func NewTermDisplay(w io.Writer, width int) *TermDisplay {
	interactive := isTerminal(w)
	if width <= 0 {
		width = terminalWidth(w)
	}
	return &TermDisplay{w: w, width: width, interactive: interactive, lines: make(map[string]string)}
}

// Render draws one channel's window.
func (td *TermDisplay) Render(title string, values []float64) error {
	td.Lock()
	defer td.Unlock()
	if _, ok := td.lines[title]; !ok {
		td.titles = append(td.titles, title)
	}
	td.lines[title] = sparkline(title, values, td.width)
	return td.redraw()
}

// ShowStatistics draws the statistics of the latest batch.
func (td *TermDisplay) ShowStatistics(stats []WindowStats) error {
	td.Lock()
	defer td.Unlock()
	sorted := append([]WindowStats(nil), stats...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Channel < sorted[j].Channel })
	td.stats = td.stats[:0]
	for _, s := range sorted {
		td.stats = append(td.stats, fmt.Sprintf("%s  mean %4.3f  max %4.3f  min %4.3f %s",
			s.Title, s.Mean, s.Max, s.Min, s.Units))
	}
	return td.redraw()
}

func (td *TermDisplay) redraw() error {
	var b strings.Builder
	if td.interactive && td.drawn > 0 {
		fmt.Fprintf(&b, "\x1b[%dA", td.drawn)
	}
	n := 0
	emit := func(line string) {
		if td.interactive {
			b.WriteString(clearLine)
		}
		b.WriteString(line)
		b.WriteByte('\n')
		n++
	}
	for _, title := range td.titles {
		emit(td.lines[title])
	}
	for _, line := range td.stats {
		emit(line)
	}
	td.drawn = n
	_, err := io.WriteString(td.w, b.String())
	return err
}

// sparkline renders values as "title │▁▃▇…│ [min, max]", averaging the values into
// however many columns fit the width.
func sparkline(title string, values []float64, width int) string {
	if len(values) == 0 {
		return title + " ││"
	}
	lo, hi := floats.Min(values), floats.Max(values)
	label := fmt.Sprintf(" [%.3f, %.3f]", lo, hi)
	cols := width - utf8.RuneCountInString(title) - utf8.RuneCountInString(label) - 3
	if cols < minSparkWidth {
		cols = minSparkWidth
	}
	if cols > len(values) {
		cols = len(values)
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString(" │")
	for c := 0; c < cols; c++ {
		start := c * len(values) / cols
		end := (c + 1) * len(values) / cols
		mean := floats.Sum(values[start:end]) / float64(end-start)
		level := 0
		if hi > lo && !math.IsNaN(mean) && !math.IsInf(mean, 0) {
			level = int((mean - lo) / (hi - lo) * float64(len(sparkLevels)-1))
			level = min(max(level, 0), len(sparkLevels)-1)
		}
		b.WriteRune(sparkLevels[level])
	}
	b.WriteString("│")
	b.WriteString(label)
	return b.String()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func terminalWidth(w io.Writer) int {
	file, ok := w.(*os.File)
	if !ok {
		return terminalWidthBackup
	}
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}
