package voltacq

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparkline(t *testing.T) {
	line := sparkline("ai0", []float64{0, 1, 2, 3, 4, 5, 6, 7}, 80)
	assert.Equal(t, "ai0 │▁▂▃▄▅▆▇█│ [0.000, 7.000]", line)

	flat := sparkline("ai0", []float64{3, 3, 3}, 80)
	assert.Equal(t, "ai0 │▁▁▁│ [3.000, 3.000]", flat)

	// A long window is averaged down to fit the width.
	long := make([]float64, 1000)
	for i := range long {
		long[i] = float64(i)
	}
	line = sparkline("ai0", long, 40)
	assert.Equal(t, 40, len([]rune(line)))
	assert.True(t, strings.HasPrefix(line, "ai0 │▁"))

	assert.Equal(t, "empty ││", sparkline("empty", nil, 80))
}

func TestSparklineNonFinite(t *testing.T) {
	assert.Equal(t, "ch │▁▁█│ [1.000, 2.000]", sparkline("ch", []float64{1, math.NaN(), 2}, 80))
	assert.Equal(t, "ch │▁▁│ [0.000, +Inf]", sparkline("ch", []float64{0, math.Inf(1)}, 80))
	assert.NotPanics(t, func() { sparkline("ch", []float64{math.NaN(), 1, math.Inf(-1)}, 80) })

	var buf bytes.Buffer
	td := NewTermDisplay(&buf, 80)
	require.NoError(t, td.Render("ch", []float64{1, math.NaN(), 2}))
	assert.Contains(t, buf.String(), "ch │")
}

func TestTermDisplayAppendsWhenNotATerminal(t *testing.T) {
	var b bytes.Buffer
	td := NewTermDisplay(&b, 80)
	require.NoError(t, td.Render("ai0", []float64{0, 1}))
	require.NoError(t, td.ShowStatistics([]WindowStats{{Channel: 0, Title: "ai0", Units: "Pa", Mean: 0.5, Max: 1, Min: 0}}))

	lines := strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n")
	require.Len(t, lines, 3, "each redraw appends the whole block")
	assert.Equal(t, "ai0 │▁█│ [0.000, 1.000]", lines[0])
	assert.Equal(t, lines[0], lines[1])
	assert.Equal(t, "ai0  mean 0.500  max 1.000  min 0.000 Pa", lines[2])
	assert.NotContains(t, b.String(), "\x1b[")
}
