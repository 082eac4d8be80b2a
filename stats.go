package voltacq

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats are the summary statistics of one channel's batch.
type WindowStats struct {
	Channel int
	Title   string
	Units   string
	Mean    float64
	Max     float64
	Min     float64
	N       int
}

// ComputeWindowStats returns mean, max and min of values, which must not be empty.
func ComputeWindowStats(values []float64) WindowStats {
	return WindowStats{
		Mean: stat.Mean(values, nil),
		Max:  floats.Max(values),
		Min:  floats.Min(values),
		N:    len(values),
	}
}

// StatisticsSink receives the statistics of every channel after each batch.
type StatisticsSink interface {
	ShowStatistics(stats []WindowStats) error
}

// WindowedStatistics recomputes statistics from scratch for each batch; no history is kept.
type WindowedStatistics struct {
	sink   StatisticsSink
	titles []string
	units  []string
	latest []WindowStats
}

// NewWindowedStatistics creates the statistics consumer for channels with the given
// titles and units. The sink may be nil, in which case results are only kept as Latest.
func NewWindowedStatistics(sink StatisticsSink, titles, units []string) *WindowedStatistics {
	return &WindowedStatistics{sink: sink, titles: titles, units: units}
}

// Name identifies the consumer in logs and metrics.
func (ws *WindowedStatistics) Name() string { return "statistics" }

// Consume computes per-channel statistics of the batch and hands them to the sink.
func (ws *WindowedStatistics) Consume(batch Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := make([]WindowStats, len(batch.Channels))
	for c, values := range batch.Channels {
		results[c] = ComputeWindowStats(values)
		results[c].Channel = c
		if c < len(ws.titles) {
			results[c].Title = ws.titles[c]
		}
		if c < len(ws.units) {
			results[c].Units = ws.units[c]
		}
	}
	ws.latest = results
	if ws.sink == nil {
		return nil
	}
	return ws.sink.ShowStatistics(results)
}

// Latest returns the statistics of the most recent batch.
func (ws *WindowedStatistics) Latest() []WindowStats {
	return ws.latest
}
