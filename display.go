package voltacq

import (
	"errors"

	"github.com/usnistgov/voltacq/ringbuffer"
)

// DisplaySink presents a data vector. Pure presentation: nothing flows back to the core.
type DisplaySink interface {
	Render(title string, values []float64) error
}

// RollingDisplay keeps one rolling window per channel and renders each full window
// (not just the new values) after every batch.
type RollingDisplay struct {
	sink    DisplaySink
	titles  []string
	windows []*ringbuffer.Rolling
}

// NewRollingDisplay creates zero-filled windows of the given capacity, one per title.
func NewRollingDisplay(sink DisplaySink, titles []string, capacity int) (*RollingDisplay, error) {
	rd := &RollingDisplay{sink: sink, titles: titles}
	for range titles {
		w, err := ringbuffer.NewRolling(capacity)
		if err != nil {
			return nil, err
		}
		rd.windows = append(rd.windows, w)
	}
	return rd, nil
}

// Name identifies the consumer in logs and metrics.
func (rd *RollingDisplay) Name() string { return "display" }

// Consume pushes each channel of the batch into its window, then renders the windows.
// A failed render of one channel does not keep the others from rendering.
func (rd *RollingDisplay) Consume(batch Batch) error {
	var errs []error
	for c, values := range batch.Channels {
		if c >= len(rd.windows) {
			break
		}
		rd.windows[c].Push(values)
		if rd.sink == nil {
			continue
		}
		if err := rd.sink.Render(rd.titles[c], rd.windows[c].Snapshot()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Window returns a copy of channel c's current window.
func (rd *RollingDisplay) Window(c int) []float64 {
	return rd.windows[c].Snapshot()
}
