package voltacq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Colours of the recording indicator.
const (
	IndicatorRecording = "green"
	IndicatorIdle      = "gray"
)

// Status is a snapshot of the control surface, suitable for JSON publication.
type Status struct {
	State           string
	Running         bool
	StartEnabled    bool
	Indicator       string
	RunID           string
	Samples         int64
	Channels        []string
	Units           []string
	SampleRateHz    int
	BatchSize       int
	DestinationPath string
	TriggerEnabled  bool
	LastError       string
}

// RunRecord describes one acquisition run for a RunRecorder.
type RunRecord struct {
	ID              string
	Start           time.Time
	End             time.Time
	Channels        []string
	Units           []string
	SampleRateHz    int
	BatchSize       int
	DestinationPath string
	TriggerEnabled  bool
	Samples         int64
	Error           string
}

// RunRecorder keeps a log of acquisition runs, e.g. in a database.
type RunRecorder interface {
	RecordStart(rec RunRecord) error
	RecordFinish(rec RunRecord) error
}

// StatusSink receives a Status whenever the control state changes.
type StatusSink interface {
	PublishStatus(Status)
}

// ControlOptions are the optional collaborators of a Control. Any of them may be nil.
type ControlOptions struct {
	Display    DisplaySink
	Statistics StatisticsSink
	Status     StatusSink
	Metrics    *Metrics
	Runs       RunRecorder
}

// Control is the surface a user (or the RPC server) drives: start, stop, and status.
// StartTask runs on the caller's goroutine; the run itself continues on the polling loop's.
type Control struct {
	session *Session
	opts    ControlOptions

	sync.Mutex
	startEnabled bool
	record       RunRecord
	lastErr      error
	done         chan struct{}
}

// NewControl creates a Control over the given input source and trigger output sink.
// The sink may be nil if the camera trigger is never requested.
func NewControl(source SampleSource, sink WaveformSink, opts ControlOptions) *Control {
	return &Control{
		session:      NewSession(source, sink),
		opts:         opts,
		startEnabled: true,
	}
}

// StartTask reads the configuration, starts a session and launches its polling loop.
// Nothing is opened if the configuration cannot be read, and an invalid trigger flag
// is always reported before any device access.
func (c *Control) StartTask(p ConfigProvider) error {
	rec, loop, interval, err := c.startTask(p)
	if err != nil {
		return err
	}
	// Outside the lock, and before the loop can record the finish.
	if c.opts.Runs != nil {
		if err := c.opts.Runs.RecordStart(rec); err != nil {
			ProblemLogger.Warn("could not record run start", zap.String("runID", rec.ID), zap.Error(err))
		}
	}
	loop.Run(interval, c.finished)
	c.publishStatus()
	return nil
}

func (c *Control) startTask(p ConfigProvider) (RunRecord, *PollingLoop, time.Duration, error) {
	c.Lock()
	defer c.Unlock()
	if !c.startEnabled {
		state := c.session.State()
		if state == Idle {
			// teardown done, onFinish not yet run
			state = StopRequested
		}
		return RunRecord{}, nil, 0, &AlreadyRunningError{State: state}
	}

	cfg, err := ReadSessionConfig(p)
	if err != nil {
		c.lastErr = err
		return RunRecord{}, nil, 0, err
	}
	consumers, err := c.buildConsumers(cfg)
	if err != nil {
		c.lastErr = err
		return RunRecord{}, nil, 0, err
	}
	if err := c.session.Start(*cfg); err != nil {
		c.lastErr = err
		ProblemLogger.Error("could not start acquisition", zap.Error(err))
		return RunRecord{}, nil, 0, err
	}

	c.startEnabled = false
	c.lastErr = nil
	c.done = make(chan struct{})
	c.record = RunRecord{
		ID:              ulid.Make().String(),
		Start:           time.Now(),
		Channels:        channelIDs(cfg),
		Units:           channelUnits(cfg),
		SampleRateHz:    cfg.SampleRateHz,
		BatchSize:       cfg.BatchSize,
		DestinationPath: cfg.DestinationPath,
		TriggerEnabled:  cfg.TriggerEnabled,
	}
	UpdateLogger.Info("acquisition started",
		zap.String("runID", c.record.ID),
		zap.String("destination", cfg.DestinationPath),
		zap.String("config", spew.Sdump(cfg)))

	loop := NewPollingLoop(c.session, consumers, c.opts.Metrics)
	return c.record, loop, cfg.PollInterval, nil
}

// buildConsumers returns the consumers in their fixed order: persistence, display,
// then (if enabled) statistics.
func (c *Control) buildConsumers(cfg *SessionConfig) ([]Consumer, error) {
	titles := make([]string, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		titles[i] = fmt.Sprintf("%s (%s)", ch.PhysicalID, ch.Units)
	}
	display, err := NewRollingDisplay(c.opts.Display, titles, cfg.DisplayCapacity)
	if err != nil {
		return nil, &ConfigError{Field: KeyDisplayCapacity, Err: err}
	}
	consumers := []Consumer{NewPersistenceWriter(cfg.DestinationPath), display}
	if cfg.StatisticsEnabled {
		consumers = append(consumers, NewWindowedStatistics(c.opts.Statistics, titles, channelUnits(cfg)))
	}
	return consumers, nil
}

// finished runs on the loop goroutine once the session is torn down.
func (c *Control) finished(err error) {
	c.Lock()
	c.lastErr = err
	c.startEnabled = true
	c.record.End = time.Now()
	c.record.Samples = c.session.Counter()
	if err != nil {
		c.record.Error = err.Error()
	}
	rec := c.record
	done := c.done
	c.Unlock()

	if c.opts.Runs != nil {
		if rerr := c.opts.Runs.RecordFinish(rec); rerr != nil {
			ProblemLogger.Warn("could not record run end", zap.String("runID", rec.ID), zap.Error(rerr))
		}
	}
	close(done)
	c.publishStatus()
}

// StopTask requests the running acquisition to stop at its next tick. Safe to call at any
// time and any number of times.
func (c *Control) StopTask() {
	c.session.RequestStop()
	c.publishStatus()
}

// Wait blocks until the current run (if any) has been torn down and returns its terminal
// error, or until ctx is done.
func (c *Control) Wait(ctx context.Context) error {
	c.Lock()
	done := c.done
	c.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.Lock()
	defer c.Unlock()
	return c.lastErr
}

// Status returns a snapshot of the control state.
func (c *Control) Status() Status {
	c.Lock()
	defer c.Unlock()
	state := c.session.State()
	s := Status{
		State:           state.String(),
		Running:         state != Idle,
		StartEnabled:    c.startEnabled,
		Indicator:       IndicatorIdle,
		RunID:           c.record.ID,
		Samples:         c.session.Counter(),
		Channels:        c.record.Channels,
		Units:           c.record.Units,
		SampleRateHz:    c.record.SampleRateHz,
		BatchSize:       c.record.BatchSize,
		DestinationPath: c.record.DestinationPath,
		TriggerEnabled:  c.record.TriggerEnabled,
	}
	if state == Running {
		s.Indicator = IndicatorRecording
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Control) publishStatus() {
	if c.opts.Status != nil {
		c.opts.Status.PublishStatus(c.Status())
	}
}

func channelIDs(cfg *SessionConfig) []string {
	ids := make([]string, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		ids[i] = ch.PhysicalID
	}
	return ids
}

func channelUnits(cfg *SessionConfig) []string {
	units := make([]string, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		units[i] = ch.Units
	}
	return units
}
