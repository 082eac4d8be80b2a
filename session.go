package voltacq

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// RunState is used to indicate the idle/running/stopping state of an acquisition session.
type RunState int

// Names for the possible values of RunState
const (
	Idle          RunState = iota // No device task is open
	Running                       // Acquiring; the polling loop re-arms after every tick
	StopRequested                 // Stop was asked for; the next tick tears down
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case StopRequested:
		return "StopRequested"
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// Batch is one aligned block of scaled samples: Channels[c][i] for every channel c was
// taken at the same instant i. FirstIndex is the sample counter of sample 0.
type Batch struct {
	FirstIndex int64
	Channels   [][]float64
}

// Len returns the number of samples per channel.
func (b Batch) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Session owns one acquisition device task: its lifecycle, the per-channel scales and the
// sample counter. The state is guarded so a control surface on another goroutine may
// request a stop; everything else is called from the polling loop only.
type Session struct {
	source   SampleSource
	sink     WaveformSink
	trigger  *TriggerGenerator
	config   SessionConfig
	channels []ChannelConfig
	counter  atomic.Int64 // samples per channel distributed this run; a row index, never a clock

	state     RunState
	stateLock sync.Mutex // guards state
}

// NewSession creates an Idle session on the given devices. The sink may be nil when the
// camera trigger is never used.
func NewSession(source SampleSource, sink WaveformSink) *Session {
	return &Session{source: source, sink: sink}
}

// State returns the current RunState.
func (s *Session) State() RunState {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.state
}

// Counter returns the number of samples per channel distributed so far in this run.
func (s *Session) Counter() int64 {
	return s.counter.Load()
}

// Config returns the configuration of the current or most recent run.
func (s *Session) Config() SessionConfig {
	return s.config
}

// Channels returns the channel configurations, scales included, of the current run.
func (s *Session) Channels() []ChannelConfig {
	return s.channels
}

// Start opens and starts the device tasks for one run. Steps are: 1) check the session is
// Idle and the configuration is sane; 2) compute one scale per channel; 3) register the
// scales, then configure and start the input task; 4) start the camera trigger, only once
// the input is already running so the first pulse cannot precede data capture.
// On any failure the session stays Idle and whatever was opened is released.
func (s *Session) Start(cfg SessionConfig) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state != Idle {
		return &AlreadyRunningError{State: s.state}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.TriggerEnabled && s.sink == nil {
		return &ConfigError{Field: KeyTriggerCamera, Err: errors.New("camera trigger requested but no output device is available")}
	}

	channels := make([]ChannelConfig, len(cfg.Channels))
	for i, cs := range cfg.Channels {
		scale, err := ComputeScale(cs.VoltageMin, cs.VoltageMax, cs.SensorMin, cs.SensorMax, cs.Units)
		if err != nil {
			return &ConfigError{Field: channelKey(i, "maxvoltage"), Err: err}
		}
		channels[i] = ChannelConfig{
			PhysicalID: cs.PhysicalID,
			VoltageMin: cs.VoltageMin,
			VoltageMax: cs.VoltageMax,
			Terminal:   cs.Terminal,
			Units:      UnitsFromCustomScale,
			ScaleName:  scaleName(i),
			Scale:      scale,
		}
	}

	for _, ch := range channels {
		if err := s.source.RegisterScale(ch.ScaleName, ch.Scale); err != nil {
			s.releaseSource()
			return &DeviceError{Op: "register scale " + ch.ScaleName, Err: err}
		}
	}
	if err := s.source.Configure(channels, cfg.SampleRateHz, cfg.BufferDepthSamples(), ContinuousAcquisition); err != nil {
		s.releaseSource()
		return &DeviceError{Op: "configure input", Err: err}
	}
	if err := s.source.Start(); err != nil {
		s.releaseSource()
		return &DeviceError{Op: "start input", Err: err}
	}

	var trigger *TriggerGenerator
	if cfg.TriggerEnabled {
		trigger = NewTriggerGenerator(s.sink, cfg.TriggerChannel)
		if err := trigger.Start(cfg.SampleRateHz); err != nil {
			if serr := s.source.Stop(); serr != nil {
				ProblemLogger.Warn("stopping input after failed trigger start", zap.Error(serr))
			}
			s.releaseSource()
			return err
		}
	}

	s.config = cfg
	s.channels = channels
	s.trigger = trigger
	s.counter.Store(0)
	s.state = Running
	return nil
}

func (s *Session) releaseSource() {
	if err := s.source.Close(); err != nil {
		ProblemLogger.Warn("releasing input after failed start", zap.Error(err))
	}
}

// Drain reads one batch if every channel has at least BatchSize samples ready.
// Otherwise it returns ok=false without side effects: between ticks that is the normal case.
func (s *Session) Drain() (batch Batch, ok bool, err error) {
	available, err := s.source.AvailableSamples()
	if err != nil {
		return Batch{}, false, &DeviceError{Op: "query available samples", Err: err}
	}
	if len(available) != len(s.channels) {
		return Batch{}, false, &DeviceError{Op: "query available samples",
			Err: fmt.Errorf("source reports %d channels, want %d", len(available), len(s.channels))}
	}
	for _, n := range available {
		if n < s.config.BatchSize {
			return Batch{}, false, nil
		}
	}

	data, err := s.source.Read(s.config.BatchSize)
	if err != nil {
		return Batch{}, false, &DeviceError{Op: "read", Err: err}
	}
	if len(data) != len(s.channels) {
		return Batch{}, false, &DeviceError{Op: "read", Err: fmt.Errorf("read returned %d channels, want %d", len(data), len(s.channels))}
	}
	for c, values := range data {
		if len(values) != s.config.BatchSize {
			return Batch{}, false, &DeviceError{Op: "read",
				Err: fmt.Errorf("channel %d returned %d samples, want %d", c, len(values), s.config.BatchSize)}
		}
	}
	return Batch{FirstIndex: s.counter.Load(), Channels: data}, true, nil
}

// Advance moves the sample counter past a distributed batch of n samples.
func (s *Session) Advance(n int) {
	s.counter.Add(int64(n))
}

// RequestStop flags a Running session to stop at its next tick. It has no immediate effect
// on the devices and is a no-op in any other state.
func (s *Session) RequestStop() {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state == Running {
		s.state = StopRequested
	}
}

// Teardown stops and releases the input task, then the trigger output task. The output is
// torn down even if the input teardown fails, so no free-running output task is orphaned.
// The session is Idle afterwards whatever the errors.
func (s *Session) Teardown() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state == Idle {
		return nil
	}

	var errs []error
	if err := s.source.Stop(); err != nil {
		errs = append(errs, &DeviceError{Op: "stop input", Err: err})
	}
	if err := s.source.Close(); err != nil {
		errs = append(errs, &DeviceError{Op: "close input", Err: err})
	}
	if s.trigger != nil {
		if err := s.trigger.Stop(); err != nil {
			errs = append(errs, err)
		}
		s.trigger = nil
	}
	s.state = Idle
	return errors.Join(errs...)
}
