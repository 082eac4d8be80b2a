package voltacq

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Trigger defaults: one period of 50 output samples, high level at the device full scale.
const (
	DefaultTriggerPeriodSamples = 50
	DefaultTriggerHighValue     = 5.0
	DefaultTriggerChannel       = "Dev1/ao0"
)

// TriggerWaveform is one cycle of a 50%-duty square wave: half a period low (0), then half high.
type TriggerWaveform struct {
	PeriodSamples int
	HighValue     float64
	DutyFraction  float64
}

// NewTriggerWaveform returns a square wave of the given period, which must be positive and even.
func NewTriggerWaveform(periodSamples int, highValue float64) (TriggerWaveform, error) {
	if periodSamples <= 0 || periodSamples%2 != 0 {
		return TriggerWaveform{}, fmt.Errorf("trigger period %d samples, want a positive even number", periodSamples)
	}
	return TriggerWaveform{PeriodSamples: periodSamples, HighValue: highValue, DutyFraction: 0.5}, nil
}

// Samples returns exactly one period of the waveform.
func (w TriggerWaveform) Samples() []float64 {
	out := make([]float64, w.PeriodSamples)
	for i := w.PeriodSamples / 2; i < w.PeriodSamples; i++ {
		out[i] = w.HighValue
	}
	return out
}

// ClockRate is the output sample clock that makes one waveform period last one input
// sample period, so the pulse frequency equals the acquisition sample rate.
func (w TriggerWaveform) ClockRate(sampleRateHz int) float64 {
	return float64(sampleRateHz) * float64(w.PeriodSamples)
}

// TriggerGenerator runs the camera trigger as a free-running waveform on a WaveformSink.
// Its lifecycle is independent of acquisition; the session only orders its start and stop.
type TriggerGenerator struct {
	sink     WaveformSink
	channel  string
	waveform TriggerWaveform
	running  bool
}

// NewTriggerGenerator creates a TriggerGenerator with the default waveform on the given
// output channel.
func NewTriggerGenerator(sink WaveformSink, channel string) *TriggerGenerator {
	if channel == "" {
		channel = DefaultTriggerChannel
	}
	w, _ := NewTriggerWaveform(DefaultTriggerPeriodSamples, DefaultTriggerHighValue)
	return &TriggerGenerator{sink: sink, channel: channel, waveform: w}
}

// Running says whether the output task is playing.
func (tg *TriggerGenerator) Running() bool {
	return tg.running
}

// Start configures the sink and writes one full period with auto-start. The sink then loops
// the period until Stop and needs no further writes.
func (tg *TriggerGenerator) Start(sampleRateHz int) error {
	if tg.running {
		return errors.New("trigger generator is already running")
	}
	rate := tg.waveform.ClockRate(sampleRateHz)
	if err := tg.sink.Configure(tg.channel, rate, tg.waveform.PeriodSamples); err != nil {
		tg.release()
		return &DeviceError{Op: "configure trigger output", Err: err}
	}
	if err := tg.sink.WriteLoop(tg.waveform.Samples()); err != nil {
		tg.release()
		return &DeviceError{Op: "write trigger waveform", Err: err}
	}
	tg.running = true
	UpdateLogger.Info("camera trigger started",
		zap.String("channel", tg.channel), zap.Float64("clockHz", rate),
		zap.Int("periodSamples", tg.waveform.PeriodSamples))
	return nil
}

// Stop halts and releases the output task.
func (tg *TriggerGenerator) Stop() error {
	if !tg.running {
		return nil
	}
	tg.running = false
	err := tg.sink.Stop()
	if cerr := tg.sink.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return &DeviceError{Op: "stop trigger output", Err: err}
	}
	UpdateLogger.Info("camera trigger stopped", zap.String("channel", tg.channel))
	return nil
}

func (tg *TriggerGenerator) release() {
	if err := tg.sink.Close(); err != nil {
		ProblemLogger.Warn("releasing trigger output after failed start", zap.Error(err))
	}
}
