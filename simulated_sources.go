package voltacq

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// SimulatedSource is a SampleSource that synthesizes sine waves paced by the wall clock, so
// the program can run with no acquisition hardware. Samples accumulate at the configured rate
// between reads exactly as they would in a device buffer, and the buffer overflows if they are
// not read in time.
type SimulatedSource struct {
	Frequency float64 // Hz
	Amplitude float64 // volts
	Offset    float64 // volts
	Noise     float64 // rms volts of added gaussian noise; 0 for none

	now      func() time.Time
	noise    distuv.Normal
	scales   map[string]ScaleParameters
	channels []ChannelConfig
	rate     int
	depth    int
	started  time.Time
	running  bool
	consumed int64
	sync.Mutex
}

// NewSimulatedSource creates a SimulatedSource whose channels all carry the given sine wave,
// each channel a quarter cycle behind the previous one.
func NewSimulatedSource(frequency, amplitude, offset float64) *SimulatedSource {
	return &SimulatedSource{
		Frequency: frequency,
		Amplitude: amplitude,
		Offset:    offset,
		now:       time.Now,
		scales:    make(map[string]ScaleParameters),
	}
}

// RegisterScale stores a named scale for later use by Configure.
func (ss *SimulatedSource) RegisterScale(name string, scale ScaleParameters) error {
	ss.Lock()
	defer ss.Unlock()
	if ss.running {
		return errors.New("cannot register a scale while running")
	}
	ss.scales[name] = scale
	return nil
}

// Configure sets up the channels, the sample rate and the buffer depth.
func (ss *SimulatedSource) Configure(channels []ChannelConfig, sampleRateHz int, bufferDepthSamples int, mode AcquisitionMode) error {
	ss.Lock()
	defer ss.Unlock()
	if ss.running {
		return errors.New("cannot configure while running")
	}
	if mode != ContinuousAcquisition {
		return fmt.Errorf("simulated source supports only continuous acquisition, not %s", mode)
	}
	if sampleRateHz <= 0 || bufferDepthSamples <= 0 {
		return fmt.Errorf("sample rate %d and buffer depth %d must be positive", sampleRateHz, bufferDepthSamples)
	}
	for _, ch := range channels {
		if ch.Units != UnitsFromCustomScale {
			continue
		}
		if _, ok := ss.scales[ch.ScaleName]; !ok {
			return fmt.Errorf("channel %s uses unregistered scale %q", ch.PhysicalID, ch.ScaleName)
		}
	}
	ss.channels = append([]ChannelConfig(nil), channels...)
	ss.rate = sampleRateHz
	ss.depth = bufferDepthSamples
	ss.noise = distuv.Normal{Mu: 0, Sigma: ss.Noise}
	return nil
}

// Start begins the (simulated) sample clock.
func (ss *SimulatedSource) Start() error {
	ss.Lock()
	defer ss.Unlock()
	if len(ss.channels) == 0 {
		return errors.New("simulated source is not configured")
	}
	ss.started = ss.now()
	ss.running = true
	ss.consumed = 0
	return nil
}

func (ss *SimulatedSource) waiting() int64 {
	elapsed := ss.now().Sub(ss.started)
	rate := int64(ss.rate)
	produced := int64(elapsed/time.Second)*rate + int64(elapsed%time.Second)*rate/int64(time.Second)
	return produced - ss.consumed
}

// AvailableSamples reports the samples waiting in each channel's buffer.
func (ss *SimulatedSource) AvailableSamples() ([]int, error) {
	ss.Lock()
	defer ss.Unlock()
	if !ss.running {
		return nil, errors.New("simulated source is not running")
	}
	n := ss.waiting()
	if n > int64(ss.depth) {
		return nil, fmt.Errorf("buffer overflow: %d samples waiting, depth %d", n, ss.depth)
	}
	available := make([]int, len(ss.channels))
	for i := range available {
		available[i] = int(n)
	}
	return available, nil
}

// Read returns exactly n scaled samples per channel, which must already be waiting.
func (ss *SimulatedSource) Read(n int) ([][]float64, error) {
	ss.Lock()
	defer ss.Unlock()
	if !ss.running {
		return nil, errors.New("simulated source is not running")
	}
	if w := ss.waiting(); w < int64(n) {
		return nil, fmt.Errorf("asked for %d samples, only %d waiting", n, w)
	}
	data := make([][]float64, len(ss.channels))
	for c, ch := range ss.channels {
		scale, custom := ss.scales[ch.ScaleName]
		custom = custom && ch.Units == UnitsFromCustomScale
		phase := float64(c) * math.Pi / 2
		values := make([]float64, n)
		for i := range values {
			t := float64(ss.consumed+int64(i)) / float64(ss.rate)
			v := ss.Offset + ss.Amplitude*math.Sin(2*math.Pi*ss.Frequency*t-phase)
			if ss.Noise > 0 {
				v += ss.noise.Rand()
			}
			v = math.Max(ch.VoltageMin, math.Min(ch.VoltageMax, v))
			if custom {
				v = scale.Apply(v)
			}
			values[i] = v
		}
		data[c] = values
	}
	ss.consumed += int64(n)
	return data, nil
}

// Stop halts the sample clock.
func (ss *SimulatedSource) Stop() error {
	ss.Lock()
	defer ss.Unlock()
	ss.running = false
	return nil
}

// Close releases the channels and registered scales.
func (ss *SimulatedSource) Close() error {
	ss.Lock()
	defer ss.Unlock()
	ss.running = false
	ss.channels = nil
	ss.scales = make(map[string]ScaleParameters)
	return nil
}

// SimulatedWaveformSink is a WaveformSink that only remembers what it was asked to play.
type SimulatedWaveformSink struct {
	channel       string
	rateHz        float64
	periodSamples int
	waveform      []float64
	configured    bool
	playing       bool
	sync.Mutex
}

// NewSimulatedWaveformSink creates an idle SimulatedWaveformSink.
func NewSimulatedWaveformSink() *SimulatedWaveformSink {
	return new(SimulatedWaveformSink)
}

// Configure records the output channel, clock rate and period.
func (sw *SimulatedWaveformSink) Configure(channel string, rateHz float64, periodSamples int) error {
	sw.Lock()
	defer sw.Unlock()
	if sw.playing {
		return errors.New("cannot configure while playing")
	}
	sw.channel = channel
	sw.rateHz = rateHz
	sw.periodSamples = periodSamples
	sw.configured = true
	return nil
}

// WriteLoop starts "playing" one period of samples in a loop.
func (sw *SimulatedWaveformSink) WriteLoop(samples []float64) error {
	sw.Lock()
	defer sw.Unlock()
	if !sw.configured {
		return errors.New("waveform sink is not configured")
	}
	if len(samples) != sw.periodSamples {
		return fmt.Errorf("waveform has %d samples, want one period of %d", len(samples), sw.periodSamples)
	}
	sw.waveform = append([]float64(nil), samples...)
	sw.playing = true
	return nil
}

// Stop ends playback.
func (sw *SimulatedWaveformSink) Stop() error {
	sw.Lock()
	defer sw.Unlock()
	sw.playing = false
	return nil
}

// Close releases the output channel.
func (sw *SimulatedWaveformSink) Close() error {
	sw.Lock()
	defer sw.Unlock()
	sw.playing = false
	sw.configured = false
	return nil
}

// Playing says whether a waveform is looping.
func (sw *SimulatedWaveformSink) Playing() bool {
	sw.Lock()
	defer sw.Unlock()
	return sw.playing
}

// PulseRate returns the frequency at which the looping waveform repeats, 0 if not playing.
func (sw *SimulatedWaveformSink) PulseRate() float64 {
	sw.Lock()
	defer sw.Unlock()
	if !sw.playing || sw.periodSamples == 0 {
		return 0
	}
	return sw.rateHz / float64(sw.periodSamples)
}
