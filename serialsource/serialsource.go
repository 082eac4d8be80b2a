// Package serialsource drives a microcontroller DAQ over a serial line, as a voltacq
// SampleSource and WaveformSink.
//
// The protocol is line based. The host sends "CONF <rate> <nchan>", "START" and "STOP" to
// the input device, which streams one line of comma-separated volts per sample instant:
// "<v0>,<v1>". The output device is sent "WAVE <channel> <rate> <v0> <v1> ..." to loop one
// waveform period, and "WAVESTOP" to halt it. Lines end with "\r\n".
package serialsource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/usnistgov/voltacq"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

var lineEnd = "\r\n"

// OutOfSyncError reports a received line that is not a valid sample row.
type OutOfSyncError struct {
	Line string
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[serialsource] malformed sample line %q", e.Line)
}

// ErrOverflow is returned once more samples arrived than the buffer depth allows.
var ErrOverflow = errors.New("serial input buffer overflow")

// Source is a SampleSource reading sample lines from a serial port. Received samples wait
// in a per-channel FIFO of the configured depth until read.
type Source struct {
	port     io.ReadWriteCloser
	portName string
	logger   *zap.Logger

	sync.Mutex // guards everything below
	scales     map[string]voltacq.ScaleParameters
	channels   []voltacq.ChannelConfig
	depth      int
	fifo       [][]float64
	overflow   bool
	running    bool
	readErr    error
	readerDone chan struct{}
	closed     bool
}

// Open opens the named serial port at the given baud rate.
func Open(portName string, baudrate int, logger *zap.Logger) (*Source, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudrate})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}
	return New(port, portName, logger), nil
}

// New creates a Source over an already open port.
func New(port io.ReadWriteCloser, portName string, logger *zap.Logger) *Source {
	return &Source{
		port:     port,
		portName: portName,
		logger:   logger,
		scales:   make(map[string]voltacq.ScaleParameters),
	}
}

func (s *Source) send(command string) error {
	_, err := io.WriteString(s.port, command+lineEnd)
	return err
}

// RegisterScale stores a named scale for later use by Configure.
func (s *Source) RegisterScale(name string, scale voltacq.ScaleParameters) error {
	s.Lock()
	defer s.Unlock()
	s.scales[name] = scale
	return nil
}

// Configure tells the device the rate and channel count, and sizes the FIFOs.
func (s *Source) Configure(channels []voltacq.ChannelConfig, sampleRateHz, bufferDepthSamples int, mode voltacq.AcquisitionMode) error {
	s.Lock()
	defer s.Unlock()
	if s.running {
		return errors.New("cannot configure while running")
	}
	if mode != voltacq.ContinuousAcquisition {
		return fmt.Errorf("serial source supports only continuous acquisition, not %s", mode)
	}
	for _, ch := range channels {
		if _, ok := s.scales[ch.ScaleName]; ch.Units == voltacq.UnitsFromCustomScale && !ok {
			return fmt.Errorf("channel %s uses unregistered scale %q", ch.PhysicalID, ch.ScaleName)
		}
	}
	if err := s.send(fmt.Sprintf("CONF %d %d", sampleRateHz, len(channels))); err != nil {
		return err
	}
	s.channels = append([]voltacq.ChannelConfig(nil), channels...)
	s.depth = bufferDepthSamples
	s.fifo = make([][]float64, len(channels))
	return nil
}

// Start empties the input buffers and tells the device to stream.
func (s *Source) Start() error {
	s.Lock()
	defer s.Unlock()
	if len(s.channels) == 0 {
		return errors.New("serial source is not configured")
	}
	if p, ok := s.port.(serial.Port); ok {
		if err := p.ResetInputBuffer(); err != nil {
			return err
		}
	}
	if s.readerDone == nil {
		s.readerDone = make(chan struct{})
		go s.readLoop()
	}
	for i := range s.fifo {
		s.fifo[i] = s.fifo[i][:0]
	}
	s.overflow = false
	s.running = true
	return s.send("START")
}

func (s *Source) readLoop() {
	defer close(s.readerDone)
	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.receive(line); err != nil {
			s.logger.Warn("Error while reading sample line from serial", zap.Error(err), zap.String("portName", s.portName))
		}
	}

	s.Lock()
	defer s.Unlock()
	if s.closed {
		return
	}
	s.readErr = scanner.Err()
	if s.readErr == nil {
		s.readErr = io.EOF
	}
	s.logger.Warn("[serialsource] exiting from read loop", zap.Error(s.readErr), zap.String("portName", s.portName))
}

// receive parses one line and appends it to the FIFOs. Lines arriving while stopped are dropped.
func (s *Source) receive(line string) error {
	s.Lock()
	defer s.Unlock()
	if !s.running {
		return nil
	}
	fields := strings.Split(line, ",")
	if len(fields) != len(s.channels) {
		return &OutOfSyncError{Line: line}
	}
	values := make([]float64, len(fields))
	for c, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return &OutOfSyncError{Line: line}
		}
		ch := s.channels[c]
		v = min(max(v, ch.VoltageMin), ch.VoltageMax)
		if ch.Units == voltacq.UnitsFromCustomScale {
			v = s.scales[ch.ScaleName].Apply(v)
		}
		values[c] = v
	}
	if len(s.fifo[0]) >= s.depth {
		s.overflow = true
		return nil
	}
	for c, v := range values {
		s.fifo[c] = append(s.fifo[c], v)
	}
	return nil
}

// AvailableSamples reports the samples waiting in each channel's FIFO.
func (s *Source) AvailableSamples() ([]int, error) {
	s.Lock()
	defer s.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.overflow {
		return nil, ErrOverflow
	}
	available := make([]int, len(s.fifo))
	for c, q := range s.fifo {
		available[c] = len(q)
	}
	return available, nil
}

// Read removes and returns exactly n samples per channel.
func (s *Source) Read(n int) ([][]float64, error) {
	s.Lock()
	defer s.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	data := make([][]float64, len(s.fifo))
	for c, q := range s.fifo {
		if len(q) < n {
			return nil, fmt.Errorf("asked for %d samples, channel %d has %d", n, c, len(q))
		}
		data[c] = append([]float64(nil), q[:n]...)
		s.fifo[c] = append(q[:0], q[n:]...)
	}
	return data, nil
}

// Stop tells the device to stop streaming.
func (s *Source) Stop() error {
	s.Lock()
	defer s.Unlock()
	s.running = false
	return s.send("STOP")
}

// Close forgets the channels and scales of the finished run. The port stays open for the
// next run; see Disconnect.
func (s *Source) Close() error {
	s.Lock()
	defer s.Unlock()
	s.running = false
	s.channels = nil
	s.fifo = nil
	s.scales = make(map[string]voltacq.ScaleParameters)
	return nil
}

// Disconnect closes the serial port and waits for the reader to finish.
func (s *Source) Disconnect() error {
	s.Lock()
	s.closed = true
	done := s.readerDone
	s.Unlock()
	err := s.port.Close()
	if done != nil {
		<-done
	}
	return err
}

// WaveformSink is a WaveformSink on a serial output device.
type WaveformSink struct {
	port          io.ReadWriteCloser
	portName      string
	logger        *zap.Logger
	channel       string
	rateHz        float64
	periodSamples int
}

// OpenWaveformSink opens the named serial port at the given baud rate.
func OpenWaveformSink(portName string, baudrate int, logger *zap.Logger) (*WaveformSink, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudrate})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}
	return NewWaveformSink(port, portName, logger), nil
}

// NewWaveformSink creates a WaveformSink over an already open port.
func NewWaveformSink(port io.ReadWriteCloser, portName string, logger *zap.Logger) *WaveformSink {
	return &WaveformSink{port: port, portName: portName, logger: logger}
}

// Configure records the output channel, clock rate and period for the next WriteLoop.
func (w *WaveformSink) Configure(channel string, rateHz float64, periodSamples int) error {
	if periodSamples <= 0 || rateHz <= 0 {
		return fmt.Errorf("waveform period %d and rate %g must be positive", periodSamples, rateHz)
	}
	w.channel = channel
	w.rateHz = rateHz
	w.periodSamples = periodSamples
	return nil
}

// WriteLoop sends one period to the device, which loops it until WAVESTOP.
func (w *WaveformSink) WriteLoop(waveform []float64) error {
	if w.periodSamples == 0 {
		return errors.New("waveform sink is not configured")
	}
	if len(waveform) != w.periodSamples {
		return fmt.Errorf("waveform has %d samples, want one period of %d", len(waveform), w.periodSamples)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "WAVE %s %s", w.channel, strconv.FormatFloat(w.rateHz, 'g', -1, 64))
	for _, v := range waveform {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteString(lineEnd)
	_, err := io.WriteString(w.port, b.String())
	return err
}

// Stop halts the looping waveform.
func (w *WaveformSink) Stop() error {
	_, err := io.WriteString(w.port, "WAVESTOP"+lineEnd)
	return err
}

// Close forgets the configuration. The port stays open; see Disconnect.
func (w *WaveformSink) Close() error {
	w.channel = ""
	w.periodSamples = 0
	return nil
}

// Disconnect closes the serial port.
func (w *WaveformSink) Disconnect() error {
	w.logger.Info("[serialsource] closing waveform port", zap.String("portName", w.portName))
	return w.port.Close()
}
