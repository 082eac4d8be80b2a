package voltacq

import (
	"fmt"
	"strings"
)

// TerminalConfig is the input terminal configuration of an analog input channel.
type TerminalConfig int

// Names for the possible values of TerminalConfig
const (
	TerminalDefault            TerminalConfig = iota // Whatever the device defaults to
	TerminalRSE                                      // Referenced single-ended
	TerminalNRSE                                     // Non-referenced single-ended
	TerminalDifferential                             // Differential
	TerminalPseudoDifferential                       // Pseudo-differential
)

var terminalNames = []string{"default", "rse", "nrse", "differential", "pseudodifferential"}

func (t TerminalConfig) String() string {
	if t < 0 || int(t) >= len(terminalNames) {
		return fmt.Sprintf("TerminalConfig(%d)", int(t))
	}
	return terminalNames[t]
}

// ParseTerminalConfig converts a configuration string (case-insensitive) to a TerminalConfig.
// The empty string means TerminalDefault.
func ParseTerminalConfig(s string) (TerminalConfig, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TerminalDefault, nil
	}
	for i, name := range terminalNames {
		if s == name {
			return TerminalConfig(i), nil
		}
	}
	return TerminalDefault, fmt.Errorf("unknown terminal configuration %q", s)
}

// VoltageUnits says whether a channel reports raw volts or values from a registered scale.
type VoltageUnits int

// Names for the possible values of VoltageUnits
const (
	UnitsVolts VoltageUnits = iota
	UnitsFromCustomScale
)

func (u VoltageUnits) String() string {
	switch u {
	case UnitsVolts:
		return "volts"
	case UnitsFromCustomScale:
		return "custom scale"
	}
	return fmt.Sprintf("VoltageUnits(%d)", int(u))
}

// AcquisitionMode is the sample-clock mode of a device task.
type AcquisitionMode int

// Names for the possible values of AcquisitionMode
const (
	FiniteAcquisition AcquisitionMode = iota
	ContinuousAcquisition
)

func (m AcquisitionMode) String() string {
	switch m {
	case FiniteAcquisition:
		return "finite"
	case ContinuousAcquisition:
		return "continuous"
	}
	return fmt.Sprintf("AcquisitionMode(%d)", int(m))
}

// ChannelConfig describes one analog input channel as handed to the Sample Source.
type ChannelConfig struct {
	PhysicalID string
	VoltageMin float64
	VoltageMax float64
	Terminal   TerminalConfig
	Units      VoltageUnits
	ScaleName  string
	Scale      ScaleParameters
}

// SampleSource is the interface for hardware or simulated devices that produce
// analog samples. The source converts volts to scaled units internally, using the
// scale registered under each channel's ScaleName, so RegisterScale must precede Configure.
// Reading is destructive: once read, samples are gone from the device buffer.
type SampleSource interface {
	RegisterScale(name string, scale ScaleParameters) error
	Configure(channels []ChannelConfig, sampleRateHz, bufferDepthSamples int, mode AcquisitionMode) error
	Start() error
	AvailableSamples() ([]int, error)
	Read(n int) ([][]float64, error)
	Stop() error
	Close() error
}

// WaveformSink is the interface for devices that play a precomputed waveform.
// WriteLoop starts continuous playback of the written buffer, looped until Stop.
type WaveformSink interface {
	Configure(channel string, rateHz float64, periodSamples int) error
	WriteLoop(waveform []float64) error
	Stop() error
	Close() error
}
