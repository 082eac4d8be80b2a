package voltacq

import "fmt"

// ScaleParameters describe a linear voltage-to-physical-unit transform.
// Intercept is always 0: a single-point offset is not supported.
type ScaleParameters struct {
	Slope     float64
	Intercept float64
	Units     string
}

// ComputeScale returns the two-point calibration that maps [voltageMin, voltageMax] onto
// [sensorMin, sensorMax]. A zero-width voltage range is a *DegenerateRangeError.
func ComputeScale(voltageMin, voltageMax, sensorMin, sensorMax float64, units string) (ScaleParameters, error) {
	if voltageMax == voltageMin {
		return ScaleParameters{}, &DegenerateRangeError{VoltageMin: voltageMin, VoltageMax: voltageMax}
	}
	slope := (sensorMax - sensorMin) / (voltageMax - voltageMin)
	return ScaleParameters{Slope: slope, Intercept: 0.0, Units: units}, nil
}

// Apply converts one raw voltage into scaled units.
func (s ScaleParameters) Apply(volts float64) float64 {
	return s.Slope*volts + s.Intercept
}

// scaleName is the per-channel name a scale is registered under, distinct for each channel
// so that two active channels never collide.
func scaleName(channelIndex int) string {
	return fmt.Sprintf("scaleChan%d", channelIndex+1)
}
