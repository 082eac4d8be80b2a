package main

import (
	"fmt"

	"github.com/spf13/viper"
	"github.com/usnistgov/voltacq"
	"github.com/usnistgov/voltacq/serialsource"
)

// devices are the input source and trigger output chosen in the configuration.
type devices struct {
	source  voltacq.SampleSource
	trigger voltacq.WaveformSink // nil when no trigger output exists
	closers []func() error
}

func (d *devices) disconnect() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			voltacq.ProblemLogger.Sugar().Warnf("disconnecting device: %v", err)
		}
	}
}

// openDevices opens the configured devices: "simulated" needs no hardware, "serial"
// reads device.port and, if set, plays the trigger on device.triggerport.
func openDevices(v *viper.Viper) (*devices, error) {
	switch kind := v.GetString(keyDeviceKind); kind {
	case "simulated", "":
		src := voltacq.NewSimulatedSource(v.GetFloat64(keySimFrequency), v.GetFloat64(keySimAmplitude), v.GetFloat64(keySimOffset))
		src.Noise = v.GetFloat64(keySimNoise)
		return &devices{source: src, trigger: voltacq.NewSimulatedWaveformSink()}, nil

	case "serial":
		baud := v.GetInt(keyDeviceBaud)
		src, err := serialsource.Open(v.GetString(keyDevicePort), baud, voltacq.ProblemLogger)
		if err != nil {
			return nil, err
		}
		d := &devices{source: src, closers: []func() error{src.Disconnect}}
		if port := v.GetString(keyTriggerPort); port != "" {
			sink, err := serialsource.OpenWaveformSink(port, baud, voltacq.UpdateLogger)
			if err != nil {
				d.disconnect()
				return nil, err
			}
			d.trigger = sink
			d.closers = append(d.closers, sink.Disconnect)
		}
		return d, nil

	default:
		return nil, fmt.Errorf("device kind %q is not recognized, want \"simulated\" or \"serial\"", kind)
	}
}
