package voltacq

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sort"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AcquisitionControl is the RPC sub-server that starts, stops and reports on acquisition.
type AcquisitionControl struct {
	control *Control
	config  *viper.Viper
}

// StartArgs holds the form fields of a start request. Fields override the stored
// configuration for this run only; keys are the configuration keys, e.g. "input.samplerate".
type StartArgs struct {
	Fields map[string]string
}

// NewAcquisitionControl creates the RPC sub-server over a Control and its stored configuration.
func NewAcquisitionControl(control *Control, config *viper.Viper) *AcquisitionControl {
	return &AcquisitionControl{control: control, config: config}
}

// StartTask starts an acquisition run using the stored configuration with any field overrides.
func (ac *AcquisitionControl) StartTask(args *StartArgs, reply *bool) error {
	if err := checkFieldKeys(args.Fields); err != nil {
		*reply = false
		return err
	}
	err := ac.control.StartTask(LayeredProvider(ac.config, args.Fields))
	*reply = (err == nil)
	return err
}

// StopTask requests the running acquisition (if any) to stop.
func (ac *AcquisitionControl) StopTask(dummy *string, reply *bool) error {
	ac.control.StopTask()
	*reply = true
	return nil
}

// Status reports the current state of the control surface.
func (ac *AcquisitionControl) Status(dummy *string, reply *Status) error {
	*reply = ac.control.Status()
	return nil
}

// StoreSettings makes field values the new stored configuration and writes the config file.
func (ac *AcquisitionControl) StoreSettings(args *StartArgs, reply *bool) error {
	*reply = false
	if err := checkFieldKeys(args.Fields); err != nil {
		return err
	}
	for key, val := range args.Fields {
		ac.config.Set(key, val)
	}
	if err := ac.config.WriteConfig(); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	UpdateLogger.Info("settings stored", zap.String("file", ac.config.ConfigFileUsed()), zap.Int("fields", len(args.Fields)))
	*reply = true
	return nil
}

// FieldKeys returns every configuration key a form may set, sorted.
func FieldKeys() []string {
	keys := []string{KeyNChannels, KeySampleRate, KeyNumberOfSamples, KeyFilename, KeyDirectory,
		KeyFilePrefix, KeySubjectID, KeyTriggerCamera, KeyStatistics, KeyPollInterval,
		KeyBufferMultiplier, KeyDisplayCapacity, KeyTriggerChannel}
	for ch := 0; ch < MaxChannels; ch++ {
		for _, field := range []string{"physicalchannel", "minvoltage", "maxvoltage", "minsensor", "maxsensor", "units", "terminal"} {
			keys = append(keys, channelKey(ch, field))
		}
	}
	sort.Strings(keys)
	return keys
}

func checkFieldKeys(fields map[string]string) error {
	known := FieldKeys()
	for key := range fields {
		i := sort.SearchStrings(known, key)
		if i == len(known) || known[i] != key {
			return &ConfigError{Field: key, Err: fmt.Errorf("unknown field")}
		}
	}
	return nil
}

func newRPCServer(ac *AcquisitionControl) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.Register(ac); err != nil {
		return nil, err
	}
	return server, nil
}

// statusBroadcastPeriod is how often the status is published even when nothing changes,
// so newly connected clients catch up.
const statusBroadcastPeriod = 2 * time.Second

// RunRPCServer sets up and runs a JSON-RPC server until ctx is done. Clients connect with
// any JSON-RPC 1.0 library, e.g. to call "AcquisitionControl.StartTask".
func RunRPCServer(ctx context.Context, control *Control, config *viper.Viper, status StatusSink, portrpc int) error {
	ac := NewAcquisitionControl(control, config)
	server, err := newRPCServer(ac)
	if err != nil {
		return err
	}
	UpdateLogger.Info("RPC server using config file", zap.String("file", config.ConfigFileUsed()))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	if status != nil {
		go func() {
			ticker := time.NewTicker(statusBroadcastPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					status.PublishStatus(control.Status())
				}
			}
		}()
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept error: %w", err)
		}
		UpdateLogger.Info("new RPC connection established", zap.Stringer("remote", conn.RemoteAddr()))
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
