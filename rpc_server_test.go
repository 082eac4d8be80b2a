package voltacq

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeClient serves ac over an in-memory connection and returns a JSON-RPC client of it.
func pipeClient(t *testing.T, ac *AcquisitionControl) *rpc.Client {
	t.Helper()
	server, err := newRPCServer(ac)
	require.NoError(t, err)
	serverConn, clientConn := net.Pipe()
	go server.ServeCodec(jsonrpc.NewServerCodec(serverConn))
	client := jsonrpc.NewClient(clientConn)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRPCStartStopStatus(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	src := newFakeSource(new(callLog))
	control := NewControl(src, NewSimulatedWaveformSink(), ControlOptions{})
	client := pipeClient(t, NewAcquisitionControl(control, v))

	var status Status
	require.NoError(t, client.Call("AcquisitionControl.Status", "", &status))
	assert.True(t, status.StartEnabled)
	assert.Equal(t, "gray", status.Indicator)

	path := filepath.Join(t.TempDir(), "rpc.txt")
	var okay bool
	args := &StartArgs{Fields: map[string]string{
		KeyFilename:     path,
		KeyNChannels:    "2",
		KeySampleRate:   "500",
		KeyPollInterval: "1ms",
	}}
	require.NoError(t, client.Call("AcquisitionControl.StartTask", args, &okay))
	assert.True(t, okay)

	require.NoError(t, client.Call("AcquisitionControl.Status", "", &status))
	assert.Equal(t, "green", status.Indicator)
	assert.Equal(t, 500, status.SampleRateHz)
	assert.Equal(t, []string{"Dev1/ai0", "Dev1/ai1"}, status.Channels)
	assert.Equal(t, path, status.DestinationPath)
	assert.True(t, status.TriggerEnabled, "the stored default applies where no field overrides it")

	err := client.Call("AcquisitionControl.StartTask", args, &okay)
	assert.ErrorContains(t, err, "cannot start")

	require.NoError(t, client.Call("AcquisitionControl.StopTask", "", &okay))
	assert.True(t, okay)
	assert.Eventually(t, func() bool {
		var s Status
		return client.Call("AcquisitionControl.Status", "", &s) == nil && s.StartEnabled
	}, 2*time.Second, time.Millisecond)
}

func TestRPCRejectsBadFields(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	log := new(callLog)
	control := NewControl(newFakeSource(log), nil, ControlOptions{})
	client := pipeClient(t, NewAcquisitionControl(control, v))

	var okay bool
	err := client.Call("AcquisitionControl.StartTask", &StartArgs{Fields: map[string]string{"input.colour": "red"}}, &okay)
	assert.ErrorContains(t, err, "input.colour")

	err = client.Call("AcquisitionControl.StartTask", &StartArgs{Fields: map[string]string{KeyTriggerCamera: "maybe"}}, &okay)
	assert.ErrorContains(t, err, "yes")
	assert.Empty(t, log.list())
}

func TestRPCStoreSettings(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(filepath.Join(t.TempDir(), "config.yaml"))
	control := NewControl(newFakeSource(new(callLog)), nil, ControlOptions{})
	client := pipeClient(t, NewAcquisitionControl(control, v))

	var okay bool
	require.NoError(t, client.Call("AcquisitionControl.StoreSettings",
		&StartArgs{Fields: map[string]string{KeySampleRate: "2000", channelKey(0, "units"): "kPa"}}, &okay))
	assert.True(t, okay)

	stored := viper.New()
	stored.SetConfigFile(v.ConfigFileUsed())
	require.NoError(t, stored.ReadInConfig())
	assert.Equal(t, 2000, stored.GetInt(KeySampleRate))
	assert.Equal(t, "kPa", stored.GetString("channel1.units"))
}

func TestFieldKeys(t *testing.T) {
	keys := FieldKeys()
	assert.Contains(t, keys, KeyTriggerCamera)
	assert.Contains(t, keys, "channel2.terminal")
	assert.NoError(t, checkFieldKeys(map[string]string{KeySampleRate: "1"}))
	assert.Error(t, checkFieldKeys(map[string]string{"channel3.units": "Pa"}))
}
