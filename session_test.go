package voltacq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStartOrder(t *testing.T) {
	log := new(callLog)
	s := NewSession(newFakeSource(log), newFakeSink(log))
	cfg := testConfig(2, "/tmp/x.txt")
	cfg.TriggerEnabled = true
	require.NoError(t, s.Start(cfg))
	assert.Equal(t, Running, s.State())
	assert.Equal(t, []string{
		"source.RegisterScale scaleChan1",
		"source.RegisterScale scaleChan2",
		"source.Configure 2 1000 300 continuous",
		"source.Start",
		"sink.Configure Dev1/ao0 50000 50",
		"sink.WriteLoop 50",
	}, log.list())

	chans := s.Channels()
	require.Len(t, chans, 2)
	assert.Equal(t, UnitsFromCustomScale, chans[0].Units)
	assert.NotEqual(t, chans[0].ScaleName, chans[1].ScaleName)
	assert.Equal(t, 1.0, chans[1].Scale.Slope)
}

func TestSessionDrain(t *testing.T) {
	log := new(callLog)
	src := newFakeSource(log)
	s := NewSession(src, nil)
	require.NoError(t, s.Start(testConfig(1, "/tmp/x.txt")))

	_, ok, err := s.Drain()
	require.NoError(t, err)
	assert.False(t, ok, "nothing available yet")

	src.push(150)
	batch, ok, err := s.Drain()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100, batch.Len())
	assert.Equal(t, int64(0), batch.FirstIndex)
	s.Advance(batch.Len())

	avail, _ := src.AvailableSamples()
	assert.Equal(t, []int{50}, avail)
	_, ok, err = s.Drain()
	require.NoError(t, err)
	assert.False(t, ok, "50 samples are short of a batch")

	src.push(50)
	batch, ok, err = s.Drain()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), batch.FirstIndex)
	assert.Equal(t, 101.0, batch.Channels[0][0])
}

func TestSessionDrainNeedsEveryChannel(t *testing.T) {
	src := newFakeSource(new(callLog))
	s := NewSession(src, nil)
	require.NoError(t, s.Start(testConfig(2, "/tmp/x.txt")))
	src.Lock()
	src.available = []int{150, 99}
	src.Unlock()
	_, ok, err := s.Drain()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, src.readCalled)
}

func TestSessionDrainErrors(t *testing.T) {
	src := newFakeSource(new(callLog))
	s := NewSession(src, nil)
	require.NoError(t, s.Start(testConfig(1, "/tmp/x.txt")))
	src.push(100)
	src.shortRead = true
	_, _, err := s.Drain()
	var de *DeviceError
	assert.ErrorAs(t, err, &de)

	src.fail("AvailableSamples")
	_, _, err = s.Drain()
	assert.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, errFake)
}

func TestSessionAlreadyRunning(t *testing.T) {
	log := new(callLog)
	s := NewSession(newFakeSource(log), nil)
	require.NoError(t, s.Start(testConfig(1, "/tmp/x.txt")))
	log.reset()

	err := s.Start(testConfig(1, "/tmp/x.txt"))
	var are *AlreadyRunningError
	require.ErrorAs(t, err, &are)
	assert.Equal(t, Running, are.State)
	assert.Empty(t, log.list(), "a rejected start touches no device")

	s.RequestStop()
	err = s.Start(testConfig(1, "/tmp/x.txt"))
	require.ErrorAs(t, err, &are)
	assert.Equal(t, StopRequested, are.State)
}

func TestSessionDegenerateRange(t *testing.T) {
	log := new(callLog)
	s := NewSession(newFakeSource(log), nil)
	cfg := testConfig(2, "/tmp/x.txt")
	cfg.Channels[1].VoltageMin = 2
	cfg.Channels[1].VoltageMax = 2
	err := s.Start(cfg)
	var ce *ConfigError
	var dre *DegenerateRangeError
	assert.ErrorAs(t, err, &ce)
	assert.ErrorAs(t, err, &dre)
	assert.Empty(t, log.list(), "no device is opened for a degenerate range")
	assert.Equal(t, Idle, s.State())
}

func TestSessionTriggerWithoutSink(t *testing.T) {
	s := NewSession(newFakeSource(new(callLog)), nil)
	cfg := testConfig(1, "/tmp/x.txt")
	cfg.TriggerEnabled = true
	var ce *ConfigError
	assert.ErrorAs(t, s.Start(cfg), &ce)
}

func TestSessionStartFailures(t *testing.T) {
	for _, op := range []string{"RegisterScale", "Configure", "Start"} {
		log := new(callLog)
		src := newFakeSource(log)
		src.fail(op)
		s := NewSession(src, nil)
		err := s.Start(testConfig(1, "/tmp/x.txt"))
		var de *DeviceError
		require.ErrorAs(t, err, &de, op)
		assert.Equal(t, Idle, s.State())
		calls := log.list()
		assert.Equal(t, "source.Close", calls[len(calls)-1], "a failed %s must release the input", op)
	}

	// A trigger that fails to start takes the already running input down with it.
	log := new(callLog)
	sink := newFakeSink(log)
	sink.fail("WriteLoop")
	s := NewSession(newFakeSource(log), sink)
	cfg := testConfig(1, "/tmp/x.txt")
	cfg.TriggerEnabled = true
	var de *DeviceError
	require.ErrorAs(t, s.Start(cfg), &de)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, []string{
		"source.RegisterScale scaleChan1",
		"source.Configure 1 1000 300 continuous",
		"source.Start",
		"sink.Configure Dev1/ao0 50000 50",
		"sink.WriteLoop 50",
		"sink.Close",
		"source.Stop",
		"source.Close",
	}, log.list())
}

func TestSessionTeardown(t *testing.T) {
	log := new(callLog)
	src := newFakeSource(log)
	s := NewSession(src, newFakeSink(log))
	require.NoError(t, s.Teardown(), "teardown while idle is a no-op")
	assert.Empty(t, log.list())

	cfg := testConfig(1, "/tmp/x.txt")
	cfg.TriggerEnabled = true
	require.NoError(t, s.Start(cfg))
	log.reset()
	s.RequestStop()
	assert.Empty(t, log.list(), "a stop request does not touch the devices")
	require.NoError(t, s.Teardown())
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, []string{"source.Stop", "source.Close", "sink.Stop", "sink.Close"}, log.list())

	// An input that fails to stop still lets the trigger be torn down.
	require.NoError(t, s.Start(cfg))
	log.reset()
	src.fail("Stop")
	err := s.Teardown()
	assert.ErrorIs(t, err, errFake)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, []string{"source.Stop", "source.Close", "sink.Stop", "sink.Close"}, log.list())
}

func TestRequestStopWhileIdle(t *testing.T) {
	s := NewSession(newFakeSource(new(callLog)), nil)
	s.RequestStop()
	assert.Equal(t, Idle, s.State())
}
