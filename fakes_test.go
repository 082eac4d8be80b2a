package voltacq

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// callLog records device calls from several fakes in one sequence, so tests can check
// ordering across the input and output devices.
type callLog struct {
	sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) list() []string {
	l.Lock()
	defer l.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) reset() {
	l.Lock()
	defer l.Unlock()
	l.calls = nil
}

var errFake = errors.New("fake device failure")

// fakeSource hands out samples whose values encode their position: sample k of channel c
// is (k+1)*(1+9c), so channel 0 reads 1, 2, 3... and channel 1 reads 10, 20, 30...
type fakeSource struct {
	log *callLog

	sync.Mutex
	available  []int
	produced   int64
	scales     map[string]ScaleParameters
	channels   []ChannelConfig
	rate       int
	depth      int
	shortRead  bool
	failOn     map[string]error
	readCalled int
}

func newFakeSource(log *callLog) *fakeSource {
	return &fakeSource{log: log, scales: make(map[string]ScaleParameters), failOn: make(map[string]error)}
}

// push makes n more samples available on every configured channel.
func (fs *fakeSource) push(n int) {
	fs.Lock()
	defer fs.Unlock()
	for c := range fs.available {
		fs.available[c] += n
	}
}

func (fs *fakeSource) fail(op string) {
	fs.Lock()
	defer fs.Unlock()
	fs.failOn[op] = errFake
}

func (fs *fakeSource) RegisterScale(name string, scale ScaleParameters) error {
	fs.log.add("source.RegisterScale %s", name)
	fs.Lock()
	defer fs.Unlock()
	fs.scales[name] = scale
	return fs.failOn["RegisterScale"]
}

func (fs *fakeSource) Configure(channels []ChannelConfig, sampleRateHz, bufferDepthSamples int, mode AcquisitionMode) error {
	fs.log.add("source.Configure %d %d %d %s", len(channels), sampleRateHz, bufferDepthSamples, mode)
	fs.Lock()
	defer fs.Unlock()
	if err := fs.failOn["Configure"]; err != nil {
		return err
	}
	fs.channels = channels
	fs.rate = sampleRateHz
	fs.depth = bufferDepthSamples
	fs.available = make([]int, len(channels))
	return nil
}

func (fs *fakeSource) Start() error {
	fs.log.add("source.Start")
	fs.Lock()
	defer fs.Unlock()
	fs.produced = 0
	return fs.failOn["Start"]
}

func (fs *fakeSource) AvailableSamples() ([]int, error) {
	fs.Lock()
	defer fs.Unlock()
	if err := fs.failOn["AvailableSamples"]; err != nil {
		return nil, err
	}
	return append([]int(nil), fs.available...), nil
}

func (fs *fakeSource) Read(n int) ([][]float64, error) {
	fs.Lock()
	defer fs.Unlock()
	fs.readCalled++
	if err := fs.failOn["Read"]; err != nil {
		return nil, err
	}
	data := make([][]float64, len(fs.channels))
	for c := range data {
		size := n
		if fs.shortRead {
			size = n - 1
		}
		data[c] = make([]float64, size)
		for i := range data[c] {
			data[c][i] = float64(fs.produced+int64(i)+1) * float64(1+9*c)
		}
		fs.available[c] -= n
	}
	fs.produced += int64(n)
	return data, nil
}

func (fs *fakeSource) Stop() error {
	fs.log.add("source.Stop")
	fs.Lock()
	defer fs.Unlock()
	return fs.failOn["Stop"]
}

func (fs *fakeSource) Close() error {
	fs.log.add("source.Close")
	fs.Lock()
	defer fs.Unlock()
	return fs.failOn["Close"]
}

type fakeSink struct {
	log *callLog

	sync.Mutex
	waveform []float64
	failOn   map[string]error
}

func newFakeSink(log *callLog) *fakeSink {
	return &fakeSink{log: log, failOn: make(map[string]error)}
}

func (fs *fakeSink) fail(op string) {
	fs.Lock()
	defer fs.Unlock()
	fs.failOn[op] = errFake
}

func (fs *fakeSink) Configure(channel string, rateHz float64, periodSamples int) error {
	fs.log.add("sink.Configure %s %g %d", channel, rateHz, periodSamples)
	fs.Lock()
	defer fs.Unlock()
	return fs.failOn["Configure"]
}

func (fs *fakeSink) WriteLoop(waveform []float64) error {
	fs.log.add("sink.WriteLoop %d", len(waveform))
	fs.Lock()
	defer fs.Unlock()
	fs.waveform = waveform
	return fs.failOn["WriteLoop"]
}

func (fs *fakeSink) Stop() error {
	fs.log.add("sink.Stop")
	fs.Lock()
	defer fs.Unlock()
	return fs.failOn["Stop"]
}

func (fs *fakeSink) Close() error {
	fs.log.add("sink.Close")
	fs.Lock()
	defer fs.Unlock()
	return fs.failOn["Close"]
}

// recordingConsumer notes every batch it receives in the shared log.
type recordingConsumer struct {
	name    string
	log     *callLog
	err     error
	panics  bool
	sync.Mutex
	batches []Batch
}

func (rc *recordingConsumer) Name() string { return rc.name }

func (rc *recordingConsumer) Consume(b Batch) error {
	rc.log.add("%s.Consume %d %d", rc.name, b.FirstIndex, b.Len())
	rc.Lock()
	defer rc.Unlock()
	rc.batches = append(rc.batches, b)
	if rc.panics {
		var levels []rune
		_ = levels[b.Len()]
	}
	return rc.err
}

func (rc *recordingConsumer) received() []Batch {
	rc.Lock()
	defer rc.Unlock()
	return append([]Batch(nil), rc.batches...)
}

// testConfig returns a valid configuration: channels on Dev1/ai0 (and ai1), 0..5 V mapped to
// 0..5 Pa, 1000 Hz, batches of 100, trigger off.
func testConfig(nchan int, path string) SessionConfig {
	cfg := SessionConfig{
		SampleRateHz:          1000,
		BatchSize:             100,
		BufferDepthMultiplier: DefaultBufferDepthMultiplier,
		DestinationPath:       path,
		TriggerChannel:        DefaultTriggerChannel,
		StatisticsEnabled:     true,
		PollInterval:          time.Millisecond,
		DisplayCapacity:       DefaultDisplayCapacity,
	}
	for c := 0; c < nchan; c++ {
		cfg.Channels = append(cfg.Channels, ChannelSettings{
			PhysicalID: fmt.Sprintf("Dev1/ai%d", c),
			VoltageMax: 5,
			SensorMax:  5,
			Units:      "Pa",
		})
	}
	return cfg
}

// testFields is testConfig as form fields.
func testFields(nchan int, path string) map[string]string {
	fields := map[string]string{
		KeyNChannels:       fmt.Sprint(nchan),
		KeySampleRate:      "1000",
		KeyNumberOfSamples: "100",
		KeyFilename:        path,
		KeyTriggerCamera:   "no",
		KeyPollInterval:    "1ms",
	}
	for c := 0; c < nchan; c++ {
		fields[channelKey(c, "physicalchannel")] = fmt.Sprintf("Dev1/ai%d", c)
		fields[channelKey(c, "minvoltage")] = "0"
		fields[channelKey(c, "maxvoltage")] = "5"
		fields[channelKey(c, "minsensor")] = "0"
		fields[channelKey(c, "maxsensor")] = "5"
		fields[channelKey(c, "units")] = "Pa"
	}
	return fields
}
