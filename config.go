package voltacq

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fixed defaults of the acquisition loop. They carry no derivation beyond experience with
// the bench setup, so each can be overridden in the configuration.
const (
	DefaultBufferDepthMultiplier = 3
	DefaultPollInterval          = 10 * time.Millisecond
	DefaultDisplayCapacity       = 1000
	DefaultFilePrefix            = "voltage"
	MaxChannels                  = 2
)

// Configuration keys, shared by the viper file and the RPC field overrides.
const (
	KeyNChannels        = "input.nchannels"
	KeySampleRate       = "input.samplerate"
	KeyNumberOfSamples  = "input.numberofsamples"
	KeyFilename         = "input.filename"
	KeyDirectory        = "input.directory"
	KeyFilePrefix       = "input.fileprefix"
	KeySubjectID        = "input.subjectid"
	KeyTriggerCamera    = "input.triggercamera"
	KeyStatistics       = "input.statistics"
	KeyPollInterval     = "input.pollinterval"
	KeyBufferMultiplier = "input.bufferdepthmultiplier"
	KeyDisplayCapacity  = "display.capacity"
	KeyTriggerChannel   = "trigger.channel"
)

// channelKey returns the configuration key of a per-channel field, e.g. "channel1.units".
func channelKey(channelIndex int, field string) string {
	return fmt.Sprintf("channel%d.%s", channelIndex+1, field)
}

// ConfigProvider hands out typed configuration values. Implementations only parse types;
// all range checking happens when a session starts.
type ConfigProvider interface {
	NumChannels() (int, error)
	ChannelID(ch int) (string, error)
	VoltageMin(ch int) (int, error)
	VoltageMax(ch int) (int, error)
	SensorMin(ch int) (int, error)
	SensorMax(ch int) (int, error)
	SensorUnits(ch int) (string, error)
	Terminal(ch int) (string, error)
	SampleRate() (int, error)
	BatchSize() (int, error)
	DestinationPath() (string, error)
	TriggerEnabled() (string, error)
	TriggerChannel() (string, error)
	StatisticsEnabled() (bool, error)
	PollInterval() (time.Duration, error)
	BufferDepthMultiplier() (int, error)
	DisplayCapacity() (int, error)
}

// FieldProvider implements ConfigProvider over a function returning raw string fields,
// the way a form hands out the text of its entries.
type FieldProvider struct {
	get func(key string) string
	now func() time.Time
}

// NewViperProvider reads fields from a viper instance.
func NewViperProvider(v *viper.Viper) *FieldProvider {
	return &FieldProvider{get: v.GetString, now: time.Now}
}

// MapProvider reads fields from a plain map; missing keys read as empty strings.
func MapProvider(fields map[string]string) *FieldProvider {
	return &FieldProvider{get: func(key string) string { return fields[key] }, now: time.Now}
}

// LayeredProvider reads from overrides first and falls back to base for keys not overridden.
func LayeredProvider(base *viper.Viper, overrides map[string]string) *FieldProvider {
	get := func(key string) string {
		if val, ok := overrides[key]; ok {
			return val
		}
		return base.GetString(key)
	}
	return &FieldProvider{get: get, now: time.Now}
}

func (fp *FieldProvider) str(key string) string {
	return strings.TrimSpace(fp.get(key))
}

func (fp *FieldProvider) integer(key string) (int, error) {
	raw := fp.str(key)
	v, err := strconv.Atoi(raw)
	if err != nil {
		// Forms often hold "5.0" for an integer field.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, &ConfigError{Field: key, Err: fmt.Errorf("cannot parse %q as an integer", raw)}
		}
		v = int(f)
	}
	return v, nil
}

func (fp *FieldProvider) intOrDefault(key string, def int) (int, error) {
	if fp.str(key) == "" {
		return def, nil
	}
	return fp.integer(key)
}

// NumChannels returns the number of analog input channels, 1 when unset.
func (fp *FieldProvider) NumChannels() (int, error) { return fp.intOrDefault(KeyNChannels, 1) }

// ChannelID returns the physical channel name, such as "Dev1/ai0".
func (fp *FieldProvider) ChannelID(ch int) (string, error) {
	id := fp.str(channelKey(ch, "physicalchannel"))
	if id == "" {
		return "", &ConfigError{Field: channelKey(ch, "physicalchannel"), Err: fmt.Errorf("missing")}
	}
	return id, nil
}

// VoltageMin returns the lower end of the channel's input voltage range.
func (fp *FieldProvider) VoltageMin(ch int) (int, error) {
	return fp.integer(channelKey(ch, "minvoltage"))
}

// VoltageMax returns the upper end of the channel's input voltage range.
func (fp *FieldProvider) VoltageMax(ch int) (int, error) {
	return fp.integer(channelKey(ch, "maxvoltage"))
}

// SensorMin returns the sensor value that corresponds to VoltageMin.
func (fp *FieldProvider) SensorMin(ch int) (int, error) {
	return fp.integer(channelKey(ch, "minsensor"))
}

// SensorMax returns the sensor value that corresponds to VoltageMax.
func (fp *FieldProvider) SensorMax(ch int) (int, error) {
	return fp.integer(channelKey(ch, "maxsensor"))
}

// SensorUnits returns the physical unit label of the channel.
func (fp *FieldProvider) SensorUnits(ch int) (string, error) {
	return fp.str(channelKey(ch, "units")), nil
}

// Terminal returns the terminal configuration name of the channel ("" = device default).
func (fp *FieldProvider) Terminal(ch int) (string, error) {
	return fp.str(channelKey(ch, "terminal")), nil
}

// SampleRate returns the sample clock rate in Hz.
func (fp *FieldProvider) SampleRate() (int, error) { return fp.integer(KeySampleRate) }

// BatchSize returns the number of samples per channel drained at once.
func (fp *FieldProvider) BatchSize() (int, error) { return fp.integer(KeyNumberOfSamples) }

// DestinationPath returns the data file path. Without an explicit filename it is built as
// <directory>/<prefix>_<subjectid>_<YYYYMMDD>.txt from today's date.
func (fp *FieldProvider) DestinationPath() (string, error) {
	if name := fp.str(KeyFilename); name != "" {
		return name, nil
	}
	dir := fp.str(KeyDirectory)
	if dir == "" {
		return "", &ConfigError{Field: KeyFilename, Err: fmt.Errorf("neither a filename nor a directory is set")}
	}
	prefix := fp.str(KeyFilePrefix)
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	return DestinationFilename(dir, prefix, fp.str(KeySubjectID), fp.now()), nil
}

// TriggerEnabled returns the raw camera-trigger flag, expected to be "yes" or "no".
func (fp *FieldProvider) TriggerEnabled() (string, error) { return fp.str(KeyTriggerCamera), nil }

// TriggerChannel returns the analog output channel of the camera trigger.
func (fp *FieldProvider) TriggerChannel() (string, error) {
	if ch := fp.str(KeyTriggerChannel); ch != "" {
		return ch, nil
	}
	return DefaultTriggerChannel, nil
}

// StatisticsEnabled says whether windowed statistics are computed, true when unset.
func (fp *FieldProvider) StatisticsEnabled() (bool, error) {
	raw := fp.str(KeyStatistics)
	if raw == "" {
		return true, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &ConfigError{Field: KeyStatistics, Err: err}
	}
	return v, nil
}

// PollInterval returns the polling loop tick interval.
func (fp *FieldProvider) PollInterval() (time.Duration, error) {
	raw := fp.str(KeyPollInterval)
	if raw == "" {
		return DefaultPollInterval, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ConfigError{Field: KeyPollInterval, Err: err}
	}
	return d, nil
}

// BufferDepthMultiplier returns the device buffer depth in units of the batch size.
func (fp *FieldProvider) BufferDepthMultiplier() (int, error) {
	return fp.intOrDefault(KeyBufferMultiplier, DefaultBufferDepthMultiplier)
}

// DisplayCapacity returns the length of each rolling display window.
func (fp *FieldProvider) DisplayCapacity() (int, error) {
	return fp.intOrDefault(KeyDisplayCapacity, DefaultDisplayCapacity)
}

// DestinationFilename builds the data file name used when no explicit filename is given.
func DestinationFilename(dir, prefix, subjectID string, day time.Time) string {
	name := fmt.Sprintf("%s_%s_%s.txt", prefix, subjectID, day.Format("20060102"))
	return filepath.Join(dir, name)
}

// ChannelSettings are the user-entered settings of one input channel, before scaling.
type ChannelSettings struct {
	PhysicalID string
	VoltageMin float64
	VoltageMax float64
	SensorMin  float64
	SensorMax  float64
	Units      string
	Terminal   TerminalConfig
}

// SessionConfig holds everything one acquisition run needs.
type SessionConfig struct {
	Channels              []ChannelSettings
	SampleRateHz          int
	BatchSize             int
	BufferDepthMultiplier int
	DestinationPath       string
	TriggerEnabled        bool
	TriggerChannel        string
	StatisticsEnabled     bool
	PollInterval          time.Duration
	DisplayCapacity       int
}

// BufferDepthSamples is the device buffer depth, a fixed multiple of the batch size.
func (c *SessionConfig) BufferDepthSamples() int {
	return c.BatchSize * c.BufferDepthMultiplier
}

// Validate checks the invariants a session relies on.
func (c *SessionConfig) Validate() error {
	if n := len(c.Channels); n < 1 || n > MaxChannels {
		return &ConfigError{Field: KeyNChannels, Err: fmt.Errorf("%d channels, want 1 or %d", n, MaxChannels)}
	}
	if c.SampleRateHz <= 0 {
		return &ConfigError{Field: KeySampleRate, Err: fmt.Errorf("sample rate %d Hz, want > 0", c.SampleRateHz)}
	}
	if c.BatchSize <= 0 {
		return &ConfigError{Field: KeyNumberOfSamples, Err: fmt.Errorf("batch size %d, want > 0", c.BatchSize)}
	}
	if c.BufferDepthSamples() <= c.BatchSize {
		return &ConfigError{Field: KeyBufferMultiplier,
			Err: fmt.Errorf("buffer depth %d samples must exceed the batch size %d", c.BufferDepthSamples(), c.BatchSize)}
	}
	if c.DestinationPath == "" {
		return &ConfigError{Field: KeyFilename, Err: fmt.Errorf("missing")}
	}
	if c.PollInterval <= 0 {
		return &ConfigError{Field: KeyPollInterval, Err: fmt.Errorf("poll interval %v, want > 0", c.PollInterval)}
	}
	if c.DisplayCapacity <= 0 {
		return &ConfigError{Field: KeyDisplayCapacity, Err: fmt.Errorf("display capacity %d, want > 0", c.DisplayCapacity)}
	}
	return nil
}

// ParseTriggerFlag turns the "yes"/"no" camera-trigger field into a bool.
func ParseTriggerFlag(flag string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return false, &ConfigError{Field: KeyTriggerCamera, Err: fmt.Errorf("%w, received %q", ErrInvalidTriggerFlag, flag)}
}

// ReadSessionConfig reads one session's configuration from a provider. It performs no
// device access, so an invalid trigger flag is rejected before anything is opened.
func ReadSessionConfig(p ConfigProvider) (*SessionConfig, error) {
	var err error
	cfg := new(SessionConfig)

	flag, err := p.TriggerEnabled()
	if err != nil {
		return nil, err
	}
	if cfg.TriggerEnabled, err = ParseTriggerFlag(flag); err != nil {
		return nil, err
	}
	if cfg.TriggerChannel, err = p.TriggerChannel(); err != nil {
		return nil, err
	}

	nchan, err := p.NumChannels()
	if err != nil {
		return nil, err
	}
	if nchan < 1 || nchan > MaxChannels {
		return nil, &ConfigError{Field: KeyNChannels, Err: fmt.Errorf("%d channels, want 1 or %d", nchan, MaxChannels)}
	}
	for ch := 0; ch < nchan; ch++ {
		cs, err := readChannelSettings(p, ch)
		if err != nil {
			return nil, err
		}
		cfg.Channels = append(cfg.Channels, cs)
	}

	if cfg.SampleRateHz, err = p.SampleRate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = p.BatchSize(); err != nil {
		return nil, err
	}
	if cfg.BufferDepthMultiplier, err = p.BufferDepthMultiplier(); err != nil {
		return nil, err
	}
	if cfg.DestinationPath, err = p.DestinationPath(); err != nil {
		return nil, err
	}
	if cfg.StatisticsEnabled, err = p.StatisticsEnabled(); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = p.PollInterval(); err != nil {
		return nil, err
	}
	if cfg.DisplayCapacity, err = p.DisplayCapacity(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readChannelSettings(p ConfigProvider, ch int) (ChannelSettings, error) {
	var cs ChannelSettings
	var err error
	if cs.PhysicalID, err = p.ChannelID(ch); err != nil {
		return cs, err
	}
	ints := []struct {
		get func(int) (int, error)
		dst *float64
	}{
		{p.VoltageMin, &cs.VoltageMin},
		{p.VoltageMax, &cs.VoltageMax},
		{p.SensorMin, &cs.SensorMin},
		{p.SensorMax, &cs.SensorMax},
	}
	for _, field := range ints {
		v, err := field.get(ch)
		if err != nil {
			return cs, err
		}
		*field.dst = float64(v)
	}
	if cs.Units, err = p.SensorUnits(ch); err != nil {
		return cs, err
	}
	term, err := p.Terminal(ch)
	if err != nil {
		return cs, err
	}
	if cs.Terminal, err = ParseTerminalConfig(term); err != nil {
		return cs, &ConfigError{Field: channelKey(ch, "terminal"), Err: err}
	}
	return cs, nil
}

// SetDefaults installs the default settings of the bench setup.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNChannels, 1)
	v.SetDefault(KeySampleRate, 1000)
	v.SetDefault(KeyNumberOfSamples, 100)
	v.SetDefault(KeyFilename, "")
	v.SetDefault(KeyDirectory, ".")
	v.SetDefault(KeyFilePrefix, DefaultFilePrefix)
	v.SetDefault(KeySubjectID, "999999")
	v.SetDefault(KeyTriggerCamera, "yes")
	v.SetDefault(KeyStatistics, true)
	v.SetDefault(KeyPollInterval, DefaultPollInterval.String())
	v.SetDefault(KeyBufferMultiplier, DefaultBufferDepthMultiplier)
	v.SetDefault(KeyDisplayCapacity, DefaultDisplayCapacity)
	v.SetDefault(KeyTriggerChannel, DefaultTriggerChannel)
	for ch := 0; ch < MaxChannels; ch++ {
		v.SetDefault(channelKey(ch, "physicalchannel"), fmt.Sprintf("Dev1/ai%d", ch))
		v.SetDefault(channelKey(ch, "minvoltage"), 0)
		v.SetDefault(channelKey(ch, "maxvoltage"), 5)
		v.SetDefault(channelKey(ch, "minsensor"), 0)
		v.SetDefault(channelKey(ch, "maxsensor"), 5)
		v.SetDefault(channelKey(ch, "units"), "Pa")
		v.SetDefault(channelKey(ch, "terminal"), "")
	}
}
