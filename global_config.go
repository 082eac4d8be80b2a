package voltacq

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Portnumbers structs can contain all TCP port numbers used by voltacq.
type Portnumbers struct {
	RPC     int
	Status  int
	Metrics int
}

// Ports globally holds all TCP port numbers used by voltacq.
var Ports Portnumbers

func setPortnumbers(base int) {
	Ports.RPC = base
	Ports.Status = base + 1
	Ports.Metrics = base + 2
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Host    string
	Summary string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.3.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger logs warnings and errors: device faults, consumer failures.
var ProblemLogger *zap.Logger

// UpdateLogger logs the run lifecycle: starts, stops, configuration.
var UpdateLogger *zap.Logger

func init() {
	setPortnumbers(5600)
	StartTime = time.Now()

	// The main program will override these, but at least initialize with a sensible value
	ProblemLogger = stderrLogger(zapcore.WarnLevel)
	UpdateLogger = stderrLogger(zapcore.InfoLevel)
}

func stderrLogger(level zapcore.Level) *zap.Logger {
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}
