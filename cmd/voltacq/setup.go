package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/usnistgov/voltacq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}

	// Create an empty file dir/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// Device selection keys. They live beside the acquisition keys in the same config file.
const (
	keyDeviceKind   = "device.kind"
	keyDevicePort   = "device.port"
	keyDeviceBaud   = "device.baud"
	keyTriggerPort  = "device.triggerport"
	keySimFrequency = "device.simfrequency"
	keySimAmplitude = "device.simamplitude"
	keySimOffset    = "device.simoffset"
	keySimNoise     = "device.simnoise"
	keyDatabase     = "database.enabled"
)

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets all defaults.
func setupViper(v *viper.Viper, configDir string) error {
	voltacq.SetDefaults(v)
	v.SetDefault(keyDeviceKind, "simulated")
	v.SetDefault(keyDeviceBaud, 115200)
	v.SetDefault(keySimFrequency, 1.0)
	v.SetDefault(keySimAmplitude, 2.0)
	v.SetDefault(keySimOffset, 2.5)
	v.SetDefault(keySimNoise, 0.01)
	v.SetDefault(keyDatabase, false)

	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(configDir, filename+suffix); err != nil {
		return err
	}

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.FromSlash("/etc/voltacq"))
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// startLogger returns a logger writing JSON lines to a rotated file.
func startLogger(fname string, level zapcore.Level) *zap.Logger {
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   fname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, level)
	return zap.New(core)
}

// startLogging points the package loggers at two rotated files under dir.
func startLogging(dir string) (problemname, logname string, err error) {
	problemname, err = makeFileExist(dir, "problems.log")
	if err != nil {
		return
	}
	logname, err = makeFileExist(dir, "updates.log")
	if err != nil {
		return
	}
	voltacq.ProblemLogger = startLogger(problemname, zapcore.WarnLevel)
	voltacq.UpdateLogger = startLogger(logname, zapcore.InfoLevel)
	return
}
