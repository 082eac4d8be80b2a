// Package main provides the voltacq command: a server driven over JSON-RPC, or a single
// acquisition run in the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/usnistgov/voltacq"
	"github.com/usnistgov/voltacq/internal/rundb"
	"go.uber.org/zap"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

var (
	configDir       string
	acquireDuration time.Duration
	acquireFields   map[string]string
)

func main() {
	buildDate = strings.ReplaceAll(buildDate, ".", " ") // workaround for Make problems
	voltacq.Build.Date = buildDate
	voltacq.Build.Githash = githash
	voltacq.Build.Gitdate = gitdate
	voltacq.Build.Summary = fmt.Sprintf("voltacq version %s (git commit %s of %s)", voltacq.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		voltacq.Build.Host = host
	} else {
		voltacq.Build.Host = "host not detected"
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "voltacq",
		Short:        "Analog voltage acquisition with camera trigger",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "$HOME/.voltacq", "directory of config.yaml and logs/")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC control server, status publisher and metrics endpoint",
		RunE:  runServe,
	}

	acquireCmd := &cobra.Command{
		Use:   "acquire",
		Short: "Acquire once, drawing the data in the terminal, until interrupted",
		RunE:  runAcquire,
	}
	acquireCmd.Flags().DurationVar(&acquireDuration, "duration", 0, "stop after this long (0: until Ctrl-C)")
	acquireCmd.Flags().StringToStringVar(&acquireFields, "set", nil, "override config fields, e.g. --set input.samplerate=2000")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and quit",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "This is voltacq version %s\n", voltacq.Build.Version)
			fmt.Fprintf(out, "Git commit hash: %s\n", githash)
			fmt.Fprintf(out, "Build time: %s\n", buildDate)
			fmt.Fprintf(out, "Built on go version %s\n", runtime.Version())
		},
	}

	rootCmd.AddCommand(serveCmd, acquireCmd, versionCmd)
	return rootCmd
}

// setup starts the loggers and reads the configuration.
func setup(cmd *cobra.Command) (*viper.Viper, error) {
	dir := strings.Replace(configDir, "$HOME", os.Getenv("HOME"), 1)
	problemname, logname, err := startLogging(filepath.Join(dir, "logs"))
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Logging problems       to %s\n", problemname)
	fmt.Fprintf(out, "Logging client updates to %s\n\n", logname)
	voltacq.UpdateLogger.Info("starting", zap.String("build", voltacq.Build.Summary), zap.String("host", voltacq.Build.Host))

	v := viper.New()
	if err := setupViper(v, dir); err != nil {
		return nil, err
	}
	return v, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	v, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devs, err := openDevices(v)
	if err != nil {
		return err
	}
	defer devs.disconnect()

	registry := prometheus.NewRegistry()
	metrics := voltacq.NewMetrics(registry)
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", voltacq.Ports.Metrics),
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			voltacq.ProblemLogger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer metricsServer.Close()

	updater := voltacq.NewClientUpdater()
	defer updater.Close()
	go func() {
		if err := voltacq.RunClientUpdater(ctx, updater.Updates(), voltacq.Ports.Status); err != nil {
			voltacq.ProblemLogger.Error("status publisher failed", zap.Error(err))
		}
	}()

	opts := voltacq.ControlOptions{
		Display:    updater,
		Statistics: updater,
		Status:     updater,
		Metrics:    metrics,
	}
	if v.GetBool(keyDatabase) {
		abort := make(chan struct{})
		runs := rundb.Connect(ctx, rundb.Options(), voltacq.ProblemLogger)
		if runs.IsConnected() {
			runs.Start(abort)
			opts.Runs = runs
			defer runs.Wait()
			defer close(abort)
		} else {
			voltacq.ProblemLogger.Warn("run database unavailable", zap.Error(runs.Err()))
		}
	}

	control := voltacq.NewControl(devs.source, devs.trigger, opts)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving JSON-RPC on port %d, status on %d, metrics on %d\n",
		voltacq.Ports.RPC, voltacq.Ports.Status, voltacq.Ports.Metrics)
	err = voltacq.RunRPCServer(ctx, control, v, updater, voltacq.Ports.RPC)

	// Shut down any run still going before releasing the devices.
	control.StopTask()
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if werr := control.Wait(waitCtx); werr != nil {
		voltacq.ProblemLogger.Warn("final run ended with error", zap.Error(werr))
	}
	return err
}

func runAcquire(cmd *cobra.Command, args []string) error {
	v, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if acquireDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, acquireDuration)
		defer cancel()
	}

	devs, err := openDevices(v)
	if err != nil {
		return err
	}
	defer devs.disconnect()

	display := voltacq.NewTermDisplay(cmd.OutOrStdout(), 0)
	control := voltacq.NewControl(devs.source, devs.trigger, voltacq.ControlOptions{
		Display:    display,
		Statistics: display,
	})
	if err := control.StartTask(voltacq.LayeredProvider(v, acquireFields)); err != nil {
		return err
	}
	status := control.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Recording run %s to %s\n", status.RunID, status.DestinationPath)

	// Wait returns early only if the run ends by itself, e.g. on a device error.
	runErr := control.Wait(ctx)
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		control.StopTask()
		runErr = control.Wait(context.Background())
	}
	status = control.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped after %d samples per channel\n", status.Samples)
	return runErr
}
