package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/limiquantix/rebalancer/internal/config"
)

var (
	configPath string
	jsonOutput bool
	logLevel   string
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "rebalancer",
	Short: "Workload rebalancer for vSphere clusters",
	Long: `rebalancer plans VM migrations that spread sibling VMs (web01, web02, ...)
across hosts and even out CPU, memory, disk and network utilization.

Plans are computed from a live vCenter inventory or a JSON snapshot file and
can be simulated before anything is migrated.

Environment Variables:
  REBALANCER_VSPHERE_HOST, REBALANCER_VSPHERE_USERNAME, REBALANCER_VSPHERE_PASSWORD, ...
  Every configuration key can be set with the REBALANCER_ prefix.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON instead of human-readable text")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
}

// loadConfig loads the configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// setupLogger configures the zap logger based on configuration. One-shot
// commands log to stderr so their report on stdout stays parseable.
func setupLogger(cfg config.LoggingConfig, stderr bool) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	switch {
	case stderr:
		zapConfig.OutputPaths = []string{"stderr"}
	case cfg.Output != "":
		zapConfig.OutputPaths = []string{cfg.Output}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
