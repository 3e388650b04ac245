package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/sandboxd/internal/config"
	"github.com/michaelbrown/sandboxd/internal/logging"
)

var (
	configFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "sandboxd",
	Short: "sandboxd - run untrusted programs through a local interpreter",
	Long: `sandboxd accepts program source, runs it through the configured interpreter
in a private workspace with a time budget and resource limits, and reports the
program's output and exit status.

It can serve an HTTP/WebSocket API, run a single file, or drive an
interactive session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ./sandboxd.yaml or ~/.sandboxd/sandboxd.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); overrides config")
}

// exitCodeError makes the process exit with a program's status without
// printing anything further.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// loadConfig reads configuration and builds the logger. quiet raises the
// default level to warn so per-run logs stay off an interactive terminal.
func loadConfig(quiet bool) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	switch {
	case logLevelFlag != "":
		cfg.Log.Level = logLevelFlag
	case quiet:
		if lvl, err := logrus.ParseLevel(cfg.Log.Level); err != nil || lvl > logrus.WarnLevel {
			cfg.Log.Level = "warn"
		}
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
