package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/sandboxd/internal/gateway"
)

var timeLimitFlag time.Duration

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run one program and exit with its status",
	Long: `Run a single source file through the sandbox. The program's stdout and
stderr are forwarded and sandboxd exits with the program's exit code. Use "-"
to read the program from stdin.

Examples:
  sandboxd run hello.pas
  sandboxd run --time-limit 2s loop.pas
  cat prog.pas | sandboxd run -`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&timeLimitFlag, "time-limit", 0, "Time budget (default: limits.default_timeout)")
	rootCmd.AddCommand(runCmd)
}

func readSource(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}

	src, err := readSource(args[0], cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	gw, workspaces, err := gateway.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	defer workspaces.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := gw.Execute(ctx, gateway.Request{Source: src, TimeLimit: timeLimitFlag})
	if err != nil {
		return err
	}

	io.WriteString(cmd.OutOrStdout(), resp.Output)
	io.WriteString(cmd.ErrOrStderr(), resp.Stderr)
	if resp.ExitCode != 0 {
		return exitCodeError{code: resp.ExitCode}
	}
	return nil
}
