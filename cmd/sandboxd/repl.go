package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/sandboxd/internal/gateway"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Write and run programs interactively",
	Long: `Start an interactive session. Lines you type are collected into a program
buffer; /run executes it.

Commands:
  /run     execute the buffer
  /show    print the buffer
  /reset   clear the buffer
  /help    show this help
  /quit    exit`,
	Args: cobra.NoArgs,
	RunE: runREPL,
}

func init() {
	replCmd.Flags().DurationVar(&timeLimitFlag, "time-limit", 0, "Time budget per run (default: limits.default_timeout)")
	rootCmd.AddCommand(replCmd)
}

// replBuffer accumulates program lines between runs.
type replBuffer struct {
	lines []string
}

func (b *replBuffer) add(line string) { b.lines = append(b.lines, line) }
func (b *replBuffer) reset()          { b.lines = nil }
func (b *replBuffer) empty() bool     { return len(b.lines) == 0 }

func (b *replBuffer) source() []byte {
	if b.empty() {
		return nil
	}
	return []byte(strings.Join(b.lines, "\n") + "\n")
}

type replAction int

const (
	replContinue replAction = iota
	replRun
	replQuit
)

// handleCommand applies a slash command to buf.
func handleCommand(input string, buf *replBuffer, out io.Writer) replAction {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit", "/q":
		return replQuit
	case "/run", "/r":
		if buf.empty() {
			fmt.Fprintln(out, "Nothing to run.")
			return replContinue
		}
		return replRun
	case "/reset":
		buf.reset()
		fmt.Fprintln(out, "Buffer cleared.")
	case "/show":
		for i, line := range buf.lines {
			fmt.Fprintf(out, "%3d  %s\n", i+1, line)
		}
	case "/help":
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  /run     - Execute the buffer")
		fmt.Fprintln(out, "  /show    - Print the buffer")
		fmt.Fprintln(out, "  /reset   - Clear the buffer")
		fmt.Fprintln(out, "  /quit    - Exit")
	default:
		fmt.Fprintf(out, "Unknown command: %s (try /help)\n", input)
	}
	return replContinue
}

func runREPL(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}
	gw, workspaces, err := gateway.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	defer workspaces.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36m>>>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "sandboxd_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintf(out, "sandboxd interactive session (interpreter: %s)\n", cfg.Interpreter.Path)
	fmt.Fprintf(out, "Type program lines, /run to execute, /help for commands.\n\n")

	// Ctrl+C while a program runs cancels that run, not the session.
	var (
		mu        sync.Mutex
		runCancel context.CancelFunc
	)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			mu.Lock()
			if runCancel != nil {
				runCancel()
			}
			mu.Unlock()
		}
	}()

	var buf replBuffer
	for {
		if buf.empty() {
			rl.SetPrompt("\033[36m>>>\033[0m ")
		} else {
			rl.SetPrompt("\033[36m...\033[0m ")
		}

		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			return err
		}

		if !strings.HasPrefix(strings.TrimSpace(input), "/") {
			buf.add(input)
			continue
		}

		switch handleCommand(strings.TrimSpace(input), &buf, out) {
		case replQuit:
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case replContinue:
			continue
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		mu.Lock()
		runCancel = cancel
		mu.Unlock()

		resp, err := gw.Execute(ctx, gateway.Request{Source: buf.source(), TimeLimit: timeLimitFlag})

		mu.Lock()
		runCancel = nil
		mu.Unlock()
		cancel()

		printRun(out, resp, err)
	}
}

func printRun(out io.Writer, resp *gateway.Response, err error) {
	if err != nil {
		if se, ok := gateway.AsServiceError(err); ok {
			fmt.Fprintf(out, "\033[31m%s: %s\033[0m\n\n", se.Code, se.Message)
			return
		}
		fmt.Fprintf(out, "\033[31merror: %s\033[0m\n\n", err)
		return
	}

	fmt.Fprint(out, resp.Output)
	if resp.Output != "" && !strings.HasSuffix(resp.Output, "\n") {
		fmt.Fprintln(out)
	}
	if resp.Stderr != "" {
		fmt.Fprintf(out, "\033[90m%s\033[0m", resp.Stderr)
		if !strings.HasSuffix(resp.Stderr, "\n") {
			fmt.Fprintln(out)
		}
	}

	status := fmt.Sprintf("exit %d", resp.ExitCode)
	if resp.Signal != "" {
		status += ", " + resp.Signal
	}
	fmt.Fprintf(out, "\033[90m(%s, %s)\033[0m\n\n", status, resp.Duration.Round(time.Millisecond))
}
