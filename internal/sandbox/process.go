package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/michaelbrown/sandboxd/internal/workspace"
)

// ProcessSandbox runs the interpreter as a direct child process.
type ProcessSandbox struct {
	Policy Policy
	logger *logrus.Entry
}

// processPoll is how often a run's process group is counted.
const processPoll = 50 * time.Millisecond

// NewProcessSandbox creates a sandbox with the given policy.
func NewProcessSandbox(policy Policy, logger *logrus.Logger) *ProcessSandbox {
	s := &ProcessSandbox{
		Policy: policy,
		logger: logger.WithField("component", "sandbox"),
	}
	if policy.Isolation == IsolationAuto && !isolationSupported() {
		s.logger.Warn("landlock unavailable, interpreter runs without filesystem confinement")
	}
	return s
}

// Run executes the interpreter with ws.SourcePath as its only argument.
// Every path that starts a child also waits for it: natural exit, the
// deadline, the output cap and ctx cancellation all end in Wait returning.
func (s *ProcessSandbox) Run(ctx context.Context, ws *workspace.Workspace, timeLimit time.Duration) Outcome {
	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	runCtx, cancel := context.WithTimeoutCause(runCtx, timeLimit, errTimeLimit)
	defer cancel()

	capture := newOutputCapture(s.Policy.MaxOutputBytes, func() { stop(errOutputLimit) })

	cmd := exec.CommandContext(runCtx, s.Policy.Interpreter, ws.SourcePath)
	cmd.Dir = ws.Dir
	cmd.Env = s.Policy.environ(ws.Dir)
	cmd.Stdout = capture.Stdout()
	cmd.Stderr = capture.Stderr()
	cmd.WaitDelay = s.Policy.WaitDelay
	isolateGroup(cmd)

	var killed atomic.Bool
	groupKill := cmd.Cancel
	cmd.Cancel = func() error {
		err := groupKill()
		if err == nil {
			killed.Store(true)
		}
		return err
	}

	log := s.logger.WithField("workspace", ws.ID)

	start := time.Now()
	if err := s.start(cmd, ws.Dir); err != nil {
		return s.finish(log, Collect(RawResult{StartErr: err, Duration: time.Since(start)}))
	}

	if err := applyLimits(cmd.Process.Pid, s.Policy); err != nil {
		_ = killGroup(cmd.Process)
		_ = cmd.Wait()
		return s.finish(log, Collect(RawResult{
			StartErr: fmt.Errorf("applying resource limits: %w", err),
			Duration: time.Since(start),
		}))
	}

	var overProcesses atomic.Bool
	stopWatch := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		if s.watchProcesses(cmd.Process.Pid, stopWatch) {
			overProcesses.Store(true)
			stop(errProcessLimit)
		}
	}()

	waitErr := cmd.Wait()
	close(stopWatch)
	<-watched

	raw := RawResult{
		OutputExceeded:    capture.Exceeded(),
		ProcessesExceeded: overProcesses.Load(),
		ExitCode:          cmd.ProcessState.ExitCode(),
		Signal:            exitSignal(cmd.ProcessState),
		Duration:          time.Since(start),
	}
	raw.Stdout, raw.Stderr = capture.Bytes()
	// The deadline or the caller only gets the blame when their kill reached
	// the group and is what ended the interpreter. A child that exited on its
	// own as the timer fired keeps its own status.
	if waitErr != nil && killed.Load() && killedOutright(cmd.ProcessState) {
		raw.Cause = context.Cause(runCtx)
	}

	// Anything still in the group (a forked helper that outlived the
	// interpreter) goes down with it.
	if groupAlive(cmd.Process.Pid) {
		_ = killGroup(cmd.Process)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && raw.Cause == nil && !errors.As(waitErr, &exitErr) {
		log.WithError(waitErr).Warn("unexpected wait error")
	}
	return s.finish(log, Collect(raw))
}

// start launches cmd, confined to dir when the policy and kernel allow it.
func (s *ProcessSandbox) start(cmd *exec.Cmd, dir string) error {
	rs, err := s.Policy.confinement(dir)
	if err != nil {
		return err
	}
	if rs == nil {
		return cmd.Start()
	}
	defer rs.Close()
	return startConfined(cmd, rs)
}

// watchProcesses polls the size of the group led by pid until stop closes.
// It reports true as soon as the group holds more than Policy.Processes.
func (s *ProcessSandbox) watchProcesses(pid int, stop <-chan struct{}) bool {
	if s.Policy.Processes == 0 || !canCountGroup {
		return false
	}
	t := time.NewTicker(processPoll)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return false
		case <-t.C:
			if uint64(groupSize(pid)) > s.Policy.Processes {
				return true
			}
		}
	}
}

func (s *ProcessSandbox) finish(log *logrus.Entry, o Outcome) Outcome {
	fields := logrus.Fields{
		"outcome":  o.Kind,
		"duration": o.Duration.Round(time.Millisecond),
	}
	switch o.Kind {
	case KindCompleted:
		fields["exit_code"] = o.ExitCode
		log.WithFields(fields).Debug("interpreter finished")
	case KindSpawnFailed:
		log.WithFields(fields).WithField("reason", o.Reason).Error("interpreter did not start")
	default:
		log.WithFields(fields).Info(o.String())
	}
	return o
}
