package sandbox

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

var (
	errTimeLimit            = errors.New("time limit exceeded")
	errOutputLimit          = errors.New("output limit exceeded")
	errProcessLimit         = errors.New("process limit exceeded")
	errIsolationUnavailable = errors.New("filesystem isolation required but landlock is unavailable")
)

// RawResult is what the runner observed about one child process, before
// any interpretation.
type RawResult struct {
	// StartErr is set when the child never ran.
	StartErr error
	// Cause is the cancellation cause of the run context, set only when
	// that cancellation is what killed the child.
	Cause             error
	OutputExceeded    bool
	ProcessesExceeded bool

	ExitCode int
	Signal   syscall.Signal // zero unless the child was killed by a signal

	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Collect classifies a RawResult. Service faults (spawn, limits, timeout,
// cancellation) are kept apart from program faults, which always come back
// as KindCompleted with the program's own exit status.
func Collect(raw RawResult) Outcome {
	o := Outcome{Duration: raw.Duration}

	switch {
	case errors.Is(raw.StartErr, syscall.EAGAIN):
		// fork itself hit the service user's process ceiling.
		o.Kind = KindResourceLimit
		o.Limit = LimitProcesses
		return o
	case raw.StartErr != nil:
		o.Kind = KindSpawnFailed
		o.Reason = raw.StartErr.Error()
		return o
	case raw.OutputExceeded:
		o.Kind = KindResourceLimit
		o.Limit = LimitOutput
		o.Stdout, o.Stderr = raw.Stdout, raw.Stderr
		return o
	case raw.ProcessesExceeded || errors.Is(raw.Cause, errProcessLimit):
		o.Kind = KindResourceLimit
		o.Limit = LimitProcesses
		return o
	case errors.Is(raw.Cause, errTimeLimit):
		o.Kind = KindTimedOut
		return o
	case raw.Cause != nil:
		o.Kind = KindCanceled
		return o
	}

	if raw.Signal != 0 {
		if limit, ok := limitForSignal(raw.Signal); ok {
			o.Kind = KindResourceLimit
			o.Limit = limit
			return o
		}
	}

	o.Kind = KindCompleted
	o.ExitCode = raw.ExitCode
	if raw.Signal != 0 {
		o.ExitCode = 128 + int(raw.Signal)
		o.Signal = signalName(raw.Signal)
	}
	o.Stdout = raw.Stdout
	o.Stderr = raw.Stderr
	return o
}

// String renders the outcome for logs.
func (o Outcome) String() string {
	switch o.Kind {
	case KindCompleted:
		if o.Signal != "" {
			return fmt.Sprintf("completed (exit %d, %s)", o.ExitCode, o.Signal)
		}
		return fmt.Sprintf("completed (exit %d)", o.ExitCode)
	case KindResourceLimit:
		return fmt.Sprintf("%s (%s)", o.Kind, o.Limit)
	case KindSpawnFailed:
		return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
	default:
		return string(o.Kind)
	}
}
