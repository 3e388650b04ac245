package sandbox

import (
	"context"
	"time"

	"github.com/michaelbrown/sandboxd/internal/workspace"
)

// Kind discriminates an Outcome.
type Kind string

const (
	// KindCompleted means the interpreter ran to exit, whatever its status.
	KindCompleted     Kind = "completed"
	KindTimedOut      Kind = "timed_out"
	KindResourceLimit Kind = "resource_limit_exceeded"
	KindSpawnFailed   Kind = "spawn_failed"
	// KindCanceled means the caller went away before the interpreter exited.
	KindCanceled Kind = "canceled"
)

// Limit names the ceiling a KindResourceLimit outcome ran into.
type Limit string

const (
	LimitOutput    Limit = "output"
	LimitCPU       Limit = "cpu"
	LimitFile      Limit = "file"
	LimitProcesses Limit = "processes"
)

// Outcome is the classified result of one interpreter run. Only the fields
// relevant to Kind are set.
type Outcome struct {
	Kind Kind

	// KindCompleted
	ExitCode int
	Signal   string
	Stdout   []byte
	Stderr   []byte

	// KindResourceLimit
	Limit Limit

	// KindSpawnFailed
	Reason string

	Duration time.Duration
}

// ServiceFault reports whether the service failed to run the program, as
// opposed to the program itself failing.
func (o Outcome) ServiceFault() bool {
	return o.Kind != KindCompleted
}

// Sandbox runs the interpreter against a workspace.
type Sandbox interface {
	Run(ctx context.Context, ws *workspace.Workspace, timeLimit time.Duration) Outcome
}
