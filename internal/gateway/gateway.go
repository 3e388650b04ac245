// Package gateway is the request-facing side of code execution. It
// validates a submission, admits it through the concurrency ceiling, runs it
// in a fresh workspace and turns the sandbox outcome into either a Response
// or a *ServiceError.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/michaelbrown/sandboxd/internal/config"
	"github.com/michaelbrown/sandboxd/internal/sandbox"
	"github.com/michaelbrown/sandboxd/internal/workspace"
)

// Request is one submission. A zero TimeLimit selects the default budget.
type Request struct {
	Source    []byte
	TimeLimit time.Duration
}

// Response is the result of a program that ran to completion. ExitCode may
// be nonzero; that is the program's failure, reported as data.
type Response struct {
	Output   string
	Stderr   string
	ExitCode int
	Signal   string
	Duration time.Duration
}

// Workspaces allocates per-request directories.
type Workspaces interface {
	Acquire(ctx context.Context, source []byte) (*workspace.Workspace, error)
	Release(ws *workspace.Workspace) error
}

// Gateway drives one execution per call to Execute. It is safe for
// concurrent use.
type Gateway struct {
	limits     config.LimitsConfig
	workspaces Workspaces
	sandbox    sandbox.Sandbox
	slots      *semaphore.Weighted
	inFlight   atomic.Int64
	logger     *logrus.Entry
}

// New wires a Gateway. cfg is read, never modified.
func New(cfg *config.Config, ws Workspaces, sb sandbox.Sandbox, logger *logrus.Logger) *Gateway {
	return &Gateway{
		limits:     cfg.Limits,
		workspaces: ws,
		sandbox:    sb,
		slots:      semaphore.NewWeighted(int64(cfg.Limits.MaxConcurrent)),
		logger:     logger.WithField("component", "gateway"),
	}
}

// InFlight is the number of executions currently holding a slot.
func (g *Gateway) InFlight() int { return int(g.inFlight.Load()) }

// Capacity is the maximum number of simultaneous executions.
func (g *Gateway) Capacity() int { return g.limits.MaxConcurrent }

// Execute runs req to completion. The workspace it allocates is released
// before Execute returns, whatever the outcome.
func (g *Gateway) Execute(ctx context.Context, req Request) (*Response, error) {
	if err := g.validate(req); err != nil {
		return nil, err
	}
	timeLimit := g.clamp(req.TimeLimit)

	if err := g.admit(ctx); err != nil {
		return nil, err
	}
	defer g.slots.Release(1)
	g.inFlight.Add(1)
	defer g.inFlight.Add(-1)

	ws, err := g.workspaces.Acquire(ctx, req.Source)
	if err != nil {
		if !errors.Is(err, workspace.ErrStorage) && ctx.Err() != nil {
			return nil, canceled(ctx)
		}
		g.logger.WithError(err).Error("workspace acquire failed")
		return nil, &ServiceError{Code: CodeStorageFailure, Message: "could not prepare workspace", Err: err}
	}
	defer func() {
		if err := g.workspaces.Release(ws); err != nil {
			g.logger.WithField("workspace", ws.ID).WithError(err).Error("workspace release failed")
		}
	}()

	outcome := g.sandbox.Run(ctx, ws, timeLimit)
	g.logger.WithFields(logrus.Fields{
		"workspace": ws.ID,
		"outcome":   outcome.Kind,
		"duration":  outcome.Duration.Round(time.Millisecond),
	}).Debug("execution collected")

	return translate(outcome, timeLimit)
}

func (g *Gateway) validate(req Request) error {
	if len(req.Source) == 0 {
		return &ServiceError{Code: CodeInvalidRequest, Message: ErrEmptySource.Error(), Err: ErrEmptySource}
	}
	if int64(len(req.Source)) > g.limits.MaxSourceBytes {
		return &ServiceError{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("code is %d bytes, limit is %d", len(req.Source), g.limits.MaxSourceBytes),
			Err:     ErrSourceTooLarge,
		}
	}
	return nil
}

// clamp maps a requested budget onto (0, MaxTimeout].
func (g *Gateway) clamp(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return g.limits.DefaultTimeout
	case d > g.limits.MaxTimeout:
		return g.limits.MaxTimeout
	}
	return d
}

// admit takes an execution slot. With a zero queue timeout a full gateway
// rejects immediately; otherwise the caller waits up to the queue timeout.
func (g *Gateway) admit(ctx context.Context) error {
	if g.limits.QueueTimeout <= 0 {
		if !g.slots.TryAcquire(1) {
			return g.busy()
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.limits.QueueTimeout)
	defer cancel()
	if err := g.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return canceled(ctx)
		}
		return g.busy()
	}
	return nil
}

func (g *Gateway) busy() error {
	g.logger.WithField("capacity", g.limits.MaxConcurrent).Warn("rejecting submission, all slots busy")
	return &ServiceError{
		Code:    CodeServiceBusy,
		Message: fmt.Sprintf("all %d execution slots are busy, try again later", g.limits.MaxConcurrent),
	}
}

func canceled(ctx context.Context) error {
	return &ServiceError{Code: CodeCanceled, Message: "request canceled", Err: context.Cause(ctx)}
}

func translate(o sandbox.Outcome, timeLimit time.Duration) (*Response, error) {
	switch o.Kind {
	case sandbox.KindCompleted:
		return &Response{
			Output:   string(o.Stdout),
			Stderr:   string(o.Stderr),
			ExitCode: o.ExitCode,
			Signal:   o.Signal,
			Duration: o.Duration,
		}, nil
	case sandbox.KindTimedOut:
		return nil, &ServiceError{Code: CodeTimedOut, Message: fmt.Sprintf("execution timed out after %s", timeLimit)}
	case sandbox.KindResourceLimit:
		return nil, &ServiceError{Code: CodeResourceLimit, Message: fmt.Sprintf("execution exceeded the %s limit", o.Limit)}
	case sandbox.KindSpawnFailed:
		return nil, &ServiceError{Code: CodeSpawnFailed, Message: "interpreter could not be started: " + o.Reason}
	case sandbox.KindCanceled:
		return nil, &ServiceError{Code: CodeCanceled, Message: "request canceled"}
	}
	return nil, fmt.Errorf("unknown outcome kind %q", o.Kind)
}
