package sandbox

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	tests := []struct {
		name string
		raw  RawResult
		want Outcome
	}{
		{
			name: "zero exit",
			raw:  RawResult{ExitCode: 0, Stdout: []byte("hello"), Duration: time.Second},
			want: Outcome{Kind: KindCompleted, Stdout: []byte("hello"), Duration: time.Second},
		},
		{
			name: "nonzero exit is still completed",
			raw:  RawResult{ExitCode: 2, Stderr: []byte("bad token")},
			want: Outcome{Kind: KindCompleted, ExitCode: 2, Stderr: []byte("bad token")},
		},
		{
			name: "spawn failure wins",
			raw:  RawResult{StartErr: errors.New("no such file"), OutputExceeded: true},
			want: Outcome{Kind: KindSpawnFailed, Reason: "no such file"},
		},
		{
			name: "output limit beats timeout",
			raw:  RawResult{OutputExceeded: true, Cause: errTimeLimit, Stdout: []byte("xx")},
			want: Outcome{Kind: KindResourceLimit, Limit: LimitOutput, Stdout: []byte("xx")},
		},
		{
			name: "process limit beats timeout",
			raw:  RawResult{ProcessesExceeded: true, Cause: errTimeLimit, Signal: syscall.SIGKILL},
			want: Outcome{Kind: KindResourceLimit, Limit: LimitProcesses},
		},
		{
			name: "fork refused by nproc",
			raw:  RawResult{StartErr: fmt.Errorf("fork/exec /bin/sh: %w", syscall.EAGAIN)},
			want: Outcome{Kind: KindResourceLimit, Limit: LimitProcesses},
		},
		{
			name: "isolation unavailable",
			raw:  RawResult{StartErr: errIsolationUnavailable},
			want: Outcome{Kind: KindSpawnFailed, Reason: errIsolationUnavailable.Error()},
		},
		{
			name: "deadline",
			raw:  RawResult{Cause: fmt.Errorf("wrapped: %w", errTimeLimit), ExitCode: -1, Signal: syscall.SIGKILL},
			want: Outcome{Kind: KindTimedOut},
		},
		{
			name: "caller canceled",
			raw:  RawResult{Cause: errors.New("context canceled"), ExitCode: -1, Signal: syscall.SIGKILL},
			want: Outcome{Kind: KindCanceled},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Collect(tt.raw)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollectServiceFault(t *testing.T) {
	assert.False(t, Collect(RawResult{ExitCode: 1}).ServiceFault())
	assert.True(t, Collect(RawResult{Cause: errTimeLimit}).ServiceFault())
	assert.True(t, Collect(RawResult{StartErr: errors.New("x")}).ServiceFault())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed (exit 3)", Outcome{Kind: KindCompleted, ExitCode: 3}.String())
	assert.Equal(t, "resource_limit_exceeded (output)", Outcome{Kind: KindResourceLimit, Limit: LimitOutput}.String())
	assert.Equal(t, "timed_out", Outcome{Kind: KindTimedOut}.String())
	assert.Equal(t, "spawn_failed: boom", Outcome{Kind: KindSpawnFailed, Reason: "boom"}.String())
}
