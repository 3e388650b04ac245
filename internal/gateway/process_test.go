//go:build linux

package gateway

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/sandboxd/internal/config"
	"github.com/michaelbrown/sandboxd/internal/logging"
	"github.com/michaelbrown/sandboxd/internal/sandbox"
	"github.com/michaelbrown/sandboxd/internal/workspace"
)

func shellGateway(t *testing.T, limits config.LimitsConfig) (*Gateway, *workspace.Manager) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("/bin/sh not available: %v", err)
	}
	m, err := workspace.NewManager(t.TempDir(), "input.txt", logging.Discard())
	require.NoError(t, err)
	sb := sandbox.NewProcessSandbox(sandbox.DefaultPolicy("/bin/sh"), logging.Discard())
	return New(&config.Config{Limits: limits}, m, sb, logging.Discard()), m
}

func TestShellHello(t *testing.T) {
	g, m := shellGateway(t, testLimits())

	resp, err := g.Execute(context.Background(), Request{Source: []byte("printf hello")})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Output)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Zero(t, m.Active())
}

func TestShellProgramFailureIsData(t *testing.T) {
	g, _ := shellGateway(t, testLimits())

	resp, err := g.Execute(context.Background(), Request{Source: []byte("echo oops >&2; exit 2")})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ExitCode)
	assert.Equal(t, "oops\n", resp.Stderr)
}

func TestShellTimeout(t *testing.T) {
	g, m := shellGateway(t, testLimits())

	_, err := g.Execute(context.Background(), Request{Source: []byte("sleep 30"), TimeLimit: 200 * time.Millisecond})
	requireCode(t, err, CodeTimedOut)
	assert.Zero(t, m.Active())
}

func TestShellConcurrentRequestsAreIsolated(t *testing.T) {
	limits := testLimits()
	limits.MaxConcurrent = 8
	limits.QueueTimeout = 10 * time.Second
	g, m := shellGateway(t, limits)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each program prints its own source file and lists its
			// directory; it must only ever see itself.
			src := fmt.Sprintf("# req-%d\ncat input.txt\nls", i)
			resp, err := g.Execute(context.Background(), Request{Source: []byte(src)})
			if err != nil {
				errs <- err
				return
			}
			want := src + "input.txt\n"
			if resp.Output != want {
				errs <- fmt.Errorf("request %d: output = %q, want %q", i, resp.Output, want)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Zero(t, m.Active())
	entries, err := os.ReadDir(m.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
