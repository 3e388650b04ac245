package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/sandboxd/internal/gateway"
)

func TestReplBufferSource(t *testing.T) {
	var buf replBuffer
	assert.Nil(t, buf.source())

	buf.add("PROGRAM p;")
	buf.add("BEGIN END.")
	assert.Equal(t, "PROGRAM p;\nBEGIN END.\n", string(buf.source()))

	buf.reset()
	assert.True(t, buf.empty())
}

func TestHandleCommand(t *testing.T) {
	var out bytes.Buffer
	var buf replBuffer

	assert.Equal(t, replContinue, handleCommand("/run", &buf, &out), "empty buffer has nothing to run")
	assert.Contains(t, out.String(), "Nothing to run")

	buf.add("BEGIN END.")
	assert.Equal(t, replRun, handleCommand("/RUN", &buf, &out))

	out.Reset()
	assert.Equal(t, replContinue, handleCommand("/show", &buf, &out))
	assert.Equal(t, "  1  BEGIN END.\n", out.String())

	assert.Equal(t, replContinue, handleCommand("/reset", &buf, &out))
	assert.True(t, buf.empty())

	out.Reset()
	assert.Equal(t, replContinue, handleCommand("/frobnicate", &buf, &out))
	assert.Contains(t, out.String(), "Unknown command")

	assert.Equal(t, replQuit, handleCommand("/quit", &buf, &out))
}

func TestPrintRun(t *testing.T) {
	var out bytes.Buffer
	printRun(&out, &gateway.Response{Output: "hello", ExitCode: 0, Duration: 3 * time.Millisecond}, nil)
	assert.True(t, strings.HasPrefix(out.String(), "hello\n"))
	assert.Contains(t, out.String(), "exit 0, 3ms")

	out.Reset()
	printRun(&out, nil, &gateway.ServiceError{Code: gateway.CodeTimedOut, Message: "execution timed out after 5s"})
	assert.Contains(t, out.String(), "timed_out: execution timed out after 5s")
}

func TestReadSourceStdin(t *testing.T) {
	src, err := readSource("-", strings.NewReader("BEGIN END."))
	require.NoError(t, err)
	assert.Equal(t, "BEGIN END.", string(src))

	_, err = readSource("/nonexistent/prog.pas", nil)
	assert.Error(t, err)
}

func TestExitCodeError(t *testing.T) {
	var err error = exitCodeError{code: 3}
	var exit exitCodeError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 3, exit.code)
	assert.Equal(t, "exit status 3", err.Error())
}
