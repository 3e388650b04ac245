package sandbox

import (
	"bytes"
	"io"
	"sync"
)

// outputCapture buffers stdout and stderr against one shared byte budget.
// Once the budget is exceeded further bytes are discarded and onExceed is
// called exactly once.
type outputCapture struct {
	mu       sync.Mutex
	limit    int64
	used     int64
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	exceeded bool
	onExceed func()
}

func newOutputCapture(limit int64, onExceed func()) *outputCapture {
	return &outputCapture{limit: limit, onExceed: onExceed}
}

type streamWriter struct {
	c   *outputCapture
	buf *bytes.Buffer
}

func (c *outputCapture) Stdout() io.Writer { return streamWriter{c: c, buf: &c.stdout} }
func (c *outputCapture) Stderr() io.Writer { return streamWriter{c: c, buf: &c.stderr} }

// Write always reports the full length so the copier keeps draining the
// pipe until the child is killed.
func (w streamWriter) Write(p []byte) (int, error) {
	c := w.c
	c.mu.Lock()
	remaining := c.limit - c.used
	if int64(len(p)) <= remaining {
		w.buf.Write(p)
		c.used += int64(len(p))
		c.mu.Unlock()
		return len(p), nil
	}

	if remaining > 0 {
		w.buf.Write(p[:remaining])
		c.used += remaining
	}
	first := !c.exceeded
	c.exceeded = true
	c.mu.Unlock()

	if first && c.onExceed != nil {
		c.onExceed()
	}
	return len(p), nil
}

func (c *outputCapture) Exceeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exceeded
}

// Bytes returns copies of both captured streams.
func (c *outputCapture) Bytes() (stdout, stderr []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.stdout.Bytes()), bytes.Clone(c.stderr.Bytes())
}
