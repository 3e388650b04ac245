package sandbox

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputCaptureWithinLimit(t *testing.T) {
	calls := 0
	c := newOutputCapture(10, func() { calls++ })

	n, err := c.Stdout().Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	c.Stderr().Write([]byte("world"))

	out, errOut := c.Bytes()
	assert.Equal(t, "hello", string(out))
	assert.Equal(t, "world", string(errOut))
	assert.False(t, c.Exceeded())
	assert.Zero(t, calls)
}

func TestOutputCaptureTruncatesSharedBudget(t *testing.T) {
	calls := 0
	c := newOutputCapture(8, func() { calls++ })

	c.Stdout().Write([]byte("12345"))
	n, err := c.Stderr().Write([]byte("abcdef"))
	assert.NoError(t, err)
	assert.Equal(t, 6, n, "writer must report the full length")
	c.Stdout().Write([]byte("more"))

	out, errOut := c.Bytes()
	assert.Equal(t, "12345", string(out))
	assert.Equal(t, "abc", string(errOut))
	assert.True(t, c.Exceeded())
	assert.Equal(t, 1, calls)
}

func TestOutputCaptureConcurrentWriters(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	c := newOutputCapture(1000, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, w := range []interface{ Write([]byte) (int, error) }{c.Stdout(), c.Stderr()} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				w.Write([]byte(strings.Repeat("x", 7)))
			}
		}()
	}
	wg.Wait()

	out, errOut := c.Bytes()
	assert.Equal(t, 1000, len(out)+len(errOut))
	assert.True(t, c.Exceeded())
	assert.Equal(t, 1, calls)
}
