package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/michaelbrown/sandboxd/internal/config"
)

// Isolation selects how the interpreter's filesystem view is confined.
type Isolation string

const (
	// IsolationAuto confines with Landlock when the kernel supports it.
	IsolationAuto     Isolation = "auto"
	IsolationRequired Isolation = "required"
	IsolationOff      Isolation = "off"
)

// Policy defines how the interpreter is started and what it may consume.
// Zero kernel limits are left unset.
type Policy struct {
	Interpreter    string
	Env            []string // extra KEY=VALUE entries
	MaxOutputBytes int64    // shared by stdout and stderr
	CPUSeconds     uint64
	MemoryBytes    uint64
	FileSizeBytes  uint64
	OpenFiles      uint64
	Processes      uint64        // live processes per run, interpreter included
	WaitDelay      time.Duration // how long Wait may linger on pipes after a kill

	Isolation Isolation
	ReadPaths []string // read-only locations on top of the system directories
}

const basePath = "/usr/local/bin:/usr/bin:/bin"

// DefaultPolicy returns conservative limits for the given interpreter.
func DefaultPolicy(interpreter string) Policy {
	return Policy{
		Interpreter:    interpreter,
		MaxOutputBytes: 1024 * 1024,
		CPUSeconds:     10,
		MemoryBytes:    256 * 1024 * 1024,
		FileSizeBytes:  1024 * 1024,
		OpenFiles:      64,
		Processes:      64,
		WaitDelay:      2 * time.Second,
		Isolation:      IsolationAuto,
	}
}

// PolicyFromConfig builds a Policy from the service configuration.
func PolicyFromConfig(cfg *config.Config) (Policy, error) {
	interp := cfg.Interpreter.Path
	if !filepath.IsAbs(interp) && strings.ContainsRune(interp, filepath.Separator) {
		abs, err := filepath.Abs(interp)
		if err != nil {
			return Policy{}, fmt.Errorf("resolving interpreter path: %w", err)
		}
		interp = abs
	}

	for _, kv := range cfg.Interpreter.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return Policy{}, fmt.Errorf("interpreter.env entry %q is not KEY=VALUE", kv)
		}
	}

	p := DefaultPolicy(interp)
	p.Env = append([]string(nil), cfg.Interpreter.Env...)
	p.MaxOutputBytes = cfg.Limits.MaxOutputBytes
	p.CPUSeconds = cfg.Limits.CPUSeconds
	p.MemoryBytes = cfg.Limits.MemoryBytes
	p.FileSizeBytes = cfg.Limits.FileSizeBytes
	p.OpenFiles = cfg.Limits.OpenFiles
	p.Processes = cfg.Limits.Processes
	if cfg.Isolation.Mode != "" {
		p.Isolation = Isolation(cfg.Isolation.Mode)
	}
	p.ReadPaths = append([]string(nil), cfg.Isolation.ReadPaths...)
	return p, nil
}

// environ is the complete environment for a child running in dir. Nothing
// is inherited from the server process.
func (p Policy) environ(dir string) []string {
	env := []string{
		"PATH=" + basePath,
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
	}
	return append(env, p.Env...)
}
