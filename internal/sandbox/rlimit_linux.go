//go:build linux

package sandbox

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type rlimit struct {
	name     string
	resource int
	cur, max uint64
}

func (p Policy) rlimits() []rlimit {
	limits := []rlimit{{"core", unix.RLIMIT_CORE, 0, 0}}
	if p.CPUSeconds > 0 {
		// SIGXCPU at the soft limit, SIGKILL a second later if it is caught.
		limits = append(limits, rlimit{"cpu", unix.RLIMIT_CPU, p.CPUSeconds, p.CPUSeconds + 1})
	}
	if p.MemoryBytes > 0 {
		limits = append(limits, rlimit{"as", unix.RLIMIT_AS, p.MemoryBytes, p.MemoryBytes})
	}
	if p.FileSizeBytes > 0 {
		limits = append(limits, rlimit{"fsize", unix.RLIMIT_FSIZE, p.FileSizeBytes, p.FileSizeBytes})
	}
	if p.OpenFiles > 0 {
		limits = append(limits, rlimit{"nofile", unix.RLIMIT_NOFILE, p.OpenFiles, p.OpenFiles})
	}
	return limits
}

// nprocLimit sizes RLIMIT_NPROC for a new child. The kernel counts every
// task of the real uid, so the ceiling is the current count plus the
// per-run allowance; concurrent runs share that pool. Root is exempt from
// the check, and the process-group watch is what holds it to the limit.
func (p Policy) nprocLimit() (rlimit, bool) {
	uid := os.Getuid()
	if p.Processes == 0 || uid == 0 {
		return rlimit{}, false
	}
	n := userTasks(uid) + p.Processes
	return rlimit{"nproc", unix.RLIMIT_NPROC, n, n}, true
}

// applyLimits sets kernel resource limits on a started child.
func applyLimits(pid int, p Policy) error {
	limits := p.rlimits()
	if l, ok := p.nprocLimit(); ok {
		limits = append(limits, l)
	}
	for _, l := range limits {
		rl := unix.Rlimit{Cur: l.cur, Max: l.max}
		if err := unix.Prlimit(pid, l.resource, &rl, nil); err != nil {
			if errors.Is(err, unix.ESRCH) {
				return nil // already exited
			}
			return fmt.Errorf("setting %s limit: %w", l.name, err)
		}
	}
	return nil
}
