//go:build linux

package sandbox

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	fsReadExec = unix.LANDLOCK_ACCESS_FS_EXECUTE |
		unix.LANDLOCK_ACCESS_FS_READ_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_DIR

	fsWrite = unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_REMOVE_DIR |
		unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
		unix.LANDLOCK_ACCESS_FS_MAKE_CHAR |
		unix.LANDLOCK_ACCESS_FS_MAKE_DIR |
		unix.LANDLOCK_ACCESS_FS_MAKE_REG |
		unix.LANDLOCK_ACCESS_FS_MAKE_SOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_FIFO |
		unix.LANDLOCK_ACCESS_FS_MAKE_BLOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_SYM

	// Rights that may be granted on a regular file rather than a directory.
	fsFileRights = unix.LANDLOCK_ACCESS_FS_EXECUTE |
		unix.LANDLOCK_ACCESS_FS_READ_FILE |
		unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_TRUNCATE
)

// systemReadPaths are readable by every run. Sibling workspaces live
// outside all of them.
var systemReadPaths = []string{"/usr", "/bin", "/sbin", "/lib", "/lib32", "/lib64", "/etc", "/opt", "/proc"}

var landlockABI = sync.OnceValue(func() int {
	v, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, unix.LANDLOCK_CREATE_RULESET_VERSION)
	if errno != 0 {
		return 0
	}
	return int(v)
})

func isolationSupported() bool { return landlockABI() > 0 }

// fsRuleset is a Landlock ruleset under construction.
type fsRuleset struct {
	fd      int
	handled uint64
}

// confinement builds the ruleset for a run in dir: full access beneath dir,
// read and execute on the system directories and the interpreter's own,
// and nothing else. A nil ruleset means the run is not confined.
func (p Policy) confinement(dir string) (*fsRuleset, error) {
	if p.Isolation == IsolationOff {
		return nil, nil
	}
	abi := landlockABI()
	if abi <= 0 {
		if p.Isolation == IsolationRequired {
			return nil, errIsolationUnavailable
		}
		return nil, nil
	}

	handled := uint64(fsReadExec | fsWrite)
	if abi >= 2 {
		handled |= unix.LANDLOCK_ACCESS_FS_REFER
	}
	if abi >= 3 {
		handled |= unix.LANDLOCK_ACCESS_FS_TRUNCATE
	}
	attr := unix.LandlockRulesetAttr{Access_fs: handled}
	if abi >= 6 {
		// Signals and abstract sockets stay inside this run's domain.
		attr.Scoped = unix.LANDLOCK_SCOPE_SIGNAL | unix.LANDLOCK_SCOPE_ABSTRACT_UNIX_SOCKET
	}
	fd, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET,
		uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return nil, fmt.Errorf("creating landlock ruleset: %w", errno)
	}
	rs := &fsRuleset{fd: int(fd), handled: handled}

	readable := append([]string(nil), systemReadPaths...)
	if filepath.IsAbs(p.Interpreter) {
		readable = append(readable, filepath.Dir(p.Interpreter))
	}
	readable = append(readable, p.ReadPaths...)
	for _, path := range readable {
		if err := rs.allow(path, fsReadExec); err != nil {
			rs.Close()
			return nil, err
		}
	}
	if err := rs.allow("/dev", fsReadExec|unix.LANDLOCK_ACCESS_FS_WRITE_FILE|unix.LANDLOCK_ACCESS_FS_TRUNCATE); err != nil {
		rs.Close()
		return nil, err
	}
	if err := rs.allow(dir, handled); err != nil {
		rs.Close()
		return nil, err
	}
	return rs, nil
}

// allow grants access beneath path. Missing paths are skipped.
func (rs *fsRuleset) allow(path string, access uint64) error {
	fd, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s for landlock: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		access &= fsFileRights
	}

	rule := unix.LandlockPathBeneathAttr{
		Allowed_access: access & rs.handled,
		Parent_fd:      int32(fd),
	}
	_, _, errno := unix.Syscall6(unix.SYS_LANDLOCK_ADD_RULE, uintptr(rs.fd),
		unix.LANDLOCK_RULE_PATH_BENEATH, uintptr(unsafe.Pointer(&rule)), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("adding landlock rule for %s: %w", path, errno)
	}
	return nil
}

func (rs *fsRuleset) Close() error { return unix.Close(rs.fd) }

// startConfined starts cmd from a dedicated OS thread that first restricts
// itself with rs, so the child inherits the restriction. The goroutine
// exits still locked, which makes the runtime discard the thread.
func startConfined(cmd *exec.Cmd, rs *fsRuleset) error {
	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
			errc <- fmt.Errorf("setting no_new_privs: %w", err)
			return
		}
		if _, _, errno := unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(rs.fd), 0, 0); errno != 0 {
			errc <- fmt.Errorf("landlock restrict_self: %w", errno)
			return
		}
		errc <- cmd.Start()
	}()
	return <-errc
}
