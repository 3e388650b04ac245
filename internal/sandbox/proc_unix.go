//go:build unix

package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// isolateGroup puts the child in its own process group and makes context
// cancellation kill the whole group, so helpers the interpreter forks die
// with it.
func isolateGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd.Process)
	}
}

func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := unix.Kill(-p.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// groupAlive reports whether any process in the group led by pid remains.
func groupAlive(pid int) bool {
	return unix.Kill(-pid, 0) == nil
}

func exitSignal(state *os.ProcessState) syscall.Signal {
	if state == nil {
		return 0
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0
	}
	return ws.Signal()
}

// killedOutright reports whether the child died of SIGKILL, the only way
// a group kill ends it.
func killedOutright(state *os.ProcessState) bool {
	return exitSignal(state) == unix.SIGKILL
}

func limitForSignal(sig syscall.Signal) (Limit, bool) {
	switch sig {
	case unix.SIGXCPU:
		return LimitCPU, true
	case unix.SIGXFSZ:
		return LimitFile, true
	}
	return "", false
}

func signalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}
