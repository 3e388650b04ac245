//go:build !unix

package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func isolateGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return killGroup(cmd.Process)
	}
}

func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func groupAlive(int) bool { return false }

func exitSignal(*os.ProcessState) syscall.Signal { return 0 }

// Without wait statuses, a delivered kill is taken as the cause of death.
func killedOutright(*os.ProcessState) bool { return true }

func limitForSignal(syscall.Signal) (Limit, bool) { return "", false }

func signalName(sig syscall.Signal) string { return sig.String() }
