//go:build !linux

package sandbox

import "os/exec"

func isolationSupported() bool { return false }

type fsRuleset struct{}

func (p Policy) confinement(string) (*fsRuleset, error) {
	if p.Isolation == IsolationRequired {
		return nil, errIsolationUnavailable
	}
	return nil, nil
}

func (*fsRuleset) Close() error { return nil }

func startConfined(cmd *exec.Cmd, _ *fsRuleset) error { return cmd.Start() }
