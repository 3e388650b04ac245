package gateway

import (
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/michaelbrown/sandboxd/internal/config"
	"github.com/michaelbrown/sandboxd/internal/sandbox"
	"github.com/michaelbrown/sandboxd/internal/workspace"
)

// FromConfig assembles a Gateway backed by a process sandbox and an on-disk
// workspace manager. The manager is returned so callers can sweep it.
func FromConfig(cfg *config.Config, logger *logrus.Logger) (*Gateway, *workspace.Manager, error) {
	policy, err := sandbox.PolicyFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("building sandbox policy: %w", err)
	}
	if _, err := exec.LookPath(policy.Interpreter); err != nil {
		// Not fatal: the binary may be installed after startup. Every
		// request will fail with spawn_failed until it is.
		logger.WithField("interpreter", policy.Interpreter).WithError(err).Warn("interpreter not found")
	}

	workspaces, err := workspace.NewManager(cfg.Workspace.Root, cfg.Interpreter.SourceName, logger)
	if err != nil {
		return nil, nil, err
	}

	sb := sandbox.NewProcessSandbox(policy, logger)
	return New(cfg, workspaces, sb, logger), workspaces, nil
}
