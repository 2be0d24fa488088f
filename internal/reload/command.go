package reload

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/driftsync/gitmirrord/internal/config"
)

// RevisionEnvVar carries the newly committed revision to reload commands
const RevisionEnvVar = "GITMIRRORD_REVISION"

// commandNotifier runs a command after a content change
type commandNotifier struct {
	argv    []string
	timeout time.Duration
}

func newCommandNotifier(cfg *config.CommandReloadConfig) *commandNotifier {
	return &commandNotifier{
		argv:    cfg.Argv,
		timeout: cfg.GetTimeout(),
	}
}

// Notify runs the configured command with the revision in the environment.
// A non-zero exit wraps the combined output into the error.
func (n *commandNotifier) Notify(ctx context.Context, revision string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	// #nosec G204 -- argv comes from the operator's own configuration
	cmd := exec.CommandContext(ctx, n.argv[0], n.argv[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", RevisionEnvVar, revision))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("reload command failed: %w: %s", err, string(output))
	}

	return nil
}

// Name identifies the notifier
func (n *commandNotifier) Name() string {
	return "command:" + n.argv[0]
}
