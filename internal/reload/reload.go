// Package reload notifies a co-located process that mirrored content
// changed. Notifiers perform a single attempt per call; retry policy is
// owned by the sync engine so that backoff stays observable in its state.
package reload

import (
	"context"
	"fmt"

	"github.com/driftsync/gitmirrord/internal/config"
	"github.com/driftsync/gitmirrord/internal/httpclient"
)

//go:generate mockgen -destination=mocks/mock_reload.go -package=mocks -source=reload.go Notifier

// Notifier delivers one reload notification
type Notifier interface {
	// Notify tells the co-located process to reload. The revision is the
	// newly committed revision and is carried in the notification where
	// the mechanism allows it.
	Notify(ctx context.Context, revision string) error

	// Name identifies the notifier in logs and metrics
	Name() string
}

// NewNotifier creates the notifier selected by the configuration
func NewNotifier(cfg *config.Config) (Notifier, error) {
	switch cfg.GetReloadMode() {
	case config.ReloadModeNone:
		return &noopNotifier{}, nil
	case config.ReloadModeSignal:
		return newSignalNotifier(cfg.Reload.Signal)
	case config.ReloadModeCommand:
		return newCommandNotifier(cfg.Reload.Command), nil
	case config.ReloadModeHTTP:
		return newHTTPNotifier(cfg.Reload.HTTP, httpclient.NewDefaultClient(cfg.Reload.HTTP.GetTimeout())), nil
	default:
		return nil, fmt.Errorf("unknown reload mode: %s", cfg.GetReloadMode())
	}
}

// noopNotifier is used in mirror-only deployments
type noopNotifier struct{}

// Notify does nothing
func (*noopNotifier) Notify(_ context.Context, _ string) error {
	return nil
}

// Name identifies the notifier
func (*noopNotifier) Name() string {
	return "none"
}
