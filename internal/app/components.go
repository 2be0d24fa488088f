package app

import (
	"github.com/driftsync/gitmirrord/internal/sync"
	"github.com/driftsync/gitmirrord/internal/telemetry"
)

// Components holds the daemon's long-lived collaborators.
// Exposed for tests that need to reach into a built app.
type Components struct {
	// Engine drives the sync state machine
	Engine sync.Engine

	// Ticker feeds the engine periodic triggers
	Ticker *sync.Ticker

	// Telemetry owns the tracer and meter providers
	Telemetry *telemetry.Telemetry
}
