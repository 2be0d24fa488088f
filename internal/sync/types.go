package sync

import "time"

// Phase is the engine's position in the sync state machine
type Phase string

const (
	// PhaseIdle means no cycle is running
	PhaseIdle Phase = "idle"

	// PhaseFetching means the engine is updating the local clone
	PhaseFetching Phase = "fetching"

	// PhaseMirroring means the engine is applying filesystem operations
	PhaseMirroring Phase = "mirroring"

	// PhaseReloading means the engine is notifying the co-located process
	PhaseReloading Phase = "reloading"

	// PhaseBackoff means a phase failed and the engine is waiting to retry it
	PhaseBackoff Phase = "backoff"

	// PhaseFailed means the current cycle gave up. The next trigger starts
	// a fresh cycle; failed is never globally fatal.
	PhaseFailed Phase = "failed"
)

// Outcome records how a cycle ended
type Outcome string

const (
	// OutcomeSuccess means content changed, the revision was committed and
	// the reload notification was delivered
	OutcomeSuccess Outcome = "success"

	// OutcomeUnchanged means the cycle was a no-op: either the revision
	// matched the committed one, or the new revision produced an empty
	// mirror plan and the reload was skipped
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeFetchFailed means the fetch phase exhausted its retries.
	// Nothing was committed.
	OutcomeFetchFailed Outcome = "fetch-failed"

	// OutcomeMirrorFailed means the mirror phase exhausted its retries.
	// Nothing was committed; a partial apply is repaired by the next cycle.
	OutcomeMirrorFailed Outcome = "mirror-failed"

	// OutcomeReloadFailed means the mirror was applied and the revision
	// committed, but the reload notification could not be delivered
	OutcomeReloadFailed Outcome = "reload-failed"

	// OutcomeInterrupted means a previous run stopped mid-cycle, detected
	// from the persisted in-progress marker at startup
	OutcomeInterrupted Outcome = "interrupted"
)

// Trigger reasons carried in logs and metrics
const (
	// TriggerInterval is a periodic timer tick
	TriggerInterval = "interval"

	// TriggerWebhook is an external push notification
	TriggerWebhook = "webhook"

	// TriggerManual is an operator-requested one-shot sync
	TriggerManual = "manual"

	// TriggerStartup is the initial sync performed when the engine starts
	TriggerStartup = "startup"
)

// Status is an observable snapshot of the engine state
type Status struct {
	// Phase is the current state machine phase
	Phase Phase `json:"phase"`

	// Revision is the committed revision, empty when none is known
	Revision string `json:"revision,omitempty"`

	// PendingTrigger reports whether a trigger arrived during the current
	// cycle and a follow-up cycle is queued
	PendingTrigger bool `json:"pendingTrigger"`

	// LastSyncTime is when the last cycle finished
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`

	// LastOutcome records how the last cycle ended
	LastOutcome Outcome `json:"lastOutcome,omitempty"`

	// LastError holds the error of the last failed cycle
	LastError string `json:"lastError,omitempty"`

	// CycleCount is the number of cycles started since the engine was
	// created, including the persisted count from previous runs
	CycleCount uint64 `json:"cycleCount"`
}
