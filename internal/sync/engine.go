package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	noptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/driftsync/gitmirrord/internal/git"
	"github.com/driftsync/gitmirrord/internal/mirror"
	"github.com/driftsync/gitmirrord/internal/reload"
	"github.com/driftsync/gitmirrord/internal/revision"
	"github.com/driftsync/gitmirrord/internal/state"
	"github.com/driftsync/gitmirrord/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks -source=engine.go Engine

// TracerName is the name used for the sync engine tracer
const TracerName = "github.com/driftsync/gitmirrord/sync"

// RetryPolicy bounds retries of a failing phase within one cycle
type RetryPolicy struct {
	// MaxAttempts is the attempt ceiling, including the first attempt
	MaxAttempts int

	// InitialInterval is the first backoff delay
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay
	MaxInterval time.Duration
}

// Config holds the engine's phase timeouts and retry policies
type Config struct {
	// FetchTimeout bounds a single fetch attempt
	FetchTimeout time.Duration

	// MirrorTimeout bounds a single plan-and-apply attempt
	MirrorTimeout time.Duration

	// SyncRetry applies to the fetch and mirror phases
	SyncRetry RetryPolicy

	// ReloadRetry applies to the reload phase. The mirror is already
	// applied and the revision committed when reload retries run.
	ReloadRetry RetryPolicy
}

// Engine drives the sync state machine. Exactly one pipeline runs at a
// time; Trigger calls arriving mid-cycle are coalesced into a single
// follow-up cycle.
type Engine interface {
	// Start runs the engine loop until the context is cancelled or Stop
	// is called
	Start(ctx context.Context) error

	// Stop rejects new triggers, cancels the running cycle and waits for
	// the loop to drain. Safe to call multiple times.
	Stop() error

	// Trigger requests a sync. When a cycle is in flight the trigger is
	// recorded as pending instead of starting a second pipeline.
	Trigger(reason string)

	// Status returns a snapshot of the engine state
	Status() Status

	// RunOnce executes a single cycle synchronously. Used for one-shot
	// syncs; must not be mixed with a running Start loop.
	RunOnce(ctx context.Context, reason string) (Outcome, error)
}

// defaultEngine is the default Engine implementation
type defaultEngine struct {
	fetcher  git.Fetcher
	syncer   mirror.Syncer
	notifier reload.Notifier
	tracker  *revision.Tracker
	store    state.Store
	cfg      Config

	metrics *telemetry.SyncMetrics
	tracer  trace.Tracer
	logger  *slog.Logger

	mu            sync.Mutex
	status        Status
	pendingReason string
	stopping      bool
	cancel        context.CancelFunc

	// wake carries the trigger reason to the run loop; buffered so that
	// triggers racing out of idle coalesce instead of blocking
	wake chan string
	done chan struct{}
}

// Option configures the engine
type Option func(*defaultEngine)

// WithMetrics attaches sync metrics instruments. Nil metrics are a no-op.
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(e *defaultEngine) {
		e.metrics = m
	}
}

// WithTracerProvider attaches a tracer provider for cycle and phase spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *defaultEngine) {
		e.tracer = tp.Tracer(TracerName)
	}
}

// WithRestoredState seeds the engine status from persisted state. A state
// restored with its in-progress marker set means the previous run was
// interrupted mid-cycle; the outcome is recorded as interrupted and the
// next cycle repairs whatever the interrupted one left behind.
func WithRestoredState(st *state.SyncState) Option {
	return func(e *defaultEngine) {
		if st == nil {
			return
		}
		e.status.LastSyncTime = st.LastSyncTime
		e.status.LastOutcome = Outcome(st.LastOutcome)
		e.status.LastError = st.LastError
		e.status.CycleCount = st.CycleCount
		if st.InProgress {
			e.status.LastOutcome = OutcomeInterrupted
			e.status.LastError = "previous run was interrupted mid-cycle"
		}
	}
}

// NewEngine creates an engine over the given collaborators. The tracker
// carries the committed revision; seed it from persisted state before
// passing it in to avoid a needless first-cycle reload.
func NewEngine(
	fetcher git.Fetcher,
	syncer mirror.Syncer,
	notifier reload.Notifier,
	tracker *revision.Tracker,
	store state.Store,
	cfg Config,
	opts ...Option,
) Engine {
	e := &defaultEngine{
		fetcher:  fetcher,
		syncer:   syncer,
		notifier: notifier,
		tracker:  tracker,
		store:    store,
		cfg:      cfg,
		tracer:   noptrace.NewTracerProvider().Tracer(TracerName),
		logger:   slog.With("component", "sync"),
		status:   Status{Phase: PhaseIdle},
		wake:     make(chan string, 1),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start runs the engine loop until the context is cancelled or Stop is
// called. Only this loop executes cycles; the trigger path never does.
func (e *defaultEngine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	defer close(e.done)
	e.logger.Info("Sync engine started")

	for {
		select {
		case <-runCtx.Done():
			e.logger.Info("Sync engine stopped")
			return nil
		case reason := <-e.wake:
			e.runCycles(runCtx, reason)
		}
	}
}

// Stop rejects new triggers, cancels the running cycle and waits for the
// loop to drain
func (e *defaultEngine) Stop() error {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		e.logger.Info("Stopping sync engine")
		cancel()
		<-e.done
	}
	return nil
}

// Trigger requests a sync. Arriving during a cycle it only flips the
// pending flag; the single-pipeline gate is never bypassed.
func (e *defaultEngine) Trigger(reason string) {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return
	}
	if e.status.Phase != PhaseIdle && e.status.Phase != PhaseFailed {
		e.status.PendingTrigger = true
		e.pendingReason = reason
		e.mu.Unlock()
		e.metrics.RecordPendingTrigger(context.Background(), true)
		e.logger.Debug("Cycle in flight, trigger queued", "trigger", reason)
		return
	}
	e.mu.Unlock()

	select {
	case e.wake <- reason:
	default:
		// a wake is already queued; this trigger coalesces into it
	}
}

// Status returns a snapshot of the engine state
func (e *defaultEngine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.status
	st.Revision = e.tracker.Current()
	return st
}

// RunOnce executes a single cycle synchronously
func (e *defaultEngine) RunOnce(ctx context.Context, reason string) (Outcome, error) {
	return e.runCycle(ctx, reason)
}

// runCycles runs one cycle and then, while a pending trigger is set,
// exactly one follow-up cycle per drain of the flag. N triggers during a
// cycle collapse into a single queued follow-up.
func (e *defaultEngine) runCycles(ctx context.Context, reason string) {
	for {
		_, _ = e.runCycle(ctx, reason)

		e.mu.Lock()
		if ctx.Err() != nil || e.stopping || !e.status.PendingTrigger {
			e.mu.Unlock()
			return
		}
		e.status.PendingTrigger = false
		reason = e.pendingReason
		e.mu.Unlock()

		e.metrics.RecordPendingTrigger(ctx, false)
		e.logger.Debug("Running queued follow-up cycle", "trigger", reason)
	}
}

// runCycle executes one fetch-mirror-reload cycle
func (e *defaultEngine) runCycle(ctx context.Context, reason string) (Outcome, error) {
	cycleID := uuid.NewString()[:8]
	log := e.logger.With("cycle_id", cycleID, "trigger", reason)

	ctx, span := e.tracer.Start(ctx, "sync.cycle",
		trace.WithAttributes(
			attribute.String("trigger", reason),
			attribute.String("cycle_id", cycleID),
		),
	)
	defer span.End()

	start := time.Now()
	e.beginCycle(ctx, log)
	log.Info("Sync cycle started")

	outcome, err := e.executeCycle(ctx, log)
	duration := time.Since(start)

	e.finishCycle(ctx, log, outcome, err)
	e.metrics.RecordCycle(ctx, reason, string(outcome), duration)
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	if err != nil {
		log.Error("Sync cycle failed",
			"outcome", string(outcome),
			"duration", duration.String(),
			"error", err)
	} else {
		log.Info("Sync cycle finished",
			"outcome", string(outcome),
			"duration", duration.String(),
			"revision", shortRevision(e.tracker.Current()))
	}

	return outcome, err
}

// executeCycle sequences the phases. A fetch or mirror failure aborts
// before the revision is committed; a reload failure happens after.
func (e *defaultEngine) executeCycle(ctx context.Context, log *slog.Logger) (Outcome, error) {
	checkout, err := e.fetchPhase(ctx, log)
	if err != nil {
		return OutcomeFetchFailed, err
	}

	if !e.tracker.ShouldSync(checkout.Revision) {
		log.Debug("Revision unchanged, nothing to do",
			"revision", shortRevision(checkout.Revision))
		return OutcomeUnchanged, nil
	}

	changed, err := e.mirrorPhase(ctx, log, checkout)
	if err != nil {
		return OutcomeMirrorFailed, err
	}

	// The mirror now fully reflects the new revision. Commit before
	// reload: a failed reload must not un-commit it.
	e.tracker.Commit(checkout.Revision)
	e.metrics.RecordRevision(ctx, shortRevision(checkout.Revision))

	if !changed {
		log.Info("New revision with identical content, reload skipped",
			"revision", shortRevision(checkout.Revision))
		return OutcomeUnchanged, nil
	}

	if err := e.reloadPhase(ctx, log, checkout.Revision); err != nil {
		return OutcomeReloadFailed, err
	}

	return OutcomeSuccess, nil
}

// fetchPhase updates the clone and resolves the target revision
func (e *defaultEngine) fetchPhase(ctx context.Context, log *slog.Logger) (*git.Checkout, error) {
	ctx, span := e.tracer.Start(ctx, "sync.fetch")
	defer span.End()
	start := time.Now()
	defer func() {
		e.metrics.RecordPhaseDuration(ctx, string(PhaseFetching), time.Since(start))
	}()

	checkout, err := retryPhase(ctx, e, log, PhaseFetching, e.cfg.SyncRetry,
		func(ctx context.Context) (*git.Checkout, error) {
			fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
			defer cancel()
			return e.fetcher.Fetch(fctx)
		})
	if err != nil {
		return nil, newFetchError(err)
	}

	log.Debug("Fetch complete", "revision", shortRevision(checkout.Revision))
	return checkout, nil
}

// mirrorPhase plans and applies the filesystem operations. The plan is
// recomputed on every retry so a partially applied attempt is repaired
// rather than replayed blindly.
func (e *defaultEngine) mirrorPhase(ctx context.Context, log *slog.Logger, checkout *git.Checkout) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "sync.mirror")
	defer span.End()
	start := time.Now()
	defer func() {
		e.metrics.RecordPhaseDuration(ctx, string(PhaseMirroring), time.Since(start))
	}()

	changed, err := retryPhase(ctx, e, log, PhaseMirroring, e.cfg.SyncRetry,
		func(ctx context.Context) (bool, error) {
			mctx, cancel := context.WithTimeout(ctx, e.cfg.MirrorTimeout)
			defer cancel()

			plan, err := e.syncer.Plan(mctx, checkout.Root)
			if err != nil {
				return false, err
			}
			if plan.Empty() {
				return false, nil
			}

			log.Info("Applying mirror plan",
				"creates", len(plan.Creates),
				"updates", len(plan.Updates),
				"deletes", len(plan.Deletes))

			applied, err := e.syncer.Apply(mctx, plan)
			if err != nil {
				return false, err
			}

			e.metrics.RecordMirrorOps(mctx, string(mirror.OpCreate), len(plan.Creates))
			e.metrics.RecordMirrorOps(mctx, string(mirror.OpUpdate), len(plan.Updates))
			e.metrics.RecordMirrorOps(mctx, string(mirror.OpDelete), len(plan.Deletes))
			return applied, nil
		})
	if err != nil {
		return false, newMirrorError(err)
	}

	return changed, nil
}

// reloadPhase notifies the co-located process. Retries here never touch
// the mirror or the committed revision.
func (e *defaultEngine) reloadPhase(ctx context.Context, log *slog.Logger, rev string) error {
	ctx, span := e.tracer.Start(ctx, "sync.reload")
	defer span.End()
	start := time.Now()
	defer func() {
		e.metrics.RecordPhaseDuration(ctx, string(PhaseReloading), time.Since(start))
	}()

	_, err := retryPhase(ctx, e, log, PhaseReloading, e.cfg.ReloadRetry,
		func(ctx context.Context) (struct{}, error) {
			err := e.notifier.Notify(ctx, rev)
			e.metrics.RecordReloadAttempt(ctx, err == nil)
			return struct{}{}, err
		})
	if err != nil {
		return newReloadError(err)
	}

	log.Info("Reload notification delivered",
		"notifier", e.notifier.Name(),
		"revision", shortRevision(rev))
	return nil
}

// retryPhase runs op with exponential backoff up to the policy's attempt
// ceiling. Between attempts the engine's phase flips to backoff and back,
// so retries are observable in the status.
func retryPhase[T any](
	ctx context.Context,
	e *defaultEngine,
	log *slog.Logger,
	phase Phase,
	policy RetryPolicy,
	op func(context.Context) (T, error),
) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval

	return backoff.Retry(ctx,
		func() (T, error) {
			e.setPhase(phase)
			return op(ctx)
		},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			e.setPhase(PhaseBackoff)
			log.Warn("Phase failed, backing off",
				"phase", string(phase),
				"delay", delay.String(),
				"error", err)
		}),
	)
}

// beginCycle counts the cycle and persists the in-progress marker
func (e *defaultEngine) beginCycle(ctx context.Context, log *slog.Logger) {
	e.mu.Lock()
	e.status.CycleCount++
	persisted := e.snapshotLocked()
	persisted.InProgress = true
	e.mu.Unlock()

	if err := e.store.Save(ctx, persisted); err != nil {
		log.Warn("Failed to persist cycle start", "error", err)
	}
}

// finishCycle records the outcome in status and persisted state
func (e *defaultEngine) finishCycle(ctx context.Context, log *slog.Logger, outcome Outcome, err error) {
	now := time.Now()

	e.mu.Lock()
	if err != nil {
		e.status.Phase = PhaseFailed
		e.status.LastError = err.Error()
	} else {
		e.status.Phase = PhaseIdle
		e.status.LastError = ""
	}
	e.status.LastOutcome = outcome
	e.status.LastSyncTime = &now
	persisted := e.snapshotLocked()
	e.mu.Unlock()

	if saveErr := e.store.Save(ctx, persisted); saveErr != nil {
		log.Warn("Failed to persist cycle outcome", "error", saveErr)
	}
}

// snapshotLocked builds the persisted form of the current status. The
// caller must hold e.mu.
func (e *defaultEngine) snapshotLocked() *state.SyncState {
	return &state.SyncState{
		Revision:     e.tracker.Current(),
		LastSyncTime: e.status.LastSyncTime,
		LastOutcome:  string(e.status.LastOutcome),
		LastError:    e.status.LastError,
		CycleCount:   e.status.CycleCount,
	}
}

// setPhase updates the state machine phase
func (e *defaultEngine) setPhase(p Phase) {
	e.mu.Lock()
	e.status.Phase = p
	e.mu.Unlock()
}

// shortRevision truncates a revision for log lines
func shortRevision(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
