package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/driftsync/gitmirrord/sync"
)

// SyncMetrics holds the OpenTelemetry instruments for sync cycle metrics
type SyncMetrics struct {
	cyclesTotal     metric.Int64Counter
	syncDuration    metric.Float64Histogram
	phaseDuration   metric.Float64Histogram
	mirrorOps       metric.Int64Counter
	reloadAttempts  metric.Int64Counter
	currentRevision metric.Int64Gauge
	pendingTrigger  metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	cyclesTotal, err := meter.Int64Counter(
		"gitmirrord_sync_cycles_total",
		metric.WithDescription("Number of completed sync cycles by trigger and outcome"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	syncDuration, err := meter.Float64Histogram(
		"gitmirrord_sync_duration_seconds",
		metric.WithDescription("Duration of full sync cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	phaseDuration, err := meter.Float64Histogram(
		"gitmirrord_sync_phase_duration_seconds",
		metric.WithDescription("Duration of individual sync phases in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	mirrorOps, err := meter.Int64Counter(
		"gitmirrord_mirror_operations_total",
		metric.WithDescription("Number of file operations applied to the mirror directory"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	reloadAttempts, err := meter.Int64Counter(
		"gitmirrord_reload_attempts_total",
		metric.WithDescription("Number of reload notification attempts by result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	currentRevision, err := meter.Int64Gauge(
		"gitmirrord_current_revision_info",
		metric.WithDescription("Always 1, labeled with the currently mirrored revision"),
	)
	if err != nil {
		return nil, err
	}

	pendingTrigger, err := meter.Int64Gauge(
		"gitmirrord_pending_trigger",
		metric.WithDescription("Whether a coalesced trigger is waiting for the running cycle to finish"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		cyclesTotal:     cyclesTotal,
		syncDuration:    syncDuration,
		phaseDuration:   phaseDuration,
		mirrorOps:       mirrorOps,
		reloadAttempts:  reloadAttempts,
		currentRevision: currentRevision,
		pendingTrigger:  pendingTrigger,
	}, nil
}

// RecordCycle records a completed sync cycle with its trigger, outcome and duration
func (m *SyncMetrics) RecordCycle(ctx context.Context, trigger, outcome string, duration time.Duration) {
	if m == nil || m.cyclesTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	}

	m.cyclesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordPhaseDuration records the duration of a single sync phase
func (m *SyncMetrics) RecordPhaseDuration(ctx context.Context, phase string, duration time.Duration) {
	if m == nil || m.phaseDuration == nil {
		return
	}

	m.phaseDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordMirrorOps records the number of mirror file operations of one kind
func (m *SyncMetrics) RecordMirrorOps(ctx context.Context, op string, count int) {
	if m == nil || m.mirrorOps == nil || count == 0 {
		return
	}

	m.mirrorOps.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("op", op)))
}

// RecordReloadAttempt records the result of a reload notification attempt
func (m *SyncMetrics) RecordReloadAttempt(ctx context.Context, success bool) {
	if m == nil || m.reloadAttempts == nil {
		return
	}

	result := "success"
	if !success {
		result = "failure"
	}

	m.reloadAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)))
}

// RecordRevision records the currently mirrored revision
func (m *SyncMetrics) RecordRevision(ctx context.Context, revision string) {
	if m == nil || m.currentRevision == nil {
		return
	}

	m.currentRevision.Record(ctx, 1,
		metric.WithAttributes(attribute.String("revision", revision)))
}

// RecordPendingTrigger records whether a trigger is pending behind the running cycle
func (m *SyncMetrics) RecordPendingTrigger(ctx context.Context, pending bool) {
	if m == nil || m.pendingTrigger == nil {
		return
	}

	var v int64
	if pending {
		v = 1
	}

	m.pendingTrigger.Record(ctx, v)
}
