package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewSyncMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewSyncMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("creates instruments with SDK provider", func(t *testing.T) {
		t.Parallel()

		mp := sdkmetric.NewMeterProvider()
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewSyncMetrics(mp)
		require.NoError(t, err)
		require.NotNil(t, metrics)
		assert.NotNil(t, metrics.cyclesTotal)
		assert.NotNil(t, metrics.syncDuration)
		assert.NotNil(t, metrics.phaseDuration)
		assert.NotNil(t, metrics.mirrorOps)
		assert.NotNil(t, metrics.reloadAttempts)
		assert.NotNil(t, metrics.currentRevision)
		assert.NotNil(t, metrics.pendingTrigger)
	})
}

func TestSyncMetrics_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var metrics *SyncMetrics

	// All record methods must be no-ops on a nil receiver
	metrics.RecordCycle(ctx, "interval", "success", time.Second)
	metrics.RecordPhaseDuration(ctx, "fetching", time.Millisecond)
	metrics.RecordMirrorOps(ctx, "create", 3)
	metrics.RecordReloadAttempt(ctx, false)
	metrics.RecordRevision(ctx, "abc1234")
	metrics.RecordPendingTrigger(ctx, true)
}

func TestSyncMetrics_Record(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(ctx) }()

	metrics, err := NewSyncMetrics(mp)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	metrics.RecordCycle(ctx, "webhook", "success", 2*time.Second)
	metrics.RecordPhaseDuration(ctx, "mirroring", 100*time.Millisecond)
	metrics.RecordMirrorOps(ctx, "create", 5)
	metrics.RecordMirrorOps(ctx, "delete", 0) // zero count must not record
	metrics.RecordReloadAttempt(ctx, true)
	metrics.RecordRevision(ctx, "abc1234")
	metrics.RecordPendingTrigger(ctx, true)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	recorded := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		require.Equal(t, SyncMetricsMeterName, scope.Scope.Name)
		for _, m := range scope.Metrics {
			recorded[m.Name] = true
		}
	}

	assert.True(t, recorded["gitmirrord_sync_cycles_total"])
	assert.True(t, recorded["gitmirrord_sync_duration_seconds"])
	assert.True(t, recorded["gitmirrord_sync_phase_duration_seconds"])
	assert.True(t, recorded["gitmirrord_mirror_operations_total"])
	assert.True(t, recorded["gitmirrord_reload_attempts_total"])
	assert.True(t, recorded["gitmirrord_current_revision_info"])
	assert.True(t, recorded["gitmirrord_pending_trigger"])
}
