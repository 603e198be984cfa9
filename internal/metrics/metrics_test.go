package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	ctx := context.Background()

	rec.Observe(ctx, "process_request", true, 10*time.Millisecond)
	rec.Observe(ctx, "process_request", false, 5*time.Millisecond)
	rec.Observe(ctx, "process_request", true, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(rec.operations.WithLabelValues("process_request", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.operations.WithLabelValues("process_request", "error")), 0)

	n, err := testutil.GatherAndCount(reg, "sequelacore_service_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorderRows(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())
	rec.Rows("sequela", "create", 2)
	rec.Rows("sequela", "create", 0)
	assert.InDelta(t, 2, testutil.ToFloat64(rec.rows.WithLabelValues("sequela", "create")), 0)
}
