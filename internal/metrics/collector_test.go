package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector
	// None of these may panic.
	c.UpdatePoolGauges("redis", 1, 2, 3)
	c.RecordCreated("redis")
	c.RecordDestroyed("redis")
	c.RecordCreationFailure("redis")
	c.RecordAcquire("redis", time.Millisecond)
	c.RecordRelease("redis")
	c.RecordAcquireTimeout("redis")
	c.RecordTransaction("committed")
	c.RecordPhase("prepare", time.Millisecond)
}

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("storagecore", reg, zap.NewNop())

	c.UpdatePoolGauges("redis", 3, 2, 1)
	c.RecordCreated("redis")
	c.RecordCreated("redis")
	c.RecordAcquire("redis", 5*time.Millisecond)
	c.RecordRelease("redis")
	c.RecordAcquireTimeout("redis")
	c.RecordTransaction("committed")
	c.RecordTransaction("failed")

	assert.Equal(t, 3.0, testutil.ToFloat64(c.poolActive.WithLabelValues("redis")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.poolIdle.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.poolPending.WithLabelValues("redis")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsCreated.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.acquiresTotal.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.releasesTotal.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.acquireTimeouts.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactionsTotal.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactionsTotal.WithLabelValues("failed")))
}

func TestCollectorSeparateRegistries(t *testing.T) {
	// Two collectors on distinct registries do not collide.
	a := NewCollector("storagecore", prometheus.NewRegistry(), zap.NewNop())
	b := NewCollector("storagecore", prometheus.NewRegistry(), zap.NewNop())
	require.NotNil(t, a)
	require.NotNil(t, b)
	a.RecordCreated("redis")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.connectionsCreated.WithLabelValues("redis")))
}
