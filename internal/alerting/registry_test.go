package alerting

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/alertengine/internal/errors"
)

func TestCollectorRegistry_FirstMatchWins(t *testing.T) {
	first := newFakeCollector("first", MetricFlow)
	second := newFakeCollector("second", MetricFlow, MetricPH)
	reg := NewCollectorRegistry(first, second)

	c, err := reg.Resolve(MetricFlow)
	require.NoError(t, err)
	assert.Equal(t, "first", c.Name())

	c, err = reg.Resolve(MetricPH)
	require.NoError(t, err)
	assert.Equal(t, "second", c.Name())
}

func TestCollectorRegistry_CachesResolution(t *testing.T) {
	c := newFakeCollector("water", MetricPH)
	reg := NewCollectorRegistry(c)

	a, err := reg.Resolve(MetricPH)
	require.NoError(t, err)
	b, err := reg.Resolve(MetricPH)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, int32(1), c.lookups.Load(), "second lookup is served from cache")
	assert.Equal(t, 1, reg.CachedCount())

	reg.ClearCache()
	assert.Zero(t, reg.CachedCount())
	_, err = reg.Resolve(MetricPH)
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.lookups.Load())
}

func TestCollectorRegistry_UnknownMetric(t *testing.T) {
	reg := NewCollectorRegistry(newFakeCollector("water", MetricPH))

	_, err := reg.Resolve("chlorophyll")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownMetric)
	assert.False(t, reg.IsSupported("chlorophyll"))
	assert.True(t, reg.IsSupported(MetricPH))
	assert.Equal(t, 1, reg.CachedCount(), "failed lookups are not cached")
}

func TestCollectorRegistry_RegisterAfterMiss(t *testing.T) {
	reg := NewCollectorRegistry()
	_, err := reg.Resolve(MetricCPUUsage)
	require.Error(t, err)

	reg.Register(newFakeCollector("host", MetricCPUUsage))
	c, err := reg.Resolve(MetricCPUUsage)
	require.NoError(t, err)
	assert.Equal(t, "host", c.Name())
	assert.Len(t, reg.Collectors(), 1)
}

func TestCollectorRegistry_ConcurrentResolve(t *testing.T) {
	c := newFakeCollector("water", MetricPH)
	reg := NewCollectorRegistry(c)

	var wg sync.WaitGroup
	got := make([]MetricCollector, 50)
	for i := range got {
		wg.Go(func() {
			r, err := reg.Resolve(MetricPH)
			assert.NoError(t, err)
			got[i] = r
		})
	}
	wg.Wait()

	for _, r := range got {
		assert.Same(t, got[0], r)
	}
}

func TestCollectorRegistry_SupportedMetrics(t *testing.T) {
	reg := NewCollectorRegistry(
		newFakeCollector("a", MetricPH, MetricFlow),
		newFakeCollector("b", MetricFlow, MetricCPUUsage),
		panicCollector{},
	)
	assert.Equal(t, []string{MetricFlow, MetricPH, MetricCPUUsage}, reg.SupportedMetrics())
}
