package alerting

import (
	"slices"
	"sync"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/hydrowatch/alertengine/internal/errors"
)

// CollectorRegistry resolves a metric name to the first registered collector
// that supports it. Resolutions are memoized until ClearCache.
type CollectorRegistry struct {
	mu         sync.RWMutex
	collectors []MetricCollector

	resolved *cache.Cache
	group    singleflight.Group
}

// NewCollectorRegistry creates a registry probing collectors in the given order.
func NewCollectorRegistry(collectors ...MetricCollector) *CollectorRegistry {
	return &CollectorRegistry{
		collectors: slices.Clone(collectors),
		resolved:   cache.New(cache.NoExpiration, 0),
	}
}

// Register appends a collector. Earlier collectors keep priority.
func (r *CollectorRegistry) Register(c MetricCollector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors = append(r.collectors, c)
}

// Collectors returns the registered collectors in lookup order.
func (r *CollectorRegistry) Collectors() []MetricCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.collectors)
}

// Resolve returns the collector for metric. Concurrent first lookups of the
// same name share one search. Fails with ErrUnknownMetric if none supports it.
func (r *CollectorRegistry) Resolve(metric string) (MetricCollector, error) {
	if c, ok := r.resolved.Get(metric); ok {
		return c.(MetricCollector), nil
	}

	v, err, _ := r.group.Do(metric, func() (any, error) {
		if c, ok := r.resolved.Get(metric); ok {
			return c, nil
		}
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, c := range r.collectors {
			if c.Supports(metric) {
				r.resolved.Set(metric, c, cache.NoExpiration)
				return c, nil
			}
		}
		return nil, errors.Newf("no collector supports metric %q", metric).
			Component("collector-registry").
			Category(errors.CategoryUnknownMetric).
			Context("metric", metric).
			Build()
	})
	if err != nil {
		return nil, err
	}
	return v.(MetricCollector), nil
}

// IsSupported reports whether some collector supports metric.
func (r *CollectorRegistry) IsSupported(metric string) bool {
	_, err := r.Resolve(metric)
	return err == nil
}

// ClearCache drops all memoized resolutions.
func (r *CollectorRegistry) ClearCache() {
	r.resolved.Flush()
}

// CachedCount returns the number of memoized resolutions.
func (r *CollectorRegistry) CachedCount() int {
	return r.resolved.ItemCount()
}

// SupportedMetrics lists metric names declared by collectors implementing
// MetricLister, sorted and de-duplicated.
func (r *CollectorRegistry) SupportedMetrics() []string {
	var names []string
	for _, c := range r.Collectors() {
		if l, ok := c.(MetricLister); ok {
			names = append(names, l.MetricNames()...)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}
