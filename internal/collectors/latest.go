// Package collectors provides the bundled metric collectors.
package collectors

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hydrowatch/alertengine/internal/alerting"
)

// defaultMaxAge is how long a pushed reading stays current.
const defaultMaxAge = 30 * time.Minute

type sample struct {
	targetType string
	value      decimal.Decimal
	at         time.Time
}

// LatestOption configures LatestReadings.
type LatestOption func(*LatestReadings)

// WithMaxAge sets how long a reading stays current.
func WithMaxAge(d time.Duration) LatestOption {
	return func(l *LatestReadings) {
		if d > 0 {
			l.maxAge = d
		}
	}
}

// WithLatestClock overrides the clock.
func WithLatestClock(now func() time.Time) LatestOption {
	return func(l *LatestReadings) { l.now = now }
}

// LatestReadings is a MetricCollector over pushed readings. It keeps the
// newest reading per metric and target and derives
// device.silence_minutes from when each device last reported.
type LatestReadings struct {
	name    string
	metrics []string
	maxAge  time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	readings map[string]map[string]sample // metric -> target id -> sample
	lastSeen map[string]time.Time         // device id -> last report

	ready atomic.Bool
}

// NewLatestReadings creates a collector serving the given metric names.
func NewLatestReadings(name string, metrics []string, opts ...LatestOption) *LatestReadings {
	l := &LatestReadings{
		name:     name,
		metrics:  slices.Clone(metrics),
		maxAge:   defaultMaxAge,
		now:      func() time.Time { return time.Now().UTC() },
		readings: make(map[string]map[string]sample),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the collector name.
func (l *LatestReadings) Name() string { return l.name }

// Supports reports whether metric is served.
func (l *LatestReadings) Supports(metric string) bool {
	return metric == alerting.MetricDeviceSilence || slices.Contains(l.metrics, metric)
}

// MetricNames lists the served metrics.
func (l *LatestReadings) MetricNames() []string {
	return append(slices.Clone(l.metrics), alerting.MetricDeviceSilence)
}

// Ready reports whether any reading or heartbeat has arrived. Until then
// CollectAll fails with alerting.ErrCollectorNotReady.
func (l *LatestReadings) Ready() bool { return l.ready.Load() }

// MarkReady opens the collector without a reading, for feeds that are known
// to be empty.
func (l *LatestReadings) MarkReady() { l.ready.Store(true) }

// Record stores a reading. Older readings than the stored one are ignored.
// Any reading from a device target counts as a device report.
func (l *LatestReadings) Record(m alerting.Metric) {
	if !m.Value.Valid || m.TargetID == "" {
		return
	}
	l.ready.Store(true)
	at := m.CollectedAt
	if at.IsZero() {
		at = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if m.TargetType == alerting.TargetTypeDevice {
		l.touchLocked(m.TargetID, at)
	}
	if !slices.Contains(l.metrics, m.Name) {
		return
	}
	byTarget := l.readings[m.Name]
	if byTarget == nil {
		byTarget = make(map[string]sample)
		l.readings[m.Name] = byTarget
	}
	if prev, ok := byTarget[m.TargetID]; ok && prev.at.After(at) {
		return
	}
	byTarget[m.TargetID] = sample{targetType: m.TargetType, value: m.Value.Decimal, at: at}
}

// Touch records a device heartbeat.
func (l *LatestReadings) Touch(deviceID string, at time.Time) {
	l.ready.Store(true)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touchLocked(deviceID, at)
}

func (l *LatestReadings) touchLocked(deviceID string, at time.Time) {
	if prev, ok := l.lastSeen[deviceID]; !ok || at.After(prev) {
		l.lastSeen[deviceID] = at
	}
}

// CollectAll returns the current reading of metric for every target.
// Readings older than the max age are evicted and omitted.
func (l *LatestReadings) CollectAll(_ context.Context, metric string) ([]alerting.Metric, error) {
	if !l.ready.Load() {
		return nil, alerting.ErrCollectorNotReady
	}
	now := l.now()
	if metric == alerting.MetricDeviceSilence {
		return l.silence(now), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	byTarget := l.readings[metric]
	cutoff := now.Add(-l.maxAge)
	out := make([]alerting.Metric, 0, len(byTarget))
	for id, s := range byTarget {
		if s.at.Before(cutoff) {
			delete(byTarget, id)
			continue
		}
		out = append(out, alerting.NewMetric(s.targetType, id, metric, s.value, s.at))
	}
	return out, nil
}

func (l *LatestReadings) silence(now time.Time) []alerting.Metric {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]alerting.Metric, 0, len(l.lastSeen))
	for id, seen := range l.lastSeen {
		minutes := max(int64(now.Sub(seen)/time.Minute), 0)
		out = append(out, alerting.NewMetric(alerting.TargetTypeDevice, id, alerting.MetricDeviceSilence, decimal.NewFromInt(minutes), now))
	}
	return out
}

// Forget drops every reading and heartbeat of a target.
func (l *LatestReadings) Forget(targetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lastSeen, targetID)
	for _, byTarget := range l.readings {
		delete(byTarget, targetID)
	}
}
