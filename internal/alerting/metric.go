package alerting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hydrowatch/alertengine/internal/errors"
)

// ErrCollectorNotReady is returned by CollectAll while a push-fed collector
// has not received anything yet. Callers must not read it as "no readings".
var ErrCollectorNotReady = errors.NewStd("collector has not received any readings yet")

// Metric is one reading of a named metric for one target. An invalid Value
// means the reading is absent and never matches any operator.
type Metric struct {
	TargetType  string              `json:"target_type,omitempty"`
	TargetID    string              `json:"target_id"`
	Name        string              `json:"metric"`
	Value       decimal.NullDecimal `json:"value"`
	CollectedAt time.Time           `json:"collected_at"`
}

// NewMetric builds a present reading.
func NewMetric(targetType, targetID, name string, value decimal.Decimal, collectedAt time.Time) Metric {
	return Metric{
		TargetType:  targetType,
		TargetID:    targetID,
		Name:        name,
		Value:       decimal.NewNullDecimal(value),
		CollectedAt: collectedAt,
	}
}

// MetricCollector supplies current readings for the metric names it supports.
// CollectAll returns every target's reading in one call.
type MetricCollector interface {
	Name() string
	Supports(metric string) bool
	CollectAll(ctx context.Context, metric string) ([]Metric, error)
}

// MetricLister is implemented by collectors that can enumerate their metrics.
type MetricLister interface {
	MetricNames() []string
}
