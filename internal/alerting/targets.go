package alerting

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
)

// TargetTypeTable maps a metric name to the target types that report it,
// in priority order.
type TargetTypeTable map[string][]string

// DefaultTargetTypeTable returns the bundled metric to target type mapping.
// Flow is metered both at site level and per device; site wins.
func DefaultTargetTypeTable() TargetTypeTable {
	return TargetTypeTable{
		MetricPH:               {TargetTypeSite},
		MetricTurbidity:        {TargetTypeSite},
		MetricResidualChlorine: {TargetTypeSite},
		MetricFlow:             {TargetTypeSite, TargetTypeDevice},
		MetricPressure:         {TargetTypeDevice, TargetTypeSite},
		MetricWaterLevel:       {TargetTypeSite},
		MetricDeviceSilence:    {TargetTypeDevice},
		MetricTaskOverdueHours: {TargetTypeTask},
		MetricCPUUsage:         {TargetTypeHost},
		MetricMemoryUsage:      {TargetTypeHost},
		MetricDiskUsage:        {TargetTypeHost},
	}
}

// Merge returns a copy of t with overrides replacing whole entries.
func (t TargetTypeTable) Merge(overrides map[string][]string) TargetTypeTable {
	out := maps.Clone(t)
	if out == nil {
		out = TargetTypeTable{}
	}
	for metric, types := range overrides {
		if len(types) > 0 {
			out[metric] = slices.Clone(types)
		}
	}
	return out
}

// Lookup returns the first candidate target type for metric.
func (t TargetTypeTable) Lookup(metric string) (string, bool) {
	types := t[metric]
	if len(types) == 0 {
		return "", false
	}
	return types[0], true
}

// Reports reports whether metric is listed for targetType. Metrics missing
// from the table are assumed to report any type.
func (t TargetTypeTable) Reports(metric, targetType string) bool {
	types, listed := t[metric]
	return !listed || len(types) == 0 || slices.Contains(types, targetType)
}

// ResolveRuleTargetType returns the rule's explicit target type, falling
// back to the first condition's metric through the table. Returns "" when
// neither yields a type.
func (t TargetTypeTable) ResolveRuleTargetType(rule *entities.AlertRule) string {
	if rule.TargetType != "" {
		return rule.TargetType
	}
	conds := orderedConditions(rule)
	if len(conds) == 0 {
		return ""
	}
	tt, _ := t.Lookup(conds[0].Metric)
	return tt
}

// TargetNameResolver looks up a human-readable target name.
type TargetNameResolver interface {
	ResolveName(ctx context.Context, targetType, targetID string) (string, error)
}

// FallbackTargetName is used when a target name cannot be resolved.
func FallbackTargetName(targetType, targetID string) string {
	if targetType == "" {
		return fmt.Sprintf("unknown target %s", targetID)
	}
	return fmt.Sprintf("%s %s", targetType, targetID)
}

func isKnownTargetType(tt string) bool {
	return slices.Contains(KnownTargetTypes, tt)
}
