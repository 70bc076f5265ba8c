package alerting

import (
	"maps"
	"slices"
)

// Schema describes the catalog rule editors build conditions from.
type Schema struct {
	TargetTypes  []TargetTypeSchema `json:"target_types"`
	Operators    []OperatorSchema   `json:"operators"`
	Severities   []string           `json:"severities"`
	RuleTypes    []string           `json:"rule_types"`
	NotifyTypes  []string           `json:"notify_types"`
	Placeholders []string           `json:"placeholders"`
}

// TargetTypeSchema describes a target type and the metrics it reports.
type TargetTypeSchema struct {
	Name    string         `json:"name"`
	Label   string         `json:"label"`
	Metrics []MetricSchema `json:"metrics,omitempty"`
}

// MetricSchema describes one metric. Collected is false when no registered
// collector serves it.
type MetricSchema struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Unit      string `json:"unit"`
	Collected bool   `json:"collected"`
}

// OperatorSchema describes an operator for rule editors.
type OperatorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Range bool   `json:"range"`
}

type metricInfo struct {
	label string
	unit  string
}

var metricCatalog = map[string]metricInfo{
	MetricPH:               {"pH", ""},
	MetricTurbidity:        {"Turbidity", "NTU"},
	MetricResidualChlorine: {"Residual Chlorine", "mg/L"},
	MetricFlow:             {"Flow", "m³/h"},
	MetricPressure:         {"Pressure", "MPa"},
	MetricWaterLevel:       {"Water Level", "m"},
	MetricDeviceSilence:    {"Minutes Since Last Report", "min"},
	MetricTaskOverdueHours: {"Hours Overdue", "h"},
	MetricCPUUsage:         {"CPU Usage", "%"},
	MetricMemoryUsage:      {"Memory Usage", "%"},
	MetricDiskUsage:        {"Disk Usage", "%"},
}

var targetTypeLabels = map[string]string{
	TargetTypeSite:   "Site",
	TargetTypeDevice: "Device",
	TargetTypeTask:   "Task",
	TargetTypeHost:   "Host",
}

var operatorCatalog = []OperatorSchema{
	{Name: OperatorGT, Label: "greater than"},
	{Name: OperatorGTE, Label: "greater or equal"},
	{Name: OperatorLT, Label: "less than"},
	{Name: OperatorLTE, Label: "less or equal"},
	{Name: OperatorEQ, Label: "equals"},
	{Name: OperatorNEQ, Label: "not equal"},
	{Name: OperatorBetween, Label: "between", Range: true},
	{Name: OperatorNotBetween, Label: "not between", Range: true},
}

// GetSchema returns the catalog for table. Each metric is listed under its
// primary target type.
func GetSchema(table TargetTypeTable, collected []string) Schema {
	byType := make(map[string][]MetricSchema, len(KnownTargetTypes))
	for _, m := range slices.Sorted(maps.Keys(table)) {
		tt, ok := table.Lookup(m)
		if !ok {
			continue
		}
		info, ok := metricCatalog[m]
		if !ok {
			info = metricInfo{label: m}
		}
		byType[tt] = append(byType[tt], MetricSchema{
			Name:      m,
			Label:     info.label,
			Unit:      info.unit,
			Collected: slices.Contains(collected, m),
		})
	}

	targets := make([]TargetTypeSchema, 0, len(KnownTargetTypes))
	for _, tt := range KnownTargetTypes {
		targets = append(targets, TargetTypeSchema{
			Name:    tt,
			Label:   targetTypeLabels[tt],
			Metrics: byType[tt],
		})
	}

	return Schema{
		TargetTypes:  targets,
		Operators:    slices.Clone(operatorCatalog),
		Severities:   slices.Clone(knownSeverities),
		RuleTypes:    slices.Clone(knownRuleTypes),
		NotifyTypes:  slices.Clone(knownNotifyTypes),
		Placeholders: []string{
			PlaceholderRuleName, PlaceholderTargetName, PlaceholderTargetID, PlaceholderTargetType,
			PlaceholderMetric, PlaceholderValue, PlaceholderSeverity, PlaceholderAlertCode,
		},
	}
}
