// Package alerting provides the threshold rule evaluation and alert lifecycle engine.
package alerting

// Target types identify the kind of monitored entity a metric or alert refers to.
const (
	TargetTypeSite   = "site"
	TargetTypeDevice = "device"
	TargetTypeTask   = "task"
	TargetTypeHost   = "host"
)

// KnownTargetTypes lists every valid target type in display order.
var KnownTargetTypes = []string{TargetTypeSite, TargetTypeDevice, TargetTypeTask, TargetTypeHost}

// Metric names reported by the bundled collectors.
const (
	MetricPH               = "ph"
	MetricTurbidity        = "turbidity"
	MetricResidualChlorine = "residual_chlorine"
	MetricFlow             = "flow"
	MetricPressure         = "pressure"
	MetricWaterLevel       = "water_level"
	MetricDeviceSilence    = "device.silence_minutes"
	MetricTaskOverdueHours = "task.overdue_hours"

	MetricCPUUsage    = "system.cpu_usage"
	MetricMemoryUsage = "system.memory_usage"
	MetricDiskUsage   = "system.disk_usage"
)

// Condition operators. Comparisons are exact decimal comparisons.
const (
	OperatorGT         = "GT"
	OperatorGTE        = "GTE"
	OperatorLT         = "LT"
	OperatorLTE        = "LTE"
	OperatorEQ         = "EQ"
	OperatorNEQ        = "NEQ"
	OperatorBetween    = "BETWEEN"
	OperatorNotBetween = "NOT_BETWEEN"
)

// isRangeOperator reports whether op takes min/max thresholds instead of a single threshold.
func isRangeOperator(op string) bool {
	return op == OperatorBetween || op == OperatorNotBetween
}

func isKnownOperator(op string) bool {
	switch op {
	case OperatorGT, OperatorGTE, OperatorLT, OperatorLTE, OperatorEQ, OperatorNEQ,
		OperatorBetween, OperatorNotBetween:
		return true
	}
	return false
}

// Placeholders available in rule message templates and action titles.
const (
	PlaceholderRuleName   = "{{rule_name}}"
	PlaceholderTargetName = "{{target_name}}"
	PlaceholderTargetID   = "{{target_id}}"
	PlaceholderTargetType = "{{target_type}}"
	PlaceholderMetric     = "{{metric}}"
	PlaceholderValue      = "{{value}}"
	PlaceholderSeverity   = "{{severity}}"
	PlaceholderAlertCode  = "{{alert_code}}"
)
