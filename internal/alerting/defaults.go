package alerting

import (
	"github.com/shopspring/decimal"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
)

const defaultsOperator = "system"

// DefaultRules returns the built-in alert rules. They are seeded on first
// start and can be restored via reset-defaults.
func DefaultRules() []entities.AlertRule {
	rules := []entities.AlertRule{
		{
			RuleName:           "pH out of range",
			Description:        "Raw water pH outside the 6.5 to 8.5 treatment range",
			RuleType:           entities.RuleTypeThreshold,
			TargetType:         TargetTypeSite,
			Severity:           entities.SeverityWarning,
			MessageTemplate:    "{{target_name}}: pH {{value}} is outside 6.5-8.5",
			QuietPeriodMinutes: 30,
			Conditions: []entities.AlertCondition{
				{Metric: MetricPH, Operator: OperatorNotBetween, MinThreshold: decimalOf("6.5"), MaxThreshold: decimalOf("8.5")},
			},
		},
		{
			RuleName:           "High turbidity",
			Description:        "Turbidity above 1 NTU",
			RuleType:           entities.RuleTypeThreshold,
			TargetType:         TargetTypeSite,
			Severity:           entities.SeverityCritical,
			MessageTemplate:    "{{target_name}}: turbidity {{value}} NTU",
			QuietPeriodMinutes: 30,
			Conditions: []entities.AlertCondition{
				{Metric: MetricTurbidity, Operator: OperatorGT, Threshold: decimalOf("1")},
			},
		},
		{
			RuleName:           "Abnormal flow",
			Description:        "Site flow outside the expected 5 to 500 m3/h band",
			RuleType:           entities.RuleTypeThreshold,
			Severity:           entities.SeverityWarning,
			QuietPeriodMinutes: 60,
			Conditions: []entities.AlertCondition{
				{Metric: MetricFlow, Operator: OperatorNotBetween, MinThreshold: decimalOf("5"), MaxThreshold: decimalOf("500")},
			},
		},
		{
			RuleName:           "Device offline",
			Description:        "Device has not reported for 30 minutes",
			RuleType:           entities.RuleTypeOffline,
			TargetType:         TargetTypeDevice,
			Severity:           entities.SeverityCritical,
			MessageTemplate:    "{{target_name}} silent for {{value}} minutes",
			QuietPeriodMinutes: 120,
			Conditions: []entities.AlertCondition{
				{Metric: MetricDeviceSilence, Operator: OperatorGTE, Threshold: decimalOf("30")},
			},
		},
		{
			RuleName:           "Task overdue",
			Description:        "Maintenance task past its due time by more than 24 hours",
			RuleType:           entities.RuleTypeOverdue,
			TargetType:         TargetTypeTask,
			Severity:           entities.SeverityInfo,
			MessageTemplate:    "{{target_name}} is {{value}} hours overdue",
			QuietPeriodMinutes: 1440,
			Conditions: []entities.AlertCondition{
				{Metric: MetricTaskOverdueHours, Operator: OperatorGT, Threshold: decimalOf("24")},
			},
		},
		{
			RuleName:           "High CPU usage",
			Description:        "Alert engine host CPU usage above 90%",
			RuleType:           entities.RuleTypeThreshold,
			TargetType:         TargetTypeHost,
			Severity:           entities.SeverityWarning,
			QuietPeriodMinutes: 15,
			Conditions: []entities.AlertCondition{
				{Metric: MetricCPUUsage, Operator: OperatorGT, Threshold: decimalOf("90")},
			},
		},
		{
			RuleName:           "High memory usage",
			Description:        "Alert engine host memory usage above 90%",
			RuleType:           entities.RuleTypeThreshold,
			TargetType:         TargetTypeHost,
			Severity:           entities.SeverityWarning,
			QuietPeriodMinutes: 15,
			Conditions: []entities.AlertCondition{
				{Metric: MetricMemoryUsage, Operator: OperatorGT, Threshold: decimalOf("90")},
			},
		},
		{
			RuleName:           "Low disk space",
			Description:        "Alert engine host disk usage above 85%",
			RuleType:           entities.RuleTypeThreshold,
			TargetType:         TargetTypeHost,
			Severity:           entities.SeverityCritical,
			QuietPeriodMinutes: 30,
			Conditions: []entities.AlertCondition{
				{Metric: MetricDiskUsage, Operator: OperatorGT, Threshold: decimalOf("85")},
			},
		},
	}
	for i := range rules {
		rules[i].Enabled = true
		rules[i].BuiltIn = true
		rules[i].CreatedBy = defaultsOperator
		rules[i].UpdatedBy = defaultsOperator
	}
	return rules
}

func decimalOf(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}
