package alerting

import (
	"fmt"
	"strings"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
)

// RenderMessage substitutes template placeholders for an alert record.
// Metric and value come from the first triggered reading. An empty template
// renders the default message.
func RenderMessage(tmpl string, rule *entities.AlertRule, record *entities.AlertRecord, triggered []Metric) string {
	if tmpl == "" {
		return defaultMessage(record, triggered)
	}
	return placeholderReplacer(rule, record, triggered).Replace(tmpl)
}

// renderTitle renders an action title, defaulting to "[SEVERITY] rule name".
func renderTitle(tmpl string, rule *entities.AlertRule, record *entities.AlertRecord) string {
	if tmpl == "" {
		return fmt.Sprintf("[%s] %s", strings.ToUpper(record.Severity), record.RuleName)
	}
	return placeholderReplacer(rule, record, nil).Replace(tmpl)
}

func placeholderReplacer(rule *entities.AlertRule, record *entities.AlertRecord, triggered []Metric) *strings.Replacer {
	ruleName := record.RuleName
	if ruleName == "" && rule != nil {
		ruleName = rule.RuleName
	}
	metric, value := firstReading(triggered)
	return strings.NewReplacer(
		PlaceholderRuleName, ruleName,
		PlaceholderTargetName, record.TargetName,
		PlaceholderTargetID, record.TargetID,
		PlaceholderTargetType, record.TargetType,
		PlaceholderMetric, metric,
		PlaceholderValue, value,
		PlaceholderSeverity, record.Severity,
		PlaceholderAlertCode, record.AlertCode,
	)
}

func firstReading(triggered []Metric) (metric, value string) {
	if len(triggered) == 0 {
		return "", ""
	}
	m := triggered[0]
	if m.Value.Valid {
		value = m.Value.Decimal.String()
	}
	return m.Name, value
}

func defaultMessage(record *entities.AlertRecord, triggered []Metric) string {
	metric, value := firstReading(triggered)
	if metric != "" {
		return fmt.Sprintf("Alert: %s on %s (%s = %s)", record.RuleName, record.TargetName, metric, value)
	}
	return fmt.Sprintf("Alert: %s on %s", record.RuleName, record.TargetName)
}
