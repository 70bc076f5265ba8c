package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAlertRuleJSONKeys verifies AlertRule serializes with the snake_case keys
// the API clients bind to and never leaks the soft-delete column.
func TestAlertRuleJSONKeys(t *testing.T) {
	t.Parallel()

	rule := AlertRule{
		ID:                 42,
		RuleName:           "High pH",
		RuleType:           RuleTypeThreshold,
		TargetType:         "site",
		Severity:           SeverityCritical,
		QuietPeriodMinutes: 30,
		Enabled:            true,
		Conditions: []AlertCondition{
			{ID: 1, RuleID: 42, Metric: "ph", Operator: "GT", Threshold: decimal.NewNullDecimal(decimal.RequireFromString("9.0"))},
		},
		Actions: []AlertAction{
			{ID: 1, RuleID: 42, NotifyType: NotifyTypeSMS, RecipientKind: RecipientKindUser, RecipientID: "u1"},
		},
	}

	data, err := json.Marshal(rule)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	expectedKeys := []string{
		"id", "rule_name", "rule_type", "target_type", "description", "severity",
		"message_template", "quiet_period_minutes", "enabled", "built_in",
		"created_by", "updated_by", "created_at", "updated_at", "conditions", "actions",
	}
	for _, key := range expectedKeys {
		assert.Contains(t, m, key, "JSON should contain snake_case key %q", key)
	}
	assert.NotContains(t, m, "DeletedAt")
	assert.NotContains(t, m, "deleted_at")
}

// TestAlertConditionJSONThresholds verifies absent thresholds serialize as
// null and present ones as exact decimal strings.
func TestAlertConditionJSONThresholds(t *testing.T) {
	t.Parallel()

	cond := AlertCondition{
		Metric:       "flow",
		Operator:     "BETWEEN",
		MinThreshold: decimal.NewNullDecimal(decimal.RequireFromString("10")),
		MaxThreshold: decimal.NewNullDecimal(decimal.RequireFromString("20.125")),
	}

	data, err := json.Marshal(cond)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Nil(t, m["threshold"])
	assert.Equal(t, "10", m["min_threshold"])
	assert.Equal(t, "20.125", m["max_threshold"])
}

// TestAlertConditionJSONFromClientInput verifies numeric and string threshold
// inputs both decode into decimals.
func TestAlertConditionJSONFromClientInput(t *testing.T) {
	t.Parallel()

	input := `{"metric":"ph","operator":"GT","threshold":9.5,"min_threshold":null,"max_threshold":"12"}`

	var cond AlertCondition
	require.NoError(t, json.Unmarshal([]byte(input), &cond))

	require.True(t, cond.Threshold.Valid)
	assert.True(t, cond.Threshold.Decimal.Equal(decimal.RequireFromString("9.5")))
	assert.False(t, cond.MinThreshold.Valid)
	require.True(t, cond.MaxThreshold.Valid)
	assert.True(t, cond.MaxThreshold.Decimal.Equal(decimal.NewFromInt(12)))
}

// TestAlertRecordJSONKeys verifies AlertRecord serializes the snapshot and
// lifecycle fields with snake_case keys.
func TestAlertRecordJSONKeys(t *testing.T) {
	t.Parallel()

	rec := AlertRecord{
		ID:           1,
		AlertCode:    "ALERT-THRESHOLD-SITE-20250101120000",
		RuleID:       42,
		TargetType:   "site",
		TargetID:     "S-001",
		Status:       AlertStatusPending,
		NotifyStatus: NotifyStatusUnsent,
		CreatedAt:    time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{"alert_code", "rule_id", "rule_name", "target_type", "target_id", "target_name", "alert_data", "status", "notify_status", "duration_sec", "linked_task_id", "is_self_task"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, "PENDING", m["status"])
	assert.NotContains(t, m, "recover_time", "nil recover_time should be omitted")
}

// TestAlertRuleMetricNames verifies distinct metric names keep condition order.
func TestAlertRuleMetricNames(t *testing.T) {
	t.Parallel()

	rule := AlertRule{Conditions: []AlertCondition{
		{Metric: "ph"}, {Metric: "flow"}, {Metric: "ph"}, {Metric: "turbidity"},
	}}
	assert.Equal(t, []string{"ph", "flow", "turbidity"}, rule.MetricNames())
}
