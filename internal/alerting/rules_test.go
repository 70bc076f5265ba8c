package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/errors"
)

func newTestRuleService(strict bool, rules ...entities.AlertRule) (*RuleService, *mockRuleRepo) {
	repo := newMockRuleRepo(rules...)
	registry := NewCollectorRegistry(newFakeCollector("water", MetricPH, MetricFlow))
	return NewRuleService(repo, registry, strict, testLogger()), repo
}

func TestRuleService_ValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *entities.AlertRule)
		wantErr string
	}{
		{"valid", func(*entities.AlertRule) {}, ""},
		{"blank name", func(r *entities.AlertRule) { r.RuleName = "  " }, "rule_name is required"},
		{"no conditions", func(r *entities.AlertRule) { r.Conditions = nil }, "at least one condition"},
		{"unknown operator", func(r *entities.AlertRule) { r.Conditions[0].Operator = "LIKE" }, `unknown operator "LIKE"`},
		{"missing threshold", func(r *entities.AlertRule) {
			r.Conditions[0].Threshold = entities.AlertCondition{}.Threshold
		}, "GT needs a threshold"},
		{"between without bounds", func(r *entities.AlertRule) {
			r.Conditions[0].Operator = OperatorBetween
		}, "BETWEEN needs min_threshold and max_threshold"},
		{"inverted range", func(r *entities.AlertRule) {
			r.Conditions[0].Operator = OperatorNotBetween
			r.Conditions[0].MinThreshold = dec("9")
			r.Conditions[0].MaxThreshold = dec("6")
		}, "min_threshold must not exceed max_threshold"},
		{"negative quiet period", func(r *entities.AlertRule) { r.QuietPeriodMinutes = -1 }, "quiet_period_minutes"},
		{"unknown severity", func(r *entities.AlertRule) { r.Severity = "urgent" }, `unknown severity "urgent"`},
		{"unknown target type", func(r *entities.AlertRule) { r.TargetType = "reservoir" }, `unknown target_type "reservoir"`},
		{"metric not reported for target type", func(r *entities.AlertRule) {
			r.Conditions[0].Metric = MetricDeviceSilence
		}, `metric "device.silence_minutes" is not reported for target_type "site" (reported for device)`},
		{"inferred type excludes later metric", func(r *entities.AlertRule) {
			r.TargetType = ""
			r.Conditions = append(r.Conditions, entities.AlertCondition{
				Metric: MetricCPUUsage, Operator: OperatorGT, Threshold: dec("90"), SortOrder: 1,
			})
		}, `conditions[1]: metric "system.cpu_usage" is not reported for target_type "site"`},
		{"shared metric on secondary type", func(r *entities.AlertRule) {
			r.TargetType = TargetTypeDevice
			r.Conditions[0].Metric = MetricFlow
		}, ""},
		{"metric outside the table", func(r *entities.AlertRule) { r.Conditions[0].Metric = "custom.level" }, ""},
		{"bad action", func(r *entities.AlertRule) {
			r.Actions = []entities.AlertAction{{NotifyType: "fax", RecipientID: "u1"}}
		}, `actions[0]: unknown notify_type "fax"`},
		{"action without recipient", func(r *entities.AlertRule) {
			r.Actions = []entities.AlertAction{{NotifyType: entities.NotifyTypeEmail}}
		}, "actions[0]: recipient_id is required"},
	}

	svc, _ := newTestRuleService(false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := phRule(0, 30)
			tt.mutate(&rule)
			err := svc.ValidateRule(t.Context(), &rule)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRuleService_ValidateRuleDefaults(t *testing.T) {
	svc, _ := newTestRuleService(false)
	rule := phRule(0, 30)
	rule.RuleType = ""
	rule.Actions = []entities.AlertAction{{NotifyType: entities.NotifyTypeSMS, RecipientID: "u1"}}

	require.NoError(t, svc.ValidateRule(t.Context(), &rule))
	assert.Equal(t, entities.RuleTypeThreshold, rule.RuleType)
	assert.Equal(t, entities.RecipientKindUser, rule.Actions[0].RecipientKind)
}

func TestRuleService_StrictMetrics(t *testing.T) {
	rule := phRule(0, 30)
	rule.Conditions[0].Metric = "chlorophyll"

	lax, _ := newTestRuleService(false)
	require.NoError(t, lax.ValidateRule(t.Context(), &rule))

	strict, _ := newTestRuleService(true)
	err := strict.ValidateRule(t.Context(), &rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no collector supports metric "chlorophyll"`)
}

func TestRuleService_UniqueName(t *testing.T) {
	svc, repo := newTestRuleService(false, phRule(1, 30))

	dup := phRule(0, 30)
	err := svc.CreateRule(t.Context(), &dup, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrValidation)

	// Updating a rule keeps its own name.
	same := phRule(1, 60)
	require.NoError(t, svc.UpdateRule(t.Context(), &same, "alice"))
	stored, err := repo.GetRule(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, 60, stored.QuietPeriodMinutes)
	assert.Equal(t, "alice", stored.UpdatedBy)
}

func TestRuleService_CreateRule(t *testing.T) {
	svc, repo := newTestRuleService(false)

	rule := phRule(0, 30)
	rule.BuiltIn = true
	require.NoError(t, svc.CreateRule(t.Context(), &rule, "alice"))
	assert.NotZero(t, rule.ID)

	stored, err := repo.GetRule(t.Context(), rule.ID)
	require.NoError(t, err)
	assert.False(t, stored.BuiltIn, "clients cannot create built-in rules")
	assert.Equal(t, "alice", stored.CreatedBy)
}

func TestRuleService_UpdatePreservesBuiltIn(t *testing.T) {
	builtIn := phRule(1, 30)
	builtIn.BuiltIn = true
	builtIn.CreatedBy = "system"
	svc, repo := newTestRuleService(false, builtIn)

	edit := phRule(1, 45)
	require.NoError(t, svc.UpdateRule(t.Context(), &edit, "bob"))

	stored, err := repo.GetRule(t.Context(), 1)
	require.NoError(t, err)
	assert.True(t, stored.BuiltIn)
	assert.Equal(t, "system", stored.CreatedBy)
	assert.Equal(t, "bob", stored.UpdatedBy)

	missing := phRule(99, 30)
	err = svc.UpdateRule(t.Context(), &missing, "bob")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRuleService_EnableDisable(t *testing.T) {
	svc, repo := newTestRuleService(false, phRule(1, 30))
	ctx := t.Context()

	err := svc.EnableRule(ctx, 1, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrIllegalState)

	require.NoError(t, svc.DisableRule(ctx, 1, "alice"))
	stored, err := repo.GetRule(ctx, 1)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)

	err = svc.DisableRule(ctx, 1, "alice")
	assert.ErrorIs(t, err, errors.ErrIllegalState)

	require.NoError(t, svc.EnableRule(ctx, 1, "bob"))
	stored, err = repo.GetRule(ctx, 1)
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
	assert.Equal(t, "bob", stored.UpdatedBy)

	assert.ErrorIs(t, svc.EnableRule(ctx, 42, "bob"), errors.ErrNotFound)
}

func TestRuleService_DeleteRule(t *testing.T) {
	svc, _ := newTestRuleService(false, phRule(1, 30))

	require.NoError(t, svc.DeleteRule(t.Context(), 1))
	_, err := svc.GetRule(t.Context(), 1)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteRule(t.Context(), 1), errors.ErrNotFound)
}

func TestRuleService_SeedAndResetDefaults(t *testing.T) {
	svc, repo := newTestRuleService(false)
	ctx := t.Context()
	total := len(DefaultRules())

	created, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, created)

	created, err = svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Zero(t, created, "seeding is idempotent by name")

	// A deleted built-in is not brought back by a later seed.
	builtIn := true
	rules, err := repo.ListRules(ctx, repository.AlertRuleFilter{BuiltIn: &builtIn})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteRule(ctx, rules[0].ID))
	created, err = svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)
	live, err := repo.ListRules(ctx, repository.AlertRuleFilter{BuiltIn: &builtIn})
	require.NoError(t, err)
	assert.Len(t, live, total-1)

	custom := phRule(0, 30)
	custom.RuleName = "Custom pH"
	require.NoError(t, svc.CreateRule(ctx, &custom, "alice"))

	created, err = svc.ResetDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, created)
	all, err := svc.ListRules(ctx, repository.AlertRuleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, total+1, "reset keeps custom rules")
}

func TestRuleService_ExportImport(t *testing.T) {
	src, _ := newTestRuleService(false, phRule(1, 30))
	bundle, err := src.ExportRules(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, bundle.Version)
	require.Len(t, bundle.Rules, 1)

	renamed := phRule(2, 30)
	renamed.RuleName = "Imported pH"
	bundle.Rules = append(bundle.Rules, renamed)

	dst, repo := newTestRuleService(false, phRule(1, 30))
	imported, skipped := dst.ImportRules(t.Context(), bundle, "importer")
	assert.Equal(t, 1, imported)
	require.Len(t, skipped, 1, "duplicate name is skipped")
	assert.ErrorIs(t, skipped[0], errors.ErrValidation)

	all, err := repo.ListRules(t.Context(), repository.AlertRuleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
