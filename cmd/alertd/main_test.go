package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/alertengine/internal/alerting"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "alertd.yaml")
	body := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
alerting:
  seed_defaults: true
logging:
  level: error
`, filepath.Join(dir, "alertd.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "scan", "recover", "migrate"})
}

func TestMigrateCmd(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "migrate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "on sqlite")
	assert.FileExists(t, filepath.Join(filepath.Dir(cfg), "alertd.db"))
}

func TestScanAndRecoverCmd(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "scan", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "alert(s)")

	out, err = run(t, "recover", "-c", cfg, "--retry-notifications")
	require.NoError(t, err)
	assert.Contains(t, out, "recovered")
	assert.Contains(t, out, "redelivered 0 notification(s)")
}

func TestMigrateCmd_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o600))

	_, err := run(t, "migrate", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestRecoverCmd_KeepsAlertsWithoutTelemetry(t *testing.T) {
	cfg := writeConfig(t)
	ctx := t.Context()

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	rule := entities.AlertRule{
		RuleName:           "Site pH above 9",
		TargetType:         alerting.TargetTypeSite,
		Severity:           entities.SeverityCritical,
		QuietPeriodMinutes: 30,
		Enabled:            true,
		Conditions: []entities.AlertCondition{
			{Metric: alerting.MetricPH, Operator: alerting.OperatorGT, Threshold: decimal.NewNullDecimal(decimal.NewFromInt(9))},
		},
	}
	require.NoError(t, a.sys.Rules.CreateRule(ctx, &rule, "test"))
	a.readings.Record(alerting.NewMetric(alerting.TargetTypeSite, "S-001", alerting.MetricPH,
		decimal.RequireFromString("9.6"), time.Now().UTC()))
	created, err := a.sys.Engine.ScanAndEvaluateAllRules(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, created)
	a.close()

	// A fresh process has no readings yet.
	out, err := run(t, "recover", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "recovered 0 alert(s)")
	assert.Contains(t, out, "no telemetry received")

	b, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer b.close()
	records, _, err := repository.NewAlertRecordRepository(b.store.DB()).
		ListRecords(ctx, repository.AlertRecordFilter{RuleID: rule.ID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entities.AlertStatusPending, records[0].Status)
	assert.Nil(t, records[0].RecoverTime)
}

func TestNewApp_DefaultRulesResolve(t *testing.T) {
	ctx := t.Context()
	a, err := newApp(ctx, writeConfig(t))
	require.NoError(t, err)
	defer a.close()

	yes := true
	rules, err := a.sys.Rules.ListRules(ctx, repository.AlertRuleFilter{BuiltIn: &yes, Enabled: &yes})
	require.NoError(t, err)
	require.NotEmpty(t, rules)

	for _, rule := range rules {
		require.NoError(t, a.sys.Rules.ValidateRule(ctx, &rule), rule.RuleName)
		for _, metric := range rule.MetricNames() {
			_, err := a.sys.Registry.Resolve(metric)
			assert.NoError(t, err, "%s: metric %s has no collector", rule.RuleName, metric)
		}
	}
}
