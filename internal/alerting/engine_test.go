package alerting

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/errors"
)

type engineFixture struct {
	engine    *Engine
	rules     *mockRuleRepo
	records   *mockRecordRepo
	collector *fakeCollector
	clock     *fakeClock
}

type staticNames map[string]string

func (s staticNames) ResolveName(_ context.Context, targetType, targetID string) (string, error) {
	if name, ok := s[targetType+"/"+targetID]; ok {
		return name, nil
	}
	return "", errors.Newf("target %s not found", targetID).Category(errors.CategoryNotFound).Build()
}

func newEngineFixture(t *testing.T, opts []EngineOption, rules ...entities.AlertRule) *engineFixture {
	t.Helper()
	f := &engineFixture{
		rules:     newMockRuleRepo(rules...),
		records:   newMockRecordRepo(),
		collector: newFakeCollector("water-quality", MetricPH, MetricTurbidity, MetricFlow),
		clock:     newFakeClock(testEpoch),
	}
	evaluator := NewEvaluator(f.rules, NewCollectorRegistry(f.collector), nil)
	opts = append([]EngineOption{WithClock(f.clock.Now)}, opts...)
	f.engine = NewEngine(f.rules, f.records, evaluator, testLogger(), opts...)
	return f
}

func TestGenerateAlertCode(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "ALERT-THRESHOLD-SITE-20250102030405", GenerateAlertCode("threshold", "site", at))
	assert.Equal(t, "ALERT-OFFLINE-UNKNOWN-20250102030405", GenerateAlertCode("offline", "", at))
}

func TestEngine_ScanCreatesRecordWithSnapshot(t *testing.T) {
	rule := phRule(1, 30)
	rule.MessageTemplate = "{{target_name}}: {{metric}} at {{value}} ({{severity}})"
	f := newEngineFixture(t, []EngineOption{
		WithTargetNameResolver(staticNames{"site/S-001": "North Reservoir"}),
	}, rule)
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))

	created, err := f.engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)
	require.Len(t, created, 1)

	rec := created[0]
	assert.NotZero(t, rec.ID)
	assert.Equal(t, "ALERT-THRESHOLD-SITE-20250601090000", rec.AlertCode)
	assert.Equal(t, uint(1), rec.RuleID)
	assert.Equal(t, "High pH", rec.RuleName)
	assert.Equal(t, TargetTypeSite, rec.TargetType)
	assert.Equal(t, "S-001", rec.TargetID)
	assert.Equal(t, "North Reservoir", rec.TargetName)
	assert.Equal(t, entities.SeverityWarning, rec.Severity)
	assert.Equal(t, "North Reservoir: ph at 9.1 (warning)", rec.Message)
	assert.Equal(t, entities.AlertStatusPending, rec.Status)
	assert.Equal(t, entities.NotifyStatusUnsent, rec.NotifyStatus)
	assert.Equal(t, testEpoch, rec.CreatedAt)

	var data alertData
	require.NoError(t, json.Unmarshal([]byte(rec.AlertData), &data))
	require.Len(t, data.Metrics, 1)
	assert.Equal(t, MetricPH, data.Metrics[0].Name)
	assert.True(t, data.Metrics[0].Value.Decimal.Equal(dec("9.1").Decimal))
	assert.True(t, data.EvaluatedAt.Equal(testEpoch))
}

func TestEngine_SnapshotDoesNotFollowRuleEdits(t *testing.T) {
	f := newEngineFixture(t, nil, phRule(1, 30))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))

	created, err := f.engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)
	require.Len(t, created, 1)

	edited := phRule(1, 30)
	edited.RuleName = "Renamed"
	edited.Severity = entities.SeverityCritical
	require.NoError(t, f.rules.UpdateRule(t.Context(), &edited))

	stored, err := f.records.GetRecord(t.Context(), created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "High pH", stored.RuleName)
	assert.Equal(t, entities.SeverityWarning, stored.Severity)
}

func TestEngine_UnresolvedTargetNameUsesPlaceholder(t *testing.T) {
	f := newEngineFixture(t, []EngineOption{WithTargetNameResolver(staticNames{})}, phRule(1, 30))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-404", MetricPH, "9.1"))

	created, err := f.engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "site S-404", created[0].TargetName)
	assert.Equal(t, "Alert: High pH on site S-404 (ph = 9.1)", created[0].Message)
}

func TestEngine_QuietPeriod(t *testing.T) {
	f := newEngineFixture(t, nil, phRule(1, 30))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))
	ctx := t.Context()

	created, err := f.engine.ScanAndEvaluateAllRules(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)

	f.clock.Advance(10 * time.Minute)
	created, err = f.engine.ScanAndEvaluateAllRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, created, "second trigger inside the quiet period must be suppressed")

	f.clock.Advance(21 * time.Minute)
	created, err = f.engine.ScanAndEvaluateAllRules(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1, "trigger after the quiet period must create a new record")
	assert.Equal(t, testEpoch.Add(31*time.Minute), created[0].CreatedAt)

	assert.Len(t, f.records.all(), 2)
}

func TestEngine_ZeroQuietPeriodNeverSuppresses(t *testing.T) {
	f := newEngineFixture(t, nil, phRule(1, 0))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))

	for range 3 {
		created, err := f.engine.ScanAndEvaluateAllRules(t.Context())
		require.NoError(t, err)
		require.Len(t, created, 1)
	}
}

func TestEngine_QuietPeriodIsPerRule(t *testing.T) {
	other := phRule(2, 30)
	other.RuleName = "pH watch"
	f := newEngineFixture(t, nil, phRule(1, 30), other)
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))

	created, err := f.engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)
	assert.Len(t, created, 2, "each rule dedups independently on the same target")
}

func TestEngine_AllConditionsMustHoldPerTarget(t *testing.T) {
	rule := phRule(1, 30)
	rule.Conditions = []entities.AlertCondition{
		{Metric: MetricPH, Operator: OperatorGT, Threshold: dec("8.5"), SortOrder: 0},
		{Metric: MetricTurbidity, Operator: OperatorGT, Threshold: dec("5"), SortOrder: 1},
	}
	f := newEngineFixture(t, nil, rule)
	f.collector.set(MetricPH,
		reading(TargetTypeSite, "T1", MetricPH, "9.0"),
		reading(TargetTypeSite, "T2", MetricPH, "9.2"))
	f.collector.set(MetricTurbidity,
		reading(TargetTypeSite, "T1", MetricTurbidity, "6"),
		reading(TargetTypeSite, "T2", MetricTurbidity, "3"))

	created, err := f.engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "T1", created[0].TargetID)

	var data alertData
	require.NoError(t, json.Unmarshal([]byte(created[0].AlertData), &data))
	require.Len(t, data.Metrics, 2)
	assert.Equal(t, MetricPH, data.Metrics[0].Name)
	assert.Equal(t, MetricTurbidity, data.Metrics[1].Name)
}

func TestEngine_FailingRuleDoesNotAbortScan(t *testing.T) {
	broken := phRule(1, 30)
	broken.RuleName = "Broken"
	broken.Conditions = []entities.AlertCondition{
		{Metric: "unknown.metric", Operator: OperatorGT, Threshold: dec("1")},
	}
	f := newEngineFixture(t, nil, broken, phRule(2, 30))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))

	created, err := f.engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, uint(2), created[0].RuleID)
}

type panicCollector struct{}

func (panicCollector) Name() string                 { return "panics" }
func (panicCollector) Supports(metric string) bool { return metric == "boom" }
func (panicCollector) CollectAll(context.Context, string) ([]Metric, error) {
	panic("collector exploded")
}

func TestEngine_PanickingCollectorIsIsolated(t *testing.T) {
	bad := phRule(1, 30)
	bad.Conditions = []entities.AlertCondition{{Metric: "boom", Operator: OperatorGT, Threshold: dec("1")}}

	rules := newMockRuleRepo(bad, phRule(2, 30))
	collector := newFakeCollector("water-quality", MetricPH)
	collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))
	evaluator := NewEvaluator(rules, NewCollectorRegistry(panicCollector{}, collector), nil)
	engine := NewEngine(rules, newMockRecordRepo(), evaluator, testLogger())

	created, err := engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, uint(2), created[0].RuleID)
}

func TestEngine_ConcurrentCreateDedups(t *testing.T) {
	rule := phRule(1, 30)
	f := newEngineFixture(t, nil, rule)
	result := &RuleEvaluationResult{
		RuleID:           1,
		TargetType:       TargetTypeSite,
		TargetID:         "S-001",
		Triggered:        true,
		TriggeredMetrics: []Metric{reading(TargetTypeSite, "S-001", MetricPH, "9.1")},
		EvaluatedAt:      testEpoch,
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_, err := f.engine.CreateAlertIfNotSuppressed(context.Background(), &rule, result)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.Len(t, f.records.all(), 1)
}

func TestEngine_PublishesCreatedEvent(t *testing.T) {
	bus := NewAlertEventBus()
	var mu sync.Mutex
	var got []*AlertEvent
	bus.Subscribe(func(ev *AlertEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	f := newEngineFixture(t, []EngineOption{WithEventBus(bus)}, phRule(1, 30))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))

	created, err := f.engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)
	require.Len(t, created, 1)
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, EventAlertCreated, got[0].Type)
	assert.Equal(t, created[0].ID, got[0].Record.ID)
	require.NotNil(t, got[0].Rule)
	assert.Equal(t, uint(1), got[0].Rule.ID)
}

func TestEngine_RecoverWhenConditionClears(t *testing.T) {
	f := newEngineFixture(t, nil, phRule(1, 30))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))
	ctx := t.Context()

	created, err := f.engine.ScanAndEvaluateAllRules(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)

	f.clock.Advance(45 * time.Minute)
	n, err := f.engine.CheckAndRecoverAlerts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "still triggered, nothing to recover")

	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "7.2"))
	n, err = f.engine.CheckAndRecoverAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := f.records.GetRecord(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusRecovered, rec.Status)
	require.NotNil(t, rec.RecoverTime)
	assert.Equal(t, testEpoch.Add(45*time.Minute), *rec.RecoverTime)
	assert.Equal(t, int64(2700), rec.DurationSec)
}

func TestEngine_RecoverAbsentReading(t *testing.T) {
	f := newEngineFixture(t, nil, phRule(1, 30))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))

	_, err := f.engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)

	f.collector.set(MetricPH)
	n, err := f.engine.CheckAndRecoverAlerts(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a target that stopped reporting no longer triggers")
}

func TestEngine_RecoverDeletedAndDisabledRules(t *testing.T) {
	disabled := phRule(2, 30)
	disabled.Enabled = false
	f := newEngineFixture(t, nil, disabled)
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))
	ctx := t.Context()

	orphan := &entities.AlertRecord{RuleID: 99, TargetType: TargetTypeSite, TargetID: "S-001",
		Status: entities.AlertStatusInProgress, CreatedAt: testEpoch}
	ofDisabled := &entities.AlertRecord{RuleID: 2, TargetType: TargetTypeSite, TargetID: "S-001",
		Status: entities.AlertStatusPending, CreatedAt: testEpoch}
	require.NoError(t, f.records.CreateRecord(ctx, orphan))
	require.NoError(t, f.records.CreateRecord(ctx, ofDisabled))

	n, err := f.engine.CheckAndRecoverAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, rec := range f.records.all() {
		assert.Equal(t, entities.AlertStatusRecovered, rec.Status)
	}
}

func TestEngine_RecoverSkipsClosedRecords(t *testing.T) {
	f := newEngineFixture(t, nil, phRule(1, 30))
	ctx := t.Context()

	for _, status := range []entities.AlertStatus{entities.AlertStatusResolved, entities.AlertStatusIgnored} {
		require.NoError(t, f.records.CreateRecord(ctx, &entities.AlertRecord{
			RuleID: 1, TargetType: TargetTypeSite, TargetID: "S-001", Status: status, CreatedAt: testEpoch,
		}))
	}

	n, err := f.engine.CheckAndRecoverAlerts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	for _, rec := range f.records.all() {
		assert.Nil(t, rec.RecoverTime)
	}
}

func TestEngine_PurgeHistory(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := t.Context()
	old := testEpoch.AddDate(0, 0, -40)

	require.NoError(t, f.records.CreateRecord(ctx, &entities.AlertRecord{Status: entities.AlertStatusResolved, UpdatedAt: old}))
	require.NoError(t, f.records.CreateRecord(ctx, &entities.AlertRecord{Status: entities.AlertStatusPending, UpdatedAt: old}))
	require.NoError(t, f.records.CreateRecord(ctx, &entities.AlertRecord{Status: entities.AlertStatusRecovered, UpdatedAt: testEpoch}))

	deleted, err := f.engine.PurgeHistory(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, f.records.all(), 2)

	deleted, err = f.engine.PurgeHistory(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted, "zero retention disables cleanup")
}

type countingRetrier struct{ runs atomic.Int32 }

func (r *countingRetrier) RetryFailed(context.Context) (int, error) {
	r.runs.Add(1)
	return 0, nil
}

func TestEngine_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newEngineFixture(t, nil, phRule(1, 0))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))
	retrier := &countingRetrier{}

	f.engine.Start(ScheduleConfig{
		ScanInterval:     10 * time.Millisecond,
		RecoveryInterval: 10 * time.Millisecond,
		RetryInterval:    10 * time.Millisecond,
		RetentionDays:    7,
		CleanupInterval:  10 * time.Millisecond,
		Retrier:          retrier,
	})
	require.Eventually(t, func() bool {
		return len(f.records.all()) > 0 && retrier.runs.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)

	f.engine.Stop()
	f.engine.Stop()
}

func TestEngine_RecoverySkipsCollectorWithoutData(t *testing.T) {
	f := newEngineFixture(t, nil, phRule(1, 30))
	f.collector.set(MetricPH, reading(TargetTypeSite, "S-001", MetricPH, "9.1"))
	created, err := f.engine.ScanAndEvaluateAllRules(t.Context())
	require.NoError(t, err)
	require.Len(t, created, 1)

	f.collector.mu.Lock()
	f.collector.err = ErrCollectorNotReady
	f.collector.mu.Unlock()

	n, err := f.engine.CheckAndRecoverAlerts(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.records.GetRecord(t.Context(), created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusPending, got.Status)
	assert.Nil(t, got.RecoverTime)
}
