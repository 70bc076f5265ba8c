package alerting

import (
	"context"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/logger"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func reading(targetType, targetID, name, value string) Metric {
	return NewMetric(targetType, targetID, name, decimal.RequireFromString(value), testEpoch)
}

var testEpoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable clock for engine tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeCollector serves fixed readings per metric and counts CollectAll calls.
type fakeCollector struct {
	name     string
	mu       sync.Mutex
	readings map[string][]Metric
	err      error
	calls    atomic.Int32
	lookups  atomic.Int32
}

func newFakeCollector(name string, metrics ...string) *fakeCollector {
	c := &fakeCollector{name: name, readings: make(map[string][]Metric)}
	for _, m := range metrics {
		c.readings[m] = nil
	}
	return c
}

func (c *fakeCollector) Name() string { return c.name }

func (c *fakeCollector) Supports(metric string) bool {
	c.lookups.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.readings[metric]
	return ok
}

func (c *fakeCollector) CollectAll(_ context.Context, metric string) ([]Metric, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return slices.Clone(c.readings[metric]), nil
}

func (c *fakeCollector) MetricNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.readings))
	for m := range c.readings {
		names = append(names, m)
	}
	return names
}

// set replaces the readings served for metric.
func (c *fakeCollector) set(metric string, readings ...Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings[metric] = readings
}

// mockRuleRepo is an in-memory AlertRuleRepository.
type mockRuleRepo struct {
	mu      sync.Mutex
	rules   map[uint]*entities.AlertRule
	deleted []entities.AlertRule
	nextID  uint
}

func newMockRuleRepo(rules ...entities.AlertRule) *mockRuleRepo {
	m := &mockRuleRepo{rules: make(map[uint]*entities.AlertRule)}
	for i := range rules {
		r := rules[i]
		if r.ID == 0 {
			m.nextID++
			r.ID = m.nextID
		} else if r.ID > m.nextID {
			m.nextID = r.ID
		}
		m.rules[r.ID] = &r
	}
	return m
}

func (m *mockRuleRepo) sorted() []entities.AlertRule {
	out := make([]entities.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b entities.AlertRule) int { return int(a.ID) - int(b.ID) })
	return out
}

func (m *mockRuleRepo) ListRules(_ context.Context, f repository.AlertRuleFilter) ([]entities.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entities.AlertRule{}
	for _, r := range m.sorted() {
		if f.RuleType != "" && r.RuleType != f.RuleType {
			continue
		}
		if f.TargetType != "" && r.TargetType != f.TargetType {
			continue
		}
		if f.Severity != "" && r.Severity != f.Severity {
			continue
		}
		if f.Enabled != nil && r.Enabled != *f.Enabled {
			continue
		}
		if f.BuiltIn != nil && r.BuiltIn != *f.BuiltIn {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRuleRepo) GetRule(_ context.Context, id uint) (*entities.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, repository.ErrAlertRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRuleRepo) CreateRule(_ context.Context, rule *entities.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rule.ID = m.nextID
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *mockRuleRepo) UpdateRule(_ context.Context, rule *entities.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return repository.ErrAlertRuleNotFound
	}
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *mockRuleRepo) DeleteRule(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return repository.ErrAlertRuleNotFound
	}
	m.deleted = append(m.deleted, *r)
	delete(m.rules, id)
	return nil
}

func (m *mockRuleRepo) ToggleRule(_ context.Context, id uint, enabled bool, operator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return repository.ErrAlertRuleNotFound
	}
	r.Enabled = enabled
	r.UpdatedBy = operator
	return nil
}

func (m *mockRuleRepo) GetEnabledRules(ctx context.Context) ([]entities.AlertRule, error) {
	enabled := true
	return m.ListRules(ctx, repository.AlertRuleFilter{Enabled: &enabled})
}

func (m *mockRuleRepo) DeleteBuiltInRules(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rules {
		if r.BuiltIn {
			m.deleted = append(m.deleted, *r)
			delete(m.rules, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRuleRepo) DeletedBuiltInRuleNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for i := range m.deleted {
		if m.deleted[i].BuiltIn && !slices.Contains(names, m.deleted[i].RuleName) {
			names = append(names, m.deleted[i].RuleName)
		}
	}
	return names, nil
}

func (m *mockRuleRepo) CountRulesByName(_ context.Context, name string, excludeID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rules {
		if r.RuleName == name && id != excludeID {
			n++
		}
	}
	return n, nil
}

// mockRecordRepo is an in-memory AlertRecordRepository.
type mockRecordRepo struct {
	mu      sync.Mutex
	records map[uint]*entities.AlertRecord
	nextID  uint
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[uint]*entities.AlertRecord)}
}

func (m *mockRecordRepo) CreateRecord(_ context.Context, rec *entities.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockRecordRepo) GetRecord(_ context.Context, id uint) (*entities.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, repository.ErrAlertRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRecordRepo) SaveRecord(_ context.Context, rec *entities.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return repository.ErrAlertRecordNotFound
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockRecordRepo) all() []entities.AlertRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.AlertRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b entities.AlertRecord) int { return int(a.ID) - int(b.ID) })
	return out
}

func (m *mockRecordRepo) FindByTarget(_ context.Context, targetType, targetID string, since time.Time) ([]entities.AlertRecord, error) {
	out := []entities.AlertRecord{}
	for _, r := range m.all() {
		if r.TargetType != targetType || r.TargetID != targetID {
			continue
		}
		if !since.IsZero() && !r.CreatedAt.After(since) {
			continue
		}
		out = append(out, r)
	}
	slices.Reverse(out)
	return out, nil
}

func (m *mockRecordRepo) FindByStatuses(_ context.Context, statuses ...entities.AlertStatus) ([]entities.AlertRecord, error) {
	out := []entities.AlertRecord{}
	for _, r := range m.all() {
		if slices.Contains(statuses, r.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRecordRepo) ListRecords(_ context.Context, f repository.AlertRecordFilter) ([]entities.AlertRecord, int64, error) {
	out := []entities.AlertRecord{}
	for _, r := range m.all() {
		if f.RuleID != 0 && r.RuleID != f.RuleID {
			continue
		}
		if f.TargetID != "" && r.TargetID != f.TargetID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	slices.Reverse(out)
	return out, int64(len(out)), nil
}

func (m *mockRecordRepo) DeleteTerminalBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.records {
		if r.Status.IsTerminal() && r.UpdatedAt.Before(before) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// mockNotifyLogRepo is an in-memory AlertNotifyLogRepository.
type mockNotifyLogRepo struct {
	mu     sync.Mutex
	logs   map[uint]*entities.AlertNotifyLog
	nextID uint
}

func newMockNotifyLogRepo() *mockNotifyLogRepo {
	return &mockNotifyLogRepo{logs: make(map[uint]*entities.AlertNotifyLog)}
}

func (m *mockNotifyLogRepo) CreateLog(_ context.Context, l *entities.AlertNotifyLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l.ID = m.nextID
	cp := *l
	m.logs[l.ID] = &cp
	return nil
}

func (m *mockNotifyLogRepo) GetLog(_ context.Context, id uint) (*entities.AlertNotifyLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return nil, repository.ErrNotifyLogNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *mockNotifyLogRepo) SaveLog(_ context.Context, l *entities.AlertNotifyLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[l.ID]; !ok {
		return repository.ErrNotifyLogNotFound
	}
	cp := *l
	m.logs[l.ID] = &cp
	return nil
}

func (m *mockNotifyLogRepo) all() []entities.AlertNotifyLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.AlertNotifyLog, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, *l)
	}
	slices.SortFunc(out, func(a, b entities.AlertNotifyLog) int { return int(a.ID) - int(b.ID) })
	return out
}

func (m *mockNotifyLogRepo) ListLogs(_ context.Context, f repository.NotifyLogFilter) ([]entities.AlertNotifyLog, int64, error) {
	out := []entities.AlertNotifyLog{}
	for _, l := range m.all() {
		if f.AlertRecordID != 0 && l.AlertRecordID != f.AlertRecordID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, l)
	}
	return out, int64(len(out)), nil
}

func (m *mockNotifyLogRepo) ListRetryable(_ context.Context, limit int) ([]entities.AlertNotifyLog, error) {
	out := []entities.AlertNotifyLog{}
	for _, l := range m.all() {
		if l.Status == entities.NotifyLogFailed && l.RetryCount < entities.MaxNotifyRetries {
			out = append(out, l)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// phRule is an enabled site threshold rule on pH > 8.5.
func phRule(id uint, quietMinutes int) entities.AlertRule {
	return entities.AlertRule{
		ID:                 id,
		RuleName:           "High pH",
		RuleType:           entities.RuleTypeThreshold,
		TargetType:         TargetTypeSite,
		Severity:           entities.SeverityWarning,
		QuietPeriodMinutes: quietMinutes,
		Enabled:            true,
		Conditions: []entities.AlertCondition{
			{Metric: MetricPH, Operator: OperatorGT, Threshold: dec("8.5")},
		},
	}
}
