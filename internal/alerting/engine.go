package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
	"github.com/hydrowatch/alertengine/internal/observability/metrics"
)

const (
	// alertCodeTimeLayout is the yyyyMMddHHmmss suffix of alert codes.
	alertCodeTimeLayout = "20060102150405"
	// defaultCleanupInterval is how often terminal records are purged.
	defaultCleanupInterval = 1 * time.Hour
	// nameLookupTimeout bounds a single target-name lookup.
	nameLookupTimeout = 3 * time.Second
)

// GenerateAlertCode formats ALERT-{RULETYPE}-{TARGETTYPE}-{yyyyMMddHHmmss}.
// Codes are not unique under same-second creation.
func GenerateAlertCode(ruleType, targetType string, at time.Time) string {
	return fmt.Sprintf("ALERT-%s-%s-%s", codePart(ruleType), codePart(targetType), at.Format(alertCodeTimeLayout))
}

func codePart(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(s)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEventBus publishes lifecycle events on bus.
func WithEventBus(bus *AlertEventBus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithMetrics records engine metrics.
func WithMetrics(m *metrics.AlertingMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTargetNameResolver resolves target names for record snapshots.
func WithTargetNameResolver(r TargetNameResolver) EngineOption {
	return func(e *Engine) { e.names = r }
}

// WithRecordLocks shares per-record locks with the record service and dispatcher.
func WithRecordLocks(k *KeyedMutex) EngineOption {
	return func(e *Engine) { e.recordLocks = k }
}

// Engine runs the periodic scan and recovery sweeps.
type Engine struct {
	rules     repository.AlertRuleRepository
	records   repository.AlertRecordRepository
	evaluator *Evaluator
	names     TargetNameResolver
	bus       *AlertEventBus
	metrics   *metrics.AlertingMetrics
	log       logger.Logger
	now       func() time.Time

	// scanMu makes scans and recovery sweeps single-writer.
	scanMu      sync.Mutex
	targetLocks *KeyedMutex
	recordLocks *KeyedMutex

	schedMu sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEngine creates an Engine.
func NewEngine(
	rules repository.AlertRuleRepository,
	records repository.AlertRecordRepository,
	evaluator *Evaluator,
	log logger.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		rules:       rules,
		records:     records,
		evaluator:   evaluator,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		targetLocks: NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.recordLocks == nil {
		e.recordLocks = NewKeyedMutex()
	}
	e.evaluator.now = e.now
	return e
}

// RecordLocks returns the per-record lock set.
func (e *Engine) RecordLocks() *KeyedMutex {
	return e.recordLocks
}

// ResolveTargetType returns the target type recorded for rule's alerts.
func (e *Engine) ResolveTargetType(rule *entities.AlertRule) string {
	return e.evaluator.TargetTypeFor(rule)
}

// ScanAndEvaluateAllRules evaluates every enabled rule and creates records
// for triggered, non-suppressed targets. A failing rule is logged and
// skipped; only failing to load the rule list is returned.
func (e *Engine) ScanAndEvaluateAllRules(ctx context.Context) ([]*entities.AlertRecord, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	start := time.Now()
	defer func() { e.metrics.ObserveSweep(metrics.SweepScan, time.Since(start)) }()

	rules, err := e.rules.GetEnabledRules(ctx)
	if err != nil {
		return nil, errors.New(err).
			Component("engine").
			Category(errors.CategoryDatabase).
			Context("operation", "load_enabled_rules").
			Build()
	}

	created := []*entities.AlertRecord{}
	var failed int
	for i := range rules {
		rule := &rules[i]
		recs, err := e.scanRule(ctx, rule)
		created = append(created, recs...)
		e.metrics.RuleEvaluated()
		if err != nil {
			failed++
			e.metrics.RuleFailed(string(errors.CategoryOf(err)))
			logFn := e.log.Warn
			if errors.Is(err, ErrCollectorNotReady) {
				logFn = e.log.Debug
			}
			logFn("rule evaluation failed",
				logger.Uint64("rule_id", uint64(rule.ID)),
				logger.String("rule_name", rule.RuleName),
				logger.Error(err))
		}
	}

	e.log.Debug("alert scan completed",
		logger.Int("rules", len(rules)),
		logger.Int("failed", failed),
		logger.Int("created", len(created)),
		logger.Duration("elapsed", time.Since(start)))
	return created, nil
}

// scanRule evaluates one rule. Records created before an error are still returned.
func (e *Engine) scanRule(ctx context.Context, rule *entities.AlertRule) (created []*entities.AlertRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic while evaluating rule %d: %v", rule.ID, r).
				Component("engine").
				Category(errors.CategoryCollector).
				Build()
		}
	}()

	results, err := e.evaluator.EvaluateRuleBatchFor(ctx, rule)
	if err != nil {
		return nil, err
	}

	var errs []error
	for i := range results {
		rec, err := e.CreateAlertIfNotSuppressed(ctx, rule, &results[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rec != nil {
			created = append(created, rec)
		}
	}
	return created, errors.Join(errs...)
}

func dedupKey(ruleID uint, targetType, targetID string) string {
	return fmt.Sprintf("%d|%s|%s", ruleID, targetType, targetID)
}

// CreateAlertIfNotSuppressed creates a PENDING record for a triggered result
// unless a record of the same rule and target exists inside the rule's quiet
// period, in which case it returns nil, nil.
func (e *Engine) CreateAlertIfNotSuppressed(ctx context.Context, rule *entities.AlertRule, result *RuleEvaluationResult) (*entities.AlertRecord, error) {
	targetType := result.TargetType
	if targetType == "" {
		targetType = e.ResolveTargetType(rule)
	}

	unlock := e.targetLocks.Lock(dedupKey(rule.ID, targetType, result.TargetID))
	defer unlock()

	now := e.now()
	suppressed, err := e.inQuietPeriod(ctx, rule, targetType, result.TargetID, now)
	if err != nil {
		return nil, err
	}
	if suppressed {
		e.metrics.AlertSuppressed()
		e.log.Debug("alert suppressed by quiet period",
			logger.Uint64("rule_id", uint64(rule.ID)),
			logger.String("target_type", targetType),
			logger.String("target_id", result.TargetID))
		return nil, nil
	}

	record := e.buildRecord(ctx, rule, result, targetType, now)
	if err := e.records.CreateRecord(ctx, record); err != nil {
		return nil, errors.New(err).
			Component("engine").
			Category(errors.CategoryDatabase).
			Context("rule_id", rule.ID).
			Context("target_id", result.TargetID).
			Build()
	}

	e.metrics.AlertCreated(record.Severity)
	e.log.Info("alert created",
		logger.String("alert_code", record.AlertCode),
		logger.Uint64("rule_id", uint64(rule.ID)),
		logger.String("target_type", targetType),
		logger.String("target_id", record.TargetID),
		logger.String("severity", record.Severity))
	e.publish(EventAlertCreated, record, rule)
	return record, nil
}

func (e *Engine) inQuietPeriod(ctx context.Context, rule *entities.AlertRule, targetType, targetID string, now time.Time) (bool, error) {
	if rule.QuietPeriodMinutes <= 0 {
		return false, nil
	}
	since := now.Add(-time.Duration(rule.QuietPeriodMinutes) * time.Minute)
	existing, err := e.records.FindByTarget(ctx, targetType, targetID, since)
	if err != nil {
		return false, errors.New(err).
			Component("engine").
			Category(errors.CategoryDatabase).
			Context("operation", "dedup_lookup").
			Build()
	}
	for i := range existing {
		if existing[i].RuleID == rule.ID && existing[i].CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

// alertData is the serialized evaluation snapshot stored on a record.
type alertData struct {
	EvaluatedAt time.Time `json:"evaluated_at"`
	Metrics     []Metric  `json:"metrics"`
}

func (e *Engine) buildRecord(ctx context.Context, rule *entities.AlertRule, result *RuleEvaluationResult, targetType string, now time.Time) *entities.AlertRecord {
	targetName := e.targetName(ctx, targetType, result.TargetID)

	data, err := json.Marshal(alertData{EvaluatedAt: result.EvaluatedAt, Metrics: result.TriggeredMetrics})
	if err != nil {
		e.log.Error("failed to marshal alert data", logger.Error(err))
		data = []byte("{}")
	}

	record := &entities.AlertRecord{
		AlertCode:    GenerateAlertCode(rule.RuleType, targetType, now),
		RuleID:       rule.ID,
		RuleName:     rule.RuleName,
		RuleType:     rule.RuleType,
		TargetType:   targetType,
		TargetID:     result.TargetID,
		TargetName:   targetName,
		Severity:     rule.Severity,
		AlertData:    string(data),
		Status:       entities.AlertStatusPending,
		NotifyStatus: entities.NotifyStatusUnsent,
		CreatedBy:    "system",
		UpdatedBy:    "system",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	record.Message = RenderMessage(rule.MessageTemplate, rule, record, result.TriggeredMetrics)
	return record
}

// targetName resolves a display name, falling back to a placeholder.
func (e *Engine) targetName(ctx context.Context, targetType, targetID string) string {
	return resolveTargetName(ctx, e.names, e.log, targetType, targetID)
}

func resolveTargetName(ctx context.Context, r TargetNameResolver, log logger.Logger, targetType, targetID string) string {
	if r == nil {
		return FallbackTargetName(targetType, targetID)
	}
	lookupCtx, cancel := context.WithTimeout(ctx, nameLookupTimeout)
	defer cancel()
	name, err := r.ResolveName(lookupCtx, targetType, targetID)
	if err != nil || name == "" {
		if err != nil {
			log.Warn("target name lookup failed",
				logger.String("target_type", targetType),
				logger.String("target_id", targetID),
				logger.Error(err))
		}
		return FallbackTargetName(targetType, targetID)
	}
	return name
}

// CheckAndRecoverAlerts re-evaluates every open record and recovers those
// whose rule no longer triggers for their target. Returns how many recovered.
func (e *Engine) CheckAndRecoverAlerts(ctx context.Context) (int, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	start := time.Now()
	defer func() { e.metrics.ObserveSweep(metrics.SweepRecovery, time.Since(start)) }()

	open, err := e.records.FindByStatuses(ctx, entities.OpenAlertStatuses...)
	if err != nil {
		return 0, errors.New(err).
			Component("engine").
			Category(errors.CategoryDatabase).
			Context("operation", "load_open_records").
			Build()
	}

	rules := make(map[uint]*entities.AlertRule)
	var recovered, skipped int
	for i := range open {
		ok, err := e.recoverRecord(ctx, &open[i], rules)
		if errors.Is(err, ErrCollectorNotReady) {
			// A collector without data leaves the record open.
			skipped++
			continue
		}
		if err != nil {
			e.log.Warn("alert recovery check failed",
				logger.Uint64("alert_id", uint64(open[i].ID)),
				logger.String("alert_code", open[i].AlertCode),
				logger.Error(err))
			continue
		}
		if ok {
			recovered++
		}
	}

	if skipped > 0 {
		e.log.Warn("alert recovery skipped records whose collectors have no data yet",
			logger.Int("skipped", skipped))
	}
	if recovered > 0 {
		e.log.Info("alert recovery sweep completed",
			logger.Int("open", len(open)),
			logger.Int("recovered", recovered))
	}
	return recovered, nil
}

// recoverRecord evaluates one open record. A deleted rule counts as no
// longer triggered. rules caches loaded rules across one sweep.
func (e *Engine) recoverRecord(ctx context.Context, rec *entities.AlertRecord, rules map[uint]*entities.AlertRule) (bool, error) {
	rule, cached := rules[rec.RuleID]
	if !cached {
		loaded, err := e.rules.GetRule(ctx, rec.RuleID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			rule = nil
		case err != nil:
			return false, err
		default:
			rule = loaded
		}
		rules[rec.RuleID] = rule
	}

	if rule != nil {
		result, err := e.evaluator.EvaluateRuleFor(ctx, rule, rec.TargetType, rec.TargetID)
		if err != nil {
			return false, err
		}
		if result.Triggered {
			return false, nil
		}
	}

	unlock := e.recordLocks.Lock(recordLockKey(rec.ID))
	defer unlock()

	current, err := e.records.GetRecord(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	if current.Status.IsTerminal() {
		// Closed by an operator since the sweep loaded it.
		return false, nil
	}
	if err := current.Recover(e.now()); err != nil {
		return false, err
	}
	if err := e.records.SaveRecord(ctx, current); err != nil {
		return false, err
	}

	e.metrics.AlertRecovered()
	e.log.Info("alert recovered",
		logger.String("alert_code", current.AlertCode),
		logger.Int64("duration_sec", current.DurationSec))
	e.publish(EventAlertRecovered, current, rule)
	return true, nil
}

func recordLockKey(id uint) string {
	return fmt.Sprintf("record|%d", id)
}

// PurgeHistory deletes terminal records older than retentionDays.
func (e *Engine) PurgeHistory(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := e.now().AddDate(0, 0, -retentionDays)
	return e.records.DeleteTerminalBefore(ctx, cutoff)
}

func (e *Engine) publish(t EventType, record *entities.AlertRecord, rule *entities.AlertRule) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(NewAlertEvent(t, record, rule, e.now()))
}

// NotifyRetrier redelivers failed notifications.
type NotifyRetrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

// ScheduleConfig sets the background sweep intervals. A zero interval
// disables that sweep. The retry sweep also needs a Retrier.
type ScheduleConfig struct {
	ScanInterval     time.Duration
	RecoveryInterval time.Duration
	RetryInterval    time.Duration
	CleanupInterval  time.Duration
	RetentionDays    int
	Retrier          NotifyRetrier
}

// Start launches the background sweeps. Calling Start again restarts them.
func (e *Engine) Start(cfg ScheduleConfig) {
	e.Stop()

	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh

	if cfg.ScanInterval > 0 {
		e.runEvery(stopCh, cfg.ScanInterval, "scan", func(ctx context.Context) {
			if _, err := e.ScanAndEvaluateAllRules(ctx); err != nil {
				e.log.Error("alert scan failed", logger.Error(err))
			}
		})
	}
	if cfg.RecoveryInterval > 0 {
		e.runEvery(stopCh, cfg.RecoveryInterval, "recovery", func(ctx context.Context) {
			if _, err := e.CheckAndRecoverAlerts(ctx); err != nil {
				e.log.Error("alert recovery sweep failed", logger.Error(err))
			}
		})
	}
	if cfg.RetryInterval > 0 && cfg.Retrier != nil {
		e.runEvery(stopCh, cfg.RetryInterval, "retry", func(ctx context.Context) {
			if _, err := cfg.Retrier.RetryFailed(ctx); err != nil {
				e.log.Error("notification retry sweep failed", logger.Error(err))
			}
		})
	}
	if cfg.RetentionDays > 0 {
		interval := cfg.CleanupInterval
		if interval <= 0 {
			interval = defaultCleanupInterval
		}
		e.runEvery(stopCh, interval, "cleanup", func(ctx context.Context) {
			deleted, err := e.PurgeHistory(ctx, cfg.RetentionDays)
			if err != nil {
				e.log.Error("alert history cleanup failed", logger.Error(err))
			} else if deleted > 0 {
				e.log.Info("alert history cleanup completed",
					logger.Int64("deleted", deleted),
					logger.Int("retention_days", cfg.RetentionDays))
			}
		})
	}
}

// runEvery starts a ticker goroutine bounded by stopCh. Each run gets a
// context that expires after one interval.
func (e *Engine) runEvery(stopCh <-chan struct{}, interval time.Duration, name string, fn func(context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		e.log.Debug("sweep started", logger.String("sweep", name), logger.Duration("interval", interval))
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				fn(ctx)
				cancel()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop halts the background sweeps and waits for running ones to finish.
func (e *Engine) Stop() {
	e.schedMu.Lock()
	ch := e.stopCh
	e.stopCh = nil
	e.schedMu.Unlock()
	if ch != nil {
		close(ch)
	}
	e.wg.Wait()
}
