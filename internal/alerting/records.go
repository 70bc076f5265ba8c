package alerting

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
)

// RuleTypeManual marks records raised by an operator instead of a rule.
const RuleTypeManual = "manual"

// mutateRecord reloads a record under its lock, applies fn and saves it.
func mutateRecord(ctx context.Context, repo repository.AlertRecordRepository, locks *KeyedMutex, id uint, fn func(*entities.AlertRecord) error) (*entities.AlertRecord, error) {
	unlock := locks.Lock(recordLockKey(id))
	defer unlock()

	rec, err := repo.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := repo.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ManualAlert is an operator-raised alert.
type ManualAlert struct {
	RuleID     uint   `json:"rule_id"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
}

// RecordService exposes operator actions on alert records.
type RecordService struct {
	records repository.AlertRecordRepository
	rules   repository.AlertRuleRepository
	locks   *KeyedMutex
	bus     *AlertEventBus
	names   TargetNameResolver
	log     logger.Logger
	now     func() time.Time
}

// NewRecordService creates a RecordService. locks should be shared with the
// engine and notify dispatcher.
func NewRecordService(
	records repository.AlertRecordRepository,
	rules repository.AlertRuleRepository,
	locks *KeyedMutex,
	bus *AlertEventBus,
	names TargetNameResolver,
	log logger.Logger,
) *RecordService {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &RecordService{
		records: records,
		rules:   rules,
		locks:   locks,
		bus:     bus,
		names:   names,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// StartProcess moves a pending alert to IN_PROGRESS.
func (s *RecordService) StartProcess(ctx context.Context, id uint, operator string) (*entities.AlertRecord, error) {
	return s.transition(ctx, id, EventAlertProcessing, func(r *entities.AlertRecord) error {
		return r.StartProcess(operator, s.now())
	})
}

// Resolve closes an open alert as handled.
func (s *RecordService) Resolve(ctx context.Context, id uint, operator, remark string) (*entities.AlertRecord, error) {
	return s.transition(ctx, id, EventAlertResolved, func(r *entities.AlertRecord) error {
		return r.Resolve(operator, remark, s.now())
	})
}

// Ignore closes an open alert without handling.
func (s *RecordService) Ignore(ctx context.Context, id uint, operator, remark string) (*entities.AlertRecord, error) {
	return s.transition(ctx, id, EventAlertIgnored, func(r *entities.AlertRecord) error {
		return r.Ignore(operator, remark, s.now())
	})
}

func (s *RecordService) transition(ctx context.Context, id uint, ev EventType, fn func(*entities.AlertRecord) error) (*entities.AlertRecord, error) {
	rec, err := mutateRecord(ctx, s.records, s.locks, id, fn)
	if err != nil {
		return nil, err
	}
	s.log.Info("alert status changed",
		logger.String("alert_code", rec.AlertCode),
		logger.String("status", string(rec.Status)),
		logger.String("operator", rec.Handler))
	s.publish(ev, rec, nil)
	return rec, nil
}

// LinkTask attaches a work-order task to the alert. isSelf marks a task the
// handler created for themselves.
func (s *RecordService) LinkTask(ctx context.Context, id uint, taskID string, isSelf bool, operator string) (*entities.AlertRecord, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, errors.Newf("task id is required").
			Component("record-service").
			Category(errors.CategoryValidation).
			Build()
	}
	return mutateRecord(ctx, s.records, s.locks, id, func(r *entities.AlertRecord) error {
		r.LinkedTaskID = taskID
		r.IsSelfTask = isSelf
		r.UpdatedBy = operator
		return nil
	})
}

// Get returns one record.
func (s *RecordService) Get(ctx context.Context, id uint) (*entities.AlertRecord, error) {
	return s.records.GetRecord(ctx, id)
}

// List returns a page of records and the total match count.
func (s *RecordService) List(ctx context.Context, filter repository.AlertRecordFilter) ([]entities.AlertRecord, int64, error) {
	return s.records.ListRecords(ctx, filter)
}

// CreateManual records an operator-raised alert. It is never deduplicated.
// With a RuleID the rule's name, type and routing are used.
func (s *RecordService) CreateManual(ctx context.Context, in ManualAlert, operator string) (*entities.AlertRecord, error) {
	if err := validateManual(&in); err != nil {
		return nil, err
	}

	var rule *entities.AlertRule
	if in.RuleID != 0 {
		r, err := s.rules.GetRule(ctx, in.RuleID)
		if err != nil {
			return nil, err
		}
		rule = r
	}

	now := s.now()
	rec := &entities.AlertRecord{
		RuleType:     RuleTypeManual,
		RuleName:     "Manual alert",
		TargetType:   in.TargetType,
		TargetID:     in.TargetID,
		TargetName:   resolveTargetName(ctx, s.names, s.log, in.TargetType, in.TargetID),
		Severity:     in.Severity,
		AlertData:    "{}",
		Status:       entities.AlertStatusPending,
		NotifyStatus: entities.NotifyStatusUnsent,
		CreatedBy:    operator,
		UpdatedBy:    operator,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rule != nil {
		rec.RuleID = rule.ID
		rec.RuleName = rule.RuleName
		rec.RuleType = rule.RuleType
		if rec.Severity == "" {
			rec.Severity = rule.Severity
		}
	}
	if rec.Severity == "" {
		rec.Severity = entities.SeverityWarning
	}
	rec.AlertCode = GenerateAlertCode(rec.RuleType, rec.TargetType, now)
	rec.Message = in.Message
	if rec.Message == "" {
		rec.Message = defaultMessage(rec, nil)
	}

	if err := s.records.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info("manual alert created",
		logger.String("alert_code", rec.AlertCode),
		logger.String("target_id", rec.TargetID),
		logger.String("operator", operator))
	s.publish(EventAlertCreated, rec, rule)
	return rec, nil
}

func validateManual(in *ManualAlert) error {
	var problems []string
	in.TargetID = strings.TrimSpace(in.TargetID)
	if in.TargetID == "" {
		problems = append(problems, "target_id is required")
	}
	if !isKnownTargetType(in.TargetType) {
		problems = append(problems, "target_type must be one of "+strings.Join(KnownTargetTypes, ", "))
	}
	if in.Severity != "" && !slices.Contains(knownSeverities, in.Severity) {
		problems = append(problems, "unknown severity "+in.Severity)
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid manual alert: %s", strings.Join(problems, "; ")).
		Component("record-service").
		Category(errors.CategoryValidation).
		Context("problems", problems).
		Build()
}

func (s *RecordService) publish(t EventType, rec *entities.AlertRecord, rule *entities.AlertRule) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(NewAlertEvent(t, rec, rule, s.now()))
}
