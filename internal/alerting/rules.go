package alerting

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
)

var (
	knownSeverities    = []string{entities.SeverityInfo, entities.SeverityWarning, entities.SeverityCritical}
	knownRuleTypes     = []string{entities.RuleTypeThreshold, entities.RuleTypeOffline, entities.RuleTypeOverdue}
	knownNotifyTypes   = []string{entities.NotifyTypeEmail, entities.NotifyTypeSMS, entities.NotifyTypeWebhook, entities.NotifyTypeBell}
	knownRecipientKind = []string{entities.RecipientKindUser, entities.RecipientKindDepartment}
)

// RuleService manages alert rule configuration.
type RuleService struct {
	repo          repository.AlertRuleRepository
	registry      *CollectorRegistry
	targetTypes   TargetTypeTable
	strictMetrics bool
	log           logger.Logger
}

// RuleServiceOption configures a RuleService.
type RuleServiceOption func(*RuleService)

// WithRuleTargetTypes sets the table used to check that condition metrics
// are reported for the rule's target type.
func WithRuleTargetTypes(t TargetTypeTable) RuleServiceOption {
	return func(s *RuleService) {
		if t != nil {
			s.targetTypes = t
		}
	}
}

// NewRuleService creates a RuleService. With strictMetrics, condition metrics
// must be resolvable by registry.
func NewRuleService(repo repository.AlertRuleRepository, registry *CollectorRegistry, strictMetrics bool, log logger.Logger, opts ...RuleServiceOption) *RuleService {
	s := &RuleService{
		repo:          repo,
		registry:      registry,
		targetTypes:   DefaultTargetTypeTable(),
		strictMetrics: strictMetrics,
		log:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateRule checks rule for structural problems and a unique name. All
// problems are reported in one validation error.
func (s *RuleService) ValidateRule(ctx context.Context, rule *entities.AlertRule) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	rule.RuleName = strings.TrimSpace(rule.RuleName)
	if rule.RuleName == "" {
		add("rule_name is required")
	}
	if rule.RuleType == "" {
		rule.RuleType = entities.RuleTypeThreshold
	}
	if !slices.Contains(knownRuleTypes, rule.RuleType) {
		add("unknown rule_type %q", rule.RuleType)
	}
	if !slices.Contains(knownSeverities, rule.Severity) {
		add("unknown severity %q", rule.Severity)
	}
	if rule.TargetType != "" && !isKnownTargetType(rule.TargetType) {
		add("unknown target_type %q", rule.TargetType)
	}
	if rule.QuietPeriodMinutes < 0 {
		add("quiet_period_minutes must not be negative")
	}

	if len(rule.Conditions) == 0 {
		add("at least one condition is required")
	}
	for i := range rule.Conditions {
		for _, p := range s.conditionProblems(&rule.Conditions[i]) {
			add("conditions[%d]: %s", i, p)
		}
	}
	// Readings of another target type are dropped at evaluation.
	if tt := s.targetTypes.ResolveRuleTargetType(rule); tt != "" && isKnownTargetType(tt) {
		for i := range rule.Conditions {
			if m := rule.Conditions[i].Metric; m != "" && !s.targetTypes.Reports(m, tt) {
				add("conditions[%d]: metric %q is not reported for target_type %q (reported for %s)",
					i, m, tt, strings.Join(s.targetTypes[m], ", "))
			}
		}
	}
	for i := range rule.Actions {
		a := &rule.Actions[i]
		if a.RecipientKind == "" {
			a.RecipientKind = entities.RecipientKindUser
		}
		if !slices.Contains(knownNotifyTypes, a.NotifyType) {
			add("actions[%d]: unknown notify_type %q", i, a.NotifyType)
		}
		if !slices.Contains(knownRecipientKind, a.RecipientKind) {
			add("actions[%d]: unknown recipient_kind %q", i, a.RecipientKind)
		}
		if strings.TrimSpace(a.RecipientID) == "" {
			add("actions[%d]: recipient_id is required", i)
		}
	}

	if rule.RuleName != "" {
		count, err := s.repo.CountRulesByName(ctx, rule.RuleName, rule.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			add("a rule named %q already exists", rule.RuleName)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid alert rule: %s", strings.Join(problems, "; ")).
		Component("rule-service").
		Category(errors.CategoryValidation).
		Context("problems", problems).
		Build()
}

func (s *RuleService) conditionProblems(c *entities.AlertCondition) []string {
	var problems []string
	c.Metric = strings.TrimSpace(c.Metric)
	switch {
	case c.Metric == "":
		problems = append(problems, "metric is required")
	case s.strictMetrics && s.registry != nil && !s.registry.IsSupported(c.Metric):
		problems = append(problems, fmt.Sprintf("no collector supports metric %q", c.Metric))
	}

	switch {
	case !isKnownOperator(c.Operator):
		problems = append(problems, fmt.Sprintf("unknown operator %q", c.Operator))
	case isRangeOperator(c.Operator):
		if !c.MinThreshold.Valid || !c.MaxThreshold.Valid {
			problems = append(problems, fmt.Sprintf("%s needs min_threshold and max_threshold", c.Operator))
		} else if c.MinThreshold.Decimal.GreaterThan(c.MaxThreshold.Decimal) {
			problems = append(problems, "min_threshold must not exceed max_threshold")
		}
	default:
		if !c.Threshold.Valid {
			problems = append(problems, fmt.Sprintf("%s needs a threshold", c.Operator))
		}
	}
	return problems
}

// CreateRule validates and stores a new rule.
func (s *RuleService) CreateRule(ctx context.Context, rule *entities.AlertRule, operator string) error {
	rule.ID = 0
	rule.BuiltIn = false
	if err := s.ValidateRule(ctx, rule); err != nil {
		return err
	}
	rule.CreatedBy = operator
	rule.UpdatedBy = operator
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return err
	}
	s.log.Info("alert rule created",
		logger.Uint64("rule_id", uint64(rule.ID)),
		logger.String("rule_name", rule.RuleName),
		logger.String("operator", operator))
	return nil
}

// UpdateRule replaces rule's fields, conditions and actions. BuiltIn and
// creation metadata are preserved.
func (s *RuleService) UpdateRule(ctx context.Context, rule *entities.AlertRule, operator string) error {
	existing, err := s.repo.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	if err := s.ValidateRule(ctx, rule); err != nil {
		return err
	}
	rule.BuiltIn = existing.BuiltIn
	rule.CreatedBy = existing.CreatedBy
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedBy = operator
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return err
	}
	s.log.Info("alert rule updated",
		logger.Uint64("rule_id", uint64(rule.ID)),
		logger.String("operator", operator))
	return nil
}

// EnableRule enables a disabled rule.
func (s *RuleService) EnableRule(ctx context.Context, id uint, operator string) error {
	return s.setEnabled(ctx, id, true, operator)
}

// DisableRule disables an enabled rule.
func (s *RuleService) DisableRule(ctx context.Context, id uint, operator string) error {
	return s.setEnabled(ctx, id, false, operator)
}

func (s *RuleService) setEnabled(ctx context.Context, id uint, enabled bool, operator string) error {
	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if rule.Enabled == enabled {
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		return errors.Newf("alert rule %d is already %s", id, state).
			Component("rule-service").
			Category(errors.CategoryIllegalState).
			Context("rule_id", id).
			Build()
	}
	if err := s.repo.ToggleRule(ctx, id, enabled, operator); err != nil {
		return err
	}
	s.log.Info("alert rule toggled",
		logger.Uint64("rule_id", uint64(id)),
		logger.Bool("enabled", enabled),
		logger.String("operator", operator))
	return nil
}

// DeleteRule soft-deletes a rule. Its alert records are kept.
func (s *RuleService) DeleteRule(ctx context.Context, id uint) error {
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.log.Info("alert rule deleted", logger.Uint64("rule_id", uint64(id)))
	return nil
}

// GetRule returns one rule.
func (s *RuleService) GetRule(ctx context.Context, id uint) (*entities.AlertRule, error) {
	return s.repo.GetRule(ctx, id)
}

// ListRules returns rules matching filter.
func (s *RuleService) ListRules(ctx context.Context, filter repository.AlertRuleFilter) ([]entities.AlertRule, error) {
	return s.repo.ListRules(ctx, filter)
}

// SeedDefaults creates every built-in rule missing by name. Partial seeds
// from earlier runs self-heal. Built-in rules an operator deleted stay
// deleted until ResetDefaults.
func (s *RuleService) SeedDefaults(ctx context.Context) (int, error) {
	return s.seedDefaults(ctx, true)
}

func (s *RuleService) seedDefaults(ctx context.Context, keepDeleted bool) (int, error) {
	existing, err := s.repo.ListRules(ctx, repository.AlertRuleFilter{})
	if err != nil {
		return 0, err
	}
	skip := make(map[string]struct{}, len(existing))
	for i := range existing {
		skip[existing[i].RuleName] = struct{}{}
	}
	if keepDeleted {
		deleted, err := s.repo.DeletedBuiltInRuleNames(ctx)
		if err != nil {
			return 0, err
		}
		for _, name := range deleted {
			skip[name] = struct{}{}
		}
	}

	defaults := DefaultRules()
	var created int
	for i := range defaults {
		if _, exists := skip[defaults[i].RuleName]; exists {
			continue
		}
		if err := s.repo.CreateRule(ctx, &defaults[i]); err != nil {
			return created, err
		}
		created++
	}
	if created > 0 {
		s.log.Info("seeded default alert rules", logger.Int("created", created))
	}
	return created, nil
}

// ResetDefaults deletes the built-in rules and seeds all of them again,
// including ones an operator deleted.
func (s *RuleService) ResetDefaults(ctx context.Context) (int, error) {
	deleted, err := s.repo.DeleteBuiltInRules(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info("deleted built-in alert rules", logger.Int64("deleted", deleted))
	return s.seedDefaults(ctx, false)
}

// RuleExport is the portable rule bundle format.
type RuleExport struct {
	Version int                  `json:"version"`
	Rules   []entities.AlertRule `json:"rules"`
}

const ruleExportVersion = 1

// ExportRules returns every rule in the portable bundle format.
func (s *RuleService) ExportRules(ctx context.Context) (*RuleExport, error) {
	rules, err := s.repo.ListRules(ctx, repository.AlertRuleFilter{})
	if err != nil {
		return nil, err
	}
	return &RuleExport{Version: ruleExportVersion, Rules: rules}, nil
}

// ImportRules creates each bundled rule as a new custom rule. Invalid or
// duplicate rules are skipped and reported.
func (s *RuleService) ImportRules(ctx context.Context, bundle *RuleExport, operator string) (imported int, skipped []error) {
	for i := range bundle.Rules {
		rule := bundle.Rules[i]
		for j := range rule.Conditions {
			rule.Conditions[j].ID = 0
			rule.Conditions[j].RuleID = 0
		}
		for j := range rule.Actions {
			rule.Actions[j].ID = 0
			rule.Actions[j].RuleID = 0
		}
		if err := s.CreateRule(ctx, &rule, operator); err != nil {
			s.log.Warn("skipped imported alert rule",
				logger.String("rule_name", rule.RuleName),
				logger.Error(err))
			skipped = append(skipped, err)
			continue
		}
		imported++
	}
	return imported, skipped
}
