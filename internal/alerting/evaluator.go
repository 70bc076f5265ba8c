package alerting

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/errors"
)

// RuleEvaluationResult is the verdict of one rule against one target.
type RuleEvaluationResult struct {
	RuleID           uint      `json:"rule_id"`
	RuleName         string    `json:"rule_name"`
	TargetType       string    `json:"target_type"`
	TargetID         string    `json:"target_id"`
	Triggered        bool      `json:"triggered"`
	TriggeredMetrics []Metric  `json:"triggered_metrics"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// RuleLookup loads a rule with its conditions.
type RuleLookup interface {
	GetRule(ctx context.Context, id uint) (*entities.AlertRule, error)
}

// EvaluateCondition returns the readings that satisfy cond, in input order.
// Absent values never match.
func EvaluateCondition(cond *entities.AlertCondition, readings []Metric) []Metric {
	var matched []Metric
	for i := range readings {
		if !readings[i].Value.Valid {
			continue
		}
		if compare(cond, readings[i].Value.Decimal) {
			matched = append(matched, readings[i])
		}
	}
	return matched
}

func compare(cond *entities.AlertCondition, v decimal.Decimal) bool {
	if isRangeOperator(cond.Operator) {
		if !cond.MinThreshold.Valid || !cond.MaxThreshold.Valid {
			return false
		}
		lo, hi := cond.MinThreshold.Decimal, cond.MaxThreshold.Decimal
		inside := v.GreaterThanOrEqual(lo) && v.LessThanOrEqual(hi)
		if cond.Operator == OperatorBetween {
			return inside
		}
		return v.LessThan(lo) || v.GreaterThan(hi)
	}

	if !cond.Threshold.Valid {
		return false
	}
	t := cond.Threshold.Decimal
	switch cond.Operator {
	case OperatorGT:
		return v.GreaterThan(t)
	case OperatorGTE:
		return v.GreaterThanOrEqual(t)
	case OperatorLT:
		return v.LessThan(t)
	case OperatorLTE:
		return v.LessThanOrEqual(t)
	case OperatorEQ:
		return v.Equal(t)
	case OperatorNEQ:
		return !v.Equal(t)
	default:
		return false
	}
}

// orderedConditions returns the rule's conditions sorted by SortOrder,
// keeping list order for ties.
func orderedConditions(rule *entities.AlertRule) []entities.AlertCondition {
	conds := slices.Clone(rule.Conditions)
	slices.SortStableFunc(conds, func(a, b entities.AlertCondition) int {
		return cmp.Compare(a.SortOrder, b.SortOrder)
	})
	return conds
}

// Evaluator applies rules to collected readings.
type Evaluator struct {
	rules       RuleLookup
	registry    *CollectorRegistry
	targetTypes TargetTypeTable
	now         func() time.Time
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(rules RuleLookup, registry *CollectorRegistry, targetTypes TargetTypeTable) *Evaluator {
	if targetTypes == nil {
		targetTypes = DefaultTargetTypeTable()
	}
	return &Evaluator{
		rules:       rules,
		registry:    registry,
		targetTypes: targetTypes,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// TargetTypeFor returns the target type the evaluator assigns to rule's results.
func (e *Evaluator) TargetTypeFor(rule *entities.AlertRule) string {
	return e.targetTypes.ResolveRuleTargetType(rule)
}

// EvaluateRuleBatch loads the rule and evaluates it against every target.
func (e *Evaluator) EvaluateRuleBatch(ctx context.Context, ruleID uint) ([]RuleEvaluationResult, error) {
	rule, err := e.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return e.EvaluateRuleBatchFor(ctx, rule)
}

// EvaluateRuleBatchFor evaluates an already-loaded rule against every target
// reporting any of its metrics. Only triggered targets are returned, in
// target ID order, all sharing one EvaluatedAt. A disabled or condition-less
// rule yields no results and no collector calls.
func (e *Evaluator) EvaluateRuleBatchFor(ctx context.Context, rule *entities.AlertRule) ([]RuleEvaluationResult, error) {
	if !rule.Enabled || len(rule.Conditions) == 0 {
		return []RuleEvaluationResult{}, nil
	}

	targetType := e.TargetTypeFor(rule)
	byMetric, err := e.collect(ctx, rule, targetType)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{})
	for _, readings := range byMetric {
		for i := range readings {
			ids[readings[i].TargetID] = struct{}{}
		}
	}
	targets := make([]string, 0, len(ids))
	for id := range ids {
		targets = append(targets, id)
	}
	slices.Sort(targets)

	conds := orderedConditions(rule)
	evaluatedAt := e.now()
	results := []RuleEvaluationResult{}
	for _, id := range targets {
		matched, ok := evaluateTarget(conds, byMetric, id)
		if !ok {
			continue
		}
		results = append(results, RuleEvaluationResult{
			RuleID:           rule.ID,
			RuleName:         rule.RuleName,
			TargetType:       resultTargetType(targetType, matched),
			TargetID:         id,
			Triggered:        true,
			TriggeredMetrics: matched,
			EvaluatedAt:      evaluatedAt,
		})
	}
	return results, nil
}

// EvaluateRule evaluates the rule for one target and always returns a
// verdict. A disabled or condition-less rule is reported as not triggered.
func (e *Evaluator) EvaluateRule(ctx context.Context, ruleID uint, targetType, targetID string) (RuleEvaluationResult, error) {
	rule, err := e.rules.GetRule(ctx, ruleID)
	if err != nil {
		return RuleEvaluationResult{}, err
	}
	return e.EvaluateRuleFor(ctx, rule, targetType, targetID)
}

// EvaluateRuleFor is EvaluateRule for an already-loaded rule.
func (e *Evaluator) EvaluateRuleFor(ctx context.Context, rule *entities.AlertRule, targetType, targetID string) (RuleEvaluationResult, error) {
	result := RuleEvaluationResult{
		RuleID:      rule.ID,
		RuleName:    rule.RuleName,
		TargetType:  targetType,
		TargetID:    targetID,
		EvaluatedAt: e.now(),
	}
	if !rule.Enabled || len(rule.Conditions) == 0 {
		return result, nil
	}

	byMetric, err := e.collect(ctx, rule, targetType)
	if err != nil {
		return RuleEvaluationResult{}, err
	}
	matched, ok := evaluateTarget(orderedConditions(rule), byMetric, targetID)
	if ok {
		result.Triggered = true
		result.TriggeredMetrics = matched
	}
	return result, nil
}

// collect calls CollectAll once per distinct metric name. Readings tagged
// with a different target type than the rule's are dropped.
func (e *Evaluator) collect(ctx context.Context, rule *entities.AlertRule, targetType string) (map[string][]Metric, error) {
	byMetric := make(map[string][]Metric)
	for _, name := range rule.MetricNames() {
		collector, err := e.registry.Resolve(name)
		if err != nil {
			return nil, err
		}
		readings, err := collector.CollectAll(ctx, name)
		if err != nil {
			return nil, errors.New(err).
				Component("evaluator").
				Category(errors.CategoryCollector).
				Context("rule_id", rule.ID).
				Context("metric", name).
				Context("collector", collector.Name()).
				Build()
		}
		if targetType != "" {
			readings = slices.DeleteFunc(slices.Clone(readings), func(m Metric) bool {
				return m.TargetType != "" && m.TargetType != targetType
			})
		}
		byMetric[name] = readings
	}
	return byMetric, nil
}

// evaluateTarget applies conds in order to one target's readings. It stops
// at the first condition with no match.
func evaluateTarget(conds []entities.AlertCondition, byMetric map[string][]Metric, targetID string) ([]Metric, bool) {
	var matched []Metric
	for i := range conds {
		own := filterTarget(byMetric[conds[i].Metric], targetID)
		hits := EvaluateCondition(&conds[i], own)
		if len(hits) == 0 {
			return nil, false
		}
		matched = append(matched, hits...)
	}
	return matched, true
}

func filterTarget(readings []Metric, targetID string) []Metric {
	var out []Metric
	for i := range readings {
		if readings[i].TargetID == targetID {
			out = append(out, readings[i])
		}
	}
	return out
}

func resultTargetType(ruleTargetType string, matched []Metric) string {
	if ruleTargetType != "" {
		return ruleTargetType
	}
	for i := range matched {
		if matched[i].TargetType != "" {
			return matched[i].TargetType
		}
	}
	return ""
}
