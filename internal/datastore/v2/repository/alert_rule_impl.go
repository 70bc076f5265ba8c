package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/errors"
)

// alertRuleRepository implements AlertRuleRepository.
type alertRuleRepository struct {
	db *gorm.DB
}

// NewAlertRuleRepository creates a new AlertRuleRepository.
func NewAlertRuleRepository(db *gorm.DB) AlertRuleRepository {
	return &alertRuleRepository{db: db}
}

func orderBySortOrder(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC, id ASC")
}

func (r *alertRuleRepository) withChildren(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Conditions", orderBySortOrder).
		Preload("Actions", orderBySortOrder)
}

// ListRules returns alert rules matching the given filter.
func (r *alertRuleRepository) ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error) {
	var rules []entities.AlertRule
	query := r.withChildren(ctx)

	if filter.RuleType != "" {
		query = query.Where("rule_type = ?", filter.RuleType)
	}
	if filter.TargetType != "" {
		query = query.Where("target_type = ?", filter.TargetType)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.BuiltIn != nil {
		query = query.Where("built_in = ?", *filter.BuiltIn)
	}

	if err := query.Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// GetRule returns a single alert rule by ID with its conditions and actions.
// Returns ErrAlertRuleNotFound if the rule does not exist or was deleted.
func (r *alertRuleRepository) GetRule(ctx context.Context, id uint) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	if err := r.withChildren(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule %d: %w", id, err)
	}
	return &rule, nil
}

// CreateRule creates a new alert rule with its conditions and actions.
func (r *alertRuleRepository) CreateRule(ctx context.Context, rule *entities.AlertRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

// UpdateRule replaces an alert rule, deleting existing conditions and actions first.
func (r *alertRuleRepository) UpdateRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.ID == 0 {
		return fmt.Errorf("failed to update alert rule: missing rule ID")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&entities.AlertCondition{}).Error; err != nil {
			return fmt.Errorf("failed to delete old conditions: %w", err)
		}
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&entities.AlertAction{}).Error; err != nil {
			return fmt.Errorf("failed to delete old actions: %w", err)
		}
		// Zero out IDs so GORM inserts new rows instead of trying to update deleted ones
		for i := range rule.Conditions {
			rule.Conditions[i].ID = 0
			rule.Conditions[i].RuleID = rule.ID
		}
		for i := range rule.Actions {
			rule.Actions[i].ID = 0
			rule.Actions[i].RuleID = rule.ID
		}
		if err := tx.Save(rule).Error; err != nil {
			return fmt.Errorf("failed to update alert rule: %w", err)
		}
		return nil
	})
}

// DeleteRule soft-deletes an alert rule. Its conditions and actions stay
// attached to the deleted row; existing alert records keep their snapshots.
func (r *alertRuleRepository) DeleteRule(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.AlertRule{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete alert rule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

// ToggleRule enables or disables an alert rule.
func (r *alertRuleRepository) ToggleRule(ctx context.Context, id uint, enabled bool, operator string) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertRule{}).Where("id = ?", id).
		Updates(map[string]any{"enabled": enabled, "updated_by": operator})
	if result.Error != nil {
		return fmt.Errorf("failed to toggle alert rule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

// GetEnabledRules returns all enabled alert rules with their conditions and actions.
func (r *alertRuleRepository) GetEnabledRules(ctx context.Context) ([]entities.AlertRule, error) {
	enabled := true
	return r.ListRules(ctx, AlertRuleFilter{Enabled: &enabled})
}

// DeleteBuiltInRules soft-deletes all built-in alert rules.
func (r *alertRuleRepository) DeleteBuiltInRules(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("built_in = ?", true).Delete(&entities.AlertRule{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete built-in alert rules: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeletedBuiltInRuleNames returns the distinct names of soft-deleted
// built-in rules.
func (r *alertRuleRepository) DeletedBuiltInRuleNames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Unscoped().Model(&entities.AlertRule{}).
		Where("built_in = ? AND deleted_at IS NOT NULL", true).
		Distinct().
		Pluck("rule_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted built-in rules: %w", err)
	}
	return names, nil
}

// CountRulesByName returns the number of live rules with the given name,
// not counting the rule with ID excludeID.
func (r *alertRuleRepository) CountRulesByName(ctx context.Context, name string, excludeID uint) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&entities.AlertRule{}).Where("rule_name = ?", name)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count rules by name: %w", err)
	}
	return count, nil
}
