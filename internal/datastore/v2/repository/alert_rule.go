package repository

import (
	"context"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
)

// AlertRuleRepository handles alert rule CRUD.
type AlertRuleRepository interface {
	ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error)
	GetRule(ctx context.Context, id uint) (*entities.AlertRule, error)
	CreateRule(ctx context.Context, rule *entities.AlertRule) error
	UpdateRule(ctx context.Context, rule *entities.AlertRule) error
	DeleteRule(ctx context.Context, id uint) error
	ToggleRule(ctx context.Context, id uint, enabled bool, operator string) error

	GetEnabledRules(ctx context.Context) ([]entities.AlertRule, error)
	DeleteBuiltInRules(ctx context.Context) (int64, error)
	// DeletedBuiltInRuleNames lists names of soft-deleted built-in rules.
	DeletedBuiltInRuleNames(ctx context.Context) ([]string, error)

	// CountRulesByName counts live rules named name, ignoring excludeID.
	CountRulesByName(ctx context.Context, name string, excludeID uint) (int64, error)
}

// AlertRuleFilter controls rule listing queries.
type AlertRuleFilter struct {
	RuleType   string
	TargetType string
	Severity   string
	Enabled    *bool
	BuiltIn    *bool
}
