package entities

import (
	"time"

	"gorm.io/gorm"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Rule types. The rule type is part of the generated alert code.
const (
	RuleTypeThreshold = "threshold"
	RuleTypeOffline   = "offline"
	RuleTypeOverdue   = "overdue"
)

// AlertRule is an operator-configured threshold rule.
// Rules are owned by configuration management; the engine only reads them.
type AlertRule struct {
	ID                 uint             `gorm:"primaryKey" json:"id"`
	RuleName           string           `gorm:"size:255;not null;index" json:"rule_name"`
	RuleType           string           `gorm:"size:50;not null;default:'threshold'" json:"rule_type"`
	TargetType         string           `gorm:"size:20;default:''" json:"target_type"`
	Description        string           `gorm:"size:1000;default:''" json:"description"`
	Severity           string           `gorm:"size:20;not null" json:"severity"`
	MessageTemplate    string           `gorm:"size:2000;default:''" json:"message_template"`
	QuietPeriodMinutes int              `gorm:"not null;default:30" json:"quiet_period_minutes"`
	Enabled            bool             `gorm:"not null;index" json:"enabled"`
	BuiltIn            bool             `gorm:"not null;default:false" json:"built_in"`
	CreatedBy          string           `gorm:"size:64;default:''" json:"created_by"`
	UpdatedBy          string           `gorm:"size:64;default:''" json:"updated_by"`
	CreatedAt          time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt   `gorm:"index" json:"-"`
	Conditions         []AlertCondition `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"conditions"`
	Actions            []AlertAction    `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"actions"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}

// MetricNames returns the distinct condition metric names in condition order.
func (r *AlertRule) MetricNames() []string {
	seen := make(map[string]struct{}, len(r.Conditions))
	names := make([]string, 0, len(r.Conditions))
	for i := range r.Conditions {
		m := r.Conditions[i].Metric
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		names = append(names, m)
	}
	return names
}
