package entities

import "github.com/shopspring/decimal"

// AlertCondition is one comparison clause of an alert rule.
// All conditions in a rule use AND logic, evaluated in SortOrder.
type AlertCondition struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	RuleID       uint                `gorm:"not null;index" json:"rule_id"`
	Metric       string              `gorm:"size:100;not null" json:"metric"`
	Operator     string              `gorm:"size:20;not null" json:"operator"`
	Threshold    decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"threshold"`
	MinThreshold decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"min_threshold"`
	MaxThreshold decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"max_threshold"`
	SortOrder    int                 `gorm:"default:0" json:"sort_order"`
}

// TableName returns the table name for GORM.
func (AlertCondition) TableName() string {
	return "alert_conditions"
}
