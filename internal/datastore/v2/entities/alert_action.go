package entities

// Notify types identify the delivery channel of an alert action.
const (
	NotifyTypeEmail   = "email"
	NotifyTypeSMS     = "sms"
	NotifyTypeWebhook = "webhook"
	NotifyTypeBell    = "bell"
)

// Recipient kinds identify how RecipientID is resolved.
const (
	RecipientKindUser       = "user"
	RecipientKindDepartment = "department"
)

// AlertAction routes a rule's alerts to a user or department over one channel.
// The evaluation engine never looks at actions; only the notify dispatcher does.
type AlertAction struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	RuleID        uint   `gorm:"not null;index" json:"rule_id"`
	NotifyType    string `gorm:"size:20;not null" json:"notify_type"`
	RecipientKind string `gorm:"size:20;not null;default:'user'" json:"recipient_kind"`
	RecipientID   string `gorm:"size:64;not null" json:"recipient_id"`
	TemplateTitle string `gorm:"size:500;default:''" json:"template_title"`
	SortOrder     int    `gorm:"default:0" json:"sort_order"`
}

// TableName returns the table name for GORM.
func (AlertAction) TableName() string {
	return "alert_actions"
}
