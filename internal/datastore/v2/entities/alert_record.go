package entities

import (
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/hydrowatch/alertengine/internal/errors"
)

// AlertStatus is the lifecycle state of an alert record.
type AlertStatus string

const (
	AlertStatusPending    AlertStatus = "PENDING"
	AlertStatusInProgress AlertStatus = "IN_PROGRESS"
	AlertStatusResolved   AlertStatus = "RESOLVED"
	AlertStatusIgnored    AlertStatus = "IGNORED"
	AlertStatusRecovered  AlertStatus = "RECOVERED"
)

// IsTerminal reports whether no transition leaves this status.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusIgnored || s == AlertStatusRecovered
}

// OpenAlertStatuses are the statuses the recovery sweep re-evaluates.
var OpenAlertStatuses = []AlertStatus{AlertStatusPending, AlertStatusInProgress}

// NotifyStatus tracks notification outcome for a record, independent of Status.
type NotifyStatus string

const (
	NotifyStatusUnsent  NotifyStatus = "UNSENT"
	NotifyStatusSuccess NotifyStatus = "SUCCESS"
	NotifyStatusFailed  NotifyStatus = "FAILED"
)

// AlertRecord is one deduplicated occurrence of a triggered rule against a
// target. Rule and target fields are copied at creation and never follow
// later rule edits.
type AlertRecord struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	AlertCode    string         `gorm:"size:100;not null;index" json:"alert_code"`
	RuleID       uint           `gorm:"not null;index:idx_alert_records_dedup,priority:1" json:"rule_id"`
	RuleName     string         `gorm:"size:255;not null" json:"rule_name"`
	RuleType     string         `gorm:"size:50;not null" json:"rule_type"`
	TargetType   string         `gorm:"size:20;not null;index:idx_alert_records_dedup,priority:2;index:idx_alert_records_target,priority:1" json:"target_type"`
	TargetID     string         `gorm:"size:64;not null;index:idx_alert_records_dedup,priority:3;index:idx_alert_records_target,priority:2" json:"target_id"`
	TargetName   string         `gorm:"size:255;default:''" json:"target_name"`
	Severity     string         `gorm:"size:20;not null" json:"severity"`
	Message      string         `gorm:"size:2000;default:''" json:"message"`
	AlertData    string         `gorm:"type:text" json:"alert_data"`
	Status       AlertStatus    `gorm:"size:20;not null;index" json:"status"`
	NotifyStatus NotifyStatus   `gorm:"size:20;not null;default:'UNSENT'" json:"notify_status"`
	NotifyTime   *time.Time     `json:"notify_time,omitempty"`
	RecoverTime  *time.Time     `json:"recover_time,omitempty"`
	DurationSec  int64          `gorm:"default:0" json:"duration_sec"`
	Handler      string         `gorm:"size:64;default:''" json:"handler"`
	HandleTime   *time.Time     `json:"handle_time,omitempty"`
	Remark       string         `gorm:"size:1000;default:''" json:"remark"`
	LinkedTaskID string         `gorm:"size:64;default:''" json:"linked_task_id"`
	IsSelfTask   bool           `gorm:"not null;default:false" json:"is_self_task"`
	CreatedBy    string         `gorm:"size:64;default:''" json:"created_by"`
	UpdatedBy    string         `gorm:"size:64;default:''" json:"updated_by"`
	CreatedAt    time.Time      `gorm:"index:idx_alert_records_dedup,priority:4" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the table name for GORM.
func (AlertRecord) TableName() string {
	return "alert_records"
}

func (r *AlertRecord) transitionError(op string) error {
	return errors.Newf("cannot %s alert %s in status %s", op, r.AlertCode, r.Status).
		Component("alert-record").
		Category(errors.CategoryIllegalState).
		Context("alert_id", r.ID).
		Context("status", string(r.Status)).
		Build()
}

func (r *AlertRecord) requireStatus(op string, allowed ...AlertStatus) error {
	if !slices.Contains(allowed, r.Status) {
		return r.transitionError(op)
	}
	return nil
}

// StartProcess moves a pending alert into handling.
func (r *AlertRecord) StartProcess(handler string, now time.Time) error {
	if err := r.requireStatus("start processing", AlertStatusPending); err != nil {
		return err
	}
	r.Status = AlertStatusInProgress
	r.Handler = handler
	r.UpdatedBy = handler
	r.HandleTime = &now
	return nil
}

// Resolve closes an open alert as handled.
func (r *AlertRecord) Resolve(handler, remark string, now time.Time) error {
	if err := r.requireStatus("resolve", OpenAlertStatuses...); err != nil {
		return err
	}
	r.close(AlertStatusResolved, handler, remark, now)
	return nil
}

// Ignore closes an open alert without handling.
func (r *AlertRecord) Ignore(handler, remark string, now time.Time) error {
	if err := r.requireStatus("ignore", OpenAlertStatuses...); err != nil {
		return err
	}
	r.close(AlertStatusIgnored, handler, remark, now)
	return nil
}

func (r *AlertRecord) close(status AlertStatus, handler, remark string, now time.Time) {
	r.Status = status
	r.Handler = handler
	r.UpdatedBy = handler
	r.Remark = remark
	r.HandleTime = &now
}

// Recover closes an open alert whose condition no longer holds and records
// how long it was open.
func (r *AlertRecord) Recover(now time.Time) error {
	if err := r.requireStatus("recover", OpenAlertStatuses...); err != nil {
		return err
	}
	r.Status = AlertStatusRecovered
	r.RecoverTime = &now
	r.DurationSec = max(int64(now.Sub(r.CreatedAt)/time.Second), 0)
	return nil
}

// NotifySuccess records a successful notification. It does not touch Status.
func (r *AlertRecord) NotifySuccess(now time.Time) {
	r.NotifyStatus = NotifyStatusSuccess
	r.NotifyTime = &now
}

// NotifyFailed records a failed notification. It does not touch Status.
func (r *AlertRecord) NotifyFailed(now time.Time) {
	r.NotifyStatus = NotifyStatusFailed
	r.NotifyTime = &now
}
