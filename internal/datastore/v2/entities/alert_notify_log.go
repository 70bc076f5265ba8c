package entities

import (
	"time"

	"github.com/hydrowatch/alertengine/internal/errors"
)

// NotifyLogStatus is the delivery state of a notify log line.
type NotifyLogStatus string

const (
	NotifyLogPending NotifyLogStatus = "PENDING"
	NotifyLogSuccess NotifyLogStatus = "SUCCESS"
	NotifyLogFailed  NotifyLogStatus = "FAILED"
)

// MaxNotifyRetries caps how many times a failed delivery may be retried.
const MaxNotifyRetries = 3

// AlertNotifyLog is one delivery line for an alert record on one channel to
// one recipient. Retries reuse the row and bump RetryCount.
type AlertNotifyLog struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	AlertRecordID uint            `gorm:"not null;index" json:"alert_record_id"`
	ChannelType   string          `gorm:"size:20;not null" json:"channel_type"`
	Target        string          `gorm:"size:255;not null" json:"target"`
	RecipientID   string          `gorm:"size:64;default:''" json:"recipient_id"`
	RecipientName string          `gorm:"size:255;default:''" json:"recipient_name"`
	Title         string          `gorm:"size:500;default:''" json:"title"`
	Content       string          `gorm:"type:text" json:"content"`
	Status        NotifyLogStatus `gorm:"size:20;not null;index" json:"status"`
	SendTime      *time.Time      `json:"send_time,omitempty"`
	ErrorMessage  string          `gorm:"type:text" json:"error_message"`
	RetryCount    int             `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (AlertNotifyLog) TableName() string {
	return "alert_notify_logs"
}

// MarkSuccess records a successful delivery.
func (l *AlertNotifyLog) MarkSuccess(now time.Time) {
	l.Status = NotifyLogSuccess
	l.SendTime = &now
	l.ErrorMessage = ""
}

// MarkFailed records a failed delivery attempt.
func (l *AlertNotifyLog) MarkFailed(reason string, now time.Time) {
	l.Status = NotifyLogFailed
	l.SendTime = &now
	l.ErrorMessage = reason
}

// IsRetryable reports whether Retry would succeed.
func (l *AlertNotifyLog) IsRetryable() bool {
	return l.Status == NotifyLogFailed && l.RetryCount < MaxNotifyRetries
}

// Retry resets a failed line to pending for another delivery attempt.
func (l *AlertNotifyLog) Retry() error {
	if l.Status != NotifyLogFailed {
		return errors.Newf("cannot retry notify log %d in status %s", l.ID, l.Status).
			Component("notify-log").
			Category(errors.CategoryIllegalState).
			Context("notify_log_id", l.ID).
			Build()
	}
	if l.RetryCount >= MaxNotifyRetries {
		return errors.Newf("notify log %d reached the retry limit of %d", l.ID, MaxNotifyRetries).
			Component("notify-log").
			Category(errors.CategoryNotRetryable).
			Context("notify_log_id", l.ID).
			Context("retry_count", l.RetryCount).
			Build()
	}
	l.RetryCount++
	l.Status = NotifyLogPending
	return nil
}
