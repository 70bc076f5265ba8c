// Package notification delivers alert notifications through shoutrrr
// providers and keeps in-app bell notifications.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
	TypeSystem  Type = "system"
	TypeAlert   Type = "alert"
)

// Priority orders notifications for display.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Status is the read state of a bell notification.
type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

// Notification is a single message.
type Notification struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Priority  Priority       `json:"priority"`
	Status    Status         `json:"status"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Recipient string         `json:"recipient,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
}

// NewNotification creates an unread notification with a fresh ID.
func NewNotification(t Type, p Priority, title, message string) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		Type:      t,
		Priority:  p,
		Status:    StatusUnread,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithRecipient addresses the notification to one recipient.
func (n *Notification) WithRecipient(id string) *Notification {
	n.Recipient = id
	return n
}

// WithMetadata attaches a key/value pair.
func (n *Notification) WithMetadata(key string, value any) *Notification {
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	n.Metadata[key] = value
	return n
}

// PriorityForSeverity maps an alert severity to a priority.
func PriorityForSeverity(severity string) Priority {
	switch severity {
	case "critical":
		return PriorityCritical
	case "warning":
		return PriorityHigh
	case "info":
		return PriorityMedium
	default:
		return PriorityLow
	}
}
