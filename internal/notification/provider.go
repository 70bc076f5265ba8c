package notification

import "context"

// Provider sends notifications to an external service.
type Provider interface {
	GetName() string
	IsEnabled() bool
	ValidateConfig() error
	Send(ctx context.Context, n *Notification) error
}
