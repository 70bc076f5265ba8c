package notification

import (
	"slices"
	"sync"
	"time"

	"github.com/hydrowatch/alertengine/internal/errors"
)

const (
	defaultMaxNotifications = 1000
	defaultSubscriberBuffer = 32
)

// ErrNotificationNotFound is returned for an unknown notification ID.
var ErrNotificationNotFound = errors.Newf("notification not found").
	Component("notification").
	Category(errors.CategoryNotFound).
	Build()

// ServiceConfig configures the bell notification service.
type ServiceConfig struct {
	// MaxNotifications caps stored notifications; the oldest are evicted.
	MaxNotifications int
	SubscriberBuffer int
}

// DefaultServiceConfig returns the default configuration.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxNotifications: defaultMaxNotifications,
		SubscriberBuffer: defaultSubscriberBuffer,
	}
}

// FilterOptions narrows List results.
type FilterOptions struct {
	Recipient string
	Status    Status
	Limit     int
}

// Service keeps in-app bell notifications and broadcasts new ones to
// subscribers.
type Service struct {
	config *ServiceConfig

	mu            sync.RWMutex
	notifications []*Notification

	subMu       sync.Mutex
	subscribers map[chan *Notification]struct{}
}

// NewService creates a Service. A nil config uses the defaults.
func NewService(config *ServiceConfig) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if config.MaxNotifications <= 0 {
		config.MaxNotifications = defaultMaxNotifications
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = defaultSubscriberBuffer
	}
	return &Service{
		config:      config,
		subscribers: make(map[chan *Notification]struct{}),
	}
}

// Create stores and broadcasts a new notification.
func (s *Service) Create(t Type, p Priority, title, message string) (*Notification, error) {
	n := NewNotification(t, p, title, message)
	if err := s.Add(n); err != nil {
		return nil, err
	}
	return n, nil
}

// Add stores and broadcasts n.
func (s *Service) Add(n *Notification) error {
	if n == nil || n.ID == "" {
		return errors.Newf("notification must have an id").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}

	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	if over := len(s.notifications) - s.config.MaxNotifications; over > 0 {
		s.notifications = slices.Delete(s.notifications, 0, over)
	}
	s.mu.Unlock()

	s.broadcast(n)
	return nil
}

// List returns matching notifications, newest first.
func (s *Service) List(filter FilterOptions) []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Notification, 0)
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if filter.Recipient != "" && n.Recipient != filter.Recipient {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		cp := *n
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// UnreadCount returns the number of unread notifications for recipient,
// or for everyone when recipient is empty.
func (s *Service) UnreadCount(recipient string) int {
	return len(s.List(FilterOptions{Recipient: recipient, Status: StatusUnread}))
}

// MarkRead marks a notification as read.
func (s *Service) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID == id {
			if n.Status != StatusRead {
				now := time.Now()
				n.Status = StatusRead
				n.ReadAt = &now
			}
			return nil
		}
	}
	return ErrNotificationNotFound
}

// Subscribe returns a channel receiving new notifications and a function
// that cancels the subscription. Slow subscribers miss notifications.
func (s *Service) Subscribe() (<-chan *Notification, func()) {
	ch := make(chan *Notification, s.config.SubscriberBuffer)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) broadcast(n *Notification) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}
