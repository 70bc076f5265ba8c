package alerting

import (
	"sync"
	"time"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
)

// EventType names an alert lifecycle transition.
type EventType string

const (
	EventAlertCreated    EventType = "alert.created"
	EventAlertProcessing EventType = "alert.processing"
	EventAlertResolved   EventType = "alert.resolved"
	EventAlertIgnored    EventType = "alert.ignored"
	EventAlertRecovered  EventType = "alert.recovered"
)

// AlertEvent reports a lifecycle transition of one alert record. Record is a
// copy taken at publish time. Rule is set for created and recovered events
// that have a rule, and carries the routing the notify dispatcher uses.
type AlertEvent struct {
	Type      EventType
	Record    *entities.AlertRecord
	Rule      *entities.AlertRule
	Timestamp time.Time
}

// NewAlertEvent builds an event holding copies of record and rule.
func NewAlertEvent(t EventType, record *entities.AlertRecord, rule *entities.AlertRule, at time.Time) *AlertEvent {
	ev := &AlertEvent{Type: t, Timestamp: at}
	if record != nil {
		rec := *record
		ev.Record = &rec
	}
	if rule != nil {
		r := *rule
		ev.Rule = &r
	}
	return ev
}

// AlertEventHandler processes alert events.
type AlertEventHandler func(event *AlertEvent)

const (
	// eventBusBufferSize is the capacity of the async event channel.
	// Events are dropped if the buffer is full to avoid blocking callers.
	eventBusBufferSize = 1000
)

// AlertEventBus is an async pub/sub for alert events. Publish is non-blocking:
// events are sent to a buffered channel and processed by a worker goroutine,
// so the scan loop is never blocked by notification delivery.
type AlertEventBus struct {
	handlers []AlertEventHandler
	mu       sync.RWMutex
	eventCh  chan *AlertEvent
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  func(*AlertEvent)
}

// NewAlertEventBus creates a new alert event bus and starts its worker.
func NewAlertEventBus() *AlertEventBus {
	b := &AlertEventBus{
		handlers: make([]AlertEventHandler, 0),
		eventCh:  make(chan *AlertEvent, eventBusBufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// OnDrop registers a callback for events dropped because the buffer was full.
func (b *AlertEventBus) OnDrop(fn func(*AlertEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped = fn
}

// Subscribe registers a handler for alert events.
func (b *AlertEventBus) Subscribe(handler AlertEventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event for async processing. Non-blocking: if the buffer
// is full the event is dropped. Events are discarded after Stop.
func (b *AlertEventBus) Publish(event *AlertEvent) {
	select {
	case <-b.stopCh:
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	default:
		b.mu.RLock()
		fn := b.dropped
		b.mu.RUnlock()
		if fn != nil {
			fn(event)
		}
	}
}

// Stop shuts down the worker after draining queued events and waits for it.
// Safe to call multiple times.
func (b *AlertEventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

// processLoop drains the event channel and dispatches to handlers.
func (b *AlertEventBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			// Drain remaining events before exiting
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *AlertEventBus) dispatch(event *AlertEvent) {
	b.mu.RLock()
	handlers := make([]AlertEventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, event)
	}
}

// safeCall invokes a handler with panic recovery so a panicking handler
// cannot kill the event bus goroutine.
func (b *AlertEventBus) safeCall(handler AlertEventHandler, event *AlertEvent) {
	defer func() {
		recover() //nolint:errcheck // handlers do their own logging
	}()
	handler(event)
}
