package alerting

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hydrowatch/alertengine/internal/conf"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
	"github.com/hydrowatch/alertengine/internal/notification"
	"github.com/hydrowatch/alertengine/internal/observability/metrics"
)

// AddressPlaceholder is replaced with the recipient address in channel URL templates.
const AddressPlaceholder = "{address}"

// channelSender delivers over shoutrrr URL templates per channel and to the
// bell notification service.
type channelSender struct {
	templates map[string]string
	timeout   time.Duration
	bell      *notification.Service
}

// NewChannelSender creates a NotificationSender from the channel URL
// templates. A nil bell resolves the global notification service lazily.
func NewChannelSender(settings conf.NotificationSettings, bell *notification.Service) NotificationSender {
	return &channelSender{
		templates: settings.Channels,
		timeout:   settings.Timeout.Std(),
		bell:      bell,
	}
}

func (s *channelSender) Deliver(ctx context.Context, d Delivery) error {
	n := notification.NewNotification(notification.TypeAlert, notification.PriorityForSeverity(d.Severity), d.Title, d.Body).
		WithRecipient(d.RecipientID).
		WithMetadata("alert_code", d.AlertCode)

	if d.Channel == entities.NotifyTypeBell {
		bell := s.bell
		if bell == nil {
			bell = notification.GetService()
		}
		if bell == nil {
			return errors.Newf("bell notification service not initialized").
				Component("notify-sender").
				Category(errors.CategoryConfiguration).
				Build()
		}
		return bell.Add(n)
	}

	tmpl, ok := s.templates[d.Channel]
	if !ok || tmpl == "" {
		return errors.Newf("no service URL configured for channel %q", d.Channel).
			Component("notify-sender").
			Category(errors.CategoryConfiguration).
			Context("channel", d.Channel).
			Build()
	}
	url := strings.ReplaceAll(tmpl, AddressPlaceholder, d.Address)
	return notification.NewShoutrrrProvider(d.Channel, true, []string{url}, nil, s.timeout).Send(ctx, n)
}

// Dependencies are the external collaborators of the alerting system.
// Zero-valued optional fields fall back to defaults built from settings.
type Dependencies struct {
	Rules      repository.AlertRuleRepository
	Records    repository.AlertRecordRepository
	NotifyLogs repository.AlertNotifyLogRepository
	Collectors []MetricCollector

	Names     TargetNameResolver
	Directory RecipientDirectory
	Sender    NotificationSender
	Bell      *notification.Service
	Metrics   *metrics.AlertingMetrics
	Logger    logger.Logger
}

// System is a wired alerting engine with its services.
type System struct {
	Registry   *CollectorRegistry
	Evaluator  *Evaluator
	Engine     *Engine
	Rules      *RuleService
	Records    *RecordService
	Dispatcher *NotifyDispatcher
	Bus        *AlertEventBus
	TargetType TargetTypeTable

	settings conf.AlertingSettings
	log      logger.Logger
}

// Initialize wires the alerting system. It seeds the built-in rules when
// enabled and subscribes the dispatcher to created alerts. Background sweeps
// start with Start.
func Initialize(ctx context.Context, settings *conf.Settings, deps Dependencies) (*System, error) {
	if deps.Rules == nil || deps.Records == nil || deps.NotifyLogs == nil {
		return nil, errors.Newf("alerting requires rule, record and notify log repositories").
			Component("alerting").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.Module("alerting")

	table := DefaultTargetTypeTable().Merge(settings.Alerting.TargetTypes)
	registry := NewCollectorRegistry(deps.Collectors...)
	evaluator := NewEvaluator(deps.Rules, registry, table)

	bus := NewAlertEventBus()

	locks := NewKeyedMutex()
	engineOpts := []EngineOption{
		WithEventBus(bus),
		WithMetrics(deps.Metrics),
		WithRecordLocks(locks),
	}
	if deps.Names != nil {
		engineOpts = append(engineOpts, WithTargetNameResolver(deps.Names))
	}
	engine := NewEngine(deps.Rules, deps.Records, evaluator, log, engineOpts...)

	directory := deps.Directory
	if directory == nil {
		directory = NewStaticDirectory(settings.Notification)
	}
	sender := deps.Sender
	if sender == nil {
		sender = NewChannelSender(settings.Notification, deps.Bell)
	}
	dispatchOpts := []DispatcherOption{
		WithDispatchMetrics(deps.Metrics),
		WithDispatchLocks(locks),
		WithDeliveryTimeout(settings.Notification.Timeout.Std()),
	}
	if rps := settings.Notification.RatePerSecond; rps > 0 {
		dispatchOpts = append(dispatchOpts, WithRateLimit(rate.NewLimiter(rate.Limit(rps), max(settings.Notification.Burst, 1))))
	}
	dispatcher := NewNotifyDispatcher(deps.Records, deps.NotifyLogs, sender, directory, log, dispatchOpts...)
	bus.Subscribe(dispatcher.HandleEvent)
	bus.OnDrop(redeliverDropped(dispatcher, deps.Metrics, log))

	sys := &System{
		Registry:   registry,
		Evaluator:  evaluator,
		Engine:     engine,
		Rules:      NewRuleService(deps.Rules, registry, settings.Alerting.StrictMetrics, log, WithRuleTargetTypes(table)),
		Records:    NewRecordService(deps.Records, deps.Rules, locks, bus, deps.Names, log),
		Dispatcher: dispatcher,
		Bus:        bus,
		TargetType: table,
		settings:   settings.Alerting,
		log:        log,
	}

	if settings.Alerting.SeedDefaults {
		if _, err := sys.Rules.SeedDefaults(ctx); err != nil {
			bus.Stop()
			return nil, err
		}
	}

	log.Info("alerting system initialized",
		logger.Int("collectors", len(deps.Collectors)),
		logger.Int("metrics", len(registry.SupportedMetrics())))
	return sys, nil
}

// redeliverDropped notifies created alerts inline when the bus is full, so
// no record is left without its notify log lines.
func redeliverDropped(d *NotifyDispatcher, m *metrics.AlertingMetrics, log logger.Logger) func(*AlertEvent) {
	return func(ev *AlertEvent) {
		m.EventDropped()
		if ev.Type != EventAlertCreated || ev.Record == nil {
			log.Warn("alert event dropped", logger.String("event", string(ev.Type)))
			return
		}
		log.Warn("event bus full, notifying inline",
			logger.String("alert_code", ev.Record.AlertCode))
		d.HandleEvent(ev)
	}
}

// Start launches the scan, recovery, retry and cleanup sweeps.
func (s *System) Start() {
	s.Engine.Start(ScheduleConfig{
		ScanInterval:     s.settings.ScanInterval.Std(),
		RecoveryInterval: s.settings.RecoveryInterval.Std(),
		RetryInterval:    s.settings.RetryInterval.Std(),
		RetentionDays:    s.settings.HistoryRetentionDays,
		Retrier:          s.Dispatcher,
	})
}

// Stop halts the sweeps and drains pending events.
func (s *System) Stop() {
	s.Engine.Stop()
	s.Bus.Stop()
	s.log.Info("alerting system stopped")
}

// Schema returns the rule-editor catalog for the wired collectors.
func (s *System) Schema() Schema {
	return GetSchema(s.TargetType, s.Registry.SupportedMetrics())
}
