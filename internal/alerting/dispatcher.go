package alerting

import (
	"cmp"
	"context"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/k3a/html2text"
	"golang.org/x/time/rate"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
	"github.com/hydrowatch/alertengine/internal/observability/metrics"
)

const (
	defaultDeliveryTimeout = 30 * time.Second
	// notifyEventTimeout bounds all deliveries for one created event.
	notifyEventTimeout = 5 * time.Minute
)

// Delivery is one message to one address on one channel.
type Delivery struct {
	Channel       string
	Address       string
	RecipientID   string
	RecipientName string
	Title         string
	Body          string
	Severity      string
	AlertCode     string
}

// NotificationSender delivers a message over its channel.
type NotificationSender interface {
	Deliver(ctx context.Context, d Delivery) error
}

// DispatcherOption configures a NotifyDispatcher.
type DispatcherOption func(*NotifyDispatcher)

// WithDispatchClock overrides the dispatcher clock.
func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *NotifyDispatcher) { d.now = now }
}

// WithDispatchMetrics records delivery metrics.
func WithDispatchMetrics(m *metrics.AlertingMetrics) DispatcherOption {
	return func(d *NotifyDispatcher) { d.metrics = m }
}

// WithRateLimit throttles outbound deliveries.
func WithRateLimit(l *rate.Limiter) DispatcherOption {
	return func(d *NotifyDispatcher) { d.limiter = l }
}

// WithDeliveryTimeout bounds a single delivery.
func WithDeliveryTimeout(t time.Duration) DispatcherOption {
	return func(d *NotifyDispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithDispatchLocks shares per-record locks with the engine and record service.
func WithDispatchLocks(k *KeyedMutex) DispatcherOption {
	return func(d *NotifyDispatcher) { d.locks = k }
}

// NotifyDispatcher turns created alerts into notify log lines and delivers them.
type NotifyDispatcher struct {
	records   repository.AlertRecordRepository
	logs      repository.AlertNotifyLogRepository
	sender    NotificationSender
	directory RecipientDirectory
	limiter   *rate.Limiter
	metrics   *metrics.AlertingMetrics
	locks     *KeyedMutex
	timeout   time.Duration
	log       logger.Logger
	now       func() time.Time
}

// NewNotifyDispatcher creates a NotifyDispatcher.
func NewNotifyDispatcher(
	records repository.AlertRecordRepository,
	logs repository.AlertNotifyLogRepository,
	sender NotificationSender,
	directory RecipientDirectory,
	log logger.Logger,
	opts ...DispatcherOption,
) *NotifyDispatcher {
	d := &NotifyDispatcher{
		records:   records,
		logs:      logs,
		sender:    sender,
		directory: directory,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		timeout:   defaultDeliveryTimeout,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.locks == nil {
		d.locks = NewKeyedMutex()
	}
	return d
}

// HandleEvent is an AlertEventHandler. It notifies on created alerts only.
func (d *NotifyDispatcher) HandleEvent(ev *AlertEvent) {
	if ev.Type != EventAlertCreated || ev.Record == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyEventTimeout)
	defer cancel()
	if _, err := d.NotifyRecord(ctx, ev.Record, ev.Rule); err != nil {
		d.log.Error("alert notification failed",
			logger.String("alert_code", ev.Record.AlertCode),
			logger.Error(err))
	}
}

// NotifyRecord fans the record out to every recipient of the rule's actions,
// one notify log line per channel and address, and updates the record's
// NotifyStatus. A rule without routing leaves the record UNSENT. Returns
// the number of successful deliveries.
func (d *NotifyDispatcher) NotifyRecord(ctx context.Context, rec *entities.AlertRecord, rule *entities.AlertRule) (int, error) {
	if rule == nil || len(rule.Actions) == 0 {
		d.log.Debug("alert has no notification routing", logger.String("alert_code", rec.AlertCode))
		return 0, nil
	}

	lines := d.expand(ctx, rec, rule)
	if len(lines) == 0 {
		d.log.Warn("alert routing resolved to no recipients", logger.String("alert_code", rec.AlertCode))
		return 0, nil
	}

	var sent int
	var errs []error
	for i := range lines {
		l := &lines[i]
		if err := d.logs.CreateLog(ctx, l); err != nil {
			d.log.Error("failed to create notify log",
				logger.String("alert_code", rec.AlertCode),
				logger.String("channel", l.ChannelType),
				logger.Error(err))
			errs = append(errs, errors.New(err).
				Component("notify-dispatcher").
				Category(errors.CategoryDatabase).
				Context("alert_id", rec.ID).
				Context("channel", l.ChannelType).
				Build())
			continue
		}
		if d.deliver(ctx, l, rec) {
			sent++
		}
	}

	// Lines without a log row were never attempted and do not count as failed.
	if sent > 0 || len(errs) < len(lines) {
		if err := d.setRecordNotifyStatus(ctx, rec.ID, sent > 0); err != nil {
			errs = append(errs, err)
		}
	}
	d.log.Info("alert notifications dispatched",
		logger.String("alert_code", rec.AlertCode),
		logger.Int("lines", len(lines)),
		logger.Int("sent", sent))
	return sent, errors.Join(errs...)
}

// expand resolves actions into pending notify log lines. Duplicate
// (channel, address) pairs are sent once.
func (d *NotifyDispatcher) expand(ctx context.Context, rec *entities.AlertRecord, rule *entities.AlertRule) []entities.AlertNotifyLog {
	actions := slices.Clone(rule.Actions)
	slices.SortStableFunc(actions, func(a, b entities.AlertAction) int { return cmp.Compare(a.SortOrder, b.SortOrder) })

	content := composeContent(rec)
	seen := make(map[string]struct{})
	var lines []entities.AlertNotifyLog
	for i := range actions {
		a := &actions[i]
		recipients, err := d.directory.Resolve(ctx, a.RecipientKind, a.RecipientID)
		if err != nil {
			d.log.Warn("failed to resolve alert recipients",
				logger.String("recipient_kind", a.RecipientKind),
				logger.String("recipient_id", a.RecipientID),
				logger.Error(err))
			continue
		}
		title := renderTitle(a.TemplateTitle, rule, rec)
		for _, r := range recipients {
			addr := r.Address(a.NotifyType)
			if addr == "" {
				d.log.Warn("recipient has no address for channel",
					logger.String("recipient_id", r.ID),
					logger.String("channel", a.NotifyType))
				continue
			}
			key := a.NotifyType + "|" + addr
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			lines = append(lines, entities.AlertNotifyLog{
				AlertRecordID: rec.ID,
				ChannelType:   a.NotifyType,
				Target:        addr,
				RecipientID:   r.ID,
				RecipientName: r.Name,
				Title:         title,
				Content:       content,
				Status:        entities.NotifyLogPending,
			})
		}
	}
	return lines
}

// composeContent renders the HTML notification body.
func composeContent(rec *entities.AlertRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(rec.Message))
	b.WriteString("<ul>")
	fmt.Fprintf(&b, "<li>Alert code: %s</li>", html.EscapeString(rec.AlertCode))
	fmt.Fprintf(&b, "<li>Target: %s (%s %s)</li>",
		html.EscapeString(rec.TargetName), html.EscapeString(rec.TargetType), html.EscapeString(rec.TargetID))
	fmt.Fprintf(&b, "<li>Severity: %s</li>", html.EscapeString(rec.Severity))
	fmt.Fprintf(&b, "<li>Raised at: %s</li>", rec.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString("</ul>")
	return b.String()
}

// deliver sends one line, marks it and saves it. Reports success.
func (d *NotifyDispatcher) deliver(ctx context.Context, l *entities.AlertNotifyLog, rec *entities.AlertRecord) bool {
	err := d.limiter.Wait(ctx)
	if err == nil {
		body := l.Content
		if l.ChannelType != entities.NotifyTypeEmail {
			body = html2text.HTML2Text(body)
		}
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err = d.sender.Deliver(sendCtx, Delivery{
			Channel:       l.ChannelType,
			Address:       l.Target,
			RecipientID:   l.RecipientID,
			RecipientName: l.RecipientName,
			Title:         l.Title,
			Body:          body,
			Severity:      rec.Severity,
			AlertCode:     rec.AlertCode,
		})
		cancel()
	}

	now := d.now()
	if err != nil {
		l.MarkFailed(err.Error(), now)
		d.log.Warn("notification delivery failed",
			logger.Uint64("notify_log_id", uint64(l.ID)),
			logger.String("channel", l.ChannelType),
			logger.Int("retry_count", l.RetryCount),
			logger.Error(err))
	} else {
		l.MarkSuccess(now)
	}
	d.metrics.NotificationSent(l.ChannelType, err == nil)

	if saveErr := d.logs.SaveLog(ctx, l); saveErr != nil {
		d.log.Error("failed to save notify log",
			logger.Uint64("notify_log_id", uint64(l.ID)),
			logger.Error(saveErr))
	}
	return err == nil
}

func (d *NotifyDispatcher) setRecordNotifyStatus(ctx context.Context, recordID uint, ok bool) error {
	_, err := mutateRecord(ctx, d.records, d.locks, recordID, func(r *entities.AlertRecord) error {
		if ok {
			r.NotifySuccess(d.now())
		} else {
			r.NotifyFailed(d.now())
		}
		return nil
	})
	return err
}

// refreshRecordNotifyStatus recomputes NotifyStatus from every line of the record.
func (d *NotifyDispatcher) refreshRecordNotifyStatus(ctx context.Context, recordID uint) error {
	lines, _, err := d.logs.ListLogs(ctx, repository.NotifyLogFilter{AlertRecordID: recordID})
	if err != nil {
		return err
	}
	ok := slices.ContainsFunc(lines, func(l entities.AlertNotifyLog) bool {
		return l.Status == entities.NotifyLogSuccess
	})
	return d.setRecordNotifyStatus(ctx, recordID, ok)
}

// RetryFailed redelivers every failed line still under the retry cap.
// Per-line failures are logged and do not stop the sweep. Returns how many
// retries succeeded.
func (d *NotifyDispatcher) RetryFailed(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { d.metrics.ObserveSweep(metrics.SweepRetry, time.Since(start)) }()

	pending, err := d.logs.ListRetryable(ctx, 0)
	if err != nil {
		return 0, errors.New(err).
			Component("notify-dispatcher").
			Category(errors.CategoryDatabase).
			Context("operation", "list_retryable").
			Build()
	}

	var succeeded int
	for i := range pending {
		l, err := d.RetryLog(ctx, pending[i].ID)
		if err != nil {
			d.log.Warn("notification retry skipped",
				logger.Uint64("notify_log_id", uint64(pending[i].ID)),
				logger.Error(err))
			continue
		}
		if l.Status == entities.NotifyLogSuccess {
			succeeded++
		}
	}
	if len(pending) > 0 {
		d.log.Info("notification retry sweep completed",
			logger.Int("attempted", len(pending)),
			logger.Int("succeeded", succeeded))
	}
	return succeeded, nil
}

// RetryLog retries one failed line. Fails with ErrNotRetryable past the
// retry cap and ErrIllegalState when the line has not failed.
func (d *NotifyDispatcher) RetryLog(ctx context.Context, id uint) (*entities.AlertNotifyLog, error) {
	unlock := d.locks.Lock(fmt.Sprintf("notify|%d", id))
	defer unlock()

	l, err := d.logs.GetLog(ctx, id)
	if err != nil {
		return nil, err
	}
	if !l.IsRetryable() {
		return nil, l.Retry()
	}
	// Load the record before the line leaves FAILED so a lookup failure
	// keeps it in the retry sweep.
	rec, err := d.records.GetRecord(ctx, l.AlertRecordID)
	if err != nil {
		return nil, err
	}
	if err := l.Retry(); err != nil {
		return nil, err
	}
	if err := d.logs.SaveLog(ctx, l); err != nil {
		return nil, err
	}
	d.metrics.NotificationRetried()

	d.deliver(ctx, l, rec)
	if err := d.refreshRecordNotifyStatus(ctx, rec.ID); err != nil {
		return l, err
	}
	return l, nil
}

// ListLogs returns a page of notify log lines.
func (d *NotifyDispatcher) ListLogs(ctx context.Context, filter repository.NotifyLogFilter) ([]entities.AlertNotifyLog, int64, error) {
	return d.logs.ListLogs(ctx, filter)
}
