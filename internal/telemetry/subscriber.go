package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/hydrowatch/alertengine/internal/alerting"
	"github.com/hydrowatch/alertengine/internal/conf"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Sink receives decoded readings.
type Sink interface {
	Record(m alerting.Metric)
	Touch(deviceID string, at time.Time)
}

// Stats counts processed messages.
type Stats struct {
	Received uint64 `json:"received"`
	Rejected uint64 `json:"rejected"`
	Readings uint64 `json:"readings"`
}

// Subscriber feeds MQTT telemetry into a Sink.
type Subscriber struct {
	settings conf.TelemetrySettings
	sink     Sink
	log      logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	client paho.Client

	received atomic.Uint64
	rejected atomic.Uint64
	readings atomic.Uint64
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(settings conf.TelemetrySettings, sink Sink, log logger.Logger) *Subscriber {
	return &Subscriber{
		settings: settings,
		sink:     sink,
		log:      log.Module("telemetry"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start connects to the broker and subscribes to the telemetry topic.
// The client reconnects and resubscribes on its own afterwards.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return errors.Newf("telemetry subscriber already started").
			Component("telemetry").
			Category(errors.CategoryIllegalState).
			Build()
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(s.settings.Broker)
	opts.SetClientID(s.settings.ClientID)
	if s.settings.Username != "" {
		opts.SetUsername(s.settings.Username)
		opts.SetPassword(s.settings.Password)
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.settings.Topic, s.settings.QoS, s.handle)
		if token.WaitTimeout(connectTimeout) && token.Error() == nil {
			s.log.Info("subscribed to telemetry topic", logger.String("topic", s.settings.Topic))
			return
		}
		s.log.Error("failed to subscribe to telemetry topic",
			logger.String("topic", s.settings.Topic),
			logger.Error(token.Error()))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.log.Warn("telemetry broker connection lost", logger.Error(err))
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return s.connectError(ctx.Err())
	}
	if err := token.Error(); err != nil {
		return s.connectError(err)
	}

	s.client = client
	s.log.Info("telemetry subscriber connected", logger.String("broker", s.settings.Broker))
	return nil
}

func (s *Subscriber) connectError(err error) error {
	return errors.New(err).
		Component("telemetry").
		Category(errors.CategoryCollector).
		Context("broker", s.settings.Broker).
		Build()
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return
	}
	s.client.Disconnect(disconnectQuiesce)
	s.client = nil
}

// IsConnected reports whether the broker connection is up.
func (s *Subscriber) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.IsConnected()
}

// Stats returns message counters.
func (s *Subscriber) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Rejected: s.rejected.Load(),
		Readings: s.readings.Load(),
	}
}

func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	s.Ingest(msg.Topic(), msg.Payload())
}

// Ingest decodes one message and records its readings. Malformed messages
// are logged and counted.
func (s *Subscriber) Ingest(topic string, payload []byte) {
	s.received.Add(1)
	b, err := ParsePayload(topic, payload, s.now())
	if err != nil {
		s.rejected.Add(1)
		s.log.Warn("rejected telemetry message", logger.String("topic", topic), logger.Error(err))
		return
	}
	if b.TargetType == alerting.TargetTypeDevice && (b.Heartbeat || len(b.Readings) > 0) {
		s.sink.Touch(b.TargetID, b.CollectedAt)
	}
	for _, m := range b.Readings {
		s.sink.Record(m)
	}
	s.readings.Add(uint64(len(b.Readings)))
	s.log.Debug("telemetry ingested",
		logger.String("target_id", b.TargetID),
		logger.Int("readings", len(b.Readings)))
}
