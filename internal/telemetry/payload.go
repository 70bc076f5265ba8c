// Package telemetry ingests monitoring readings from MQTT into the
// alerting collectors.
package telemetry

import (
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/shopspring/decimal"

	"github.com/hydrowatch/alertengine/internal/alerting"
	"github.com/hydrowatch/alertengine/internal/errors"
)

// Batch is one decoded telemetry message.
type Batch struct {
	TargetType  string
	TargetID    string
	CollectedAt time.Time
	Heartbeat   bool
	Readings    []alerting.Metric
}

// ParsePayload decodes a reading message:
//
//	{"target_type":"site","target_id":"S-001","collected_at":"2025-06-01T09:00:00Z",
//	 "heartbeat":false,"readings":{"ph":7.2,"turbidity":"0.8"}}
//
// target_id falls back to the second topic segment and target_type to site.
// collected_at falls back to now. Reading values may be JSON numbers or
// numeric strings; null values are skipped.
func ParsePayload(topic string, payload []byte, now time.Time) (*Batch, error) {
	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return nil, payloadError(topic, err)
	}

	b := &Batch{TargetType: alerting.TargetTypeSite, CollectedAt: now}
	if tt, err := obj.GetString("target_type"); err == nil && tt != "" {
		b.TargetType = tt
	}
	if id, err := obj.GetString("target_id"); err == nil && id != "" {
		b.TargetID = id
	} else {
		b.TargetID = targetFromTopic(topic)
	}
	if b.TargetID == "" {
		return nil, payloadError(topic, errors.NewStd("missing target_id"))
	}
	if ts, err := obj.GetString("collected_at"); err == nil && ts != "" {
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, payloadError(topic, err)
		}
		b.CollectedAt = at.UTC()
	}
	if hb, err := obj.GetBoolean("heartbeat"); err == nil {
		b.Heartbeat = hb
	}

	readings, err := obj.GetObject("readings")
	if err != nil {
		if b.Heartbeat {
			return b, nil
		}
		return nil, payloadError(topic, err)
	}
	for name, v := range readings.Map() {
		if v.Null() == nil {
			continue
		}
		value, err := decimalOf(v)
		if err != nil {
			return nil, payloadError(topic, errors.NewStd("reading "+name+": "+err.Error()))
		}
		b.Readings = append(b.Readings, alerting.NewMetric(b.TargetType, b.TargetID, name, value, b.CollectedAt))
	}
	return b, nil
}

func decimalOf(v *jason.Value) (decimal.Decimal, error) {
	if n, err := v.Number(); err == nil {
		return decimal.NewFromString(n.String())
	}
	s, err := v.String()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

// targetFromTopic returns the segment after the first in a
// prefix/{target}/readings topic.
func targetFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

func payloadError(topic string, err error) error {
	return errors.New(err).
		Component("telemetry").
		Category(errors.CategoryValidation).
		Context("topic", topic).
		Build()
}
