// Package usage publishes rate-limit usage milestones to Kafka.
package usage

import (
	"cryptofx/api_gateway/internal/ratelimit"
	"cryptofx/pkg/kafka"
	"cryptofx/pkg/logging"
)

const (
	// DefaultTopic receives usage milestone events.
	DefaultTopic = "api_usage"
	// EventMilestone is the event type for usage milestones.
	EventMilestone = "usage.milestone"
	source         = "api_gateway"
)

// Publisher is implemented by *kafka.Producer.
type Publisher interface {
	PublishEvent(topic string, ev kafka.Event) error
}

// KafkaSink forwards limiter milestones to a Kafka topic.
type KafkaSink struct {
	publisher Publisher
	topic     string
	logger    logging.Logger
}

var _ ratelimit.UsageSink = (*KafkaSink)(nil)

// NewKafkaSink creates a sink. An empty topic uses DefaultTopic.
func NewKafkaSink(publisher Publisher, topic string, logger logging.Logger) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &KafkaSink{publisher: publisher, topic: topic, logger: logger}
}

// RecordUsage publishes ev without waiting for delivery.
func (s *KafkaSink) RecordUsage(ev ratelimit.UsageEvent) {
	event, err := kafka.NewEvent(EventMilestone, source, ev.Subject, ev, ev.At)
	if err == nil {
		err = s.publisher.PublishEvent(s.topic, event)
	}
	if err != nil {
		s.logger.WithError(err).WithField("subject", ev.Subject).Warn("Failed to publish usage event")
	}
}

// Decode extracts a usage event from a consumed message value.
func Decode(value []byte) (ratelimit.UsageEvent, error) {
	var ev ratelimit.UsageEvent
	envelope, err := kafka.DecodeEvent(value)
	if err != nil {
		return ev, err
	}
	err = envelope.DecodeData(&ev)
	return ev, err
}
