package usage

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"cryptofx/api_gateway/internal/ratelimit"
	"cryptofx/pkg/kafka"
)

type capturePublisher struct {
	topic  string
	events []kafka.Event
	err    error
}

func (c *capturePublisher) PublishEvent(topic string, ev kafka.Event) error {
	c.topic = topic
	c.events = append(c.events, ev)
	return c.err
}

func TestKafkaSinkPublishesMilestone(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewKafkaSink(pub, "", nil)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.RecordUsage(ratelimit.UsageEvent{Subject: "user:u1", Plan: "pro", HourlyUsage: 10, DailyUsage: 10, At: at})

	if pub.topic != DefaultTopic || len(pub.events) != 1 {
		t.Fatalf("expected one event on %s, got %d on %q", DefaultTopic, len(pub.events), pub.topic)
	}
	ev := pub.events[0]
	if ev.Type != EventMilestone || ev.Key != "user:u1" {
		t.Fatalf("unexpected envelope %+v", ev)
	}

	raw, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Plan != "pro" || got.HourlyUsage != 10 || !got.At.Equal(at) {
		t.Fatalf("unexpected usage event %+v", got)
	}
}

func TestKafkaSinkLogsPublishFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := NewKafkaSink(&capturePublisher{err: errors.New("buffer full")}, "usage", logger)

	sink.RecordUsage(ratelimit.UsageEvent{Subject: "anon:1.2.3.4", At: time.Now()})

	if len(hook.Entries) != 1 || hook.LastEntry().Message != "Failed to publish usage event" {
		t.Fatalf("expected warning, got %d entries", len(hook.Entries))
	}
}
