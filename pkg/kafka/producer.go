package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"cryptofx/pkg/logging"
)

// recordClient is the subset of *kgo.Client the producer needs.
type recordClient interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	// ProduceTimeout bounds synchronous produces. Defaults to 5s.
	ProduceTimeout time.Duration
}

// Producer publishes records to Kafka.
type Producer struct {
	client  recordClient
	logger  logging.Logger
	timeout time.Duration
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger logging.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer requires at least one broker")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "cryptofx"
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return newProducer(client, cfg.ProduceTimeout, logger), nil
}

func newProducer(client recordClient, timeout time.Duration, logger logging.Logger) *Producer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Producer{client: client, logger: logger, timeout: timeout}
}

// Close flushes nothing; buffered records are dropped.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// ProduceMessage publishes a record and waits for the broker ack.
func (p *Producer) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.client.ProduceSync(ctx, newRecord(topic, key, value, headers))
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// ProduceAsync buffers a record and returns immediately. Delivery failures
// are logged.
func (p *Producer) ProduceAsync(topic string, key, value []byte, headers map[string]string) {
	p.client.Produce(context.Background(), newRecord(topic, key, value, headers), func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.WithError(err).WithFields(logging.Fields{
				"topic": r.Topic,
				"key":   string(r.Key),
			}).Warn("Failed to deliver kafka record")
		}
	})
}

// Ping checks broker connectivity.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// PublishEvent encodes an event and publishes it asynchronously, keyed by
// the event key.
func (p *Producer) PublishEvent(topic string, ev Event) error {
	value, err := ev.Encode()
	if err != nil {
		return err
	}
	headers := map[string]string{
		"source":     ev.Source,
		"event_type": ev.Type,
	}
	p.ProduceAsync(topic, []byte(ev.Key), value, headers)
	return nil
}

func newRecord(topic string, key, value []byte, headers map[string]string) *kgo.Record {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return record
}
