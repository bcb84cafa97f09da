package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"cryptofx/pkg/logging"
	"cryptofx/pkg/redis"
)

// ResetChannel carries admin resets between gateway instances.
const ResetChannel = "cryptofx:ratelimit:reset"

// ResetMessage announces that a subject's counters were cleared.
type ResetMessage struct {
	Subject string    `json:"subject"`
	Origin  string    `json:"origin"`
	At      time.Time `json:"at"`
}

// ResetBus resets counters locally and, when a Redis client is configured,
// on every other instance subscribed to ResetChannel.
type ResetBus struct {
	limiter *Limiter
	pubsub  *redis.TypedPubSub[ResetMessage]
	origin  string
	logger  logging.Logger
}

// NewResetBus creates a bus. A nil client makes resets local only.
func NewResetBus(limiter *Limiter, client goredis.UniversalClient, logger logging.Logger) *ResetBus {
	if logger == nil {
		logger = logging.NewLogger()
	}
	b := &ResetBus{
		limiter: limiter,
		origin:  uuid.NewString(),
		logger:  logger,
	}
	if client != nil {
		b.pubsub = redis.NewTypedPubSub[ResetMessage](client, logger)
	}
	return b
}

// Reset clears subject locally and broadcasts the reset. It reports whether
// local counters existed; a broadcast failure is returned but the local reset
// stands.
func (b *ResetBus) Reset(ctx context.Context, subject string) (bool, error) {
	existed := b.limiter.Reset(subject)
	if b.pubsub == nil {
		return existed, nil
	}
	msg := ResetMessage{Subject: subject, Origin: b.origin, At: b.limiter.Now().UTC()}
	if err := b.pubsub.Publish(ctx, ResetChannel, msg); err != nil {
		return existed, fmt.Errorf("broadcast reset: %w", err)
	}
	return existed, nil
}

// Run applies resets published by other instances until ctx is done.
func (b *ResetBus) Run(ctx context.Context) error {
	if b.pubsub == nil {
		<-ctx.Done()
		return nil
	}
	return b.pubsub.Subscribe(ctx, ResetChannel, func(msg ResetMessage) {
		if msg.Origin == b.origin || msg.Subject == "" {
			return
		}
		b.limiter.Reset(msg.Subject)
		b.logger.WithFields(logging.Fields{
			"subject": msg.Subject,
			"origin":  msg.Origin,
		}).Debug("Applied remote rate limit reset")
	})
}
