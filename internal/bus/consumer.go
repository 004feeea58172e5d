package bus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/observability"
)

// HandleFunc processes one delivery. A nil return acks the message; an error
// leaves it pending so another consumer picks it up after minIdle.
type HandleFunc func(ctx context.Context, env Envelope) error

type ConsumerConfig struct {
	// Group names the logical subscriber, one group per handler.
	Group string
	// ConsumerID distinguishes workers inside the group.
	ConsumerID string
	// Types are the event types this handler consumes.
	Types []events.EventType

	BlockFor   time.Duration
	BatchCount int64
	// ClaimMinIdle is how long a pending delivery may sit with a dead
	// consumer before another worker claims it.
	ClaimMinIdle time.Duration
	ClaimEvery   time.Duration
}

// Consumer pumps one consumer group over the streams for its event types.
// At-least-once: messages are acked only after the handler returns nil;
// stuck pending entries are reclaimed via XAutoClaim.
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig
	log    *slog.Logger
	prom   *observability.Prom
}

func NewConsumer(client *redis.Client, cfg ConsumerConfig, log *slog.Logger, prom *observability.Prom) *Consumer {
	if cfg.BlockFor <= 0 {
		cfg.BlockFor = 5 * time.Second
	}
	if cfg.BatchCount <= 0 {
		cfg.BatchCount = 16
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = time.Minute
	}
	if cfg.ClaimEvery <= 0 {
		cfg.ClaimEvery = 30 * time.Second
	}

	return &Consumer{client: client, cfg: cfg, log: log, prom: prom}
}

// EnsureGroups creates the consumer group on every stream, creating streams
// that do not exist yet. Safe to call on every boot.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, t := range c.cfg.Types {
		err := c.client.XGroupCreateMkStream(ctx, StreamFor(t), c.cfg.Group, "0").Err()

		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

func (c *Consumer) streams() []string {
	keys := make([]string, 0, len(c.cfg.Types)*2)
	for _, t := range c.cfg.Types {
		keys = append(keys, StreamFor(t))
	}
	// XREADGROUP wants ids appended after all keys
	for range c.cfg.Types {
		keys = append(keys, ">")
	}
	return keys
}

// Run blocks reading deliveries until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle HandleFunc) error {
	if err := c.EnsureGroups(ctx); err != nil {
		return err
	}

	go c.reclaimLoop(ctx, handle)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.ConsumerID,
			Streams:  c.streams(),
			Count:    c.cfg.BatchCount,
			Block:    c.cfg.BlockFor,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block window elapsed with nothing to read
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			c.log.ErrorContext(ctx, "bus.read_failed", "group", c.cfg.Group, "err", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				c.process(ctx, stream.Stream, msg, handle)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, stream string, msg redis.XMessage, handle HandleFunc) {
	raw, ok := msg.Values[envelopeField].(string)

	if !ok {
		// nothing decodable, ack so it never comes back
		c.poison(ctx, stream, msg.ID, "missing envelope field")
		return
	}

	env, err := DecodeEnvelope([]byte(raw))

	if err != nil {
		c.poison(ctx, stream, msg.ID, err.Error())
		return
	}

	if err := handle(ctx, env); err != nil {
		// leave pending: the reclaim loop or another worker retries it
		if c.prom != nil {
			c.prom.EventsConsumed.WithLabelValues(c.cfg.Group, "retry").Inc()
		}
		c.log.WarnContext(ctx, "bus.handle_failed",
			"group", c.cfg.Group,
			"event_id", env.ID,
			"event_type", string(env.Type),
			"err", err,
		)
		return
	}

	if err := c.client.XAck(ctx, stream, c.cfg.Group, msg.ID).Err(); err != nil {
		// delivery will repeat; handlers are idempotent so this is safe
		c.log.WarnContext(ctx, "bus.ack_failed", "group", c.cfg.Group, "event_id", env.ID, "err", err)
		return
	}

	if c.prom != nil {
		c.prom.EventsConsumed.WithLabelValues(c.cfg.Group, "ok").Inc()
	}
}

// poison acks a message that can never be handled, after logging it loudly.
func (c *Consumer) poison(ctx context.Context, stream, msgID, reason string) {
	c.log.WarnContext(ctx, "bus.poison_message",
		"group", c.cfg.Group,
		"stream", stream,
		"msg_id", msgID,
		"reason", reason,
	)

	if c.prom != nil {
		c.prom.EventsConsumed.WithLabelValues(c.cfg.Group, "poison").Inc()
	}

	_ = c.client.XAck(ctx, stream, c.cfg.Group, msgID).Err()
}

// reclaimLoop periodically claims pending entries whose consumer went away.
func (c *Consumer) reclaimLoop(ctx context.Context, handle HandleFunc) {
	t := time.NewTicker(c.cfg.ClaimEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-t.C:
			for _, typ := range c.cfg.Types {
				stream := StreamFor(typ)

				msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
					Stream:   stream,
					Group:    c.cfg.Group,
					Consumer: c.cfg.ConsumerID,
					MinIdle:  c.cfg.ClaimMinIdle,
					Start:    "0-0",
					Count:    c.cfg.BatchCount,
				}).Result()

				if err != nil {
					if ctx.Err() != nil {
						return
					}
					c.log.WarnContext(ctx, "bus.reclaim_failed", "group", c.cfg.Group, "stream", stream, "err", err)
					continue
				}

				for _, msg := range msgs {
					c.process(ctx, stream, msg, handle)
				}
			}
		}
	}
}
