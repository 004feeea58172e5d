package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/geocoder89/steward/internal/corrctx"
	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/observability"
)

const (
	streamPrefix  = "steward:events:"
	envelopeField = "envelope"

	// maxStreamLen bounds each stream with XADD MAXLEN ~. Consumers ack and
	// move on; the stream is a buffer, not the system of record.
	maxStreamLen = 100_000
)

// StreamFor maps an event type to its Redis stream key. One stream per type
// keeps consumer groups simple: each handler subscribes to exactly the types
// that trigger it.
func StreamFor(t events.EventType) string {
	return streamPrefix + string(t)
}

// RedisPublisher appends integration events to per-type Redis streams.
// Delivery is at-least-once; subscribers dedupe on the deterministic id.
type RedisPublisher struct {
	client *redis.Client
	source string
	clock  clockwork.Clock
	log    *slog.Logger
	prom   *observability.Prom
}

func NewRedisPublisher(client *redis.Client, log *slog.Logger, prom *observability.Prom) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		source: DefaultSource,
		clock:  clockwork.NewRealClock(),
		log:    log,
		prom:   prom,
	}
}

// Publish builds the envelope and XAdds it. Correlation ids ride in from the
// invocation context, the publisher only attaches them.
func (p *RedisPublisher) Publish(ctx context.Context, eventType events.EventType, subject, eventID string, data json.RawMessage) error {
	env := Envelope{
		ID:              eventID,
		Type:            eventType,
		Source:          p.source,
		Subject:         subject,
		Time:            p.clock.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}

	if corrID, ok := corrctx.CorrelationFrom(ctx); ok {
		env.CorrelationID = &corrID
	}
	if causID, ok := corrctx.CausationFrom(ctx); ok {
		env.CausationID = &causID
	}

	raw, err := env.Encode()

	if err != nil {
		return err
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamFor(eventType),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{envelopeField: raw},
	}).Err()

	if err != nil {
		p.log.ErrorContext(ctx, "bus.publish_failed",
			"event_type", string(eventType),
			"event_id", eventID,
			"err", err,
		)
		return err
	}

	if p.prom != nil {
		p.prom.EventsPublished.WithLabelValues(string(eventType)).Inc()
	}

	p.log.DebugContext(ctx, "bus.published",
		"event_type", string(eventType),
		"event_id", eventID,
		"subject", subject,
	)

	return nil
}

// Client wraps the raw go-redis client with the timeouts every caller wants.
type Client struct {
	redisdb *redis.Client
}

type ClientConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(cfg ClientConfig) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  10 * time.Second, // must exceed the blocking read window
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// this ping function checks redis connectivity

func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

// this closes the client

func (c *Client) Close() error {
	return c.redisdb.Close()
}

func (c *Client) Raw() *redis.Client {
	return c.redisdb
}
