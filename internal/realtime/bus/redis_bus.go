package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/realtime"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	origin  string
}

// envelope is the wire form on the redis channel. Origin identifies the
// publishing instance so forwarders can report cross-instance lag.
type envelope struct {
	Origin  string              `json:"origin"`
	SentAt  time.Time           `json:"sent_at"`
	Message realtime.SSEMessage `json:"message"`
}

func NewRedisBus(log *logger.Logger, cfg RedisConfig) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(cfg.Channel)
	if ch == "" {
		ch = "ingest-events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("service", "RedisEventBus", "redis_addr", addr),
		rdb:     rdb,
		channel: ch,
		origin:  uuid.NewString(),
	}, nil
}

// Client exposes the underlying connection for health probes.
func Client(b Bus) *goredis.Client {
	if rb, ok := b.(*redisBus); ok {
		return rb.rdb
	}
	return nil
}

func (b *redisBus) Publish(ctx context.Context, msg realtime.SSEMessage) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	raw, err := json.Marshal(envelope{Origin: b.origin, SentAt: time.Now().UTC(), Message: msg})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", msg.Event, err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				env, err := decodeEnvelope(m.Payload)
				if err != nil {
					b.log.Warn("bad redis event payload", "error", err)
					continue
				}
				if env.Origin != b.origin && !env.SentAt.IsZero() {
					b.log.Debug("forwarded remote event",
						"origin", env.Origin,
						"event", env.Message.Event,
						"lag_ms", time.Since(env.SentAt).Milliseconds(),
					)
				}
				onMsg(env.Message)
			}
		}
	}()

	return nil
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return env, err
	}
	if env.Message.Channel == "" {
		return env, fmt.Errorf("event without channel")
	}
	return env, nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
