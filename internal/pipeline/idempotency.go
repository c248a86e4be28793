package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"exchangeCore/internal/model"
)

// Marker is the optional shared idempotency tier. It only remembers that an
// event succeeded, not its result.
type Marker interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// RedisConfig configures the Redis marker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisMarker stores one key per processed event id.
type RedisMarker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMarker(cfg RedisConfig) *RedisMarker {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "engine:processed"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisMarker{client: client, prefix: prefix, ttl: ttl}
}

func (m *RedisMarker) key(eventID string) string {
	return fmt.Sprintf("%s:%s", m.prefix, eventID)
}

func (m *RedisMarker) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMarker) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := m.client.Exists(ctx, m.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *RedisMarker) Mark(ctx context.Context, eventID string) error {
	return m.client.Set(ctx, m.key(eventID), 1, m.ttl).Err()
}

func (m *RedisMarker) Close() error {
	return m.client.Close()
}

// idempotency answers replays from an in-process LRU of successful results,
// falling back to the shared marker. Only the consumer goroutine touches it.
type idempotency struct {
	local  *lru.BasicLRU[string, *model.Result]
	marker Marker
	logger *zap.Logger
}

func newIdempotency(size int, marker Marker, logger *zap.Logger) *idempotency {
	if size <= 0 {
		size = 1
	}
	local := lru.NewBasicLRU[string, *model.Result](size)
	return &idempotency{local: &local, marker: marker, logger: logger}
}

func (c *idempotency) lookup(ctx context.Context, ev *model.Event) (*model.Result, bool) {
	if ev.ID == "" {
		return nil, false
	}
	if cached, ok := c.local.Get(ev.ID); ok {
		dup := *cached
		dup.Duplicate = true
		return &dup, true
	}
	if c.marker == nil {
		return nil, false
	}
	seen, err := c.marker.Seen(ctx, ev.ID)
	if err != nil {
		c.logger.Warn("idempotency lookup failed", zap.String("event_id", ev.ID), zap.Error(err))
		return nil, false
	}
	if !seen {
		return nil, false
	}
	return &model.Result{
		EventID:   ev.ID,
		Kind:      ev.Kind,
		Success:   true,
		Duplicate: true,
	}, true
}

func (c *idempotency) remember(ctx context.Context, res *model.Result) {
	if !res.Success || res.EventID == "" {
		return
	}
	c.local.Add(res.EventID, res)
	if c.marker == nil {
		return
	}
	if err := c.marker.Mark(ctx, res.EventID); err != nil {
		c.logger.Warn("idempotency mark failed", zap.String("event_id", res.EventID), zap.Error(err))
	}
}
