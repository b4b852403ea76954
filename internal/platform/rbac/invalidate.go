package rbac

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InvalidationChannel is the pub/sub channel carrying cache invalidations.
const InvalidationChannel = "rbac:cache:invalidate"

// Invalidator propagates RBAC cache invalidations between instances.
type Invalidator interface {
	// Publish announces that role permissions changed.
	Publish(ctx context.Context) error
	// Subscribe calls onInvalidate for every invalidation published by
	// another instance and blocks until ctx is done.
	Subscribe(ctx context.Context, onInvalidate func()) error
}

// NopInvalidator keeps invalidation local to the process.
type NopInvalidator struct{}

func (NopInvalidator) Publish(context.Context) error { return nil }

func (NopInvalidator) Subscribe(ctx context.Context, _ func()) error {
	<-ctx.Done()
	return nil
}

// RedisInvalidator fans invalidations out over Redis pub/sub.
type RedisInvalidator struct {
	client     *redis.Client
	instanceID string
	logger     zerolog.Logger
}

// NewRedisInvalidator connects to redisURL and verifies the connection.
func NewRedisInvalidator(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisInvalidator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisInvalidator{
		client:     client,
		instanceID: uuid.New().String(),
		logger:     logger.With().Str("component", "rbac_invalidator").Logger(),
	}, nil
}

// Publish sends this instance's id on the invalidation channel.
func (r *RedisInvalidator) Publish(ctx context.Context) error {
	return r.client.Publish(ctx, InvalidationChannel, r.instanceID).Err()
}

// Subscribe listens on the invalidation channel, ignoring messages this
// instance published itself.
func (r *RedisInvalidator) Subscribe(ctx context.Context, onInvalidate func()) error {
	sub := r.client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", InvalidationChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == r.instanceID {
				continue
			}
			r.logger.Debug().Str("from", msg.Payload).Msg("received rbac invalidation")
			onInvalidate()
		}
	}
}

// Ping checks the redis connection.
func (r *RedisInvalidator) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the redis client.
func (r *RedisInvalidator) Close() error {
	return r.client.Close()
}
