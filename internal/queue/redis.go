package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis is a reliable list queue: receiving moves a message to a processing
// list, acknowledging removes it from there. Messages left in processing by
// a crashed worker are pushed back by Recover, giving at-least-once delivery.
type Redis struct {
	client     *redis.Client
	pending    string
	processing string
	block      time.Duration
	logger     *slog.Logger
}

var _ Queue = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(addr, password string, db int, key string, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client, key, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, key string, logger *slog.Logger) *Redis {
	if key == "" {
		key = "instantiate:update"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client:     client,
		pending:    key,
		processing: key + ":processing",
		block:      5 * time.Second,
		logger:     logger.With("component", "queue"),
	}
}

// Publish pushes msg onto the pending list.
func (r *Redis) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.LPush(ctx, r.pending, data).Err(); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	return nil
}

// Receive moves the oldest pending message to the processing list.
func (r *Redis) Receive(ctx context.Context) (Delivery, error) {
	for {
		raw, err := r.client.BLMove(ctx, r.pending, r.processing, "RIGHT", "LEFT", r.block).Result()
		if ctx.Err() != nil {
			return Delivery{}, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return Delivery{}, ErrClosed
		}
		if err != nil {
			return Delivery{}, fmt.Errorf("receive message: %w", err)
		}

		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			r.logger.Error("dropping undecodable message", "error", err)
			r.remove(ctx, raw)
			continue
		}
		return Delivery{Message: msg, ack: func(ctx context.Context) error {
			return r.remove(ctx, raw)
		}}, nil
	}
}

func (r *Redis) remove(ctx context.Context, raw string) error {
	if err := r.client.LRem(ctx, r.processing, 1, raw).Err(); err != nil {
		r.logger.Error("ack failed", "error", err)
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// Recover pushes messages stranded in the processing list back to pending.
// It must run before workers start.
func (r *Redis) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := r.client.LMove(ctx, r.processing, r.pending, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			if moved > 0 {
				r.logger.Warn("requeued unacknowledged messages", "count", moved)
			}
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("requeue processing messages: %w", err)
		}
		moved++
	}
}

// Len reports pending and in-flight message counts.
func (r *Redis) Len(ctx context.Context) (pending, processing int64, err error) {
	pending, err = r.client.LLen(ctx, r.pending).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = r.client.LLen(ctx, r.processing).Result()
	return pending, processing, err
}

// Client exposes the connection for components sharing it.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close releases the connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
