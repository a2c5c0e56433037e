package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pricewatch/internal/config"
	"pricewatch/internal/models"
)

// Redis backs both the channel registry and the outbox.
// Channels are JSON strings under <prefix>channel:<key>; the outbox is a list.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects and pings the server
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Redis{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *Redis) channelKey(key string) string { return r.prefix + "channel:" + key }
func (r *Redis) outboxKey() string            { return r.prefix + "outbox" }

func (r *Redis) Register(ctx context.Context, ch models.Channel) (models.Channel, error) {
	ch, err := prepare(ch)
	if err != nil {
		return models.Channel{}, err
	}

	if prev, err := r.Find(ctx, ch.Key); err == nil {
		ch.CreatedAt = prev.CreatedAt
	} else {
		ch.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(ch)
	if err != nil {
		return models.Channel{}, err
	}
	if err := r.client.Set(ctx, r.channelKey(ch.Key), data, 0).Err(); err != nil {
		return models.Channel{}, fmt.Errorf("register channel: %w", err)
	}
	return ch, nil
}

func (r *Redis) Find(ctx context.Context, key string) (models.Channel, error) {
	data, err := r.client.Get(ctx, r.channelKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return models.Channel{}, fmt.Errorf("find channel %s: %w", key, err)
	}

	var ch models.Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return models.Channel{}, fmt.Errorf("decode channel %s: %w", key, err)
	}
	return ch, nil
}

func (r *Redis) Purge(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.channelKey(key)).Err(); err != nil {
		return fmt.Errorf("purge channel %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Push(ctx context.Context, ev *models.TriggerEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.client.RPush(ctx, r.outboxKey(), data).Err(); err != nil {
		return fmt.Errorf("push outbox: %w", err)
	}
	return nil
}

func (r *Redis) Drain(ctx context.Context, max int) ([]*models.TriggerEvent, error) {
	stop := int64(-1)
	if max > 0 {
		stop = int64(max - 1)
	}

	var rng *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rng = pipe.LRange(ctx, r.outboxKey(), 0, stop)
		if stop < 0 {
			pipe.Del(ctx, r.outboxKey())
		} else {
			pipe.LTrim(ctx, r.outboxKey(), stop+1, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain outbox: %w", err)
	}

	events := make([]*models.TriggerEvent, 0, len(rng.Val()))
	for _, raw := range rng.Val() {
		var ev models.TriggerEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue // corrupt entries are dropped
		}
		events = append(events, &ev)
	}
	return events, nil
}

func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.outboxKey()).Result()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
