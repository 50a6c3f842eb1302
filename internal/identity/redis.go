package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"ragchat/internal/config"
)

const redisKey = "ragchat:chat_id"

// RedisStore keeps the chat id in redis so several machines can share
// one session identity.
type RedisStore struct {
	inner *redis.Client
	key   string
}

// NewRedisStore creates the redis-backed store from app config and
// verifies connectivity.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{inner: client, key: redisKey}, nil
}

func (r *RedisStore) Load(ctx context.Context) (string, error) {
	id, err := r.inner.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load chat id: %w", err)
	}
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

func (r *RedisStore) Save(ctx context.Context, chatID string) error {
	if err := r.inner.Set(ctx, r.key, chatID, 0).Err(); err != nil {
		return fmt.Errorf("save chat id: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.inner.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clear chat id: %w", err)
	}
	return nil
}

// Close releases the underlying redis client.
func (r *RedisStore) Close() error {
	return r.inner.Close()
}
