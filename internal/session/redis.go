package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	logx "dlbot/pkg/logx"
)

const redisKeyPrefix = "dlbot:session:"

type redisStore struct {
	client *redis.Client
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (*redisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return &redisStore{client: client, log: log}, nil
}

func (r *redisStore) key(chatID int64) string { return redisKeyPrefix + Key(chatID) }

func (r *redisStore) Get(ctx context.Context, chatID int64) (Session, error) {
	val, err := r.client.Get(ctx, r.key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	var v Session
	if err := json.Unmarshal(val, &v); err != nil {
		return Session{}, fmt.Errorf("session: unmarshal %d: %w", chatID, err)
	}
	return v, nil
}

// Put stores without expiry; sessions live as long as the store.
func (r *redisStore) Put(ctx context.Context, v Session) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	return r.client.Set(ctx, r.key(v.ChatID), data, 0).Err()
}

func (r *redisStore) Compact(ctx context.Context) error { return nil }

func (r *redisStore) Close() error { return r.client.Close() }
