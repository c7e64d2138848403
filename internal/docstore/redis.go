package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"ritual/api/internal/game"
)

// RedisStore keeps each session document at a single key and pushes every
// write to subscribers over pub/sub, so remote changes arrive without
// polling.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client (tests).
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) channel(code string) string {
	return Path(code) + ":updates"
}

func (s *RedisStore) metaKey(code string) string {
	return Path(code) + ":meta"
}

func (s *RedisStore) Get(ctx context.Context, code string) (game.Session, error) {
	raw, err := s.client.Get(ctx, Path(code)).Result()
	if err == redis.Nil {
		return game.Session{}, ErrNotFound
	}
	if err != nil {
		return game.Session{}, fmt.Errorf("get document: %w", err)
	}
	var doc game.Session
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return game.Session{}, fmt.Errorf("decode document: %w", err)
	}
	return game.Normalize(doc), nil
}

func (s *RedisStore) Set(ctx context.Context, code string, doc game.Session) error {
	payload, err := json.Marshal(game.Normalize(doc))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := s.client.Set(ctx, Path(code), payload, 0).Err(); err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel(code), payload).Err(); err != nil {
		return fmt.Errorf("publish document: %w", err)
	}
	return nil
}

// Subscribe delivers the current state immediately, then every published
// write. Delivery is whole-snapshot; there is no merge.
func (s *RedisStore) Subscribe(ctx context.Context, code string, fn Handler) (Unsubscribe, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(code))
	// Force the SUBSCRIBE round-trip so no published write is missed
	// between the initial Get and the first channel delivery.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	current, err := s.Get(ctx, code)
	if err == nil {
		snapshot := current
		fn(&snapshot)
	} else if err == ErrNotFound {
		fn(nil)
	} else {
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			var doc game.Session
			if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
				log.Printf("docstore: drop malformed snapshot for %s: %v", code, err)
				continue
			}
			normalized := game.Normalize(doc)
			fn(&normalized)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

func (s *RedisStore) GetMeta(ctx context.Context, code, key string) (string, error) {
	value, err := s.client.HGet(ctx, s.metaKey(code), key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get meta: %w", err)
	}
	return value, nil
}

func (s *RedisStore) SetMeta(ctx context.Context, code, key, value string) error {
	if err := s.client.HSet(ctx, s.metaKey(code), key, value).Err(); err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
