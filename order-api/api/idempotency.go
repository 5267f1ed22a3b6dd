package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers idempotency keys so a retried command is not applied
// twice. The outcome of a completed command is kept for replay.
type Deduper interface {
	// Claim records the key. It returns false when the key was seen before,
	// together with the stored outcome once the first request completed.
	Claim(ctx context.Context, actorID, key string) (bool, *StoredResponse, error)
	// Complete stores the outcome of a claimed key.
	Complete(ctx context.Context, actorID, key string, resp StoredResponse) error
	// Remove forgets a claimed key so the caller may retry after a failure.
	Remove(ctx context.Context, actorID, key string) error
}

type StoredResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body,omitempty"`
}

const pendingMarker = "pending"

// RedisDeduper keeps idempotency keys in Redis so all instances share them.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(actorID, key string) string {
	return fmt.Sprintf("idem:%s:%s", actorID, key)
}

func (r *RedisDeduper) Claim(ctx context.Context, actorID, key string) (bool, *StoredResponse, error) {
	k := r.key(actorID, key)
	added, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil || added {
		return added, nil, err
	}
	raw, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) || raw == pendingMarker {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	var stored StoredResponse
	if err := sonic.UnmarshalString(raw, &stored); err != nil {
		return false, nil, fmt.Errorf("decode stored response: %w", err)
	}
	return false, &stored, nil
}

func (r *RedisDeduper) Complete(ctx context.Context, actorID, key string, resp StoredResponse) error {
	payload, err := sonic.Marshal(resp)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(actorID, key), payload, r.ttl).Err()
}

func (r *RedisDeduper) Remove(ctx context.Context, actorID, key string) error {
	return r.client.Del(ctx, r.key(actorID, key)).Err()
}
