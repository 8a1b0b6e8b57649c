package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-doorlock/internal/models"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss no cached status for the room
var ErrCacheMiss = errors.New("cache miss")

// KVStore key-value storage, replaceable in tests
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisKVStore KVStore on go-redis
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// SnapshotFunc current status of a room.
type SnapshotFunc func(room int) (models.RoomStatus, bool)

// StatusCache keeps the latest RoomStatus of every room in a KV store so
// front-desk screens can read it without talking to this service.
type StatusCache struct {
	kv       KVStore
	snapshot SnapshotFunc
	ttl      time.Duration
}

func NewStatusCache(kv KVStore, snapshot SnapshotFunc, ttl time.Duration) *StatusCache {
	return &StatusCache{kv: kv, snapshot: snapshot, ttl: ttl}
}

func statusKey(room int) string {
	return fmt.Sprintf("doorlock:room:%d:status", room)
}

func (c *StatusCache) Handle(ctx context.Context, ev models.StatusChangeEvent) error {
	st, ok := c.snapshot(ev.Room)
	if !ok {
		return fmt.Errorf("no status for room %d", ev.Room)
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal room status: %w", err)
	}
	if err := c.kv.Set(ctx, statusKey(ev.Room), string(b), c.ttl); err != nil {
		return fmt.Errorf("failed to cache status of room %d: %w", ev.Room, err)
	}
	return nil
}

// Get reads the cached status of room.
func (c *StatusCache) Get(ctx context.Context, room int) (models.RoomStatus, error) {
	val, err := c.kv.Get(ctx, statusKey(room))
	if err != nil {
		return models.RoomStatus{}, err
	}
	var st models.RoomStatus
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return models.RoomStatus{}, fmt.Errorf("failed to unmarshal status of room %d: %w", room, err)
	}
	return st, nil
}
