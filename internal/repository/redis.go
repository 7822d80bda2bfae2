package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

const snapshotKeyPrefix = "dashboard:"

// ErrCacheMiss возвращается, если снимка нет в кэше.
var ErrCacheMiss = errors.New("cache miss")

// SnapshotCache хранит снимки панели в Redis.
type SnapshotCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// NewSnapshotCache создаёт кэш снимков с указанным временем жизни записей.
func NewSnapshotCache(client redis.Cmdable, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		ttl:    ttl,
	}
}

// Get возвращает снимок пользователя из кэша.
func (c *SnapshotCache) Get(ctx context.Context, userID string) (*model.DashboardSnapshot, error) {
	val, err := c.client.Get(ctx, snapshotKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap model.DashboardSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	snap.Normalize()

	return &snap, nil
}

// Set сохраняет снимок пользователя в кэше.
func (c *SnapshotCache) Set(ctx context.Context, userID string, snap *model.DashboardSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(userID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Invalidate удаляет снимок пользователя из кэша.
func (c *SnapshotCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, snapshotKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func snapshotKey(userID string) string {
	return snapshotKeyPrefix + userID
}
