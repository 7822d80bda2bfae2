package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

const sessionKeyPrefix = "Session:"

// SessionStore описывает подмножество команд Redis, используемое кэшем проверок.
type SessionStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedVerifier кэширует успешные проверки токенов в Redis.
// Ошибки Redis не прерывают проверку: запрос уходит в next.
type CachedVerifier struct {
	store  SessionStore
	next   Verifier
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewCachedVerifier создаёт кэширующий верификатор поверх next.
func NewCachedVerifier(store SessionStore, next Verifier, ttl time.Duration, logger *zap.Logger) *CachedVerifier {
	return &CachedVerifier{
		store:  store,
		next:   next,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Verify возвращает пользователя из кэша или проверяет токен через next.
func (c *CachedVerifier) Verify(ctx context.Context, accessToken string) (*model.User, error) {
	key := sessionKey(accessToken)

	val, err := c.store.Get(ctx, key).Result()
	switch {
	case err == nil:
		var user model.User
		if jsonErr := json.Unmarshal([]byte(val), &user); jsonErr == nil && user.ID != "" {
			return &user, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("session cache read failed", zap.Error(err))
	}

	user, err := c.next.Verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	ttl := c.ttl
	if exp := TokenExpiry(accessToken); !exp.IsZero() {
		if left := exp.Sub(c.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return user, nil
	}

	payload, err := json.Marshal(user)
	if err != nil {
		return user, nil
	}
	if err := c.store.Set(ctx, key, payload, ttl).Err(); err != nil {
		c.logger.Warn("session cache write failed", zap.Error(err))
	}

	return user, nil
}

func sessionKey(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return sessionKeyPrefix + hex.EncodeToString(sum[:])
}
