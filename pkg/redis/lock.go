package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"userstore/internal/domain"
	"userstore/pkg/logger"
)

var ErrLockNotAcquired = fmt.Errorf("kilit alınamadı: %w", domain.ErrConcurrentModification)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UsernameLocker serializes writes that claim the same username across
// processes sharing one Redis.
type UsernameLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger logger.Logger
}

func NewUsernameLocker(client *redis.Client, ttl time.Duration, logger logger.Logger) *UsernameLocker {
	return &UsernameLocker{
		client: client,
		ttl:    ttl,
		prefix: "userstore:lock:username",
		logger: logger,
	}
}

func (l *UsernameLocker) key(username string) string {
	return fmt.Sprintf("%s:%s", l.prefix, username)
}

// Lock returns ErrLockNotAcquired when another holder owns the username.
// The returned release func is safe to call after the TTL expired.
func (l *UsernameLocker) Lock(ctx context.Context, username string) (func(), error) {
	key := l.key(username)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("kilit alınamadı %s: %w", username, err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Kilit bırakılamadı", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}

	return release, nil
}
