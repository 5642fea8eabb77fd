package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles short-lived mutation locks in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// AcquireRequestLock attempts to lock a request for one in-flight mutation by
// the given actor. It returns the release token, or "" if already held.
func (s *LockStore) AcquireRequestLock(ctx context.Context, requestID, actorID string, ttl time.Duration) (string, error) {
	key := requestLockKey(requestID, actorID)
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}

	return token, nil
}

// ReleaseRequestLock releases the lock if token still owns it.
func (s *LockStore) ReleaseRequestLock(ctx context.Context, requestID, actorID, token string) error {
	key := requestLockKey(requestID, actorID)

	return releaseScript.Run(ctx, s.client, []string{key}, token).Err()
}

func requestLockKey(requestID, actorID string) string {
	return fmt.Sprintf("lock:request:%s:%s", requestID, actorID)
}
