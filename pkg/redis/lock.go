package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Acquire when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another holder")

// releaseScript deletes the key only if it still carries the holder's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out expiring exclusive locks stored in Redis (SET NX PX).
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker creates a locker whose keys are prefixed with prefix.
func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lock is a held lock.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes the lock for name for at most ttl. It does not wait.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{locker: l, key: key, token: token}, nil
}

// Release frees the lock if it is still held by this holder. Releasing an expired or
// stolen lock is a no-op.
func (lk *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, lk.locker.client, []string{lk.key}, lk.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", lk.key, err)
	}
	return nil
}
