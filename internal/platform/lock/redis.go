package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// release deletes the key only while it still carries our token, so a lock
// that expired and was taken by another holder is left alone.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived advisory locks keyed by document or account.
// Row locks in Postgres stay the correctness mechanism; this only turns a
// racing duplicate request into a fast retryable rejection.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a Locker. A zero ttl defaults to 15 seconds.
func New(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

// Acquire takes key without waiting. It fails with shared.ErrBusy when the
// key is held elsewhere. The returned func releases the lock.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("platform/lock: %s: %w", key, shared.ErrBusy)
	}
	return func() {
		// Released on a fresh context: the caller's may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = release.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}
