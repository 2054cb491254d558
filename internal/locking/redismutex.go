package locking

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the lock key only if it still holds our token, so a
// lock that expired and was re-acquired by another process is never released
// by the original owner.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisMutex is a distributed lock over a single Redis key (SET NX with a
// TTL). It offers the same contract as FileMutex for deployments where the
// queue and ledger files live on shared storage and advisory file locks are
// not reliable.
type RedisMutex struct {
	client  *goredis.Client
	key     string
	token   string
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewRedisMutex creates a Redis-backed mutex for the given key.
// ttl bounds how long a crashed holder can wedge the lock.
func NewRedisMutex(client *goredis.Client, key string, ttl time.Duration) *RedisMutex {
	return &RedisMutex{
		client:  client,
		key:     key,
		token:   uuid.NewString(),
		ttl:     ttl,
		retries: DefaultRetries,
		backoff: DefaultBackoff,
	}
}

// Acquire attempts SET NX up to the retry budget.
func (m *RedisMutex) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < m.retries; attempt++ {
		ok, err := m.client.SetNX(ctx, m.key, m.token, m.ttl).Result()
		if err != nil {
			return fmt.Errorf("redis lock %s: %w", m.key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.backoff):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, m.key, m.retries)
}

// Release deletes the key if this mutex still owns it.
func (m *RedisMutex) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return releaseScript.Run(ctx, m.client, []string{m.key}, m.token).Err()
}
