package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperr "github.com/obverse/obverse/internal/errors"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = apperr.New(apperr.CodeBusy, "lease held by another operation")

const keyPrefix = "lease:v1:"

// Lease is an acquired exclusive hold on a key.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out expiring exclusive leases.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// releaseScript deletes the key only if it still carries our token, so an
// expired lease never removes a newer holder's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker builds a Redis-backed locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the lease or returns ErrHeld.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "acquire lease", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{client: l.client, key: keyPrefix + key, token: token}, nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return apperr.Wrap(apperr.CodeInternal, "release lease", err)
	}
	return nil
}

// MemoryLocker implements Locker in process.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// NewMemoryLocker builds an in-process locker for single-instance runs and tests.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), clock: time.Now}
}

// Acquire takes the lease or returns ErrHeld.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, ErrHeld
	}
	token := uuid.NewString()
	l.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, token: token}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if e, ok := l.locker.held[l.key]; ok && e.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}
