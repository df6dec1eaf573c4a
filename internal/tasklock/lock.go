// Package tasklock guarantees at most one active poll loop per provider task id.
package tasklock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"modelgen/internal/infra"
)

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Release()
}

// Locker hands out per-task leases. TryAcquire never blocks waiting for a
// holder; ok is false when another loop already owns the task.
type Locker interface {
	TryAcquire(ctx context.Context, taskID string) (lease Lease, ok bool, err error)
}

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLocker stores leases as expiring keys so that a crashed process frees
// its tasks once the TTL lapses.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *infra.Logger
}

// NewRedisLocker builds a locker over client. A zero ttl defaults to 30s.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *infra.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("tasklock: redis client is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &RedisLocker{client: client, prefix: "modelgen:poll:", ttl: ttl, logger: logger}, nil
}

func (l *RedisLocker) key(taskID string) string {
	return l.prefix + taskID
}

// TryAcquire sets the lease key if absent and keeps its TTL fresh until Release.
func (l *RedisLocker) TryAcquire(ctx context.Context, taskID string) (Lease, bool, error) {
	token := uuid.NewString()
	key := l.key(taskID)
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("tasklock: acquire %s: %w", taskID, err)
	}
	if !ok {
		return nil, false, nil
	}
	lease := &redisLease{locker: l, key: key, token: token, stop: make(chan struct{}), done: make(chan struct{})}
	go lease.keepAlive()
	return lease, true, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
	once   sync.Once
	stop   chan struct{}
	done   chan struct{}
}

func (r *redisLease) keepAlive() {
	defer close(r.done)
	ticker := time.NewTicker(r.locker.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.locker.ttl/3)
			res, err := refreshScript.Run(ctx, r.locker.client, []string{r.key}, r.token, r.locker.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.locker.logger.Warn().Err(err).Str("key", r.key).Msg("tasklock: refresh failed")
				continue
			}
			if res == 0 {
				r.locker.logger.Warn().Str("key", r.key).Msg("tasklock: lease lost")
				return
			}
		}
	}
}

func (r *redisLease) Release() {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.locker.client, []string{r.key}, r.token).Err(); err != nil {
			r.locker.logger.Warn().Err(err).Str("key", r.key).Msg("tasklock: release failed")
		}
	})
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryAcquire(ctx context.Context, taskID string) (Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[taskID]; busy {
		return nil, false, nil
	}
	l.held[taskID] = struct{}{}
	return &localLease{locker: l, taskID: taskID}, true, nil
}

type localLease struct {
	locker *LocalLocker
	taskID string
	once   sync.Once
}

func (l *localLease) Release() {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.taskID)
		l.locker.mu.Unlock()
	})
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*LocalLocker)(nil)
)
