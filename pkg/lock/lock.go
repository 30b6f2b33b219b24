// pkg/lock/lock.go
package lock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/config"
)

// ErrNotAcquired is returned when another run holds the lock
var ErrNotAcquired = errors.New("run lock held by another process")

// Lock is a non-blocking run lock
type Lock interface {
	// Acquire tries to take the lock and reports whether it succeeded
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this process still owns it
	Release(ctx context.Context) error
}

// New builds the lock selected by cfg.Backend. db is required for the postgres backend.
func New(cfg config.LockConfig, db *sql.DB, key string, logger *zap.Logger) (Lock, error) {
	switch cfg.Backend {
	case "", "none":
		return NoopLock{}, nil
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres run lock needs a database connection")
		}
		return NewPGAdvisoryLock(db, key), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		logger.Info("Using Redis run lock", zap.String("addr", opts.Addr))
		return NewRedisLock(redis.NewClient(opts), key, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported run lock backend: %s", cfg.Backend)
	}
}

// NoopLock always succeeds
type NoopLock struct{}

func (NoopLock) Acquire(context.Context) (bool, error) { return true, nil }
func (NoopLock) Release(context.Context) error         { return nil }

// RedisLock uses SET NX with a TTL and a random owner value
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// NewRedisLock creates a lock stored under lock:<key>
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &RedisLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to set the lock key
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release deletes the key only while it still holds our value
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// PGAdvisoryLock uses a session-scoped PostgreSQL advisory lock. The session
// is pinned to one pooled connection between Acquire and Release.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives the lock id from key
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire calls pg_try_advisory_lock on a dedicated connection
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, errors.New("advisory lock already held by this process")
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release unlocks on the pinned connection and returns it to the pool
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()

	if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID); err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	return nil
}

// LazyLock builds its lock on the first Acquire, so a store that is down
// fails the run at the lock step instead of before it starts
type LazyLock struct {
	build func(ctx context.Context) (Lock, error)
	lock  Lock
}

// NewLazyLock wraps build
func NewLazyLock(build func(ctx context.Context) (Lock, error)) *LazyLock {
	return &LazyLock{build: build}
}

// Acquire builds the lock if needed and acquires it
func (l *LazyLock) Acquire(ctx context.Context) (bool, error) {
	if l.lock == nil {
		built, err := l.build(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to build run lock: %w", err)
		}
		l.lock = built
	}
	return l.lock.Acquire(ctx)
}

// Release is a no-op until the lock has been built
func (l *LazyLock) Release(ctx context.Context) error {
	if l.lock == nil {
		return nil
	}
	return l.lock.Release(ctx)
}
