package lock

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/config"
)

func setupRedisTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedisTest(t)

	first := NewRedisLock(client, "engagement-pipeline", time.Minute)
	second := NewRedisLock(client, "engagement-pipeline", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:engagement-pipeline"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// A non-owner release leaves the lock in place
	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists("lock:engagement-pipeline"))

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("lock:engagement-pipeline"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedisTest(t)

	first := NewRedisLock(client, "run", time.Second)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = NewRedisLock(client, "run", time.Second).Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPGAdvisoryLock(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "engagement-pipeline")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).
		WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(ctx))
	// Releasing twice is a no-op
	require.NoError(t, l.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLock_HeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "engagement-pipeline")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew(t *testing.T) {
	mr, _ := setupRedisTest(t)

	l, err := New(config.LockConfig{Backend: "none"}, nil, "k", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, NoopLock{}, l)

	_, err = New(config.LockConfig{Backend: "postgres"}, nil, "k", zap.NewNop())
	assert.Error(t, err)

	l, err = New(config.LockConfig{Backend: "redis", RedisURL: "redis://" + mr.Addr(), TTL: time.Minute}, nil, "k", zap.NewNop())
	require.NoError(t, err)
	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = New(config.LockConfig{Backend: "zookeeper"}, nil, "k", zap.NewNop())
	assert.Error(t, err)
}

func TestLazyLock(t *testing.T) {
	ctx := context.Background()

	builds := 0
	l := NewLazyLock(func(context.Context) (Lock, error) {
		builds++
		return NoopLock{}, nil
	})
	require.NoError(t, l.Release(ctx))
	assert.Equal(t, 0, builds)

	for i := 0; i < 2; i++ {
		ok, err := l.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, l.Release(ctx))
	}
	assert.Equal(t, 1, builds)

	down := errors.New("unable to open database file")
	failing := NewLazyLock(func(context.Context) (Lock, error) { return nil, down })
	ok, err := failing.Acquire(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, down)
	assert.NoError(t, failing.Release(ctx))
}
