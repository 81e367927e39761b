package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/config"
)

func testLockerContract(t *testing.T, locker Locker) {
	ctx := context.Background()
	key := "rule-" + time.Now().Format("150405.000000000")

	lease, ok, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "key is held")

	other, ok, err := locker.Acquire(ctx, key+"-other", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)

	lease, ok, err = locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lease.Release(ctx))
}

func TestLocalLocker(t *testing.T) {
	testLockerContract(t, NewLocalLocker())
}

func TestLocalLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.now = func() time.Time { return now }

	stale, ok, err := locker.Acquire(ctx, "rule-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	fresh, ok, err := locker.Acquire(ctx, "rule-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lease is taken over")

	// The stale holder must not release the new lease
	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
	require.NoError(t, fresh.Release(ctx))
}

func TestLocalLocker_SingleWinner(t *testing.T) {
	locker := NewLocalLocker()
	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := locker.Acquire(context.Background(), "rule-1", time.Minute); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("ALERTD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ALERTD_TEST_REDIS_ADDR not set")
	}

	locker, err := NewRedisLocker(context.Background(), config.RedisConfig{Addr: addr}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer locker.Close()

	testLockerContract(t, locker)
}
