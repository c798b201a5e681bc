package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/felipesantoos/authcore/pkg/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis returns a client backed by an in-process miniredis instance.
func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func testLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		EmailThreshold:    3,
		IPThreshold:       10,
		Window:            15 * time.Minute,
		BaseDuration:      15 * time.Minute,
		BackoffMultiplier: 2.0,
		MaxDuration:       24 * time.Hour,
	}
}

func newTestLockout(t *testing.T) (*LockoutService, *miniredis.Miniredis, *clock.Fixed) {
	t.Helper()
	client, mr := newTestRedis(t)
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewLockoutService(client, testLockoutPolicy(), clk, testLogger()), mr, clk
}

func TestLockoutService_NotLockedInitially(t *testing.T) {
	svc, _, _ := newTestLockout(t)

	status := svc.CheckLockout(context.Background(), "t1", "a@example.com", "10.0.0.1")
	assert.False(t, status.Locked)
}

func TestLockoutService_LocksAfterEmailThreshold(t *testing.T) {
	svc, _, clk := newTestLockout(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		locked, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, locked)
	}

	locked, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, locked)

	status := svc.CheckLockout(ctx, "t1", "a@example.com", "10.0.0.1")
	assert.True(t, status.Locked)
	assert.WithinDuration(t, clk.Now().Add(15*time.Minute), status.UnlockAt, 2*time.Second)
}

func TestLockoutService_IPThresholdLocksAcrossEmails(t *testing.T) {
	svc, _, _ := newTestLockout(t)
	ctx := context.Background()

	// Spray ten different emails from one IP. None crosses the email
	// threshold, but the IP counter does.
	lockedNow := false
	for i := 0; i < 10; i++ {
		email := string(rune('a'+i)) + "@example.com"
		locked, err := svc.RecordFailure(ctx, "t1", email, "10.0.0.1")
		require.NoError(t, err)
		lockedNow = lockedNow || locked
	}
	assert.True(t, lockedNow)

	// A fresh email from the same IP is locked out.
	status := svc.CheckLockout(ctx, "t1", "fresh@example.com", "10.0.0.1")
	assert.True(t, status.Locked)

	// The same email from a different IP is fine.
	status = svc.CheckLockout(ctx, "t1", "fresh@example.com", "10.9.9.9")
	assert.False(t, status.Locked)
}

func TestLockoutService_SuccessClearsEmailCounter(t *testing.T) {
	svc, _, _ := newTestLockout(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
		require.NoError(t, err)
	}

	require.NoError(t, svc.RecordSuccess(ctx, "t1", "a@example.com"))

	count, err := svc.FailureCount(ctx, "t1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The counter starts over: two more failures do not lock.
	for i := 0; i < 2; i++ {
		locked, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, locked)
	}
}

func TestLockoutService_ExponentialBackoff(t *testing.T) {
	svc, mr, _ := newTestLockout(t)
	ctx := context.Background()

	lockAndExpire := func() {
		for i := 0; i < 3; i++ {
			_, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
			require.NoError(t, err)
		}
	}

	// First lockout: base duration.
	lockAndExpire()
	ttl := mr.TTL(emailLockKey("t1", "a@example.com"))
	assert.Equal(t, 15*time.Minute, ttl)

	// Let the lock expire, fail again to the threshold. Second lockout
	// doubles.
	mr.FastForward(16 * time.Minute)
	lockAndExpire()
	ttl = mr.TTL(emailLockKey("t1", "a@example.com"))
	assert.Equal(t, 30*time.Minute, ttl)

	// Third lockout doubles again.
	mr.FastForward(31 * time.Minute)
	lockAndExpire()
	ttl = mr.TTL(emailLockKey("t1", "a@example.com"))
	assert.Equal(t, time.Hour, ttl)
}

func TestLockoutService_BackoffCappedAtMax(t *testing.T) {
	client, mr := newTestRedis(t)
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	policy := testLockoutPolicy()
	policy.MaxDuration = 20 * time.Minute
	svc := NewLockoutService(client, policy, clk, testLogger())
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		for i := 0; i < 3; i++ {
			_, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
			require.NoError(t, err)
		}
		mr.FastForward(21 * time.Minute)
	}

	for i := 0; i < 3; i++ {
		_, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
		require.NoError(t, err)
	}
	ttl := mr.TTL(emailLockKey("t1", "a@example.com"))
	assert.LessOrEqual(t, ttl, 20*time.Minute)
}

func TestLockoutService_WindowExpiresCounters(t *testing.T) {
	svc, mr, _ := newTestLockout(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
		require.NoError(t, err)
	}

	mr.FastForward(16 * time.Minute)

	count, err := svc.FailureCount(ctx, "t1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestLockoutService_FailsOpenWhenRedisDown(t *testing.T) {
	client, mr := newTestRedis(t)
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewLockoutService(client, testLockoutPolicy(), clk, testLogger())

	mr.Close()

	status := svc.CheckLockout(context.Background(), "t1", "a@example.com", "10.0.0.1")
	assert.False(t, status.Locked)
}

func TestLockoutService_TenantsAreIsolated(t *testing.T) {
	svc, _, _ := newTestLockout(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
		require.NoError(t, err)
	}

	status := svc.CheckLockout(ctx, "t1", "a@example.com", "10.0.0.1")
	assert.True(t, status.Locked)

	// Same email and IP under a different tenant is unaffected.
	status = svc.CheckLockout(ctx, "t2", "a@example.com", "10.0.0.1")
	assert.False(t, status.Locked)
}

func TestLockoutService_ResetClearsEverything(t *testing.T) {
	svc, _, _ := newTestLockout(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordFailure(ctx, "t1", "a@example.com", "10.0.0.1")
		require.NoError(t, err)
	}
	require.True(t, svc.CheckLockout(ctx, "t1", "a@example.com", "203.0.113.5").Locked)

	require.NoError(t, svc.Reset(ctx, "t1", "a@example.com"))

	assert.False(t, svc.CheckLockout(ctx, "t1", "a@example.com", "203.0.113.5").Locked)
}
