package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/felipesantoos/authcore/pkg/clock"
	"github.com/redis/go-redis/v9"
)

// LockoutPolicy holds the thresholds and windows driving lockout decisions.
// Lockout triggers when EITHER the per-email or the per-IP counter crosses its
// threshold: a distributed attack on one account trips the email counter, and
// a single IP spraying many accounts trips the IP one.
type LockoutPolicy struct {
	EmailThreshold    int
	IPThreshold       int
	Window            time.Duration
	BaseDuration      time.Duration
	BackoffMultiplier float64
	MaxDuration       time.Duration
}

// LockoutStatus is the outcome of a lockout check.
type LockoutStatus struct {
	Locked   bool
	UnlockAt time.Time
}

// LockoutService tracks failed login attempts per (email, tenant) and
// (ip, tenant) in Redis and decides when to lock. All counter updates are
// single atomic INCRs, never read-modify-write, so concurrent attempts cannot
// race the window.
type LockoutService struct {
	redis  redis.UniversalClient
	policy LockoutPolicy
	clock  clock.Clock
	logger *slog.Logger
}

// NewLockoutService creates a new LockoutService.
func NewLockoutService(redisClient redis.UniversalClient, policy LockoutPolicy, clk clock.Clock, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		redis:  redisClient,
		policy: policy,
		clock:  clk,
		logger: logger,
	}
}

func emailFailureKey(tenantID, email string) string { return "lf:e:" + tenantID + ":" + email }
func ipFailureKey(tenantID, ip string) string       { return "lf:i:" + tenantID + ":" + ip }
func emailLockKey(tenantID, email string) string    { return "ll:e:" + tenantID + ":" + email }
func ipLockKey(tenantID, ip string) string          { return "ll:i:" + tenantID + ":" + ip }
func lockoutCountKey(tenantID, email string) string { return "lc:e:" + tenantID + ":" + email }

// CheckLockout reports whether the (email, ip, tenant) tuple is currently
// locked and, if so, when the lock expires. This is a cheap TTL read and runs
// before the expensive password hash. Fails open on Redis errors so an
// unavailable counter store degrades to no lockout rather than no logins.
func (s *LockoutService) CheckLockout(ctx context.Context, tenantID, email, ip string) LockoutStatus {
	now := s.clock.Now()
	status := LockoutStatus{}

	for _, key := range []string{emailLockKey(tenantID, email), ipLockKey(tenantID, ip)} {
		ttl, err := s.redis.PTTL(ctx, key).Result()
		if err != nil {
			s.logger.Error("lockout check failed, failing open", slog.Any("error", err))
			continue
		}
		if ttl > 0 {
			unlockAt := now.Add(ttl)
			if !status.Locked || unlockAt.After(status.UnlockAt) {
				status = LockoutStatus{Locked: true, UnlockAt: unlockAt}
			}
		}
	}

	return status
}

// RecordFailure increments both failure counters atomically and applies a new
// lock when either crosses its threshold. Returns whether this attempt caused
// a NEW lockout (used to fire the lockout notification exactly once).
func (s *LockoutService) RecordFailure(ctx context.Context, tenantID, email, ip string) (bool, error) {
	lockedNow := false

	emailCount, err := s.incrementWindowed(ctx, emailFailureKey(tenantID, email))
	if err != nil {
		return false, err
	}
	if emailCount >= int64(s.policy.EmailThreshold) {
		if err := s.lockEmail(ctx, tenantID, email); err != nil {
			return false, err
		}
		lockedNow = true
	}

	ipCount, err := s.incrementWindowed(ctx, ipFailureKey(tenantID, ip))
	if err != nil {
		return lockedNow, err
	}
	if ipCount >= int64(s.policy.IPThreshold) {
		if err := s.lockIP(ctx, tenantID, ip); err != nil {
			return lockedNow, err
		}
		lockedNow = true
	}

	return lockedNow, nil
}

// RecordSuccess clears the per-email counter after a successful login. The
// per-IP counter is deliberately left alone: one user succeeding from a shared
// IP (office NAT, campus network) must not reset the count accumulated by an
// attacker behind the same address.
func (s *LockoutService) RecordSuccess(ctx context.Context, tenantID, email string) error {
	if err := s.redis.Del(ctx, emailFailureKey(tenantID, email)).Err(); err != nil {
		return err
	}
	return nil
}

// Reset clears all lockout state for an email, used after an out-of-band
// password reset proves account ownership.
func (s *LockoutService) Reset(ctx context.Context, tenantID, email string) error {
	return s.redis.Del(ctx,
		emailFailureKey(tenantID, email),
		emailLockKey(tenantID, email),
		lockoutCountKey(tenantID, email),
	).Err()
}

// incrementWindowed is a single atomic INCR; the TTL set on first increment
// makes the key a rolling failure window.
func (s *LockoutService) incrementWindowed(ctx context.Context, key string) (int64, error) {
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	if count == 1 {
		if err := s.redis.Expire(ctx, key, s.policy.Window).Err(); err != nil {
			return 0, err
		}
	}

	return count, nil
}

// lockEmail applies an exponentially growing lock: base × multiplier^(n−1)
// where n counts lockouts within the max-duration memory, capped at
// MaxDuration. The failure counter is cleared so the next window starts fresh
// after the lock expires.
func (s *LockoutService) lockEmail(ctx context.Context, tenantID, email string) error {
	lockouts, err := s.redis.Incr(ctx, lockoutCountKey(tenantID, email)).Result()
	if err != nil {
		return err
	}
	if lockouts == 1 {
		if err := s.redis.Expire(ctx, lockoutCountKey(tenantID, email), s.policy.MaxDuration).Err(); err != nil {
			return err
		}
	}

	duration := s.backoffDuration(lockouts)

	if err := s.redis.Set(ctx, emailLockKey(tenantID, email), strconv.FormatInt(lockouts, 10), duration).Err(); err != nil {
		return err
	}

	s.logger.Warn("email lockout applied",
		slog.String("tenant_id", tenantID),
		slog.Int64("lockout_number", lockouts),
		slog.Duration("duration", duration))

	return s.redis.Del(ctx, emailFailureKey(tenantID, email)).Err()
}

// lockIP uses a flat base duration; IP locks are broad enough already without
// backoff escalation.
func (s *LockoutService) lockIP(ctx context.Context, tenantID, ip string) error {
	if err := s.redis.Set(ctx, ipLockKey(tenantID, ip), "1", s.policy.BaseDuration).Err(); err != nil {
		return err
	}

	s.logger.Warn("ip lockout applied",
		slog.String("tenant_id", tenantID),
		slog.Duration("duration", s.policy.BaseDuration))

	return s.redis.Del(ctx, ipFailureKey(tenantID, ip)).Err()
}

func (s *LockoutService) backoffDuration(lockouts int64) time.Duration {
	duration := s.policy.BaseDuration
	if lockouts > 1 && s.policy.BackoffMultiplier > 1 {
		factor := math.Pow(s.policy.BackoffMultiplier, float64(lockouts-1))
		duration = time.Duration(float64(s.policy.BaseDuration) * factor)
	}
	if duration > s.policy.MaxDuration {
		duration = s.policy.MaxDuration
	}
	return duration
}

// FailureCount returns the current per-email failure count, for introspection
// and tests.
func (s *LockoutService) FailureCount(ctx context.Context, tenantID, email string) (int, error) {
	count, err := s.redis.Get(ctx, emailFailureKey(tenantID, email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return int(count), nil
}
