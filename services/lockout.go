package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/logging"
)

const (
	attemptKeyPrefix = "gh:attempts:"
	lockKeyPrefix    = "gh:lock:"
)

// lockRecord is the cache value behind a lock key.
type lockRecord struct {
	LockedAt  int64  `json:"lockedAt"`
	ExpiresAt int64  `json:"expiresAt"`
	Reason    string `json:"reason"`
}

// LockoutService counts failed attempts per identity and enforces a
// temporary lock once the threshold is reached. Both the counter and the
// lock live only in the ephemeral cache: a cache flush silently clears
// lockout state, which is an accepted trade-off.
type LockoutService struct {
	cache    core.Cache
	attempts core.AttemptStorage
	events   core.EventSink
	logger   logging.Logger
	policy   core.Policy
	now      func() time.Time
}

// NewLockoutService wires a lockout guard. attempts and events may be nil.
func NewLockoutService(cache core.Cache, attempts core.AttemptStorage, events core.EventSink, logger logging.Logger, policy core.Policy) *LockoutService {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &LockoutService{
		cache:    cache,
		attempts: attempts,
		events:   events,
		logger:   logger,
		policy:   policy,
		now:      time.Now,
	}
}

// IsLocked reports whether a non-expired lock record exists for identity.
// An expired record is cleared on sight.
func (s *LockoutService) IsLocked(ctx context.Context, identity string) (bool, error) {
	identity = core.NormalizeEmail(identity)

	raw, err := s.cache.Get(ctx, lockKeyPrefix+identity)
	if err != nil {
		if err == core.ErrCacheMiss {
			return false, nil
		}
		return false, fmt.Errorf("failed to read lock state: %w", err)
	}

	var rec lockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A corrupt record cannot be trusted; drop it.
		_ = s.cache.Delete(ctx, lockKeyPrefix+identity)
		return false, nil
	}

	if s.now().Unix() > rec.ExpiresAt {
		_ = s.cache.Delete(ctx, lockKeyPrefix+identity)
		return false, nil
	}

	return true, nil
}

// RecordFailure increments the failure counter for identity, refreshing
// the counting window, and installs a lock once the threshold is reached.
// The increment is atomic at the cache layer so parallel failures are
// never undercounted.
func (s *LockoutService) RecordFailure(ctx context.Context, identity string, rc core.RequestContext) error {
	identity = core.NormalizeEmail(identity)

	count, err := s.cache.Increment(ctx, attemptKeyPrefix+identity, s.policy.FailureWindow)
	if err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}

	if count >= int64(s.policy.LockoutThreshold) {
		return s.lock(ctx, identity, rc)
	}
	return nil
}

// RecordSuccess clears both the failure counter and any lock for identity.
func (s *LockoutService) RecordSuccess(ctx context.Context, identity string) error {
	identity = core.NormalizeEmail(identity)

	if err := s.cache.Delete(ctx, attemptKeyPrefix+identity); err != nil {
		return fmt.Errorf("failed to clear attempt counter: %w", err)
	}
	if err := s.cache.Delete(ctx, lockKeyPrefix+identity); err != nil {
		return fmt.Errorf("failed to clear lock: %w", err)
	}
	return nil
}

func (s *LockoutService) lock(ctx context.Context, identity string, rc core.RequestContext) error {
	now := s.now()
	rec := lockRecord{
		LockedAt:  now.Unix(),
		ExpiresAt: now.Add(s.policy.LockoutDuration).Unix(),
		Reason:    "Too many failed login attempts",
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode lock record: %w", err)
	}
	if err := s.cache.Set(ctx, lockKeyPrefix+identity, raw, s.policy.LockoutDuration); err != nil {
		return fmt.Errorf("failed to install lock: %w", err)
	}

	s.logger.Warn(ctx, "account locked", "identity", identity, "until", rec.ExpiresAt)
	logAttempt(ctx, s.attempts, s.logger, attemptAccountLocked, "", rc, map[string]string{
		"email": identity,
	})
	publish(s.events, EventAccountLocked, map[string]any{
		"email":      identity,
		"locked_at":  rec.LockedAt,
		"expires_at": rec.ExpiresAt,
	})
	return nil
}
