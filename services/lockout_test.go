package services

import (
	"context"
	"testing"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/cache"

	"github.com/stretchr/testify/require"
)

func newLockout(t *testing.T) (*LockoutService, *FakeStorage, *FakeEventSink) {
	t.Helper()
	store := NewFakeStorage()
	events := &FakeEventSink{}
	svc := NewLockoutService(cache.New(core.CacheConfig{}), store, events, nil, core.DefaultPolicy())
	return svc, store, events
}

func TestLockoutThreshold(t *testing.T) {
	svc, store, events := newLockout(t)
	ctx := context.Background()
	rc := core.RequestContext{IP: "10.0.0.1"}

	for i := 0; i < 4; i++ {
		require.NoError(t, svc.RecordFailure(ctx, "victim@example.com", rc))
	}

	locked, err := svc.IsLocked(ctx, "victim@example.com")
	require.NoError(t, err)
	require.False(t, locked, "four failures must not lock")

	require.NoError(t, svc.RecordFailure(ctx, "victim@example.com", rc))

	locked, err = svc.IsLocked(ctx, "victim@example.com")
	require.NoError(t, err)
	require.True(t, locked, "fifth failure must lock")

	require.Len(t, store.AttemptsOfType(attemptAccountLocked), 1)
	require.Equal(t, []string{EventAccountLocked}, events.Names())
}

func TestLockoutIdentityNormalized(t *testing.T) {
	svc, _, _ := newLockout(t)
	ctx := context.Background()
	rc := core.RequestContext{}

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordFailure(ctx, "  Victim@Example.COM ", rc))
	}

	locked, err := svc.IsLocked(ctx, "victim@example.com")
	require.NoError(t, err)
	require.True(t, locked)
}

func TestLockExpires(t *testing.T) {
	svc, _, _ := newLockout(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordFailure(ctx, "victim@example.com", core.RequestContext{}))
	}
	locked, err := svc.IsLocked(ctx, "victim@example.com")
	require.NoError(t, err)
	require.True(t, locked)

	svc.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	locked, err = svc.IsLocked(ctx, "victim@example.com")
	require.NoError(t, err)
	require.False(t, locked, "lock must lapse after its duration")
}

func TestRecordSuccessClearsState(t *testing.T) {
	svc, _, _ := newLockout(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordFailure(ctx, "victim@example.com", core.RequestContext{}))
	}
	require.NoError(t, svc.RecordSuccess(ctx, "victim@example.com"))

	locked, err := svc.IsLocked(ctx, "victim@example.com")
	require.NoError(t, err)
	require.False(t, locked)

	// The counter restarts from zero, so one more failure does not re-lock.
	require.NoError(t, svc.RecordFailure(ctx, "victim@example.com", core.RequestContext{}))
	locked, err = svc.IsLocked(ctx, "victim@example.com")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestIsLockedMissingKey(t *testing.T) {
	svc, _, _ := newLockout(t)

	locked, err := svc.IsLocked(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	require.False(t, locked)
}
