package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mfreitas/gatehouse/core"

	"github.com/stretchr/testify/require"
)

func TestTokenIssueValidateRoundTrip(t *testing.T) {
	store := NewFakeStorage()
	svc := NewTokenService(store, nil)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, IssueInput{
		AccountID: "acc-1",
		Kind:      core.TokenReset,
		TTL:       time.Hour,
	})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Secret)
	require.NotEqual(t, issued.Secret, issued.Token.Hash, "raw secret must never be persisted")
	require.Equal(t, 1, issued.Token.MaxUses, "zero max uses defaults to one")

	token, err := svc.Validate(ctx, core.TokenReset, issued.Secret, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, issued.Token.ID, token.ID)

	// Validation is read-only and can be repeated.
	again, err := svc.Validate(ctx, core.TokenReset, issued.Secret, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, 0, again.UsesCount)
}

func TestTokenValidateRejections(t *testing.T) {
	store := NewFakeStorage()
	svc := NewTokenService(store, nil)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, IssueInput{
		AccountID:   "acc-1",
		Kind:        core.TokenMagicLink,
		TTL:         time.Hour,
		IPAllowList: []string{"10.0.0.1"},
	})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, core.TokenMagicLink, "", "10.0.0.1")
	require.ErrorIs(t, err, core.ErrTokenNotFound)

	_, err = svc.Validate(ctx, core.TokenMagicLink, "no-such-secret", "10.0.0.1")
	require.ErrorIs(t, err, core.ErrTokenNotFound)

	// Wrong kind looks in a different table.
	_, err = svc.Validate(ctx, core.TokenReset, issued.Secret, "10.0.0.1")
	require.ErrorIs(t, err, core.ErrTokenNotFound)

	_, err = svc.Validate(ctx, core.TokenMagicLink, issued.Secret, "192.168.1.1")
	require.ErrorIs(t, err, core.ErrTokenIPDenied)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Validate(ctx, core.TokenMagicLink, issued.Secret, "10.0.0.1")
	require.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestTokenConsumeExhausts(t *testing.T) {
	store := NewFakeStorage()
	svc := NewTokenService(store, nil)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, IssueInput{
		AccountID: "acc-1",
		Kind:      core.TokenMagicLink,
		TTL:       time.Hour,
		MaxUses:   1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Consume(ctx, core.TokenMagicLink, issued.Token.ID, "10.0.0.1"))

	_, err = svc.Validate(ctx, core.TokenMagicLink, issued.Secret, "10.0.0.1")
	require.ErrorIs(t, err, core.ErrTokenExhausted)

	err = svc.Consume(ctx, core.TokenMagicLink, issued.Token.ID, "10.0.0.2")
	require.ErrorIs(t, err, core.ErrTokenExhausted)

	stored, err := store.GetTokenByID(ctx, core.TokenMagicLink, issued.Token.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1"}, stored.UsedIPs, "losing consume must not be audited")
}

func TestTokenConcurrentConsumeSingleWinner(t *testing.T) {
	store := NewFakeStorage()
	svc := NewTokenService(store, nil)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, IssueInput{
		AccountID: "acc-1",
		Kind:      core.TokenMagicLink,
		TTL:       time.Hour,
		MaxUses:   1,
	})
	require.NoError(t, err)

	const workers = 16
	results := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Consume(ctx, core.TokenMagicLink, issued.Token.ID, "10.0.0.1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			require.True(t, errors.Is(err, core.ErrTokenExhausted))
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent redemption may win")
}

func TestTokenRevoke(t *testing.T) {
	store := NewFakeStorage()
	svc := NewTokenService(store, nil)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, IssueInput{
		AccountID: "acc-1",
		Kind:      core.TokenRemember,
		TTL:       time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, core.TokenRemember, issued.Token.ID))

	_, err = svc.Validate(ctx, core.TokenRemember, issued.Secret, "")
	require.Error(t, err)

	// The record survives revocation for auditing.
	_, err = store.GetTokenByID(ctx, core.TokenRemember, issued.Token.ID)
	require.NoError(t, err)
}

func TestTokenRevokeAll(t *testing.T) {
	store := NewFakeStorage()
	svc := NewTokenService(store, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Issue(ctx, IssueInput{AccountID: "acc-1", Kind: core.TokenReset, TTL: time.Hour})
		require.NoError(t, err)
	}
	other, err := svc.Issue(ctx, IssueInput{AccountID: "acc-2", Kind: core.TokenReset, TTL: time.Hour})
	require.NoError(t, err)

	n, err := svc.RevokeAll(ctx, core.TokenReset, "acc-1")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Other accounts keep their tokens.
	_, err = svc.Validate(ctx, core.TokenReset, other.Secret, "")
	require.NoError(t, err)
}
