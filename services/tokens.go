package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/crypto"
	"github.com/mfreitas/gatehouse/pkg/logging"

	"github.com/google/uuid"
)

// magicSecretLength gives magic links 64 bytes of entropy; other token
// kinds use the 32-byte default.
const magicSecretLength = 64

// IssueInput describes the token to mint.
type IssueInput struct {
	AccountID   string
	Kind        core.TokenKind
	Purpose     string // magic links only
	RedirectURL string // magic links only
	TTL         time.Duration
	MaxUses     int
	IPAllowList []string
	Metadata    map[string]string
	CreatedBy   string
}

// IssuedToken couples the persisted record with the raw secret, which is
// returned to the caller exactly once and cannot be recovered afterwards.
type IssuedToken struct {
	Token  *core.BearerToken
	Secret string
}

// TokenService generates, validates, consumes and revokes opaque bearer
// secrets. Validation is read-only; only Consume spends a use.
type TokenService struct {
	store  core.TokenStorage
	logger logging.Logger
	now    func() time.Time
}

func NewTokenService(store core.TokenStorage, logger logging.Logger) *TokenService {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &TokenService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Issue mints a token, persisting only the hash of its secret.
func (s *TokenService) Issue(ctx context.Context, in IssueInput) (*IssuedToken, error) {
	if in.MaxUses <= 0 {
		in.MaxUses = 1
	}

	secretLen := crypto.DefaultSecretLength
	if in.Kind == core.TokenMagicLink {
		secretLen = magicSecretLength
	}

	pair, err := crypto.GeneratePair(secretLen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	now := s.now()
	token := &core.BearerToken{
		ID:          uuid.NewString(),
		AccountID:   in.AccountID,
		Hash:        pair.Hash,
		Kind:        in.Kind,
		Purpose:     in.Purpose,
		RedirectURL: in.RedirectURL,
		MaxUses:     in.MaxUses,
		UsesCount:   0,
		IPAllowList: in.IPAllowList,
		Metadata:    in.Metadata,
		CreatedBy:   in.CreatedBy,
		ExpiresAt:   now.Add(in.TTL),
		CreatedAt:   now,
	}

	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	return &IssuedToken{Token: token, Secret: pair.Secret}, nil
}

// Validate looks a token up by the hash of its raw secret and checks
// expiry, use exhaustion and the IP allow-list. It never changes
// uses_count, so callers can probe validity without spending a use.
func (s *TokenService) Validate(ctx context.Context, kind core.TokenKind, rawSecret, callerIP string) (*core.BearerToken, error) {
	if rawSecret == "" {
		return nil, core.ErrTokenNotFound
	}

	token, err := s.store.GetTokenByHash(ctx, kind, crypto.HashSecret(rawSecret))
	if err != nil {
		if errors.Is(err, core.ErrTokenNotFound) {
			return nil, core.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if token.Expired(s.now()) {
		return nil, core.ErrTokenExpired
	}
	if token.Exhausted() {
		return nil, core.ErrTokenExhausted
	}
	if !token.AllowsIP(callerIP) {
		return nil, core.ErrTokenIPDenied
	}

	return token, nil
}

// Consume spends one use of the token and appends callerIP to its used-IP
// audit list. The storage layer guards the increment with
// uses_count < max_uses, so concurrent redemption of a single-use token
// has exactly one winner; losers receive core.ErrTokenExhausted.
func (s *TokenService) Consume(ctx context.Context, kind core.TokenKind, tokenID, callerIP string) error {
	if err := s.store.ConsumeToken(ctx, kind, tokenID, callerIP); err != nil {
		if errors.Is(err, core.ErrTokenExhausted) {
			return core.ErrTokenExhausted
		}
		return fmt.Errorf("failed to consume token: %w", err)
	}
	return nil
}

// Revoke forces a token to its terminal unusable state while keeping the
// audit trail.
func (s *TokenService) Revoke(ctx context.Context, kind core.TokenKind, tokenID string) error {
	if err := s.store.RevokeToken(ctx, kind, tokenID); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// RevokeAll deletes every outstanding token of the given kind for an
// account and returns how many were removed. Used after a successful
// password reset so no stale reset token stays redeemable.
func (s *TokenService) RevokeAll(ctx context.Context, kind core.TokenKind, accountID string) (int, error) {
	n, err := s.store.DeleteAccountTokens(ctx, kind, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tokens: %w", err)
	}
	return n, nil
}
