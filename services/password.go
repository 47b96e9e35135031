package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/crypto"
	"github.com/mfreitas/gatehouse/pkg/logging"

	"github.com/google/uuid"
)

// passwordSpecials is the exact punctuation set counted as its own
// character class.
const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

// ResetAck is the generic acknowledgment returned by RequestReset. Its
// shape is identical whether or not the identity exists, so callers cannot
// enumerate accounts.
type ResetAck struct {
	Message string `json:"message"`
}

func genericResetAck() *ResetAck {
	return &ResetAck{Message: "If the email exists, a reset link has been sent."}
}

// PasswordService owns the reset-request/validate/consume flow, in-session
// password changes, history enforcement and strength validation.
type PasswordService struct {
	store   core.Storage
	hasher  crypto.PasswordHandler
	tokens  *TokenService
	mailer  core.Mailer
	events  core.EventSink
	logger  logging.Logger
	policy  core.Policy
	baseURL string
	now     func() time.Time
}

// NewPasswordService wires the password manager. baseURL prefixes the
// reset link placed in outbound mail.
func NewPasswordService(store core.Storage, hasher crypto.PasswordHandler, tokens *TokenService, mailer core.Mailer, events core.EventSink, logger logging.Logger, policy core.Policy, baseURL string) *PasswordService {
	if logger == nil {
		logger = logging.Nop{}
	}
	if mailer == nil {
		mailer = core.NopMailer{}
	}
	return &PasswordService{
		store:   store,
		hasher:  hasher,
		tokens:  tokens,
		mailer:  mailer,
		events:  events,
		logger:  logger,
		policy:  policy,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// RequestReset issues a reset token and mails it when the identity exists
// and is usable. The acknowledgment is identical either way. A mail
// delivery failure is surfaced as core.ErrMailDelivery; the token itself
// stays valid since it was already durably persisted.
func (s *PasswordService) RequestReset(ctx context.Context, email string, rc core.RequestContext) (*ResetAck, error) {
	email = core.NormalizeEmail(email)

	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return genericResetAck(), nil
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if !account.Usable() {
		return genericResetAck(), nil
	}

	issued, err := s.tokens.Issue(ctx, IssueInput{
		AccountID: account.ID,
		Kind:      core.TokenReset,
		TTL:       s.policy.ResetTokenTTL,
		MaxUses:   1,
	})
	if err != nil {
		return nil, err
	}

	logAttempt(ctx, s.store, s.logger, attemptResetRequested, account.ID, rc, map[string]string{
		"email": account.Email,
	})
	publish(s.events, EventPasswordResetRequested, map[string]any{
		"account_id": account.ID,
		"email":      account.Email,
		"timestamp":  s.now().Unix(),
	})

	resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, issued.Secret)
	if err := s.mailer.Send(ctx, account.Email, passwordResetSubject(),
		passwordResetBody(displayName(account), resetURL, s.policy.ResetTokenTTL),
		displayName(account), mailTagPasswordReset); err != nil {
		s.logger.Error(ctx, "reset mail delivery failed", "account", account.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", core.ErrMailDelivery, err)
	}

	return genericResetAck(), nil
}

// ValidateResetToken checks a raw reset secret without consuming it and
// re-verifies the owning account is still usable.
func (s *PasswordService) ValidateResetToken(ctx context.Context, raw string, rc core.RequestContext) (*core.Account, error) {
	token, err := s.tokens.Validate(ctx, core.TokenReset, raw, rc.IP)
	if err != nil {
		return nil, err
	}

	account, err := s.store.GetAccountByID(ctx, token.AccountID)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return nil, core.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !account.Usable() {
		return nil, core.ErrAccountInactive
	}

	return account, nil
}

// ResetPassword redeems a reset token and commits a new password. On
// success every outstanding reset token for the account is invalidated, so
// a stale second token cannot still be redeemed.
func (s *PasswordService) ResetPassword(ctx context.Context, raw, newPassword string, rc core.RequestContext) error {
	account, err := s.ValidateResetToken(ctx, raw, rc)
	if err != nil {
		return err
	}

	if err := s.CheckStrength(newPassword); err != nil {
		return err
	}

	reused, err := s.inHistory(ctx, account.ID, newPassword)
	if err != nil {
		return err
	}
	if reused {
		return core.ErrPasswordReused
	}

	if err := s.commit(ctx, account, newPassword, "reset", rc); err != nil {
		return err
	}

	// Invalidate every outstanding reset token, not just the one used.
	if _, err := s.tokens.RevokeAll(ctx, core.TokenReset, account.ID); err != nil {
		return err
	}

	return nil
}

// UpdatePassword changes the password of a logged-in account after
// verifying the current secret.
func (s *PasswordService) UpdatePassword(ctx context.Context, accountID, currentPassword, newPassword string, rc core.RequestContext) error {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return core.ErrAccountNotFound
		}
		return fmt.Errorf("failed to get account: %w", err)
	}

	valid, err := s.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return core.ErrPasswordMismatch
	}

	if err := s.CheckStrength(newPassword); err != nil {
		return err
	}

	same, err := s.hasher.Verify(newPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if same {
		return core.ErrPasswordUnchanged
	}

	reused, err := s.inHistory(ctx, account.ID, newPassword)
	if err != nil {
		return err
	}
	if reused {
		return core.ErrPasswordReused
	}

	return s.commit(ctx, account, newPassword, "update", rc)
}

// ForceChange flags the account so the consumer's login flow can require a
// password change on next login.
func (s *PasswordService) ForceChange(ctx context.Context, accountID string, rc core.RequestContext) error {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return core.ErrAccountNotFound
		}
		return fmt.Errorf("failed to get account: %w", err)
	}

	account.ForcePasswordChange = true
	account.UpdatedAt = s.now()
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	logAttempt(ctx, s.store, s.logger, attemptPasswordForce, account.ID, rc, map[string]string{
		"email": account.Email,
	})
	return nil
}

// MustChange reports whether the force-change flag is set for accountID.
func (s *PasswordService) MustChange(ctx context.Context, accountID string) (bool, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get account: %w", err)
	}
	return account.ForcePasswordChange, nil
}

// CheckStrength enforces the strength policy exactly: minimum length, and
// at least the configured number of character classes out of uppercase,
// lowercase, digit and the fixed punctuation set.
func (s *PasswordService) CheckStrength(password string) error {
	if len(password) < s.policy.MinPasswordLength {
		return core.ErrWeakPassword
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSpecial = true
		}
	}

	classes := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			classes++
		}
	}

	if classes < s.policy.PasswordClasses {
		return core.ErrWeakPassword
	}
	return nil
}

// inHistory reports whether password matches one of the last N history
// hashes.
func (s *PasswordService) inHistory(ctx context.Context, accountID, password string) (bool, error) {
	history, err := s.store.ListPasswordHistory(ctx, accountID, s.policy.HistoryDepth)
	if err != nil {
		return false, fmt.Errorf("failed to read password history: %w", err)
	}

	for _, entry := range history {
		match, err := s.hasher.Verify(password, entry.PasswordHash)
		if err != nil {
			continue // unreadable legacy hash never blocks a change
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// commit stores the new hash, clears the force-change flag, appends to
// history (pruning beyond the configured depth), and emits the audit entry
// and event.
func (s *PasswordService) commit(ctx context.Context, account *core.Account, newPassword, method string, rc core.RequestContext) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	account.PasswordHash = hash
	account.ForcePasswordChange = false
	account.PasswordChangedAt = &now
	account.UpdatedAt = now
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	if err := s.store.AddPasswordHistory(ctx, &core.PasswordHistoryEntry{
		ID:           uuid.NewString(),
		AccountID:    account.ID,
		PasswordHash: hash,
		CreatedAt:    now,
	}); err != nil {
		return fmt.Errorf("failed to append password history: %w", err)
	}
	if err := s.store.PrunePasswordHistory(ctx, account.ID, s.policy.HistoryDepth); err != nil {
		return fmt.Errorf("failed to prune password history: %w", err)
	}

	logAttempt(ctx, s.store, s.logger, attemptPasswordChange, account.ID, rc, map[string]string{
		"email":  account.Email,
		"method": method,
	})
	publish(s.events, EventPasswordChanged, map[string]any{
		"account_id": account.ID,
		"email":      account.Email,
		"method":     method,
		"timestamp":  now.Unix(),
	})

	s.logger.Info(ctx, "password changed", "account", account.ID, "method", method)
	return nil
}
