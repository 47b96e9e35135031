package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/crypto"
	"github.com/mfreitas/gatehouse/pkg/logging"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// verificationTTL bounds how long an email-verification link stays
// redeemable.
const verificationTTL = time.Hour

// RegisterInput carries the fields of a signup request. Username is
// optional; when present it must be unique.
type RegisterInput struct {
	Email    string `validate:"required,email"`
	Username string `validate:"omitempty,min=3,max=32,alphanum"`
	Password string `validate:"required"`
}

// RegistrationService creates accounts and verifies their email
// addresses: input validation, uniqueness checks, strength policy,
// hashing, the initial password-history entry and the verification
// token lifecycle.
type RegistrationService struct {
	store    core.Storage
	hasher   crypto.PasswordHandler
	password *PasswordService
	tokens   *TokenService
	mailer   core.Mailer
	events   core.EventSink
	logger   logging.Logger
	validate *validator.Validate
	baseURL  string
	now      func() time.Time
}

func NewRegistrationService(store core.Storage, hasher crypto.PasswordHandler, password *PasswordService, tokens *TokenService, mailer core.Mailer, events core.EventSink, logger logging.Logger, baseURL string) *RegistrationService {
	if logger == nil {
		logger = logging.Nop{}
	}
	if mailer == nil {
		mailer = core.NopMailer{}
	}
	return &RegistrationService{
		store:    store,
		hasher:   hasher,
		password: password,
		tokens:   tokens,
		mailer:   mailer,
		events:   events,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		baseURL:  baseURL,
		now:      time.Now,
	}
}

// Register creates a new active, unverified account and mails a
// verification link. Duplicate email reports core.ErrAccountExists;
// duplicate username reports core.ErrUsernameTaken.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput, rc core.RequestContext) (*core.Account, error) {
	in.Email = core.NormalizeEmail(in.Email)

	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid registration input: %w", err)
	}

	if err := s.password.CheckStrength(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.store.GetAccountByEmail(ctx, in.Email); err == nil {
		return nil, core.ErrAccountExists
	} else if !errors.Is(err, core.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	if in.Username != "" {
		if _, err := s.store.GetAccountByUsername(ctx, in.Username); err == nil {
			return nil, core.ErrUsernameTaken
		} else if !errors.Is(err, core.ErrAccountNotFound) {
			return nil, fmt.Errorf("failed to check username: %w", err)
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	account := &core.Account{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, core.ErrAccountExists) {
			return nil, core.ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	// Seed history so the signup password counts against future reuse.
	if err := s.store.AddPasswordHistory(ctx, &core.PasswordHistoryEntry{
		ID:           uuid.NewString(),
		AccountID:    account.ID,
		PasswordHash: hash,
		CreatedAt:    now,
	}); err != nil {
		s.logger.Warn(ctx, "history seed failed", "account", account.ID, "error", err)
	}

	// The account already exists; a verification mail failure must not
	// undo the signup. The caller can resend through SendVerification.
	if err := s.sendVerificationMail(ctx, account); err != nil {
		s.logger.Warn(ctx, "verification mail failed", "account", account.ID, "error", err)
	}

	logAttempt(ctx, s.store, s.logger, attemptRegistration, account.ID, rc, map[string]string{
		"email": account.Email,
	})
	publish(s.events, EventRegistration, map[string]any{
		"account_id": account.ID,
		"email":      account.Email,
		"timestamp":  now.Unix(),
	})

	s.logger.Info(ctx, "account registered", "account", account.ID)
	return account, nil
}

// SendVerification mails a fresh verification link for an unverified
// account, invalidating any previously issued link.
func (s *RegistrationService) SendVerification(ctx context.Context, email string, rc core.RequestContext) error {
	account, err := s.store.GetAccountByEmail(ctx, core.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return core.ErrAccountNotFound
		}
		return fmt.Errorf("failed to find account: %w", err)
	}
	if account.Verified {
		return core.ErrAlreadyVerified
	}

	if _, err := s.tokens.RevokeAll(ctx, core.TokenVerification, account.ID); err != nil {
		return err
	}
	return s.sendVerificationMail(ctx, account)
}

// VerifyEmail redeems a verification link and marks the account
// verified. The token is single-use; any outstanding siblings from
// earlier resends are invalidated with it.
func (s *RegistrationService) VerifyEmail(ctx context.Context, rawSecret string, rc core.RequestContext) (*core.Account, error) {
	token, err := s.tokens.Validate(ctx, core.TokenVerification, rawSecret, rc.IP)
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
	if account.Verified {
		return nil, core.ErrAlreadyVerified
	}

	if err := s.tokens.Consume(ctx, core.TokenVerification, token.ID, rc.IP); err != nil {
		return nil, err
	}

	now := s.now()
	account.Verified = true
	account.VerifiedAt = &now
	account.UpdatedAt = now
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if _, err := s.tokens.RevokeAll(ctx, core.TokenVerification, account.ID); err != nil {
		s.logger.Warn(ctx, "verification token cleanup failed", "account", account.ID, "error", err)
	}

	logAttempt(ctx, s.store, s.logger, attemptEmailVerified, account.ID, rc, map[string]string{
		"email": account.Email,
	})
	publish(s.events, EventEmailVerified, map[string]any{
		"account_id": account.ID,
		"email":      account.Email,
		"timestamp":  now.Unix(),
	})

	s.logger.Info(ctx, "email verified", "account", account.ID)
	return account, nil
}

func (s *RegistrationService) sendVerificationMail(ctx context.Context, account *core.Account) error {
	issued, err := s.tokens.Issue(ctx, IssueInput{
		AccountID: account.ID,
		Kind:      core.TokenVerification,
		TTL:       verificationTTL,
		MaxUses:   1,
	})
	if err != nil {
		return err
	}

	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, issued.Secret)
	if err := s.mailer.Send(ctx, account.Email, verificationSubject(),
		verificationBody(displayName(account), verifyURL, verificationTTL),
		displayName(account), mailTagVerification); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMailDelivery, err)
	}
	return nil
}
