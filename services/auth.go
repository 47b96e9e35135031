package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/apitoken"
	"github.com/mfreitas/gatehouse/pkg/crypto"
	"github.com/mfreitas/gatehouse/pkg/logging"
)

const (
	accountKeyPrefix  = "gh:account:"
	activeSessionsKey = "gh:active_sessions"

	// activeSessionsTTL bounds how long the live-session counter survives
	// without a login refreshing it.
	activeSessionsTTL = time.Hour
)

// LoginInput contains the credentials for authentication.
type LoginInput struct {
	Email    string
	Password string
	Remember bool
}

// LoginResult contains the authenticated account and its session
// material. RememberToken and APIToken are set only when applicable, and
// like the session token they are never recoverable later.
type LoginResult struct {
	Account       *core.Account `json:"account"`
	Session       *core.Session `json:"session"`
	Token         string        `json:"token"`                   // raw session secret
	RememberToken string        `json:"rememberToken,omitempty"` // raw remember secret
	APIToken      string        `json:"apiToken,omitempty"`      // signed credential for token-driver guards
}

// AuthService is the primary authenticator: it verifies credentials,
// orchestrates session creation and teardown, remember tokens and
// current-user resolution. Every check failure is reported as a sentinel
// error, never a fault; only unreachable collaborators surface as wrapped
// infrastructure errors.
type AuthService struct {
	store    core.Storage
	cache    core.Cache
	hasher   crypto.PasswordHandler
	sessions *SessionManager
	lockout  *LockoutService
	tokens   *TokenService
	mailer   core.Mailer
	events   core.EventSink
	logger   logging.Logger
	policy   core.Policy
	secret   []byte
	now      func() time.Time
}

// NewAuthService wires the primary authenticator. mailer and events may be
// nil; secret signs token-driver guard credentials.
func NewAuthService(store core.Storage, cache core.Cache, hasher crypto.PasswordHandler, sessions *SessionManager, lockout *LockoutService, tokens *TokenService, mailer core.Mailer, events core.EventSink, logger logging.Logger, policy core.Policy, secret []byte) *AuthService {
	if logger == nil {
		logger = logging.Nop{}
	}
	if mailer == nil {
		mailer = core.NopMailer{}
	}
	return &AuthService{
		store:    store,
		cache:    cache,
		hasher:   hasher,
		sessions: sessions,
		lockout:  lockout,
		tokens:   tokens,
		mailer:   mailer,
		events:   events,
		logger:   logger,
		policy:   policy,
		secret:   secret,
		now:      time.Now,
	}
}

// Login authenticates email/password under the given guard.
//
// The lock check runs first so locked identities are rejected without a
// database hit and without leaking whether the password was right. Lookup
// and verification failures increment the lockout counter; an inactive
// account does not.
func (s *AuthService) Login(ctx context.Context, guard core.GuardConfig, in LoginInput, rc core.RequestContext) (*LoginResult, error) {
	email := core.NormalizeEmail(in.Email)

	locked, err := s.lockout.IsLocked(ctx, email)
	if err != nil {
		return nil, err
	}
	if locked {
		s.logFailure(ctx, email, "account locked", rc)
		return nil, core.ErrAccountLocked
	}

	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			s.logFailure(ctx, email, "account not found", rc)
			if ferr := s.lockout.RecordFailure(ctx, email, rc); ferr != nil {
				return nil, ferr
			}
			return nil, core.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	valid, err := s.hasher.Verify(in.Password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		s.logFailure(ctx, email, "invalid password", rc)
		if ferr := s.lockout.RecordFailure(ctx, email, rc); ferr != nil {
			return nil, ferr
		}
		return nil, core.ErrInvalidCredentials
	}

	if !account.Usable() {
		s.logFailure(ctx, email, "account inactive", rc)
		return nil, core.ErrAccountInactive
	}

	if err := s.lockout.RecordSuccess(ctx, email); err != nil {
		return nil, err
	}

	return s.establish(ctx, guard, account, in.Remember, "standard", rc)
}

// Once verifies credentials without establishing any session, for
// stateless one-shot checks.
func (s *AuthService) Once(ctx context.Context, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}

	account, err := s.store.GetAccountByEmail(ctx, core.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to find account: %w", err)
	}

	valid, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return false, fmt.Errorf("failed to verify password: %w", err)
	}

	return valid && account.Usable(), nil
}

// Logout tears down the current session, invalidates the account's
// remember tokens and reports whether an authenticated context existed.
func (s *AuthService) Logout(ctx context.Context, rc core.RequestContext) (bool, error) {
	if rc.SessionToken == "" {
		return false, nil
	}

	session, err := s.sessions.Verify(ctx, rc.SessionToken)
	if err != nil {
		if isAuthReject(err) {
			return false, nil
		}
		return false, err
	}

	if err := s.sessions.Destroy(ctx, rc.SessionToken); err != nil && !errors.Is(err, core.ErrSessionNotFound) {
		return false, fmt.Errorf("failed to destroy session: %w", err)
	}

	if _, err := s.tokens.RevokeAll(ctx, core.TokenRemember, session.AccountID); err != nil {
		return false, err
	}

	_ = s.cache.Delete(ctx, accountKeyPrefix+crypto.HashSecret(rc.SessionToken))
	if _, err := s.cache.Decrement(ctx, activeSessionsKey); err != nil {
		s.logger.Warn(ctx, "session counter decrement failed", "error", err)
	}

	logAttempt(ctx, s.store, s.logger, attemptLogoutSuccess, session.AccountID, rc, nil)
	publish(s.events, EventLogout, map[string]any{
		"account_id": session.AccountID,
		"guard":      session.Guard,
		"timestamp":  s.now().Unix(),
	})

	return true, nil
}

// CurrentUser resolves the authenticated account for a request, in order:
// hot cache keyed by session, live session, then remember token. A
// remember-token hit is promoted back into the hot cache with a bounded
// TTL that never exceeds the guard's own timeout.
func (s *AuthService) CurrentUser(ctx context.Context, guard core.GuardConfig, rc core.RequestContext) (*core.Account, error) {
	if rc.SessionToken != "" {
		cacheKey := accountKeyPrefix + crypto.HashSecret(rc.SessionToken)

		if account, ok := s.cachedAccount(ctx, cacheKey); ok {
			return account, nil
		}

		session, err := s.sessions.Verify(ctx, rc.SessionToken)
		if err == nil {
			account, err := s.usableAccount(ctx, session.AccountID)
			if err != nil {
				return nil, err
			}
			if account != nil {
				s.cacheAccount(ctx, cacheKey, account, guard)
				return account, nil
			}
		} else if !isAuthReject(err) {
			return nil, err
		}
	}

	if rc.RememberToken != "" {
		cacheKey := accountKeyPrefix + crypto.HashSecret(rc.RememberToken)

		if account, ok := s.cachedAccount(ctx, cacheKey); ok {
			return account, nil
		}

		token, err := s.tokens.Validate(ctx, core.TokenRemember, rc.RememberToken, rc.IP)
		if err != nil {
			if isAuthReject(err) {
				return nil, nil
			}
			return nil, err
		}

		account, err := s.usableAccount(ctx, token.AccountID)
		if err != nil {
			return nil, err
		}
		if account != nil {
			s.cacheAccount(ctx, cacheKey, account, guard)
			return account, nil
		}
	}

	return nil, nil
}

// establish finishes a successful authentication: fresh session, optional
// remember token, signed API credential for token-driver guards, hot
// cache placement, last-login metadata, audit entry, notification mail
// and event. Shared with the magic-link flow.
func (s *AuthService) establish(ctx context.Context, guard core.GuardConfig, account *core.Account, remember bool, method string, rc core.RequestContext) (*LoginResult, error) {
	sessionResult, err := s.sessions.Create(ctx, account.ID, guard, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	result := &LoginResult{
		Account: account,
		Session: sessionResult.Session,
		Token:   sessionResult.Token,
	}

	if remember {
		issued, err := s.tokens.Issue(ctx, IssueInput{
			AccountID: account.ID,
			Kind:      core.TokenRemember,
			TTL:       s.policy.RememberTTL,
			MaxUses:   1,
		})
		if err != nil {
			return nil, err
		}
		result.RememberToken = issued.Secret
	}

	if guard.Driver == core.DriverToken && len(s.secret) > 0 {
		signed, err := apitoken.Issue(account.ID, guard.Name, s.secret, guard.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to sign api token: %w", err)
		}
		result.APIToken = signed
	}

	now := s.now()
	if err := s.store.RecordLogin(ctx, account.ID, now, rc.IP); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	account.LastLoginAt = &now
	account.LastLoginIP = rc.IP
	account.LoginCount++

	s.cacheAccount(ctx, accountKeyPrefix+sessionResult.Session.TokenHash, account, guard)
	if _, err := s.cache.Increment(ctx, activeSessionsKey, activeSessionsTTL); err != nil {
		s.logger.Warn(ctx, "session counter increment failed", "error", err)
	}

	logAttempt(ctx, s.store, s.logger, attemptLoginSuccess, account.ID, rc, map[string]string{
		"email":  account.Email,
		"method": method,
	})

	if err := s.mailer.Send(ctx, account.Email, loginNotificationSubject(),
		loginNotificationBody(displayName(account), now, rc.IP, rc.UserAgent),
		displayName(account), mailTagLoginNotification); err != nil {
		// Notification mail is best-effort; the login already happened.
		s.logger.Warn(ctx, "login notification failed", "account", account.ID, "error", err)
	}

	publish(s.events, EventLogin, map[string]any{
		"account_id": account.ID,
		"guard":      guard.Name,
		"method":     method,
		"timestamp":  now.Unix(),
	})

	s.logger.Info(ctx, "login succeeded", "account", account.ID, "guard", guard.Name, "method", method)
	return result, nil
}

// ActiveSessions reports the cache-tracked count of live sessions.
func (s *AuthService) ActiveSessions(ctx context.Context) int64 {
	raw, err := s.cache.Get(ctx, activeSessionsKey)
	if err != nil {
		return 0
	}
	var n int64
	fmt.Sscanf(string(raw), "%d", &n)
	return n
}

func (s *AuthService) usableAccount(ctx context.Context, accountID string) (*core.Account, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !account.Usable() {
		return nil, nil
	}
	return account, nil
}

func (s *AuthService) cachedAccount(ctx context.Context, key string) (*core.Account, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var account core.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, false
	}
	return &account, true
}

// cacheAccount places an account in the hot cache for the configured TTL,
// never exceeding the guard's session lifetime.
func (s *AuthService) cacheAccount(ctx context.Context, key string, account *core.Account, guard core.GuardConfig) {
	ttl := s.policy.CurrentUserTTL
	if guard.Timeout > 0 && guard.Timeout < ttl {
		ttl = guard.Timeout
	}
	raw, err := json.Marshal(account)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, key, raw, ttl)
}

func (s *AuthService) logFailure(ctx context.Context, email, reason string, rc core.RequestContext) {
	logAttempt(ctx, s.store, s.logger, attemptLoginFailed, "", rc, map[string]string{
		"email":  email,
		"reason": reason,
	})
}

func displayName(a *core.Account) string {
	if a.Username != "" {
		return a.Username
	}
	return a.Email
}

// isAuthReject reports whether err is an expected rejection rather than an
// infrastructure fault.
func isAuthReject(err error) bool {
	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrSessionExpired),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrTokenNotFound),
		errors.Is(err, core.ErrTokenExpired),
		errors.Is(err, core.ErrTokenExhausted),
		errors.Is(err, core.ErrTokenIPDenied):
		return true
	}
	return false
}
