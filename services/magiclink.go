package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/logging"
)

// Magic-link defaults applied when GenerateInput leaves a field zero.
const (
	defaultMagicPurpose  = "login"
	defaultMagicRedirect = "/dashboard/"
	defaultMagicTTL      = 24 * time.Hour
	defaultMagicMaxUses  = 1
)

// GenerateInput describes the magic link to mint. Zero fields fall back
// to the login defaults above.
type GenerateInput struct {
	AccountID   string
	Purpose     string
	RedirectURL string
	TTL         time.Duration
	MaxUses     int
	IPAllowList []string
	Metadata    map[string]string
	CreatedBy   string
}

// GeneratedLink couples the persisted token with the one-time secret and
// the fully built login URL.
type GeneratedLink struct {
	Token *core.BearerToken `json:"token"`
	URL   string            `json:"url"`
}

// LinkStats summarizes an account's recent magic links for an admin
// surface.
type LinkStats struct {
	Total   int                 `json:"total"`
	Active  int                 `json:"active"`
	Expired int                 `json:"expired"`
	Used    int                 `json:"used"`
	Links   []*core.BearerToken `json:"links"`
}

// MagicLinkService mints, verifies and redeems passwordless login links.
// Redemption hands off to the authenticator so a magic-link login produces
// the same session material as a password login.
type MagicLinkService struct {
	store   core.Storage
	auth    *AuthService
	tokens  *TokenService
	mailer  core.Mailer
	events  core.EventSink
	logger  logging.Logger
	baseURL string
	now     func() time.Time
}

func NewMagicLinkService(store core.Storage, auth *AuthService, tokens *TokenService, mailer core.Mailer, events core.EventSink, logger logging.Logger, baseURL string) *MagicLinkService {
	if logger == nil {
		logger = logging.Nop{}
	}
	if mailer == nil {
		mailer = core.NopMailer{}
	}
	return &MagicLinkService{
		store:   store,
		auth:    auth,
		tokens:  tokens,
		mailer:  mailer,
		events:  events,
		logger:  logger,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Generate mints a magic link for an existing, usable account.
func (s *MagicLinkService) Generate(ctx context.Context, in GenerateInput, rc core.RequestContext) (*GeneratedLink, error) {
	account, err := s.store.GetAccountByID(ctx, in.AccountID)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return nil, core.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !account.Usable() {
		return nil, core.ErrAccountInactive
	}

	if in.Purpose == "" {
		in.Purpose = defaultMagicPurpose
	}
	if in.RedirectURL == "" {
		in.RedirectURL = defaultMagicRedirect
	}
	if in.TTL <= 0 {
		in.TTL = defaultMagicTTL
	}
	if in.MaxUses <= 0 {
		in.MaxUses = defaultMagicMaxUses
	}

	issued, err := s.tokens.Issue(ctx, IssueInput{
		AccountID:   account.ID,
		Kind:        core.TokenMagicLink,
		Purpose:     in.Purpose,
		RedirectURL: in.RedirectURL,
		TTL:         in.TTL,
		MaxUses:     in.MaxUses,
		IPAllowList: in.IPAllowList,
		Metadata:    in.Metadata,
		CreatedBy:   in.CreatedBy,
	})
	if err != nil {
		return nil, err
	}

	logAttempt(ctx, s.store, s.logger, attemptMagicGenerated, account.ID, rc, map[string]string{
		"purpose":  in.Purpose,
		"token_id": issued.Token.ID,
	})
	publish(s.events, EventMagicLinkGenerated, map[string]any{
		"account_id": account.ID,
		"token_id":   issued.Token.ID,
		"purpose":    in.Purpose,
		"timestamp":  s.now().Unix(),
	})

	return &GeneratedLink{
		Token: issued.Token,
		URL:   s.buildURL(issued.Secret, in.RedirectURL),
	}, nil
}

// Verify checks a raw magic-link secret without spending a use, including
// that the owning account is still usable. Callers can distinguish
// rejection reasons through the sentinels.
func (s *MagicLinkService) Verify(ctx context.Context, raw string, rc core.RequestContext) (*core.BearerToken, error) {
	token, err := s.tokens.Validate(ctx, core.TokenMagicLink, raw, rc.IP)
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

	return token, nil
}

// LoginWithToken redeems a magic link and establishes a session under the
// given guard. Concurrent redemption of a single-use link has exactly one
// winner. The result carries the token's redirect target verbatim.
func (s *MagicLinkService) LoginWithToken(ctx context.Context, guard core.GuardConfig, raw string, rc core.RequestContext) (*LoginResult, string, error) {
	token, err := s.Verify(ctx, raw, rc)
	if err != nil {
		return nil, "", err
	}

	account, err := s.store.GetAccountByID(ctx, token.AccountID)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			return nil, "", core.ErrTokenNotFound
		}
		return nil, "", fmt.Errorf("failed to get account: %w", err)
	}
	if !account.Usable() {
		return nil, "", core.ErrAccountInactive
	}

	if err := s.tokens.Consume(ctx, core.TokenMagicLink, token.ID, rc.IP); err != nil {
		return nil, "", err
	}

	result, err := s.auth.establish(ctx, guard, account, false, "magic_link", rc)
	if err != nil {
		return nil, "", err
	}

	logAttempt(ctx, s.store, s.logger, attemptMagicLogin, account.ID, rc, map[string]string{
		"token_id": token.ID,
		"purpose":  token.Purpose,
	})
	publish(s.events, EventMagicLinkUsed, map[string]any{
		"account_id": account.ID,
		"token_id":   token.ID,
		"purpose":    token.Purpose,
		"timestamp":  s.now().Unix(),
	})

	return result, token.RedirectURL, nil
}

// Revoke forces a link into its terminal unusable state.
func (s *MagicLinkService) Revoke(ctx context.Context, tokenID string, rc core.RequestContext) error {
	token, err := s.store.GetTokenByID(ctx, core.TokenMagicLink, tokenID)
	if err != nil {
		if errors.Is(err, core.ErrTokenNotFound) {
			return core.ErrTokenNotFound
		}
		return fmt.Errorf("failed to get token: %w", err)
	}

	if err := s.tokens.Revoke(ctx, core.TokenMagicLink, token.ID); err != nil {
		return err
	}

	logAttempt(ctx, s.store, s.logger, attemptMagicRevoked, token.AccountID, rc, map[string]string{
		"token_id": token.ID,
	})
	return nil
}

// Stats reports the account's 50 most recent links bucketed by state.
func (s *MagicLinkService) Stats(ctx context.Context, accountID string) (*LinkStats, error) {
	links, err := s.store.ListAccountTokens(ctx, core.TokenMagicLink, accountID, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	stats := &LinkStats{Links: links, Total: len(links)}
	now := s.now()
	for _, link := range links {
		switch {
		case link.Exhausted():
			stats.Used++
		case link.Expired(now):
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats, nil
}

// SendEmail generates a magic link and mails it to the account's address.
// customMessage overrides the purpose-derived body text when non-empty.
func (s *MagicLinkService) SendEmail(ctx context.Context, in GenerateInput, customMessage string, rc core.RequestContext) (*GeneratedLink, error) {
	link, err := s.Generate(ctx, in, rc)
	if err != nil {
		return nil, err
	}

	account, err := s.store.GetAccountByID(ctx, link.Token.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	ttl := time.Until(link.Token.ExpiresAt)
	if err := s.mailer.Send(ctx, account.Email, magicLinkSubject(link.Token.Purpose),
		magicLinkBody(displayName(account), link.URL, link.Token.Purpose, ttl, customMessage),
		displayName(account), "magic_link"); err != nil {
		s.logger.Error(ctx, "magic link mail delivery failed", "account", account.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", core.ErrMailDelivery, err)
	}

	return link, nil
}

func (s *MagicLinkService) buildURL(secret, redirect string) string {
	q := url.Values{}
	q.Set("token", secret)
	if redirect != "" {
		q.Set("redirect", redirect)
	}
	return fmt.Sprintf("%s/magic-login?%s", s.baseURL, q.Encode())
}
