// Package gatehouse is an embeddable authentication core: credential
// verification, multi-guard sessions, remember tokens, brute-force
// lockout, password lifecycle and magic-link login. It owns no HTTP
// surface and no schema of its own; storage, cache, mail and transport
// are all injected adapters.
package gatehouse

import (
	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/cache"
	"github.com/mfreitas/gatehouse/pkg/crypto"
	"github.com/mfreitas/gatehouse/pkg/logging"
	"github.com/mfreitas/gatehouse/services"
)

// Re-exported core types so embedders only import the root package.
type (
	Account        = core.Account
	Session        = core.Session
	SessionData    = core.SessionData
	BearerToken    = core.BearerToken
	RequestContext = core.RequestContext
	GuardConfig    = core.GuardConfig
	Policy         = core.Policy
	Storage        = core.Storage
	Cache          = core.Cache
	Mailer         = core.Mailer
	EventSink      = core.EventSink

	LoginInput    = services.LoginInput
	LoginResult   = services.LoginResult
	RegisterInput = services.RegisterInput
	GenerateInput = services.GenerateInput
)

// Re-exported sentinels for errors.Is at the boundary.
var (
	ErrAccountNotFound    = core.ErrAccountNotFound
	ErrInvalidCredentials = core.ErrInvalidCredentials
	ErrAccountInactive    = core.ErrAccountInactive
	ErrAccountLocked      = core.ErrAccountLocked
	ErrAccountExists      = core.ErrAccountExists
	ErrUsernameTaken      = core.ErrUsernameTaken
	ErrAlreadyVerified    = core.ErrAlreadyVerified
	ErrSessionExpired     = core.ErrSessionExpired
	ErrTokenNotFound      = core.ErrTokenNotFound
	ErrTokenExpired       = core.ErrTokenExpired
	ErrTokenExhausted     = core.ErrTokenExhausted
	ErrWeakPassword       = core.ErrWeakPassword
	ErrPasswordReused     = core.ErrPasswordReused
	ErrUnknownGuard       = core.ErrUnknownGuard
)

const minSecretLength = 32

// Config wires a Gatehouse. Storage and Secret are required; everything
// else has a working default.
type Config struct {
	// Storage persists accounts, sessions, tokens, history and the audit
	// log. Required.
	Storage core.Storage

	// Secret signs API credentials for token-driver guards. At least 32
	// characters. Required.
	Secret string

	// BaseURL prefixes links placed in outbound mail, e.g.
	// "https://app.example.com".
	BaseURL string

	// Cache backs lockout counters, lock records and the hot user cache.
	// Defaults to an in-process TTL map.
	Cache core.Cache

	// Hasher verifies and produces password hashes. Defaults to argon2id
	// with OWASP parameters.
	Hasher crypto.PasswordHandler

	// Mailer delivers reset, magic-link and notification mail. Defaults to
	// a no-op.
	Mailer core.Mailer

	// Events receives fire-and-forget notifications. Defaults to a no-op.
	Events core.EventSink

	// Logger receives structured diagnostics. Defaults to a no-op.
	Logger logging.Logger

	// Guards is the named guard set. Defaults to web/api/admin.
	Guards map[string]core.GuardConfig

	// Policy holds the tunable numbers (lockout, TTLs, password rules).
	// Zero value means DefaultPolicy.
	Policy *core.Policy

	// SessionConfig is the fallback session lifetime for guards without a
	// timeout of their own.
	SessionConfig *core.SessionConfig
}

// Gatehouse bundles the wired services behind one handle.
type Gatehouse struct {
	Auth         *services.AuthService
	Sessions     *services.SessionManager
	Lockout      *services.LockoutService
	Tokens       *services.TokenService
	Passwords    *services.PasswordService
	MagicLinks   *services.MagicLinkService
	Guards       *services.GuardRegistry
	Registration *services.RegistrationService

	config Config
}

// New validates the configuration and wires every service.
func New(cfg Config) (*Gatehouse, error) {
	if cfg.Storage == nil {
		return nil, core.ErrStorageRequired
	}
	if cfg.Secret == "" {
		return nil, core.ErrSecretRequired
	}
	if len(cfg.Secret) < minSecretLength {
		return nil, core.ErrSecretTooShort
	}

	if cfg.Cache == nil {
		cfg.Cache = cache.New(core.CacheConfig{})
	}
	if cfg.Hasher == nil {
		cfg.Hasher = crypto.NewArgon2()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = core.NopMailer{}
	}
	if cfg.Events == nil {
		cfg.Events = core.NopEventSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop{}
	}
	if cfg.Guards == nil {
		cfg.Guards = core.DefaultGuards()
	}

	policy := core.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	sessionConfig := core.DefaultSessionConfig()
	if cfg.SessionConfig != nil {
		sessionConfig = *cfg.SessionConfig
	}

	sessions := services.NewSessionManager(sessionConfig, cfg.Storage, cfg.Cache)
	lockout := services.NewLockoutService(cfg.Cache, cfg.Storage, cfg.Events, cfg.Logger, policy)
	tokens := services.NewTokenService(cfg.Storage, cfg.Logger)
	auth := services.NewAuthService(cfg.Storage, cfg.Cache, cfg.Hasher, sessions, lockout, tokens, cfg.Mailer, cfg.Events, cfg.Logger, policy, []byte(cfg.Secret))
	passwords := services.NewPasswordService(cfg.Storage, cfg.Hasher, tokens, cfg.Mailer, cfg.Events, cfg.Logger, policy, cfg.BaseURL)
	magicLinks := services.NewMagicLinkService(cfg.Storage, auth, tokens, cfg.Mailer, cfg.Events, cfg.Logger, cfg.BaseURL)
	guards := services.NewGuardRegistry(cfg.Guards, cfg.Storage, cfg.Events, cfg.Logger)
	registration := services.NewRegistrationService(cfg.Storage, cfg.Hasher, passwords, tokens, cfg.Mailer, cfg.Events, cfg.Logger, cfg.BaseURL)

	return &Gatehouse{
		Auth:         auth,
		Sessions:     sessions,
		Lockout:      lockout,
		Tokens:       tokens,
		Passwords:    passwords,
		MagicLinks:   magicLinks,
		Guards:       guards,
		Registration: registration,
		config:       cfg,
	}, nil
}
