package core

import (
	"context"
	"time"
)

// Ports define interfaces for external dependencies

// ============================================
// STORAGE PORTS (Database operations)
// ============================================

// AccountStorage defines account-related database operations
type AccountStorage interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
	SoftDeleteAccount(ctx context.Context, id string) error

	// RecordLogin persists last-login metadata and bumps the login counter
	// with an atomic increment at the storage layer.
	RecordLogin(ctx context.Context, id string, at time.Time, ip string) error
}

// SessionStorage defines session-related database operations
type SessionStorage interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByHash(ctx context.Context, tokenHash string) (*Session, error)
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	DeleteSessionByHash(ctx context.Context, tokenHash string) error
	DeleteSessionByID(ctx context.Context, id string) error
	DeleteAccountSessions(ctx context.Context, accountID string) (int, error)
	DeleteExpiredSessions(ctx context.Context) (int, error)
}

// TokenStorage defines bearer-token database operations. The kind selects
// the backing table (reset, remember, magic link).
type TokenStorage interface {
	CreateToken(ctx context.Context, t *BearerToken) error
	GetTokenByHash(ctx context.Context, kind TokenKind, hash string) (*BearerToken, error)
	GetTokenByID(ctx context.Context, kind TokenKind, id string) (*BearerToken, error)
	ListAccountTokens(ctx context.Context, kind TokenKind, accountID string, limit int) ([]*BearerToken, error)

	// ConsumeToken increments uses_count and appends ip to the used-IP audit
	// list. The increment is guarded by uses_count < max_uses at the storage
	// layer: under concurrent redemption exactly one caller wins the final
	// use and the rest receive ErrTokenExhausted.
	ConsumeToken(ctx context.Context, kind TokenKind, id string, ip string) error

	// RevokeToken forces the token into its terminal state (expiry in the
	// past, uses maxed out) without deleting the audit trail.
	RevokeToken(ctx context.Context, kind TokenKind, id string) error

	DeleteAccountTokens(ctx context.Context, kind TokenKind, accountID string) (int, error)
}

// HistoryStorage defines password-history database operations
type HistoryStorage interface {
	AddPasswordHistory(ctx context.Context, e *PasswordHistoryEntry) error
	ListPasswordHistory(ctx context.Context, accountID string, limit int) ([]*PasswordHistoryEntry, error)
	PrunePasswordHistory(ctx context.Context, accountID string, keep int) error
}

// AttemptStorage appends to the write-once authentication audit log
type AttemptStorage interface {
	LogAttempt(ctx context.Context, r *AttemptRecord) error
}

// Storage is the full set of ports a backing store must provide.
type Storage interface {
	AccountStorage
	SessionStorage
	TokenStorage
	HistoryStorage
	AttemptStorage
}

// ============================================
// CACHE PORT
// ============================================

// Cache is a key-value store with per-key TTL. It backs lockout counters,
// lock records and the hot current-user path. Absence of a key is reported
// as ErrCacheMiss, never as a fault.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Increment atomically adds one to the counter at key, refreshing its
	// TTL, and returns the new value. Implementations must guarantee the
	// read-modify-write is atomic so concurrent failures are not
	// undercounted.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Decrement atomically subtracts one, flooring at zero.
	Decrement(ctx context.Context, key string) (int64, error)
}

// CacheConfig configures cache behavior
type CacheConfig struct {
	TTL     time.Duration
	MaxSize int
}

// ============================================
// COLLABORATOR PORTS
// ============================================

// Mailer delivers outbound email. Delivery failure is surfaced to the
// caller as ErrMailDelivery; the underlying token stays valid.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody, displayName, templateTag string) error
}

// EventSink receives fire-and-forget notifications (login, logout, lock,
// password reset, magic link activity). Publish must not block and its
// failure never fails the primary operation.
type EventSink interface {
	Publish(event string, payload map[string]any)
}
