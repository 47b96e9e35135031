package core

import (
	"strings"
	"time"
)

// Account is the root identity record. Every other record in the system
// (tokens, sessions, history entries) is owned by exactly one account.
//
// Accounts are never hard-deleted by this library; DeletedAt marks a
// soft-deleted account that no longer authenticates.
type Account struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Username            string     `json:"username,omitempty"`
	PasswordHash        string     `json:"-"` // Never expose in JSON
	Active              bool       `json:"active"`
	Verified            bool       `json:"verified"`
	VerifiedAt          *time.Time `json:"verifiedAt,omitempty"`
	ForcePasswordChange bool       `json:"forcePasswordChange"`
	PasswordChangedAt   *time.Time `json:"passwordChangedAt,omitempty"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP         string     `json:"lastLoginIp,omitempty"`
	LoginCount          int        `json:"loginCount"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	DeletedAt           *time.Time `json:"-"`
}

// Usable reports whether the account may authenticate: it must be active
// and not soft-deleted.
func (a *Account) Usable() bool {
	return a != nil && a.Active && a.DeletedAt == nil
}

// NormalizeEmail is the canonical form used for lookups and lockout keys:
// trimmed and lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TokenKind selects the purpose (and backing table) of a bearer token.
type TokenKind string

const (
	TokenReset        TokenKind = "reset"
	TokenRemember     TokenKind = "remember"
	TokenMagicLink    TokenKind = "magic_link"
	TokenVerification TokenKind = "verification"
)

// BearerToken is the shared shape for reset, remember and magic-link
// tokens. Only the sha256 hash of the secret is ever persisted; the raw
// secret exists transiently in the issue response and the outbound email.
//
// Once UsesCount reaches MaxUses, or ExpiresAt passes, the token is
// permanently unusable.
type BearerToken struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"accountId"`
	Hash        string            `json:"-"` // Never expose in JSON
	Kind        TokenKind         `json:"kind"`
	Purpose     string            `json:"purpose,omitempty"` // magic links: login, email_verification, ...
	RedirectURL string            `json:"redirectUrl,omitempty"`
	MaxUses     int               `json:"maxUses"`
	UsesCount   int               `json:"usesCount"`
	IPAllowList []string          `json:"ipAllowList,omitempty"`
	UsedIPs     []string          `json:"usedIps,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedBy   string            `json:"createdBy,omitempty"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	FirstUsedAt *time.Time        `json:"firstUsedAt,omitempty"`
	LastUsedAt  *time.Time        `json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Expired reports whether the token's absolute expiry has passed.
func (t *BearerToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Exhausted reports whether every permitted use has been spent.
func (t *BearerToken) Exhausted() bool {
	return t.UsesCount >= t.MaxUses
}

// AllowsIP reports whether ip may redeem the token. An empty allow-list
// permits any caller.
func (t *BearerToken) AllowsIP(ip string) bool {
	if len(t.IPAllowList) == 0 {
		return true
	}
	for _, allowed := range t.IPAllowList {
		if allowed == ip {
			return true
		}
	}
	return false
}

// Session is a server-side authenticated context bound to one account and
// one guard. The identifier is regenerated on every successful
// authentication and never reused.
type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Guard     string    `json:"guard"`
	TokenHash string    `json:"-"` // Never expose in JSON (security!)
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionData combines account and session info, the shape returned to
// boundary layers.
type SessionData struct {
	Account *Account `json:"account"`
	Session *Session `json:"session"`
}

// PasswordHistoryEntry keeps a prior password hash so recent passwords
// cannot be reused. Entries beyond the configured depth are pruned.
type PasswordHistoryEntry struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AttemptRecord is an append-only audit log entry. Records are write-once
// and never mutated.
type AttemptRecord struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	AccountID string            `json:"accountId,omitempty"` // empty when the identity is unknown
	Data      map[string]string `json:"data,omitempty"`
	IPAddress string            `json:"ipAddress"`
	UserAgent string            `json:"userAgent"`
	CreatedAt time.Time         `json:"createdAt"`
}

// RequestContext carries client metadata into operations that need it.
// The core never reads ambient request state; boundary layers fill this
// in explicitly.
type RequestContext struct {
	IP            string
	UserAgent     string
	SessionToken  string // raw session secret presented by the client, if any
	RememberToken string // raw remember secret presented by the client, if any
}
