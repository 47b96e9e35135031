package core

import "time"

// SessionConfig controls fallback session lifetime when a guard does not
// set its own timeout.
type SessionConfig struct {
	MaxAge time.Duration
}

// DefaultSessionConfig returns the stock session lifetime.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge: 24 * time.Hour,
	}
}

// Policy holds every tunable number in the authentication core. The
// defaults reproduce the documented behavior exactly; tests depend on
// them.
type Policy struct {
	// Lockout
	LockoutThreshold int           // failed attempts before locking
	FailureWindow    time.Duration // TTL of the failure counter
	LockoutDuration  time.Duration // how long a lock lasts

	// Tokens
	RememberTTL   time.Duration
	ResetTokenTTL time.Duration
	MagicLinkTTL  time.Duration
	MagicLinkUses int

	// Passwords
	MinPasswordLength int
	PasswordClasses   int // required character classes out of 4
	HistoryDepth      int

	// Hot current-user cache
	CurrentUserTTL time.Duration
}

// DefaultPolicy returns the stock policy numbers.
func DefaultPolicy() Policy {
	return Policy{
		LockoutThreshold:  5,
		FailureWindow:     time.Hour,
		LockoutDuration:   15 * time.Minute,
		RememberTTL:       30 * 24 * time.Hour,
		ResetTokenTTL:     time.Hour,
		MagicLinkTTL:      24 * time.Hour,
		MagicLinkUses:     1,
		MinPasswordLength: 8,
		PasswordClasses:   3,
		HistoryDepth:      5,
		CurrentUserTTL:    30 * time.Minute,
	}
}
