package core

import "errors"

// Rejected-but-expected outcomes. These are returned as sentinel values so
// callers can branch with errors.Is; they are never wrapped infrastructure
// faults.

// Account errors
var (
	ErrAccountExists      = errors.New("account already exists")       // 409 Conflict
	ErrAccountNotFound    = errors.New("account not found")            // 404 Not Found
	ErrInvalidCredentials = errors.New("invalid email or password")    // 401 Unauthorized
	ErrAccountInactive    = errors.New("account is not active")        // 403 Forbidden
	ErrAccountLocked      = errors.New("account temporarily locked")   // 423 Locked
	ErrUsernameTaken      = errors.New("username is already in use")   // 409 Conflict
	ErrAlreadyVerified    = errors.New("email is already verified")    // 409 Conflict
)

// Session errors
var (
	ErrInvalidToken    = errors.New("invalid session token") // 401
	ErrSessionNotFound = errors.New("session not found")     // 401
	ErrSessionExpired  = errors.New("session expired")       // 401
	ErrCacheMiss       = errors.New("cache miss")
)

// Bearer-token errors
var (
	ErrTokenNotFound  = errors.New("token not found")
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenExhausted = errors.New("token has been used maximum times")
	ErrTokenIPDenied  = errors.New("token not valid from this address")
)

// Password policy errors
var (
	ErrWeakPassword      = errors.New("password does not meet strength requirements")
	ErrPasswordReused    = errors.New("cannot reuse a recent password")
	ErrPasswordUnchanged = errors.New("new password must be different from current password")
	ErrPasswordMismatch  = errors.New("current password is incorrect")
)

// Guard errors
var (
	ErrUnknownGuard = errors.New("guard is not configured")
)

// Collaborator errors
var (
	ErrMailDelivery = errors.New("mail delivery failed")
)

// Config errors (server-side configuration)
var (
	ErrStorageRequired = errors.New("storage adapter is required") // 500
	ErrSecretRequired  = errors.New("secret is required")          // 500
	ErrSecretTooShort  = errors.New("secret too short")            // 500
)
