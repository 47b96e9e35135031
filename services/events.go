// Package services implements the authentication core: credential
// verification, lockout, bearer tokens, password lifecycle, magic links
// and guard selection. Every service takes its collaborators at
// construction; nothing reaches into ambient state.
package services

import (
	"context"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/logging"

	"github.com/google/uuid"
)

// Event names published to the configured sink.
const (
	EventLogin                  = "login"
	EventLogout                 = "logout"
	EventRegistration           = "registration"
	EventEmailVerified          = "email_verified"
	EventAccountLocked          = "account_locked"
	EventPasswordResetRequested = "password_reset_requested"
	EventPasswordChanged        = "password_changed"
	EventMagicLinkGenerated     = "magic_link_generated"
	EventMagicLinkUsed          = "magic_link_used"
	EventGuardSwitched          = "guard_switched"
)

// Attempt log types.
const (
	attemptLoginSuccess   = "login_success"
	attemptLoginFailed    = "login_failed"
	attemptLogoutSuccess  = "logout_success"
	attemptAccountLocked  = "account_locked"
	attemptRegistration   = "registration"
	attemptEmailVerified  = "email_verified"
	attemptResetRequested = "password_reset_requested"
	attemptPasswordChange = "password_changed"
	attemptPasswordForce  = "password_force_change"
	attemptMagicGenerated = "magic_link_generated"
	attemptMagicLogin     = "magic_link_login"
	attemptMagicRevoked   = "magic_link_revoked"
	attemptGuardSwitched  = "guard_switched"
)

// logAttempt appends a write-once audit record. The audit trail is
// best-effort: a storage failure is logged and never fails the caller.
func logAttempt(ctx context.Context, store core.AttemptStorage, log logging.Logger, attemptType, accountID string, rc core.RequestContext, data map[string]string) {
	if store == nil {
		return
	}
	rec := &core.AttemptRecord{
		ID:        uuid.NewString(),
		Type:      attemptType,
		AccountID: accountID,
		Data:      data,
		IPAddress: rc.IP,
		UserAgent: rc.UserAgent,
		CreatedAt: time.Now(),
	}
	if err := store.LogAttempt(ctx, rec); err != nil {
		log.Warn(ctx, "attempt log write failed", "type", attemptType, "error", err)
	}
}

// publish forwards an event to the sink if one is configured.
func publish(sink core.EventSink, event string, payload map[string]any) {
	if sink == nil {
		return
	}
	sink.Publish(event, payload)
}
