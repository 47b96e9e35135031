package core

import "time"

// GuardDriver is how a guard carries its authenticated context.
type GuardDriver string

const (
	// DriverSession keeps server-side session state keyed by an opaque
	// client-held secret.
	DriverSession GuardDriver = "session"
	// DriverToken issues a signed, self-contained API credential instead of
	// server-side session state.
	DriverToken GuardDriver = "token"
)

// GuardConfig names an independent authentication context (web, api,
// admin) with its own key names and timeout policy.
type GuardConfig struct {
	Name        string
	Driver      GuardDriver
	Provider    string // backing record provider name
	SessionKey  string
	RememberKey string
	TokenKey    string
	Timeout     time.Duration
}

// DefaultGuards returns the stock web/api/admin guard set.
func DefaultGuards() map[string]GuardConfig {
	return map[string]GuardConfig{
		"web": {
			Name:        "web",
			Driver:      DriverSession,
			Provider:    "accounts",
			SessionKey:  "gh_user_id",
			RememberKey: "gh_remember",
			Timeout:     2 * time.Hour,
		},
		"api": {
			Name:     "api",
			Driver:   DriverToken,
			Provider: "accounts",
			TokenKey: "api_token",
			Timeout:  24 * time.Hour,
		},
		"admin": {
			Name:        "admin",
			Driver:      DriverSession,
			Provider:    "admins",
			SessionKey:  "gh_admin_id",
			RememberKey: "gh_admin_remember",
			Timeout:     time.Hour,
		},
	}
}
