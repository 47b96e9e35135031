// Package fiber mounts a Gatehouse behind a Fiber v3 application.
package fiber

import (
	"github.com/gofiber/fiber/v3"
	gatehouse "github.com/mfreitas/gatehouse"
	"github.com/mfreitas/gatehouse/core"
)

// Adapter binds the authentication endpoints onto a Fiber app.
type Adapter struct {
	app *fiber.App
	gh  *gatehouse.Gatehouse
}

func New(app *fiber.App, gh *gatehouse.Gatehouse) *Adapter {
	return &Adapter{app: app, gh: gh}
}

// RegisterRoutes mounts the endpoints under basePath (e.g. "/auth").
func (a *Adapter) RegisterRoutes(basePath string) {
	api := a.app.Group(basePath)

	// Public routes
	api.Post("/register", a.register)
	api.Post("/login", a.login)
	api.Post("/logout", a.logout)
	api.Post("/password/forgot", a.forgotPassword)
	api.Get("/password/reset", a.validateResetToken)
	api.Post("/password/reset", a.resetPassword)
	api.Get("/magic-login", a.magicLogin)
	api.Get("/verify-email", a.verifyEmail)
	api.Post("/verify-email/resend", a.resendVerification)

	// Protected routes
	api.Get("/me", a.RequireAuth, a.me)
	api.Put("/password", a.RequireAuth, a.updatePassword)
	api.Post("/magic-link", a.RequireAuth, a.createMagicLink)
}

// requestContext collects client metadata and presented credentials. The
// session secret is taken from the Authorization header first, then the
// guard's cookie; the remember secret only ever travels in its cookie.
func (a *Adapter) requestContext(c fiber.Ctx) core.RequestContext {
	guard := a.gh.Guards.Current()

	rc := core.RequestContext{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}

	rc.SessionToken = bearerToken(c)
	if rc.SessionToken == "" && guard.SessionKey != "" {
		rc.SessionToken = c.Cookies(guard.SessionKey)
	}
	if guard.RememberKey != "" {
		rc.RememberToken = c.Cookies(guard.RememberKey)
	}
	return rc
}

// bearerToken pulls the secret out of an "Authorization: Bearer ..."
// header.
func bearerToken(c fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return ""
}
