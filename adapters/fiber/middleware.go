package fiber

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
)

// RequireAuth resolves the current account and stores it in Locals for
// downstream handlers. Requests without a resolvable identity get 401.
func (a *Adapter) RequireAuth(c fiber.Ctx) error {
	guard := a.gh.Guards.Current()

	account, err := a.gh.Auth.CurrentUser(c.Context(), guard, a.requestContext(c))
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if account == nil {
		return unauthorized(c)
	}

	c.Locals("account", account)
	return c.Next()
}
