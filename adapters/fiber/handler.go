package fiber

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	gatehouse "github.com/mfreitas/gatehouse"
	"github.com/mfreitas/gatehouse/core"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type passwordResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *Adapter) register(c fiber.Ctx) error {
	var req registerRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	account, err := a.gh.Registration.Register(c.Context(), gatehouse.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	}, a.requestContext(c))
	if err != nil {
		return handleAuthError(c, err)
	}

	return c.Status(http.StatusCreated).JSON(account)
}

func (a *Adapter) login(c fiber.Ctx) error {
	var req loginRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	guard := a.gh.Guards.Current()
	result, err := a.gh.Auth.Login(c.Context(), guard, gatehouse.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Remember: req.Remember,
	}, a.requestContext(c))
	if err != nil {
		return handleAuthError(c, err)
	}

	a.setAuthCookies(c, guard, result)
	return c.Status(http.StatusOK).JSON(result)
}

func (a *Adapter) logout(c fiber.Ctx) error {
	guard := a.gh.Guards.Current()

	ok, err := a.gh.Auth.Logout(c.Context(), a.requestContext(c))
	if err != nil {
		return handleAuthError(c, err)
	}

	a.clearAuthCookies(c, guard)
	return c.Status(http.StatusOK).JSON(fiber.Map{"loggedOut": ok})
}

func (a *Adapter) me(c fiber.Ctx) error {
	account, _ := c.Locals("account").(*core.Account)
	if account == nil {
		return unauthorized(c)
	}
	return c.Status(http.StatusOK).JSON(account)
}

func (a *Adapter) forgotPassword(c fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	ack, err := a.gh.Passwords.RequestReset(c.Context(), req.Email, a.requestContext(c))
	if err != nil {
		return handleAuthError(c, err)
	}
	return c.Status(http.StatusOK).JSON(ack)
}

func (a *Adapter) validateResetToken(c fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return badRequest(c, "missing token")
	}

	account, err := a.gh.Passwords.ValidateResetToken(c.Context(), token, a.requestContext(c))
	if err != nil {
		return handleAuthError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"valid": true, "email": account.Email})
}

func (a *Adapter) resetPassword(c fiber.Ctx) error {
	var req passwordResetRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if err := a.gh.Passwords.ResetPassword(c.Context(), req.Token, req.Password, a.requestContext(c)); err != nil {
		return handleAuthError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "password updated"})
}

func (a *Adapter) updatePassword(c fiber.Ctx) error {
	account, _ := c.Locals("account").(*core.Account)
	if account == nil {
		return unauthorized(c)
	}

	var req updatePasswordRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if err := a.gh.Passwords.UpdatePassword(c.Context(), account.ID, req.CurrentPassword, req.NewPassword, a.requestContext(c)); err != nil {
		return handleAuthError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "password updated"})
}

func (a *Adapter) createMagicLink(c fiber.Ctx) error {
	account, _ := c.Locals("account").(*core.Account)
	if account == nil {
		return unauthorized(c)
	}

	var req struct {
		Purpose     string `json:"purpose"`
		RedirectURL string `json:"redirectUrl"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	link, err := a.gh.MagicLinks.Generate(c.Context(), gatehouse.GenerateInput{
		AccountID:   account.ID,
		Purpose:     req.Purpose,
		RedirectURL: req.RedirectURL,
		CreatedBy:   account.ID,
	}, a.requestContext(c))
	if err != nil {
		return handleAuthError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(link)
}

func (a *Adapter) magicLogin(c fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return badRequest(c, "missing token")
	}

	guard := a.gh.Guards.Current()
	result, redirect, err := a.gh.MagicLinks.LoginWithToken(c.Context(), guard, token, a.requestContext(c))
	if err != nil {
		return handleAuthError(c, err)
	}

	a.setAuthCookies(c, guard, result)
	return c.Redirect().Status(http.StatusFound).To(redirect)
}

func (a *Adapter) verifyEmail(c fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return badRequest(c, "missing token")
	}

	account, err := a.gh.Registration.VerifyEmail(c.Context(), token, a.requestContext(c))
	if err != nil {
		return handleAuthError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"verified": true, "email": account.Email})
}

func (a *Adapter) resendVerification(c fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if err := a.gh.Registration.SendVerification(c.Context(), req.Email, a.requestContext(c)); err != nil {
		return handleAuthError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "verification email sent"})
}

func (a *Adapter) setAuthCookies(c fiber.Ctx, guard core.GuardConfig, result *gatehouse.LoginResult) {
	if guard.SessionKey != "" && result.Token != "" {
		c.Cookie(&fiber.Cookie{
			Name:     guard.SessionKey,
			Value:    result.Token,
			Expires:  result.Session.ExpiresAt,
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	if guard.RememberKey != "" && result.RememberToken != "" {
		c.Cookie(&fiber.Cookie{
			Name:     guard.RememberKey,
			Value:    result.RememberToken,
			Expires:  time.Now().Add(30 * 24 * time.Hour),
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
}

func (a *Adapter) clearAuthCookies(c fiber.Ctx, guard core.GuardConfig) {
	for _, name := range []string{guard.SessionKey, guard.RememberKey} {
		if name == "" {
			continue
		}
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Expires:  time.Now().Add(-time.Hour),
			HTTPOnly: true,
		})
	}
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func unauthorized(c fiber.Ctx) error {
	return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
}

// handleAuthError maps sentinel errors onto HTTP statuses. Unknown email
// and wrong password collapse into one generic 401 so the endpoint cannot
// be used to enumerate accounts.
func handleAuthError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, core.ErrAccountNotFound),
		errors.Is(err, core.ErrInvalidCredentials):
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": core.ErrInvalidCredentials.Error(),
		})

	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrSessionExpired),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrTokenNotFound),
		errors.Is(err, core.ErrTokenExpired),
		errors.Is(err, core.ErrTokenExhausted),
		errors.Is(err, core.ErrTokenIPDenied):
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, core.ErrAccountInactive):
		return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, core.ErrAccountLocked):
		return c.Status(http.StatusLocked).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, core.ErrAccountExists),
		errors.Is(err, core.ErrUsernameTaken),
		errors.Is(err, core.ErrAlreadyVerified):
		return c.Status(http.StatusConflict).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, core.ErrWeakPassword),
		errors.Is(err, core.ErrPasswordReused),
		errors.Is(err, core.ErrPasswordUnchanged),
		errors.Is(err, core.ErrPasswordMismatch):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})

	default:
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}
}
