package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody_ledger/internal/auth"
	"github.com/congo-pay/custody_ledger/internal/dispatch"
)

// CallerAuth authenticates the bearer caller token and stores the caller
// address in the request locals.
func CallerAuth(tokens *auth.CallerTokens) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		caller, err := tokens.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				return fiber.NewError(http.StatusUnauthorized, "token expired")
			}
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(dispatch.CallerLocal, caller)
		return c.Next()
	}
}
