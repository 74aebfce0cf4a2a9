package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/school-funds/school_funds/internal/auth"
	"github.com/school-funds/school_funds/internal/identity"
)

const (
	LocalUserID = "user_id"
	LocalRole   = "role"
)

// JWTAuth validates bearer access tokens, rejecting tokens revoked by logout.
func JWTAuth(tokens *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		user, err := tokens.Verify(c.UserContext(), tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}

		c.Locals(LocalUserID, user.ID)
		c.Locals(LocalRole, user.Role)
		return c.Next()
	}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...identity.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(LocalRole).(identity.Role)
		for _, allowed := range roles {
			if role == allowed {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "insufficient role")
	}
}
