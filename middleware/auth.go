package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUsername = "X-Username"
	HeaderRoles    = "X-User-Roles"
)

// UserContextMiddleware copies the identity set by the gateway into Locals:
// user_id, username and user_roles. With required set, requests without a
// user id are rejected.
func UserContextMiddleware(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Header values alias the request buffer; the identity outlives it.
		userID := utils.CopyString(strings.TrimSpace(c.Get(HeaderUserID)))
		if required && userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		username := utils.CopyString(strings.TrimSpace(c.Get(HeaderUsername)))
		if username == "" {
			username = userID
		}

		var roles []string
		for _, r := range strings.Split(c.Get(HeaderRoles), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, utils.CopyString(r))
			}
		}

		c.Locals("user_id", userID)
		c.Locals("username", username)
		c.Locals("user_roles", roles)
		return c.Next()
	}
}

// UserID returns the caller set by UserContextMiddleware, or "".
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

// Username returns the caller's display name, or "".
func Username(c *fiber.Ctx) string {
	name, _ := c.Locals("username").(string)
	return name
}

// HasRole reports whether the gateway granted the caller role.
func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals("user_roles").([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequireRole rejects callers the gateway did not grant role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient role"})
		}
		return c.Next()
	}
}
