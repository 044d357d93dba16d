package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestUserContextCopiesIdentity(t *testing.T) {
	// A mutable app reuses request buffers between requests.
	app := fiber.New()
	var seen []string
	app.Get("/", UserContextMiddleware(true), func(c *fiber.Ctx) error {
		seen = append(seen, UserID(c)+"/"+Username(c))
		return c.SendStatus(fiber.StatusNoContent)
	})

	for _, user := range []string{"bob", "zed"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderUserID, user)
		req.Header.Set(HeaderUsername, user+"-name")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.StatusCode)
		}
	}
	if len(seen) != 2 || seen[0] != "bob/bob-name" || seen[1] != "zed/zed-name" {
		t.Fatalf("identity changed after the request ended: %v", seen)
	}
}

func TestUserContextRequiredAndRoles(t *testing.T) {
	app := fiber.New()
	app.Get("/admin", UserContextMiddleware(true), RequireRole("admin"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	tests := []struct {
		name  string
		user  string
		roles string
		want  int
	}{
		{"anonymous", "", "", fiber.StatusUnauthorized},
		{"no role", "alice", "player", fiber.StatusForbidden},
		{"admin", "root", "player, admin", fiber.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin", nil)
			if tt.user != "" {
				req.Header.Set(HeaderUserID, tt.user)
			}
			req.Header.Set(HeaderRoles, tt.roles)
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}
