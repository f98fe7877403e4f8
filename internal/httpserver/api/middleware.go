package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/formsight/formsight/internal/app"
	"github.com/formsight/formsight/internal/auth"
	"github.com/formsight/formsight/internal/httpserver/httputil"
)

const (
	bearerPrefix     = "bearer "
	identityLocalKey = "formsight_identity"
)

func authMiddleware(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearer(c)
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "authorization required")
		}

		ident, err := container.Tokens.Verify(token)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "invalid or expired token")
		}

		c.Locals(identityLocalKey, ident)
		return c.Next()
	}
}

func identityFrom(c *fiber.Ctx) *auth.Identity {
	ident, _ := c.Locals(identityLocalKey).(*auth.Identity)
	return ident
}

func extractBearer(c *fiber.Ctx) string {
	raw := strings.TrimSpace(c.Get("Authorization"))
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(raw[len(bearerPrefix):])
}
