package middleware

import (
	"github.com/devault/backend/internal/config"
	"github.com/devault/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

// AdminAuth accepts X-Admin-Token or a bearer token matching the configured
// admin key. An empty key disables the check.
func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := cfg.Auth.AdminAPIKey
		if apiKey == "" {
			return c.Next()
		}

		headerToken := c.Get("X-Admin-Token")
		if headerToken == "" {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				headerToken = auth[len(prefix):]
			}
		}
		// Browsers cannot set headers on websocket upgrades.
		if headerToken == "" {
			headerToken = c.Query("token")
		}

		if headerToken != apiKey {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: "unauthorized",
			})
		}

		return c.Next()
	}
}
