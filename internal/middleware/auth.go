package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/v-inference/backend/internal/auth"
	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/models"
	"go.uber.org/zap"
)

const CtxAddress = "wallet_address"

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxAddress, claims.Address)

		return c.Next()
	}
}

// GetAddress returns the authenticated wallet address set by AuthMiddleware.
func GetAddress(c *fiber.Ctx) string {
	addr, _ := c.Locals(CtxAddress).(string)
	return addr
}

type settingsReader interface {
	GetSettings(ctx context.Context) (*models.LedgerSettings, error)
}

// AdminMiddleware requires the current administrator address. The admin role
// lives in the ledger settings row, so a transfer takes effect immediately.
func AdminMiddleware(settings settingsReader, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := settings.GetSettings(c.Context())
		if err != nil {
			log.Error("failed to load ledger settings", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
		if !s.IsAdmin(GetAddress(c)) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required"})
		}
		return c.Next()
	}
}
