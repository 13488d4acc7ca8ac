package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/http/handlers"
	"github.com/v-inference/backend/internal/middleware"
	"github.com/v-inference/backend/internal/services"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	escrowService *services.EscrowService,
	authHandler *handlers.AuthHandler,
	escrowHandler *handlers.EscrowHandler,
	accountHandler *handlers.AccountHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/proof-payload", authHandler.ProofPayload)
	api.Post("/auth/verify", authHandler.VerifyProof)

	// Rate-limited endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Accounts
	protected.Get("/accounts/me", accountHandler.GetMe)
	protected.Get("/accounts/deposit-info", accountHandler.DepositInfo)
	protected.Post("/accounts/withdraw", accountHandler.Withdraw)
	protected.Get("/accounts/payouts", accountHandler.ListPayouts)

	// Escrows
	protected.Post("/escrows", escrowHandler.CreateEscrow)
	protected.Get("/escrows", escrowHandler.ListEscrows)
	protected.Get("/escrows/:jobId", escrowHandler.GetEscrow)
	protected.Get("/escrows/:jobId/pending", escrowHandler.IsPending)
	protected.Get("/escrows/:jobId/events", escrowHandler.GetEscrowEvents)
	protected.Post("/escrows/:jobId/release", escrowHandler.ReleaseEscrow)
	protected.Post("/escrows/:jobId/release-with-proof", escrowHandler.ReleaseWithProof)
	protected.Post("/escrows/:jobId/refund", escrowHandler.RefundEscrow)

	// Admin
	admin := protected.Group("/admin", middleware.AdminMiddleware(escrowService, log))
	admin.Get("/settings", adminHandler.GetSettings)
	admin.Put("/verifier", adminHandler.SetVerifier)
	admin.Post("/transfer", adminHandler.TransferAdmin)
	admin.Post("/sweep", adminHandler.Sweep)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
