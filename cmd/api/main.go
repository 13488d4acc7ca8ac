package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/db"
	"github.com/v-inference/backend/internal/events"
	apphttp "github.com/v-inference/backend/internal/http"
	"github.com/v-inference/backend/internal/http/handlers"
	"github.com/v-inference/backend/internal/repositories"
	"github.com/v-inference/backend/internal/services"
	"github.com/v-inference/backend/internal/verifier"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	escrowRepo := repositories.NewEscrowRepo(pool)
	accountRepo := repositories.NewAccountRepo(pool)
	payoutRepo := repositories.NewPayoutRepo(pool)
	settingsRepo := repositories.NewSettingsRepo(pool)
	nonceRepo := repositories.NewNonceRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Seed the settings row with the bootstrap admin
	if err := settingsRepo.EnsureDefault(ctx, cfg.AdminAddress); err != nil {
		log.Fatal("failed to seed ledger settings", zap.Error(err))
	}

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	verifiers := verifier.NewFactory(cfg.Groth16VKPath, log)
	escrowService := services.NewEscrowService(escrowRepo, settingsRepo, auditRepo, verifiers, publisher, cfg, log)
	// The API only queues payouts; sending happens in the worker.
	payoutService := services.NewPayoutService(payoutRepo, accountRepo, settingsRepo, auditRepo, publisher, nil, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(nonceRepo, cfg, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	accountHandler := handlers.NewAccountHandler(payoutService, cfg, log)
	adminHandler := handlers.NewAdminHandler(escrowService, payoutService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, escrowService, authHandler, escrowHandler, accountHandler, adminHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
