package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/db"
	"github.com/v-inference/backend/internal/events"
	"github.com/v-inference/backend/internal/repositories"
	"github.com/v-inference/backend/internal/services"
	"github.com/v-inference/backend/internal/ton"
	"go.uber.org/zap"
)

const (
	payoutBatchSize      = 20
	refundableBatchSize  = 100
	refundableNotifiedNS = "worker:refundable-notified:"
	notifiedTTL          = 7 * 24 * time.Hour
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	escrowRepo := repositories.NewEscrowRepo(pool)
	accountRepo := repositories.NewAccountRepo(pool)
	payoutRepo := repositories.NewPayoutRepo(pool)
	settingsRepo := repositories.NewSettingsRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)

	// Treasury wallet is optional: without a seed the worker still runs the
	// refund notifier and the invariant audit, payouts just stay queued.
	var treasury services.TreasurySender
	if cfg.TONTreasurySeed != "" {
		tonAPI, err := ton.Connect(ctx, cfg, log)
		if err != nil {
			log.Fatal("failed to connect to TON network", zap.Error(err))
		}
		tr, err := ton.NewTreasury(tonAPI, cfg.TONTreasurySeed, log)
		if err != nil {
			log.Fatal("failed to open treasury wallet", zap.Error(err))
		}
		treasury = tr
		log.Info("treasury wallet ready", zap.String("address", tr.Address()))
	} else {
		log.Warn("TON_TREASURY_SEED not set, payouts will stay queued")
	}

	payoutService := services.NewPayoutService(payoutRepo, accountRepo, settingsRepo, auditRepo, publisher, treasury, cfg, log)

	log.Info("worker started")

	payoutTicker := time.NewTicker(30 * time.Second)
	refundableTicker := time.NewTicker(1 * time.Minute)
	auditTicker := time.NewTicker(5 * time.Minute)
	defer payoutTicker.Stop()
	defer refundableTicker.Stop()
	defer auditTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-payoutTicker.C:
			if treasury == nil {
				continue
			}
			if err := payoutService.ProcessQueued(ctx, payoutBatchSize); err != nil {
				log.Error("payout pump failed", zap.Error(err))
			}
		case <-refundableTicker.C:
			notifyRefundable(ctx, escrowRepo, publisher, rdb, cfg, log)
		case <-auditTicker.C:
			auditLockedInvariant(ctx, escrowRepo, accountRepo, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// notifyRefundable publishes an event once per escrow when the buyer's
// refund window elapses. Redis SETNX keeps restarts from re-notifying.
func notifyRefundable(
	ctx context.Context,
	escrowRepo *repositories.EscrowRepo,
	publisher events.Publisher,
	rdb *redis.Client,
	cfg *config.Config,
	log *zap.Logger,
) {
	escrows, err := escrowRepo.GetRefundableOpen(ctx, cfg.RefundWindow, refundableBatchSize)
	if err != nil {
		log.Error("failed to query refundable escrows", zap.Error(err))
		return
	}

	for _, e := range escrows {
		key := refundableNotifiedNS + e.JobID
		set, err := rdb.SetNX(ctx, key, "1", notifiedTTL).Result()
		if err != nil || !set {
			continue
		}

		log.Info("escrow refund window elapsed",
			zap.String("job_id", e.JobID),
			zap.String("buyer", e.Buyer),
			zap.Int64("amount_nano", e.AmountNano),
		)
		_ = publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventEscrowRefundable,
			Payload: map[string]any{
				"job_id":      e.JobID,
				"buyer":       e.Buyer,
				"provider":    e.Provider,
				"amount_nano": e.AmountNano,
			},
		})
	}
}

// auditLockedInvariant cross-checks open escrow totals against the locked
// column of the accounts table. A mismatch means a settlement bug.
func auditLockedInvariant(
	ctx context.Context,
	escrowRepo *repositories.EscrowRepo,
	accountRepo *repositories.AccountRepo,
	log *zap.Logger,
) {
	openLocked, err := escrowRepo.TotalOpenLockedNano(ctx)
	if err != nil {
		log.Error("failed to sum open escrows", zap.Error(err))
		return
	}
	_, accountLocked, err := accountRepo.Totals(ctx)
	if err != nil {
		log.Error("failed to sum account balances", zap.Error(err))
		return
	}

	if openLocked != accountLocked {
		log.Error("locked balance mismatch",
			zap.String("detail", fmt.Sprintf("open escrows hold %d nano, accounts show %d nano locked", openLocked, accountLocked)),
		)
		return
	}
	log.Debug("locked balance invariant holds", zap.Int64("locked_nano", openLocked))
}
