package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/db"
	"github.com/v-inference/backend/internal/events"
	"github.com/v-inference/backend/internal/models"
	"github.com/v-inference/backend/internal/repositories"
	appton "github.com/v-inference/backend/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

const (
	redisCursorLT   = "deposit-indexer:cursor:lt"
	redisCursorHash = "deposit-indexer:cursor:hash"
	redisProcessed  = "deposit-indexer:tx:"
	processedTTL    = 7 * 24 * time.Hour
	pollInterval    = 5 * time.Second
	txBatchSize     = 100
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TONTreasuryAddress == "" {
		log.Fatal("TON_TREASURY_ADDRESS is required")
	}

	treasury, err := address.ParseAddr(cfg.TONTreasuryAddress)
	if err != nil {
		log.Fatal("invalid TON_TREASURY_ADDRESS", zap.String("addr", cfg.TONTreasuryAddress), zap.Error(err))
	}

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

	accountRepo := repositories.NewAccountRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	tonAPI, err := appton.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to TON network", zap.Error(err))
	}

	log.Info("deposit indexer started",
		zap.String("treasury", treasury.String()),
		zap.String("network", cfg.TONNetwork),
	)

	initCursor(ctx, tonAPI, treasury, rdb, log)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := pollAndProcess(ctx, tonAPI, treasury, accountRepo, auditRepo, publisher, rdb, log); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down deposit indexer")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// initCursor sets the initial cursor position on first run. It stores the
// current account LastTxLT so only transfers arriving after startup are
// credited; historical treasury traffic is never replayed into balances.
func initCursor(ctx context.Context, api ton.APIClientWrapped, addr *address.Address, rdb *redis.Client, log *zap.Logger) {
	existing, _ := rdb.Get(ctx, redisCursorLT).Result()
	if existing != "" {
		log.Info("resuming from saved cursor", zap.String("lt", existing))
		return
	}

	block, err := api.CurrentMasterchainInfo(ctx)
	if err != nil {
		log.Warn("failed to get master block for cursor init", zap.Error(err))
		rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	account, err := api.GetAccount(ctx, block, addr)
	if err != nil {
		log.Warn("failed to get account for cursor init", zap.Error(err))
		rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	if account == nil || !account.IsActive || account.LastTxLT == 0 {
		log.Info("treasury wallet not active yet, starting from LT=0")
		rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	saveCursor(ctx, rdb, account.LastTxLT, account.LastTxHash)
	log.Info("cursor initialized at current account state",
		zap.Uint64("lt", account.LastTxLT),
		zap.String("hash", hex.EncodeToString(account.LastTxHash)),
	)
}

func loadCursorLT(ctx context.Context, rdb *redis.Client) uint64 {
	val, err := rdb.Get(ctx, redisCursorLT).Result()
	if err != nil || val == "" {
		return 0
	}
	lt, _ := strconv.ParseUint(val, 10, 64)
	return lt
}

func saveCursor(ctx context.Context, rdb *redis.Client, lt uint64, hash []byte) {
	rdb.Set(ctx, redisCursorLT, strconv.FormatUint(lt, 10), 0)
	rdb.Set(ctx, redisCursorHash, hex.EncodeToString(hash), 0)
}

// pollAndProcess runs a single poll cycle: read the treasury account state,
// fetch transactions newer than the cursor, credit incoming transfers and
// advance the cursor.
func pollAndProcess(
	ctx context.Context,
	api ton.APIClientWrapped,
	addr *address.Address,
	accountRepo *repositories.AccountRepo,
	auditRepo *repositories.AuditRepo,
	publisher events.Publisher,
	rdb *redis.Client,
	log *zap.Logger,
) error {
	cursorLT := loadCursorLT(ctx, rdb)

	block, err := api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return fmt.Errorf("get master block: %w", err)
	}

	account, err := api.GetAccount(ctx, block, addr)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}

	if account == nil || !account.IsActive || account.LastTxLT == 0 {
		return nil
	}

	if account.LastTxLT <= cursorLT {
		return nil
	}

	newTxs, err := fetchNewTransactions(ctx, api, addr, account, cursorLT)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}

	if len(newTxs) > 0 {
		log.Info("found new transactions", zap.Int("count", len(newTxs)))
		for _, tx := range newTxs {
			processIncomingTx(ctx, tx, accountRepo, auditRepo, publisher, rdb, log)
		}
	}

	saveCursor(ctx, rdb, account.LastTxLT, account.LastTxHash)
	return nil
}

// fetchNewTransactions retrieves all transactions with LT > cursorLT.
// ListTransactions returns results oldest-first; we paginate backwards
// until we reach the cursor, then return in chronological order.
func fetchNewTransactions(
	ctx context.Context,
	api ton.APIClientWrapped,
	addr *address.Address,
	account *tlb.Account,
	cursorLT uint64,
) ([]*tlb.Transaction, error) {
	var allTxs []*tlb.Transaction

	lt := account.LastTxLT
	hash := account.LastTxHash

	for {
		txs, err := api.ListTransactions(ctx, addr, uint32(txBatchSize), lt, hash)
		if err != nil {
			return nil, fmt.Errorf("list transactions (lt=%d): %w", lt, err)
		}
		if len(txs) == 0 {
			break
		}

		reachedCursor := false
		for _, tx := range txs {
			if tx.LT <= cursorLT {
				reachedCursor = true
				continue
			}
			allTxs = append(allTxs, tx)
		}

		if reachedCursor || len(txs) < txBatchSize {
			break
		}

		oldest := txs[0]
		if oldest.PrevTxLT == 0 {
			break
		}
		lt = oldest.PrevTxLT
		hash = oldest.PrevTxHash
	}

	sort.Slice(allTxs, func(i, j int) bool {
		return allTxs[i].LT < allTxs[j].LT
	})

	return allTxs, nil
}

// processIncomingTx credits a single incoming TON transfer to the sender's
// account. Deposits need no memo: whoever sends funds the balance of the
// address they sent from.
func processIncomingTx(
	ctx context.Context,
	tx *tlb.Transaction,
	accountRepo *repositories.AccountRepo,
	auditRepo *repositories.AuditRepo,
	publisher events.Publisher,
	rdb *redis.Client,
	log *zap.Logger,
) {
	if tx.IO.In == nil {
		return
	}

	inMsg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || inMsg == nil {
		return
	}

	if inMsg.Bounced {
		return
	}

	amountNano := inMsg.Amount.Nano()
	if amountNano.Sign() <= 0 || !amountNano.IsInt64() {
		return
	}

	// Idempotency: skip if already processed
	txKey := fmt.Sprintf("%s%d", redisProcessed, tx.LT)
	if rdb.Exists(ctx, txKey).Val() > 0 {
		return
	}

	from := inMsg.SrcAddr.String()
	amount := amountNano.Int64()

	log.Info("incoming deposit detected",
		zap.Uint64("lt", tx.LT),
		zap.String("from", from),
		zap.Int64("amount_nano", amount),
	)

	if err := accountRepo.CreditAvailable(ctx, from, amount); err != nil {
		log.Error("failed to credit deposit",
			zap.String("from", from),
			zap.Int64("amount_nano", amount),
			zap.Error(err),
		)
		return
	}

	txRef := strconv.FormatUint(tx.LT, 10)
	_ = auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "deposit_received",
		EntityType: "account",
		EntityID:   &from,
		Meta:       map[string]any{"amount_nano": amount, "tx_lt": txRef},
	})

	_ = publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventDepositReceived,
		Payload: map[string]any{
			"address":     from,
			"amount_nano": amount,
			"tx_lt":       tx.LT,
		},
	})

	rdb.Set(ctx, txKey, "credited:"+from, processedTTL)

	log.Info("deposit credited",
		zap.String("address", from),
		zap.Int64("amount_nano", amount),
		zap.Uint64("tx_lt", tx.LT),
	)
}
