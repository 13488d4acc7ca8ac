package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/events"
	"github.com/v-inference/backend/internal/models"
	"go.uber.org/zap"
)

type payoutStore interface {
	Create(ctx context.Context, p *models.PayoutRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	GetQueued(ctx context.Context, limit int) ([]models.PayoutRequest, error)
	MarkSent(ctx context.Context, id uuid.UUID, txHash string) error
	RecordAttempt(ctx context.Context, id uuid.UUID, lastError string, final bool) error
	ListByAddress(ctx context.Context, address string, limit, offset int) ([]models.PayoutRequest, error)
}

type accountStore interface {
	Get(ctx context.Context, address string) (*models.Account, error)
	CreditAvailable(ctx context.Context, address string, amountNano int64) error
	DebitAvailable(ctx context.Context, address string, amountNano int64) error
	Totals(ctx context.Context) (availableNano, lockedNano int64, err error)
}

// TreasurySender moves real value out of the treasury wallet. The worker
// injects the live wallet; tests inject a fake.
type TreasurySender interface {
	Address() string
	Send(ctx context.Context, toAddr string, amountNano int64, memo string) (string, error)
	BalanceNano(ctx context.Context) (int64, error)
}

// PayoutService owns the only path by which value leaves the ledger. Internal
// settlement credits balances; an explicit withdrawal (or admin sweep) queues
// a payout request, and ProcessQueued retries delivery until it succeeds or
// exhausts its attempts.
type PayoutService struct {
	payouts   payoutStore
	accounts  accountStore
	settings  settingsStore
	audit     auditLogger
	publisher events.Publisher
	treasury  TreasurySender
	cfg       *config.Config
	log       *zap.Logger
}

func NewPayoutService(
	payouts payoutStore,
	accounts accountStore,
	settings settingsStore,
	audit auditLogger,
	publisher events.Publisher,
	treasury TreasurySender,
	cfg *config.Config,
	log *zap.Logger,
) *PayoutService {
	return &PayoutService{
		payouts:   payouts,
		accounts:  accounts,
		settings:  settings,
		audit:     audit,
		publisher: publisher,
		treasury:  treasury,
		cfg:       cfg,
		log:       log,
	}
}

// Withdraw debits the caller's available balance and queues an on-chain
// payout to the same address. The debit happens first so the queued amount
// is always covered.
func (s *PayoutService) Withdraw(ctx context.Context, caller string, amountNano int64) (*models.PayoutRequest, error) {
	if amountNano <= 0 {
		return nil, models.ErrInvalidAmount
	}

	if err := s.accounts.DebitAvailable(ctx, caller, amountNano); err != nil {
		return nil, err
	}

	payout := &models.PayoutRequest{
		Address:    caller,
		AmountNano: amountNano,
		Kind:       models.PayoutKindWithdrawal,
		Memo:       "withdraw",
	}
	if err := s.payouts.Create(ctx, payout); err != nil {
		// Put the money back; the caller keeps their balance on queue failure.
		if creditErr := s.accounts.CreditAvailable(ctx, caller, amountNano); creditErr != nil {
			s.log.Error("failed to revert debit after queue failure",
				zap.String("address", caller), zap.Int64("amount_nano", amountNano), zap.Error(creditErr))
		}
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorAddress: &caller,
		ActorType:    "buyer",
		Action:       "withdrawal_queued",
		EntityType:   "payout",
		EntityID:     ptr(payout.ID.String()),
		Meta:         map[string]any{"amount_nano": amountNano},
	})
	return payout, nil
}

// SweepResidual queues a payout of everything in the treasury wallet above
// current ledger liabilities (available + locked) to the administrator.
// Admin only.
func (s *PayoutService) SweepResidual(ctx context.Context, caller string) (*models.PayoutRequest, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger settings: %w", err)
	}
	if !settings.IsAdmin(caller) {
		return nil, models.ErrUnauthorized
	}
	if s.treasury == nil {
		return nil, fmt.Errorf("treasury wallet is not configured")
	}

	balance, err := s.treasury.BalanceNano(ctx)
	if err != nil {
		return nil, fmt.Errorf("read treasury balance: %w", err)
	}
	available, locked, err := s.accounts.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum account balances: %w", err)
	}

	residual := balance - available - locked
	if residual <= 0 {
		return nil, models.ErrNoResidual
	}

	payout := &models.PayoutRequest{
		Address:    settings.AdminAddress,
		AmountNano: residual,
		Kind:       models.PayoutKindSweep,
		Memo:       "residual sweep",
	}
	if err := s.payouts.Create(ctx, payout); err != nil {
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorAddress: &caller,
		ActorType:    "admin",
		Action:       "sweep_queued",
		EntityType:   "payout",
		EntityID:     ptr(payout.ID.String()),
		Meta: map[string]any{
			"amount_nano":    residual,
			"treasury_nano":  balance,
			"liability_nano": available + locked,
		},
	})
	return payout, nil
}

func (s *PayoutService) GetAccount(ctx context.Context, address string) (*models.Account, error) {
	return s.accounts.Get(ctx, address)
}

func (s *PayoutService) ListPayouts(ctx context.Context, address string, limit, offset int) ([]models.PayoutRequest, error) {
	return s.payouts.ListByAddress(ctx, address, limit, offset)
}

// ProcessQueued drains up to batch queued payouts through the treasury
// wallet. A send failure re-queues the payout; once attempts reach the
// configured maximum the payout is marked failed and a withdrawal's amount
// is returned to the account it was debited from.
func (s *PayoutService) ProcessQueued(ctx context.Context, batch int) error {
	if s.treasury == nil {
		return fmt.Errorf("treasury wallet is not configured")
	}

	queued, err := s.payouts.GetQueued(ctx, batch)
	if err != nil {
		return err
	}

	for _, p := range queued {
		txHash, err := s.treasury.Send(ctx, p.Address, p.AmountNano, p.Memo)
		if err != nil {
			s.handleSendFailure(ctx, p, fmt.Errorf("%w: %v", models.ErrTransferFailed, err))
			continue
		}

		if err := s.payouts.MarkSent(ctx, p.ID, txHash); err != nil {
			s.log.Error("payout sent but not recorded", zap.String("payout_id", p.ID.String()),
				zap.String("tx_hash", txHash), zap.Error(err))
			continue
		}
		s.log.Info("payout sent", zap.String("payout_id", p.ID.String()),
			zap.String("address", p.Address), zap.Int64("amount_nano", p.AmountNano),
			zap.String("tx_hash", txHash))
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventPayoutSent,
			Payload: map[string]any{
				"payout_id":   p.ID.String(),
				"address":     p.Address,
				"amount_nano": p.AmountNano,
				"tx_hash":     txHash,
			},
		})
	}
	return nil
}

func (s *PayoutService) handleSendFailure(ctx context.Context, p models.PayoutRequest, sendErr error) {
	final := p.Attempts+1 >= s.cfg.PayoutMaxAttempts
	if err := s.payouts.RecordAttempt(ctx, p.ID, sendErr.Error(), final); err != nil {
		s.log.Error("failed to record payout attempt", zap.String("payout_id", p.ID.String()), zap.Error(err))
		return
	}
	if !final {
		s.log.Warn("payout send failed, will retry", zap.String("payout_id", p.ID.String()),
			zap.Int("attempts", p.Attempts+1), zap.Error(sendErr))
		return
	}

	s.log.Error("payout permanently failed", zap.String("payout_id", p.ID.String()),
		zap.String("address", p.Address), zap.Int64("amount_nano", p.AmountNano), zap.Error(sendErr))

	// A failed withdrawal returns the debited amount to the account. Sweeps
	// never debited an account, so there is nothing to restore.
	if p.Kind == models.PayoutKindWithdrawal {
		if err := s.accounts.CreditAvailable(ctx, p.Address, p.AmountNano); err != nil {
			s.log.Error("failed to restore balance after payout failure",
				zap.String("address", p.Address), zap.Int64("amount_nano", p.AmountNano), zap.Error(err))
		}
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "payout_failed",
		EntityType: "payout",
		EntityID:   ptr(p.ID.String()),
		Meta:       map[string]any{"amount_nano": p.AmountNano, "error": sendErr.Error()},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventPayoutFailed,
		Payload: map[string]any{
			"payout_id":   p.ID.String(),
			"address":     p.Address,
			"amount_nano": p.AmountNano,
			"error":       sendErr.Error(),
		},
	})
}

func ptr(s string) *string { return &s }
