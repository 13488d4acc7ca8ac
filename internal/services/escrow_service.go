package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/events"
	"github.com/v-inference/backend/internal/models"
	"github.com/v-inference/backend/internal/repositories"
	"github.com/v-inference/backend/internal/verifier"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/zap"
)

type escrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	GetByJobID(ctx context.Context, jobID string) (*models.Escrow, error)
	Settle(ctx context.Context, jobID, newStatus string, proofHash, refundReason *string) (*models.Escrow, error)
	List(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, error)
}

type settingsStore interface {
	Get(ctx context.Context) (*models.LedgerSettings, error)
	SetVerifier(ctx context.Context, kind, endpoint string) error
	SetAdmin(ctx context.Context, address string) error
}

type auditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
}

type verifierResolver interface {
	For(settings *models.LedgerSettings) (verifier.Verifier, error)
}

// EscrowService implements the ledger operations. Per-job atomicity comes from
// the store's Settle (row lock + terminal guard in one transaction); the
// service layer owns validation, authorization, auditing and events.
// Settlement itself never performs external calls — funds leave the system
// only through the separate payout pipeline.
type EscrowService struct {
	escrows   escrowStore
	settings  settingsStore
	audit     auditLogger
	verifiers verifierResolver
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewEscrowService(
	escrows escrowStore,
	settings settingsStore,
	audit auditLogger,
	verifiers verifierResolver,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		escrows:   escrows,
		settings:  settings,
		audit:     audit,
		verifiers: verifiers,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

func (s *EscrowService) isAdmin(ctx context.Context, caller string) bool {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.log.Error("failed to load ledger settings", zap.Error(err))
		return false
	}
	return settings.IsAdmin(caller)
}

// CreateEscrow locks amountNano of the buyer's deposited balance against a
// fresh job id. The buyer is the authenticated caller.
func (s *EscrowService) CreateEscrow(ctx context.Context, buyer, jobID, provider string, amountNano int64) (*models.Escrow, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	if amountNano <= 0 {
		return nil, models.ErrInvalidAmount
	}

	parsed, err := address.ParseAddr(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidProvider, err)
	}
	provider = parsed.String()
	if provider == buyer {
		return nil, fmt.Errorf("%w: provider equals buyer", models.ErrInvalidProvider)
	}

	escrow := &models.Escrow{
		JobID:      jobID,
		Buyer:      buyer,
		Provider:   provider,
		AmountNano: amountNano,
	}
	if err := s.escrows.Create(ctx, escrow); err != nil {
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorAddress: &buyer,
		ActorType:    "buyer",
		Action:       "escrow_created",
		EntityType:   "escrow",
		EntityID:     &jobID,
		Meta:         map[string]any{"provider": provider, "amount_nano": amountNano},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowCreated,
		Payload: map[string]any{
			"job_id":      jobID,
			"buyer":       buyer,
			"provider":    provider,
			"amount_nano": amountNano,
		},
	})

	return escrow, nil
}

// ReleaseEscrow is the direct release path: the buyer (or the administrator)
// releases without on-ledger proof checking. The supplied proof hash is
// recorded for audit only.
func (s *EscrowService) ReleaseEscrow(ctx context.Context, jobID, proofHash, caller string) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if escrow.IsTerminal() {
		return nil, models.ErrAlreadySettled
	}
	if caller != escrow.Buyer && !s.isAdmin(ctx, caller) {
		return nil, models.ErrUnauthorized
	}

	var ph *string
	if proofHash != "" {
		ph = &proofHash
	}
	settled, err := s.escrows.Settle(ctx, jobID, models.EscrowStatusReleased, ph, nil)
	if err != nil {
		return nil, err
	}

	s.recordSettlement(ctx, settled, caller, "escrow_released", events.EventEscrowReleased)
	return settled, nil
}

// ReleaseWithProof releases through the configured verifier. Any authenticated
// caller (normally the provider) may present a proof; the ledger trusts only
// the verifier's boolean result.
func (s *EscrowService) ReleaseWithProof(ctx context.Context, jobID string, proof []byte, publicInputs []string, caller string) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if escrow.IsTerminal() {
		return nil, models.ErrAlreadySettled
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger settings: %w", err)
	}
	v, err := s.verifiers.For(settings)
	if err != nil {
		return nil, err
	}

	valid, err := v.Verify(ctx, proof, publicInputs)
	if err != nil {
		return nil, fmt.Errorf("verifier error: %w", err)
	}
	if !valid {
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorAddress: &caller,
			ActorType:    "provider",
			Action:       "proof_rejected",
			EntityType:   "escrow",
			EntityID:     &jobID,
		})
		return nil, models.ErrVerificationFailed
	}

	digest := sha256.Sum256(proof)
	proofHash := hex.EncodeToString(digest[:])
	settled, err := s.escrows.Settle(ctx, jobID, models.EscrowStatusReleased, &proofHash, nil)
	if err != nil {
		return nil, err
	}

	s.recordSettlement(ctx, settled, caller, "escrow_released_with_proof", events.EventEscrowReleased)
	return settled, nil
}

// RefundEscrow returns the locked amount to the buyer. The buyer may refund
// only after the refund window; the administrator may refund at any time.
func (s *EscrowService) RefundEscrow(ctx context.Context, jobID, reason, caller string) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if escrow.IsTerminal() {
		return nil, models.ErrAlreadySettled
	}

	admin := s.isAdmin(ctx, caller)
	if caller != escrow.Buyer && !admin {
		return nil, models.ErrUnauthorized
	}
	if !admin && !escrow.BuyerMayRefund(time.Now(), s.cfg.RefundWindow) {
		return nil, models.ErrTooEarly
	}

	var rr *string
	if reason != "" {
		rr = &reason
	}
	settled, err := s.escrows.Settle(ctx, jobID, models.EscrowStatusRefunded, nil, rr)
	if err != nil {
		return nil, err
	}

	s.recordSettlement(ctx, settled, caller, "escrow_refunded", events.EventEscrowRefunded)
	return settled, nil
}

func (s *EscrowService) recordSettlement(ctx context.Context, e *models.Escrow, caller, action, eventType string) {
	actorType := "buyer"
	switch {
	case s.isAdmin(ctx, caller):
		actorType = "admin"
	case caller == e.Provider:
		actorType = "provider"
	}

	meta := map[string]any{"amount_nano": e.AmountNano, "status": e.Status}
	payload := map[string]any{
		"job_id":      e.JobID,
		"buyer":       e.Buyer,
		"provider":    e.Provider,
		"amount_nano": e.AmountNano,
	}
	if e.ProofHash != nil {
		meta["proof_hash"] = *e.ProofHash
		payload["proof_hash"] = *e.ProofHash
	}
	if e.RefundReason != nil {
		meta["reason"] = *e.RefundReason
		payload["reason"] = *e.RefundReason
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorAddress: &caller,
		ActorType:    actorType,
		Action:       action,
		EntityType:   "escrow",
		EntityID:     &e.JobID,
		Meta:         meta,
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{Type: eventType, Payload: payload})
}

func (s *EscrowService) GetEscrow(ctx context.Context, jobID string) (*models.Escrow, error) {
	return s.escrows.GetByJobID(ctx, jobID)
}

// IsPending reports whether the job exists and has not settled.
func (s *EscrowService) IsPending(ctx context.Context, jobID string) (bool, error) {
	escrow, err := s.escrows.GetByJobID(ctx, jobID)
	if err != nil {
		if err == models.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return !escrow.IsTerminal(), nil
}

func (s *EscrowService) ListEscrows(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, error) {
	return s.escrows.List(ctx, f)
}

func (s *EscrowService) GetEscrowEvents(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	return s.audit.GetByEntity(ctx, "escrow", jobID, 100, 0)
}

func (s *EscrowService) GetSettings(ctx context.Context) (*models.LedgerSettings, error) {
	return s.settings.Get(ctx)
}

// SetVerifier configures (or clears) the proof verifier. Admin only.
func (s *EscrowService) SetVerifier(ctx context.Context, caller, kind, endpoint string) error {
	if !s.isAdmin(ctx, caller) {
		return models.ErrUnauthorized
	}
	switch kind {
	case models.VerifierKindNone, models.VerifierKindHTTP, models.VerifierKindGroth16:
	default:
		return fmt.Errorf("unknown verifier kind %q", kind)
	}

	if err := s.settings.SetVerifier(ctx, kind, endpoint); err != nil {
		return err
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorAddress: &caller,
		ActorType:    "admin",
		Action:       "verifier_configured",
		EntityType:   "settings",
		Meta:         map[string]any{"kind": kind, "endpoint": endpoint},
	})
	return nil
}

// TransferAdmin hands administrator rights to another address. Admin only.
func (s *EscrowService) TransferAdmin(ctx context.Context, caller, newAdmin string) error {
	if !s.isAdmin(ctx, caller) {
		return models.ErrUnauthorized
	}
	parsed, err := address.ParseAddr(newAdmin)
	if err != nil {
		return fmt.Errorf("parse new admin address: %w", err)
	}

	if err := s.settings.SetAdmin(ctx, parsed.String()); err != nil {
		return err
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorAddress: &caller,
		ActorType:    "admin",
		Action:       "admin_transferred",
		EntityType:   "settings",
		Meta:         map[string]any{"new_admin": parsed.String()},
	})
	return nil
}
