package services

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/events"
	"github.com/v-inference/backend/internal/models"
	"github.com/v-inference/backend/internal/repositories"
	"github.com/v-inference/backend/internal/verifier"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// memLedger is an in-memory stand-in for the escrow and account repositories
// with the same balance-moving semantics.
type memLedger struct {
	escrows  map[string]*models.Escrow
	accounts map[string]*models.Account
}

func newMemLedger() *memLedger {
	return &memLedger{
		escrows:  make(map[string]*models.Escrow),
		accounts: make(map[string]*models.Account),
	}
}

func (m *memLedger) account(address string) *models.Account {
	if a, ok := m.accounts[address]; ok {
		return a
	}
	a := &models.Account{Address: address}
	m.accounts[address] = a
	return a
}

func (m *memLedger) Create(_ context.Context, e *models.Escrow) error {
	if _, ok := m.escrows[e.JobID]; ok {
		return models.ErrDuplicateJob
	}
	buyer := m.account(e.Buyer)
	if buyer.AvailableNano < e.AmountNano {
		return models.ErrInsufficientFunds
	}
	buyer.AvailableNano -= e.AmountNano
	buyer.LockedNano += e.AmountNano

	e.Status = models.EscrowStatusCreated
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	stored := *e
	m.escrows[e.JobID] = &stored
	return nil
}

func (m *memLedger) GetByJobID(_ context.Context, jobID string) (*models.Escrow, error) {
	e, ok := m.escrows[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memLedger) Settle(_ context.Context, jobID, newStatus string, proofHash, refundReason *string) (*models.Escrow, error) {
	e, ok := m.escrows[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if e.IsTerminal() || !models.IsValidEscrowTransition(e.Status, newStatus) {
		return nil, models.ErrAlreadySettled
	}

	buyer := m.account(e.Buyer)
	buyer.LockedNano -= e.AmountNano
	switch newStatus {
	case models.EscrowStatusReleased:
		provider := m.account(e.Provider)
		provider.AvailableNano += e.AmountNano
		provider.EarnedNano += e.AmountNano
	case models.EscrowStatusRefunded:
		buyer.AvailableNano += e.AmountNano
	}

	e.Status = newStatus
	e.ProofHash = proofHash
	e.RefundReason = refundReason
	now := time.Now()
	e.SettledAt = &now
	cp := *e
	return &cp, nil
}

func (m *memLedger) List(_ context.Context, f repositories.EscrowFilter) ([]models.Escrow, error) {
	var out []models.Escrow
	for _, e := range m.escrows {
		if f.Buyer != "" && e.Buyer != f.Buyer {
			continue
		}
		if f.Provider != "" && e.Provider != f.Provider {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (m *memLedger) Get(_ context.Context, address string) (*models.Account, error) {
	cp := *m.account(address)
	return &cp, nil
}

func (m *memLedger) CreditAvailable(_ context.Context, address string, amountNano int64) error {
	m.account(address).AvailableNano += amountNano
	return nil
}

func (m *memLedger) DebitAvailable(_ context.Context, address string, amountNano int64) error {
	a := m.account(address)
	if a.AvailableNano < amountNano {
		return models.ErrInsufficientFunds
	}
	a.AvailableNano -= amountNano
	return nil
}

func (m *memLedger) Totals(_ context.Context) (int64, int64, error) {
	var available, locked int64
	for _, a := range m.accounts {
		available += a.AvailableNano
		locked += a.LockedNano
	}
	return available, locked, nil
}

type memSettings struct {
	s models.LedgerSettings
}

func (m *memSettings) Get(_ context.Context) (*models.LedgerSettings, error) {
	cp := m.s
	return &cp, nil
}

func (m *memSettings) SetVerifier(_ context.Context, kind, endpoint string) error {
	m.s.VerifierKind = kind
	m.s.VerifierEndpoint = endpoint
	return nil
}

func (m *memSettings) SetAdmin(_ context.Context, address string) error {
	m.s.AdminAddress = address
	return nil
}

type memAudit struct {
	entries []models.AuditLog
}

func (m *memAudit) Log(_ context.Context, entry models.AuditLog) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) GetByEntity(_ context.Context, entityType, entityID string, _, _ int) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memPublisher struct {
	events []events.Event
}

func (m *memPublisher) Publish(_ context.Context, _ string, event events.Event) error {
	m.events = append(m.events, event)
	return nil
}

type stubVerifier struct {
	valid bool
	err   error
}

func (v stubVerifier) Verify(_ context.Context, _ []byte, _ []string) (bool, error) {
	return v.valid, v.err
}

type stubResolver struct {
	v verifier.Verifier
}

func (r stubResolver) For(settings *models.LedgerSettings) (verifier.Verifier, error) {
	if !settings.VerifierConfigured() {
		return nil, models.ErrVerifierNotConfigured
	}
	return r.v, nil
}

func testAddress(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr, err := wallet.AddressFromPubKey(pub, wallet.V4R2, wallet.DefaultSubwallet)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	return addr.String()
}

type escrowFixture struct {
	svc      *EscrowService
	ledger   *memLedger
	settings *memSettings
	audit    *memAudit
	pub      *memPublisher
	buyer    string
	provider string
	admin    string
}

func newEscrowFixture(t *testing.T, resolver verifierResolver) *escrowFixture {
	t.Helper()
	ledger := newMemLedger()
	admin := testAddress(t)
	settings := &memSettings{s: models.LedgerSettings{AdminAddress: admin}}
	audit := &memAudit{}
	pub := &memPublisher{}
	cfg := &config.Config{RefundWindow: 24 * time.Hour, PayoutMaxAttempts: 3}

	if resolver == nil {
		resolver = stubResolver{}
	}
	svc := NewEscrowService(ledger, settings, audit, resolver, pub, cfg, zap.NewNop())

	f := &escrowFixture{
		svc:      svc,
		ledger:   ledger,
		settings: settings,
		audit:    audit,
		pub:      pub,
		buyer:    testAddress(t),
		provider: testAddress(t),
		admin:    admin,
	}
	ledger.account(f.buyer).AvailableNano = 100
	return f
}

func TestCreateEscrowMovesAvailableToLocked(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	e, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 60)
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	if e.Status != models.EscrowStatusCreated {
		t.Errorf("status = %q, want created", e.Status)
	}

	buyer := f.ledger.account(f.buyer)
	if buyer.AvailableNano != 40 || buyer.LockedNano != 60 {
		t.Errorf("buyer balance = (%d available, %d locked), want (40, 60)", buyer.AvailableNano, buyer.LockedNano)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Type != events.EventEscrowCreated {
		t.Errorf("expected one escrow_created event, got %+v", f.pub.events)
	}
}

func TestCreateEscrowValidation(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		jobID    string
		provider string
		amount   int64
		wantErr  error
	}{
		{"zero amount", "job-a", f.provider, 0, models.ErrInvalidAmount},
		{"negative amount", "job-b", f.provider, -5, models.ErrInvalidAmount},
		{"unparseable provider", "job-c", "not-an-address", 10, models.ErrInvalidProvider},
		{"provider equals buyer", "job-d", f.buyer, 10, models.ErrInvalidProvider},
		{"insufficient funds", "job-e", f.provider, 1000, models.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateEscrow(ctx, f.buyer, tt.jobID, tt.provider, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	buyer := f.ledger.account(f.buyer)
	if buyer.AvailableNano != 100 || buyer.LockedNano != 0 {
		t.Errorf("failed creates must not move funds: (%d, %d)", buyer.AvailableNano, buyer.LockedNano)
	}
}

func TestCreateEscrowDuplicateJobID(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 10); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 10); !errors.Is(err, models.ErrDuplicateJob) {
		t.Errorf("err = %v, want ErrDuplicateJob", err)
	}
}

func TestReleaseCreditsProvider(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 60); err != nil {
		t.Fatalf("create: %v", err)
	}
	e, err := f.svc.ReleaseEscrow(ctx, "job-1", "deadbeef", f.buyer)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if e.Status != models.EscrowStatusReleased {
		t.Errorf("status = %q, want released", e.Status)
	}
	if e.ProofHash == nil || *e.ProofHash != "deadbeef" {
		t.Errorf("proof hash not recorded: %v", e.ProofHash)
	}
	if e.SettledAt == nil {
		t.Error("settled_at not set")
	}

	buyer := f.ledger.account(f.buyer)
	provider := f.ledger.account(f.provider)
	if buyer.LockedNano != 0 {
		t.Errorf("buyer locked = %d, want 0", buyer.LockedNano)
	}
	if provider.AvailableNano != 60 || provider.EarnedNano != 60 {
		t.Errorf("provider = (%d available, %d earned), want (60, 60)", provider.AvailableNano, provider.EarnedNano)
	}
}

func TestReleaseAuthorization(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()
	stranger := testAddress(t)

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 10); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.ReleaseEscrow(ctx, "job-1", "", stranger); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("stranger release err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.svc.ReleaseEscrow(ctx, "job-1", "", f.provider); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("provider direct release err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.svc.ReleaseEscrow(ctx, "job-1", "", f.admin); err != nil {
		t.Errorf("admin release err = %v, want nil", err)
	}
}

func TestRefundTiming(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 60); err != nil {
		t.Fatalf("create: %v", err)
	}
	// One hour in: buyer is blocked, admin is not.
	f.ledger.escrows["job-1"].CreatedAt = time.Now().Add(-time.Hour)

	if _, err := f.svc.RefundEscrow(ctx, "job-1", "slow provider", f.buyer); !errors.Is(err, models.ErrTooEarly) {
		t.Fatalf("early buyer refund err = %v, want ErrTooEarly", err)
	}
	buyer := f.ledger.account(f.buyer)
	if buyer.LockedNano != 60 {
		t.Fatalf("too-early refund must not move funds, locked = %d", buyer.LockedNano)
	}

	e, err := f.svc.RefundEscrow(ctx, "job-1", "dispute resolved", f.admin)
	if err != nil {
		t.Fatalf("admin refund: %v", err)
	}
	if e.Status != models.EscrowStatusRefunded {
		t.Errorf("status = %q, want refunded", e.Status)
	}
	if buyer.AvailableNano != 100 || buyer.LockedNano != 0 {
		t.Errorf("buyer after refund = (%d, %d), want (100, 0)", buyer.AvailableNano, buyer.LockedNano)
	}
}

func TestRefundAfterWindow(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 60); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.ledger.escrows["job-1"].CreatedAt = time.Now().Add(-25 * time.Hour)

	e, err := f.svc.RefundEscrow(ctx, "job-1", "no result", f.buyer)
	if err != nil {
		t.Fatalf("buyer refund after window: %v", err)
	}
	if e.RefundReason == nil || *e.RefundReason != "no result" {
		t.Errorf("refund reason not recorded: %v", e.RefundReason)
	}
}

func TestRefundAuthorization(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.ledger.escrows["job-1"].CreatedAt = time.Now().Add(-48 * time.Hour)

	if _, err := f.svc.RefundEscrow(ctx, "job-1", "", f.provider); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("provider refund err = %v, want ErrUnauthorized", err)
	}
}

func TestDoubleSettlementRejected(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 60); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.ReleaseEscrow(ctx, "job-1", "", f.buyer); err != nil {
		t.Fatalf("release: %v", err)
	}

	provider := f.ledger.account(f.provider)
	buyer := f.ledger.account(f.buyer)
	availBefore, earnedBefore := provider.AvailableNano, provider.EarnedNano

	if _, err := f.svc.RefundEscrow(ctx, "job-1", "", f.admin); !errors.Is(err, models.ErrAlreadySettled) {
		t.Errorf("refund after release err = %v, want ErrAlreadySettled", err)
	}
	if _, err := f.svc.ReleaseEscrow(ctx, "job-1", "", f.buyer); !errors.Is(err, models.ErrAlreadySettled) {
		t.Errorf("second release err = %v, want ErrAlreadySettled", err)
	}

	if provider.AvailableNano != availBefore || provider.EarnedNano != earnedBefore {
		t.Error("rejected settlement changed provider balance")
	}
	if buyer.AvailableNano != 40 || buyer.LockedNano != 0 {
		t.Errorf("rejected settlement changed buyer balance: (%d, %d)", buyer.AvailableNano, buyer.LockedNano)
	}
}

func TestReleaseWithProofRequiresVerifier(t *testing.T) {
	f := newEscrowFixture(t, stubResolver{v: stubVerifier{valid: true}})
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	// No verifier configured yet.
	if _, err := f.svc.ReleaseWithProof(ctx, "job-1", []byte("proof"), nil, f.provider); !errors.Is(err, models.ErrVerifierNotConfigured) {
		t.Errorf("err = %v, want ErrVerifierNotConfigured", err)
	}
}

func TestReleaseWithProofRejected(t *testing.T) {
	f := newEscrowFixture(t, stubResolver{v: stubVerifier{valid: false}})
	ctx := context.Background()
	f.settings.s.VerifierKind = models.VerifierKindHTTP
	f.settings.s.VerifierEndpoint = "http://verifier.local"

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.ReleaseWithProof(ctx, "job-1", []byte("bad proof"), nil, f.provider); !errors.Is(err, models.ErrVerificationFailed) {
		t.Errorf("err = %v, want ErrVerificationFailed", err)
	}

	e, _ := f.svc.GetEscrow(ctx, "job-1")
	if e.Status != models.EscrowStatusCreated {
		t.Errorf("rejected proof must leave escrow open, status = %q", e.Status)
	}
}

func TestReleaseWithProofAccepted(t *testing.T) {
	f := newEscrowFixture(t, stubResolver{v: stubVerifier{valid: true}})
	ctx := context.Background()
	f.settings.s.VerifierKind = models.VerifierKindHTTP
	f.settings.s.VerifierEndpoint = "http://verifier.local"

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 60); err != nil {
		t.Fatalf("create: %v", err)
	}
	e, err := f.svc.ReleaseWithProof(ctx, "job-1", []byte("good proof"), []string{"1", "2"}, f.provider)
	if err != nil {
		t.Fatalf("ReleaseWithProof: %v", err)
	}
	if e.Status != models.EscrowStatusReleased {
		t.Errorf("status = %q, want released", e.Status)
	}
	if e.ProofHash == nil || len(*e.ProofHash) != 64 {
		t.Errorf("expected sha256 proof hash, got %v", e.ProofHash)
	}

	provider := f.ledger.account(f.provider)
	if provider.EarnedNano != 60 {
		t.Errorf("provider earned = %d, want 60", provider.EarnedNano)
	}
}

func TestReleaseWithProofVerifierError(t *testing.T) {
	f := newEscrowFixture(t, stubResolver{v: stubVerifier{err: errors.New("connection refused")}})
	ctx := context.Background()
	f.settings.s.VerifierKind = models.VerifierKindHTTP
	f.settings.s.VerifierEndpoint = "http://verifier.local"

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := f.svc.ReleaseWithProof(ctx, "job-1", []byte("proof"), nil, f.provider)
	if err == nil || errors.Is(err, models.ErrVerificationFailed) {
		t.Errorf("verifier outage must not look like a rejected proof: %v", err)
	}

	e, _ := f.svc.GetEscrow(ctx, "job-1")
	if e.Status != models.EscrowStatusCreated {
		t.Errorf("escrow must stay open on verifier outage, status = %q", e.Status)
	}
}

func TestIsPending(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	pending, err := f.svc.IsPending(ctx, "missing")
	if err != nil || pending {
		t.Errorf("missing job: pending=%v err=%v, want false nil", pending, err)
	}

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	if pending, _ := f.svc.IsPending(ctx, "job-1"); !pending {
		t.Error("open escrow should be pending")
	}

	if _, err := f.svc.ReleaseEscrow(ctx, "job-1", "", f.buyer); err != nil {
		t.Fatalf("release: %v", err)
	}
	if pending, _ := f.svc.IsPending(ctx, "job-1"); pending {
		t.Error("settled escrow should not be pending")
	}
}

func TestSetVerifierAdminOnly(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	if err := f.svc.SetVerifier(ctx, f.buyer, models.VerifierKindHTTP, "http://v.local"); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("non-admin SetVerifier err = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.SetVerifier(ctx, f.admin, "bogus", ""); err == nil {
		t.Error("unknown verifier kind must be rejected")
	}
	if err := f.svc.SetVerifier(ctx, f.admin, models.VerifierKindHTTP, "http://v.local"); err != nil {
		t.Fatalf("admin SetVerifier: %v", err)
	}
	if f.settings.s.VerifierKind != models.VerifierKindHTTP {
		t.Errorf("verifier kind = %q, want http", f.settings.s.VerifierKind)
	}
}

func TestTransferAdmin(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()
	next := testAddress(t)

	if err := f.svc.TransferAdmin(ctx, f.buyer, next); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("non-admin transfer err = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.TransferAdmin(ctx, f.admin, next); err != nil {
		t.Fatalf("TransferAdmin: %v", err)
	}
	// The old admin lost the role, the new one has it.
	if err := f.svc.TransferAdmin(ctx, f.admin, f.admin); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("old admin should have lost the role, err = %v", err)
	}
	if err := f.svc.TransferAdmin(ctx, next, f.admin); err != nil {
		t.Errorf("new admin transfer err = %v", err)
	}
}

func TestAuditTrailPerEscrow(t *testing.T) {
	f := newEscrowFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.buyer, "job-1", f.provider, 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.ReleaseEscrow(ctx, "job-1", "", f.buyer); err != nil {
		t.Fatalf("release: %v", err)
	}

	entries, err := f.svc.GetEscrowEvents(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetEscrowEvents: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != "escrow_created" || entries[1].Action != "escrow_released" {
		t.Errorf("unexpected actions: %q, %q", entries[0].Action, entries[1].Action)
	}
}
