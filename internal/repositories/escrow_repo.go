package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/v-inference/backend/internal/models"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `job_id, buyer, provider, amount_nano, status, proof_hash, refund_reason, created_at, settled_at`

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var e models.Escrow
	err := row.Scan(&e.JobID, &e.Buyer, &e.Provider, &e.AmountNano, &e.Status,
		&e.ProofHash, &e.RefundReason, &e.CreatedAt, &e.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Create inserts the escrow and moves amount from the buyer's available
// balance to locked, in one transaction. The buyer's account row is locked
// first so no concurrent create can spend the same funds.
func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var available int64
	err = tx.QueryRow(ctx, `
		SELECT available_nano FROM accounts WHERE address = $1 FOR UPDATE
	`, e.Buyer).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrInsufficientFunds
		}
		return err
	}
	if available < e.AmountNano {
		return models.ErrInsufficientFunds
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO escrows (job_id, buyer, provider, amount_nano, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.JobID, e.Buyer, e.Provider, e.AmountNano, models.EscrowStatusCreated).Scan(&e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrDuplicateJob
		}
		return err
	}
	e.Status = models.EscrowStatusCreated

	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET available_nano = available_nano - $1, locked_nano = locked_nano + $1, updated_at = now()
		WHERE address = $2
	`, e.AmountNano, e.Buyer)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *EscrowRepo) GetByJobID(ctx context.Context, jobID string) (*models.Escrow, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE job_id = $1
	`, jobID))
}

// Settle performs a terminal transition atomically: the escrow row is locked,
// the terminal guard is checked, and the balance aggregates move in the same
// transaction. Release credits the provider (earned + available); refund
// credits the buyer. No external interaction happens here.
func (r *EscrowRepo) Settle(ctx context.Context, jobID, newStatus string, proofHash, refundReason *string) (*models.Escrow, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	e, err := scanEscrow(tx.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE job_id = $1 FOR UPDATE
	`, jobID))
	if err != nil {
		return nil, err
	}
	if e.IsTerminal() {
		return nil, models.ErrAlreadySettled
	}
	if !models.IsValidEscrowTransition(e.Status, newStatus) {
		return nil, models.ErrAlreadySettled
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE escrows
		SET status = $1, proof_hash = $2, refund_reason = $3, settled_at = $4
		WHERE job_id = $5
	`, newStatus, proofHash, refundReason, now, jobID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET locked_nano = locked_nano - $1, updated_at = now()
		WHERE address = $2
	`, e.AmountNano, e.Buyer)
	if err != nil {
		return nil, err
	}

	switch newStatus {
	case models.EscrowStatusReleased:
		_, err = tx.Exec(ctx, `
			INSERT INTO accounts (address, available_nano, earned_nano)
			VALUES ($1, $2, $2)
			ON CONFLICT (address) DO UPDATE
			SET available_nano = accounts.available_nano + EXCLUDED.available_nano,
			    earned_nano = accounts.earned_nano + EXCLUDED.earned_nano,
			    updated_at = now()
		`, e.Provider, e.AmountNano)
	case models.EscrowStatusRefunded:
		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET available_nano = available_nano + $1, updated_at = now()
			WHERE address = $2
		`, e.AmountNano, e.Buyer)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	e.Status = newStatus
	e.ProofHash = proofHash
	e.RefundReason = refundReason
	e.SettledAt = &now
	return e, nil
}

// EscrowFilter narrows List; empty fields match everything.
type EscrowFilter struct {
	Buyer    string
	Provider string
	Status   string
	Limit    int
	Offset   int
}

func (r *EscrowRepo) List(ctx context.Context, f EscrowFilter) ([]models.Escrow, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE ($1 = '' OR buyer = $1)
		  AND ($2 = '' OR provider = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC LIMIT $4 OFFSET $5
	`, f.Buyer, f.Provider, f.Status, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		var e models.Escrow
		if err := rows.Scan(&e.JobID, &e.Buyer, &e.Provider, &e.AmountNano, &e.Status,
			&e.ProofHash, &e.RefundReason, &e.CreatedAt, &e.SettledAt); err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

// GetRefundableOpen returns open escrows whose buyer refund window has passed.
// Used by the worker to notify buyers; it never settles anything itself.
func (r *EscrowRepo) GetRefundableOpen(ctx context.Context, window time.Duration, limit int) ([]models.Escrow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status = $1 AND created_at < now() - $2::interval
		ORDER BY created_at ASC LIMIT $3
	`, models.EscrowStatusCreated, window.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		var e models.Escrow
		if err := rows.Scan(&e.JobID, &e.Buyer, &e.Provider, &e.AmountNano, &e.Status,
			&e.ProofHash, &e.RefundReason, &e.CreatedAt, &e.SettledAt); err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

// TotalOpenLockedNano is the ledger's open liability: sum of amounts over all
// non-terminal escrows.
func (r *EscrowRepo) TotalOpenLockedNano(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_nano), 0) FROM escrows WHERE status = $1
	`, models.EscrowStatusCreated).Scan(&total)
	return total, err
}
