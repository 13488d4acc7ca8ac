package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/v-inference/backend/internal/models"
)

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

func (r *PayoutRepo) Create(ctx context.Context, p *models.PayoutRequest) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payout_requests (address, amount_nano, kind, memo, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, p.Address, p.AmountNano, p.Kind, p.Memo, models.PayoutStatusQueued).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	err := r.pool.QueryRow(ctx, `
		SELECT id, address, amount_nano, kind, memo, status, attempts, tx_hash, last_error, created_at, updated_at
		FROM payout_requests WHERE id = $1
	`, id).Scan(&p.ID, &p.Address, &p.AmountNano, &p.Kind, &p.Memo, &p.Status,
		&p.Attempts, &p.TxHash, &p.LastError, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetQueued returns queued payouts oldest-first for the worker pump.
func (r *PayoutRepo) GetQueued(ctx context.Context, limit int) ([]models.PayoutRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, address, amount_nano, kind, memo, status, attempts, tx_hash, last_error, created_at, updated_at
		FROM payout_requests WHERE status = $1
		ORDER BY created_at ASC LIMIT $2
	`, models.PayoutStatusQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []models.PayoutRequest
	for rows.Next() {
		var p models.PayoutRequest
		if err := rows.Scan(&p.ID, &p.Address, &p.AmountNano, &p.Kind, &p.Memo, &p.Status,
			&p.Attempts, &p.TxHash, &p.LastError, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func (r *PayoutRepo) MarkSent(ctx context.Context, id uuid.UUID, txHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payout_requests
		SET status = $1, tx_hash = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, models.PayoutStatusSent, txHash, id, models.PayoutStatusQueued)
	return err
}

// RecordAttempt increments the attempt counter and stores the error. When
// final is true the payout moves to failed and will not be retried.
func (r *PayoutRepo) RecordAttempt(ctx context.Context, id uuid.UUID, lastError string, final bool) error {
	status := models.PayoutStatusQueued
	if final {
		status = models.PayoutStatusFailed
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE payout_requests
		SET attempts = attempts + 1, last_error = $1, status = $2, updated_at = now()
		WHERE id = $3
	`, lastError, status, id)
	return err
}

func (r *PayoutRepo) ListByAddress(ctx context.Context, address string, limit, offset int) ([]models.PayoutRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, address, amount_nano, kind, memo, status, attempts, tx_hash, last_error, created_at, updated_at
		FROM payout_requests WHERE address = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, address, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []models.PayoutRequest
	for rows.Next() {
		var p models.PayoutRequest
		if err := rows.Scan(&p.ID, &p.Address, &p.AmountNano, &p.Kind, &p.Memo, &p.Status,
			&p.Attempts, &p.TxHash, &p.LastError, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}
