package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/v-inference/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Get returns the account aggregates, or a zero-valued account for an address
// the ledger has never seen.
func (r *AccountRepo) Get(ctx context.Context, address string) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT address, available_nano, locked_nano, earned_nano, updated_at
		FROM accounts WHERE address = $1
	`, address).Scan(&a.Address, &a.AvailableNano, &a.LockedNano, &a.EarnedNano, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.Account{Address: address}, nil
		}
		return nil, err
	}
	return &a, nil
}

// CreditAvailable adds deposited value to an account, creating it on first use.
func (r *AccountRepo) CreditAvailable(ctx context.Context, address string, amountNano int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (address, available_nano)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE
		SET available_nano = accounts.available_nano + EXCLUDED.available_nano, updated_at = now()
	`, address, amountNano)
	return err
}

// DebitAvailable removes spendable value; the status guard in the WHERE clause
// makes overdrafts impossible regardless of interleaving.
func (r *AccountRepo) DebitAvailable(ctx context.Context, address string, amountNano int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET available_nano = available_nano - $1, updated_at = now()
		WHERE address = $2 AND available_nano >= $1
	`, amountNano, address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInsufficientFunds
	}
	return nil
}

// Totals returns the sums of available and locked value across all accounts.
// Used by the invariant audit and the admin sweep.
func (r *AccountRepo) Totals(ctx context.Context) (availableNano, lockedNano int64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(available_nano), 0), COALESCE(SUM(locked_nano), 0) FROM accounts
	`).Scan(&availableNano, &lockedNano)
	return availableNano, lockedNano, err
}
