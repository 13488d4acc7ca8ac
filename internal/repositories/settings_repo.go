package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/v-inference/backend/internal/models"
)

type SettingsRepo struct {
	pool *pgxpool.Pool
}

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

// EnsureDefault seeds the single settings row on first start. The bootstrap
// admin comes from the environment; later transfers live only in the DB.
func (r *SettingsRepo) EnsureDefault(ctx context.Context, adminAddress string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ledger_settings (singleton, admin_address)
		VALUES (true, $1)
		ON CONFLICT (singleton) DO NOTHING
	`, adminAddress)
	return err
}

func (r *SettingsRepo) Get(ctx context.Context) (*models.LedgerSettings, error) {
	var s models.LedgerSettings
	err := r.pool.QueryRow(ctx, `
		SELECT admin_address, verifier_kind, verifier_endpoint, updated_at
		FROM ledger_settings WHERE singleton = true
	`).Scan(&s.AdminAddress, &s.VerifierKind, &s.VerifierEndpoint, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SettingsRepo) SetVerifier(ctx context.Context, kind, endpoint string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE ledger_settings SET verifier_kind = $1, verifier_endpoint = $2, updated_at = now()
		WHERE singleton = true
	`, kind, endpoint)
	return err
}

func (r *SettingsRepo) SetAdmin(ctx context.Context, address string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE ledger_settings SET admin_address = $1, updated_at = now()
		WHERE singleton = true
	`, address)
	return err
}
