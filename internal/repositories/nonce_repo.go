package repositories

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/v-inference/backend/internal/models"
)

type NonceRepo struct {
	pool *pgxpool.Pool
}

func NewNonceRepo(pool *pgxpool.Pool) *NonceRepo {
	return &NonceRepo{pool: pool}
}

// Create issues a fresh one-time challenge payload with the given TTL.
func (r *NonceRepo) Create(ctx context.Context, ttl time.Duration) (*models.AuthNonce, error) {
	n := &models.AuthNonce{Payload: generateNonce(32)}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO auth_nonces (payload, expires_at)
		VALUES ($1, now() + $2::interval)
		RETURNING created_at, expires_at
	`, n.Payload, ttl.String()).Scan(&n.CreatedAt, &n.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Consume marks an unexpired, unused payload as used; a payload can only ever
// be consumed once.
func (r *NonceRepo) Consume(ctx context.Context, payload string) (*models.AuthNonce, error) {
	var n models.AuthNonce
	err := r.pool.QueryRow(ctx, `
		UPDATE auth_nonces
		SET used = true
		WHERE payload = $1 AND used = false AND expires_at > now()
		RETURNING payload, created_at, expires_at, used
	`, payload).Scan(&n.Payload, &n.CreatedAt, &n.ExpiresAt, &n.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func generateNonce(bytes int) string {
	b := make([]byte, bytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
