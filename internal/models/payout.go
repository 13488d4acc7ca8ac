package models

import (
	"time"

	"github.com/google/uuid"
)

// Payout statuses
const (
	PayoutStatusQueued = "queued"
	PayoutStatusSent   = "sent"
	PayoutStatusFailed = "failed"
)

// Payout kinds
const (
	PayoutKindWithdrawal = "withdrawal"
	PayoutKindSweep      = "sweep"
)

// PayoutRequest is an outbound treasury transfer. Settlement never touches the
// chain directly; withdrawals and sweeps are queued here and delivered by the
// worker with bounded retries.
type PayoutRequest struct {
	ID         uuid.UUID `json:"id"`
	Address    string    `json:"address"`
	AmountNano int64     `json:"amount_nano"`
	Kind       string    `json:"kind"`
	Memo       string    `json:"memo"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	TxHash     *string   `json:"tx_hash,omitempty"`
	LastError  *string   `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
