package models

import (
	"time"
)

// Escrow statuses
const (
	EscrowStatusCreated  = "created"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
)

// Valid state transitions: from -> []to.
// Both released and refunded are terminal — a settled job can never move again.
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusCreated:  {EscrowStatusReleased, EscrowStatusRefunded},
	EscrowStatusReleased: {},
	EscrowStatusRefunded: {},
}

func IsValidEscrowTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Escrow is one funded inference job. JobID is caller-chosen and opaque to the
// ledger; uniqueness is the only contract. Buyer, provider and amount are
// immutable after creation. Terminal rows are kept forever for audit.
type Escrow struct {
	JobID        string     `json:"job_id"`
	Buyer        string     `json:"buyer"`
	Provider     string     `json:"provider"`
	AmountNano   int64      `json:"amount_nano"`
	Status       string     `json:"status"`
	ProofHash    *string    `json:"proof_hash,omitempty"`
	RefundReason *string    `json:"refund_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
}

func (e *Escrow) IsTerminal() bool {
	return e.Status == EscrowStatusReleased || e.Status == EscrowStatusRefunded
}

// RefundableAt is the moment from which the buyer may refund without admin help.
func (e *Escrow) RefundableAt(window time.Duration) time.Time {
	return e.CreatedAt.Add(window)
}

// BuyerMayRefund reports whether a non-admin buyer refund is allowed at now.
func (e *Escrow) BuyerMayRefund(now time.Time, window time.Duration) bool {
	return now.After(e.RefundableAt(window))
}
