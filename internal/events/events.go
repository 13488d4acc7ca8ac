package events

import "context"

// StreamEscrow is the pub/sub channel all ledger events go to.
const StreamEscrow = "events:escrow"

// Event types
const (
	EventEscrowCreated    = "escrow_created"
	EventEscrowReleased   = "escrow_released"
	EventEscrowRefunded   = "escrow_refunded"
	EventEscrowRefundable = "escrow_refundable"
	EventDepositReceived  = "deposit_received"
	EventPayoutSent       = "payout_sent"
	EventPayoutFailed     = "payout_failed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
