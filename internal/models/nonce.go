package models

import "time"

// AuthNonce is a one-time challenge the wallet signs to prove address ownership.
type AuthNonce struct {
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"-"`
}
