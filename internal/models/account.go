package models

import "time"

// Account aggregates per TON address. AvailableNano is deposited, spendable
// value; LockedNano is the sum of the address's open escrows as buyer;
// EarnedNano is lifetime value released to the address as provider.
type Account struct {
	Address       string    `json:"address"`
	AvailableNano int64     `json:"available_nano"`
	LockedNano    int64     `json:"locked_nano"`
	EarnedNano    int64     `json:"earned_nano"`
	UpdatedAt     time.Time `json:"updated_at"`
}
