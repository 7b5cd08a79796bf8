package models

import "time"

// Wallet holds the per-owner credit balance. The balance is maintained
// incrementally but must always equal the replay of completed transactions.
type Wallet struct {
	ID        int32     `json:"id"`
	OwnerID   int32     `json:"owner_id"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
