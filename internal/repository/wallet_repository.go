package repository

import (
	"context"

	"creditledger/internal/models"
)

type WalletRepository interface {
	// GetOrCreate returns the owner's wallet, creating it with zero credits on
	// first access. Safe under concurrent first access for the same owner.
	GetOrCreate(ctx context.Context, ownerID int32) (*models.Wallet, error)
	GetByOwnerID(ctx context.Context, ownerID int32) (*models.Wallet, error)
	GetCredits(ctx context.Context, ownerID int32) (int64, error)
	// Debit decrements the wallet and records the debit transaction in one
	// store transaction. Returns ErrInsufficientCredits without mutating
	// anything when the balance is too low.
	Debit(ctx context.Context, ownerID int32, credits int64, description string) (*models.Transaction, error)
}
