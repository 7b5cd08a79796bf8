package repository

import (
	"context"

	"creditledger/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) (int32, error)
	GetByID(ctx context.Context, id int32) (*models.Transaction, error)
	// SetProviderRef stores the gateway reference obtained after the row was
	// inserted.
	SetProviderRef(ctx context.Context, id int32, providerRef string) error
	// MarkFailed transitions a pending deposit to failed. No balance change.
	MarkFailed(ctx context.Context, id int32, ownerID int32) error
	// Process applies the admin decision. The status transition is a
	// compare-and-swap on (status = pending AND kind = deposit); the wallet
	// credit on approval happens in the same store transaction. Returns
	// ErrInvalidTransactionState when the row is already terminal.
	Process(ctx context.Context, id int32, adminID int32, action models.TransactionAction, adminNote string) (*models.Transaction, error)
	ListByOwner(ctx context.Context, ownerID int32, limit, offset int) (*models.TransactionPage, error)
	// ListDeposits is the moderation queue; status == "" means any status.
	ListDeposits(ctx context.Context, status models.StatusType, limit, offset int) (*models.TransactionPage, error)
	GetStats(ctx context.Context) (*models.TransactionStats, error)
}
