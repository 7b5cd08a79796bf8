package models

import "time"

type Transaction struct {
	ID          int32           `json:"id"`
	OwnerID     int32           `json:"owner_id"`
	WalletID    int32           `json:"wallet_id"`
	Kind        TransactionKind `json:"kind"`
	AmountCents int64           `json:"amount_cents"`
	Credits     int64           `json:"credits"`
	Status      StatusType      `json:"status"`
	Provider    PaymentProvider `json:"provider,omitempty"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	ExternalRef string          `json:"external_ref,omitempty"`
	PackageID   string          `json:"package_id,omitempty"`
	Multiplier  int32           `json:"multiplier"`
	Description string          `json:"description"`
	AdminNote   string          `json:"admin_note,omitempty"`
	ProcessedBy *int32          `json:"processed_by,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type TransactionKind string

const (
	KindDeposit TransactionKind = "deposit"
	KindDebit   TransactionKind = "debit"
)

type StatusType string

const (
	StatusPending   StatusType = "pending"
	StatusCompleted StatusType = "completed"
	StatusFailed    StatusType = "failed"
	StatusRejected  StatusType = "rejected"
)

type PaymentProvider string

const (
	ProviderPayPal PaymentProvider = "paypal"
	ProviderGCash  PaymentProvider = "gcash"
)

type TransactionAction string

const (
	ActionApprove TransactionAction = "approve"
	ActionReject  TransactionAction = "reject"
)

// TransactionPage is a history slice plus the total row count for the filter.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	TotalCount   int64         `json:"total_count"`
	HasMore      bool          `json:"has_more"`
}

// TransactionStats are deposit aggregates for the admin dashboard.
type TransactionStats struct {
	TotalTransactions     int64 `json:"total_transactions"`
	PendingTransactions   int64 `json:"pending_transactions"`
	CompletedTransactions int64 `json:"completed_transactions"`
	RejectedTransactions  int64 `json:"rejected_transactions"`
	TotalRevenueCents     int64 `json:"total_revenue_cents"`
	PendingRevenueCents   int64 `json:"pending_revenue_cents"`
}
