package models

// PaymentPackage is one purchasable credit tier. The catalog is configuration,
// not a hard-coded invariant.
type PaymentPackage struct {
	ID            string `json:"id"`
	PriceCents    int64  `json:"price_cents"`
	Credits       int64  `json:"credits"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	AllowMultiple bool   `json:"allow_multiple"`
}

// DepositIntent is returned by CreateDepositIntent: the persisted transaction
// id plus the provider-specific reference the caller completes payment with.
type DepositIntent struct {
	TransactionID int32  `json:"transaction_id"`
	ProviderRef   string `json:"provider_ref"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	QRCode        string `json:"qr_code,omitempty"`
}
