package payment

import (
	"context"

	"creditledger/internal/models"
)

// Intent is the provider-specific payment reference handed back to the caller.
type Intent struct {
	ProviderRef string
	CheckoutURL string
	QRCode      string
}

// Provider creates payment intents and later confirms whether funds arrived.
// One implementation per provider.
type Provider interface {
	CreateIntent(ctx context.Context, amountCents int64, transactionRef string) (*Intent, error)
	Verify(ctx context.Context, providerRef string) (bool, error)
}

// Registry resolves a provider by its enum value.
type Registry map[models.PaymentProvider]Provider

func NewRegistry() Registry {
	return Registry{
		models.ProviderPayPal: &PayPalProvider{},
		models.ProviderGCash:  &GCashProvider{},
	}
}

func (r Registry) Get(p models.PaymentProvider) (Provider, bool) {
	impl, ok := r[p]
	return impl, ok
}
