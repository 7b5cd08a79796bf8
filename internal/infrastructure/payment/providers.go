package payment

import (
	"context"
	"fmt"
	"strings"
)

// PayPalProvider is a mock implementation; replace with the real PayPal SDK
// in production.
type PayPalProvider struct{}

func (p *PayPalProvider) CreateIntent(ctx context.Context, amountCents int64, transactionRef string) (*Intent, error) {
	return &Intent{
		ProviderRef: fmt.Sprintf("paypal_order_%s", transactionRef),
	}, nil
}

func (p *PayPalProvider) Verify(ctx context.Context, providerRef string) (bool, error) {
	return strings.HasPrefix(providerRef, "paypal_order_"), nil
}

// GCashProvider is a mock implementation; replace with the real GCash API
// in production.
type GCashProvider struct{}

func (p *GCashProvider) CreateIntent(ctx context.Context, amountCents int64, transactionRef string) (*Intent, error) {
	return &Intent{
		ProviderRef: fmt.Sprintf("gcash_payment_%s", transactionRef),
		QRCode: fmt.Sprintf(
			"https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=gcash://pay?amount=%d&ref=%s",
			amountCents, transactionRef),
	}, nil
}

func (p *GCashProvider) Verify(ctx context.Context, providerRef string) (bool, error) {
	return strings.HasPrefix(providerRef, "gcash_payment_"), nil
}
