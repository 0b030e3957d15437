// Package mollie adapts the Mollie payments API to the top-up provider.
package mollie

import (
	"context"
	"fmt"
	"strings"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"
	"github.com/WISVCH/CHPay-sub001/internal/topup"
)

type Client struct {
	client *mollie.Client
}

func NewClient(apiKey string) (*Client, error) {
	cfg := mollie.NewAPITestingConfig(true)
	if strings.HasPrefix(apiKey, "live_") {
		cfg = mollie.NewAPIConfig(true)
	}

	client, err := mollie.NewClient(nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mollie client: %w", err)
	}
	if err := client.WithAuthenticationValue(apiKey); err != nil {
		return nil, fmt.Errorf("failed to set Mollie API key: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) CreatePayment(ctx context.Context, p topup.ProviderPayment) (*topup.Checkout, error) {
	metadata := make(map[string]interface{}, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	if p.BillingEmail != "" {
		metadata["billing_email"] = p.BillingEmail
	}

	_, payment, err := c.client.Payments.Create(ctx, mollie.CreatePayment{
		Amount:      Amount(p.Amount.StringFixed(2), p.Currency),
		Description: p.Description,
		RedirectURL: p.RedirectURL,
		WebhookURL:  p.WebhookURL,
		Metadata:    metadata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mollie payment: %w", err)
	}
	if payment.Links.Checkout == nil {
		return nil, fmt.Errorf("mollie payment %s has no checkout link", payment.ID)
	}

	return &topup.Checkout{
		ProviderRef: payment.ID,
		CheckoutURL: payment.Links.Checkout.Href,
	}, nil
}

func (c *Client) PaymentStatus(ctx context.Context, providerRef string) (topup.ProviderStatus, error) {
	_, payment, err := c.client.Payments.Get(ctx, providerRef, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get Mollie payment: %w", err)
	}
	return MapStatus(payment.Status), nil
}

// MapStatus collapses a Mollie payment status. Unknown statuses are treated
// as still pending.
func MapStatus(status string) topup.ProviderStatus {
	switch strings.ToLower(status) {
	case "paid":
		return topup.ProviderPaid
	case "failed", "canceled", "cancelled", "expired":
		return topup.ProviderFailed
	default:
		return topup.ProviderPending
	}
}

func Amount(value, currency string) *mollie.Amount {
	return &mollie.Amount{
		Value:    value,
		Currency: currency,
	}
}
