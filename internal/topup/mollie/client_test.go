package mollie

import (
	"testing"

	"github.com/WISVCH/CHPay-sub001/internal/topup"
	"github.com/stretchr/testify/assert"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		status string
		want   topup.ProviderStatus
	}{
		{"paid", topup.ProviderPaid},
		{"failed", topup.ProviderFailed},
		{"canceled", topup.ProviderFailed},
		{"expired", topup.ProviderFailed},
		{"open", topup.ProviderPending},
		{"pending", topup.ProviderPending},
		{"authorized", topup.ProviderPending},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, MapStatus(tt.status))
		})
	}
}

func TestAmount(t *testing.T) {
	a := Amount("10.32", "EUR")
	assert.Equal(t, "10.32", a.Value)
	assert.Equal(t, "EUR", a.Currency)
}

func TestNewClient_TestKey(t *testing.T) {
	c, err := NewClient("test_abcdefghijklmnopqrstuvwxyz0123")
	assert.NoError(t, err)
	assert.NotNil(t, c)
}
