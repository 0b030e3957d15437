package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, "0.32", cfg.TopUpFeeFixed.StringFixed(2))
	assert.Equal(t, 5, cfg.WebhookMaxRetries)
	assert.Equal(t, 3, cfg.RefundMaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.WebhookRetryPeriod)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 24*time.Hour, cfg.SweepInterval)
	assert.Equal(t, 20, cfg.DBMaxOpenConns)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TOPUP_FEE_PERCENT", "1.5")
	t.Setenv("WEBHOOK_MAX_RETRIES", "7")
	t.Setenv("DB_LOCK_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "1.5", cfg.TopUpFeePercent.String())
	assert.Equal(t, 7, cfg.WebhookMaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.DBLockTimeout)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("REFUND_MAX_ATTEMPTS", "three")
	_, err := Load()
	assert.Error(t, err)
}
