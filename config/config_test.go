package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("RAZORPAY_KEY", "rzp_test_key")
	t.Setenv("RAZORPAY_SECRET", "rzp_test_secret")
	t.Setenv("ORDER_TTL", "45m")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("PAYMENT_GATEWAY_PRODUCTION", "true")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "razorpay", cfg.Gateway.Provider)
	assert.Equal(t, "rzp_test_secret", cfg.Gateway.KeySecret)
	assert.True(t, cfg.Gateway.Production)
	assert.Equal(t, 45*time.Minute, cfg.Checkout.OrderTTL)
	assert.Equal(t, 2*time.Minute, cfg.Checkout.ReconcileGrace)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	assert.Equal(t, "INR", cfg.Gateway.Currency)
}

func TestValidate_Rejects(t *testing.T) {
	t.Setenv("RAZORPAY_KEY", "rzp_test_key")
	t.Setenv("RAZORPAY_SECRET", "rzp_test_secret")

	cfg := Load()
	cfg.Gateway.KeyID = ""
	assert.Error(t, cfg.Validate(), "razorpay needs a key id")

	cfg = Load()
	cfg.Gateway.Provider = "paypal"
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Checkout.ReconcileGrace = cfg.Checkout.OrderTTL
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Database.Driver = "sqlite"
	assert.NoError(t, cfg.Validate())
}

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("SWEEP_BATCH", "not-a-number")
	t.Setenv("RECONCILE_GRACE", "soon")
	assert.Equal(t, 100, getEnvInt("SWEEP_BATCH", 100))
	assert.Equal(t, time.Minute, getEnvDuration("RECONCILE_GRACE", time.Minute))
	t.Setenv("SECOND_FOR_TEST", "second")
	assert.Equal(t, "second", firstEnv("UNSET_FOR_TEST", "SECOND_FOR_TEST"))
	assert.False(t, getEnvBool("UNSET_FOR_TEST", false))
}
