package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TABLE_NAME", "shop")
	t.Setenv("IDEMPOTENCY_TTL", "")
	t.Setenv("RUN_LOCAL", "")
	t.Setenv("MP_API_BASE_URL", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.TableName)
	assert.Equal(t, DefaultIdempotencyTTL, cfg.IdempotencyTTL)
	assert.Equal(t, DefaultMercadoPagoURL, cfg.MercadoPagoBaseURL)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.False(t, cfg.RunLocal)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TABLE_NAME", "shop")
	t.Setenv("IDEMPOTENCY_TABLE", "idem")
	t.Setenv("IDEMPOTENCY_TTL", "2h")
	t.Setenv("PAYMENTS_QUEUE_URL", "https://sqs.local/q")
	t.Setenv("METRICS_NAMESPACE", "")
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "idem", cfg.IdempotencyTable)
	assert.Equal(t, 2*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "https://sqs.local/q", cfg.PaymentsQueueURL)
	assert.Empty(t, cfg.MetricsNamespace)
	assert.True(t, cfg.RunLocal)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("TABLE_NAME", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("TABLE_NAME", "shop")
	t.Setenv("IDEMPOTENCY_TTL", "two days")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("IDEMPOTENCY_TTL", "")
	t.Setenv("RUN_LOCAL", "maybe")
	_, err = Load()
	require.Error(t, err)
}
