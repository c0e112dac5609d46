// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultIdempotencyTTL   = 48 * time.Hour
	DefaultMercadoPagoURL   = "https://api.mercadopago.com"
	DefaultMetricsNamespace = "ShopOrderflow"
	DefaultHTTPAddr         = ":8080"
)

// Config is the configuration shared by the api and worker binaries.
type Config struct {
	TableName        string
	IdempotencyTable string
	IdempotencyTTL   time.Duration
	PaymentsQueueURL string

	MercadoPagoToken   string
	MercadoPagoBaseURL string

	// MetricsNamespace is empty when metrics are disabled.
	MetricsNamespace string

	RunLocal bool
	HTTPAddr string
}

// Load reads the environment. TABLE_NAME is required.
func Load() (Config, error) {
	cfg := Config{
		TableName:          os.Getenv("TABLE_NAME"),
		IdempotencyTable:   os.Getenv("IDEMPOTENCY_TABLE"),
		IdempotencyTTL:     DefaultIdempotencyTTL,
		PaymentsQueueURL:   os.Getenv("PAYMENTS_QUEUE_URL"),
		MercadoPagoToken:   os.Getenv("MP_ACCESS_TOKEN"),
		MercadoPagoBaseURL: stringOr("MP_API_BASE_URL", DefaultMercadoPagoURL),
		MetricsNamespace:   DefaultMetricsNamespace,
		HTTPAddr:           stringOr("HTTP_ADDR", DefaultHTTPAddr),
	}
	if cfg.TableName == "" {
		return cfg, fmt.Errorf("TABLE_NAME is required")
	}

	// an explicitly empty METRICS_NAMESPACE disables metrics
	if ns, ok := os.LookupEnv("METRICS_NAMESPACE"); ok {
		cfg.MetricsNamespace = ns
	}

	if raw := os.Getenv("IDEMPOTENCY_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid IDEMPOTENCY_TTL %q: %w", raw, err)
		}
		cfg.IdempotencyTTL = ttl
	}

	if raw := os.Getenv("RUN_LOCAL"); raw != "" {
		local, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid RUN_LOCAL %q: %w", raw, err)
		}
		cfg.RunLocal = local
	}

	return cfg, nil
}

func stringOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
