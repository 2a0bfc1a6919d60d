package testutils

import (
	"context"
	"time"

	"github.com/dalfonso89/currency-dashboard/internal/config"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
	"github.com/dalfonso89/currency-dashboard/internal/models"
)

// MockLogger creates a logger that discards output
func MockLogger() *logger.Logger {
	return logger.Discard()
}

// MockConfig creates a mock configuration for testing
func MockConfig() *config.Config {
	return &config.Config{
		Port:     "8081",
		LogLevel: "debug",

		ExchangeRateProviders: []config.ExchangeRateProvider{
			MockProviderConfig(config.ProviderERAPI, "https://api.test.com/v6"),
		},
		CatalogBase:        "EUR",
		HistoryMaxDays:     90,
		CORSAllowedOrigins: []string{"*"},

		RateLimitEnabled:  true,
		RateLimitRequests: 100,
		RateLimitWindow:   60 * time.Second,
	}
}

// MockProviderConfig returns a provider configuration with short timeouts and no retries
func MockProviderConfig(name, baseURL string) config.ExchangeRateProvider {
	return config.ExchangeRateProvider{
		Name:       name,
		BaseURL:    baseURL,
		Enabled:    true,
		Priority:   1,
		Timeout:    2 * time.Second,
		RetryCount: 0,
		RetryDelay: time.Millisecond,
	}
}

// MockSnapshot creates a USD based snapshot for testing
func MockSnapshot() models.RateSnapshot {
	return models.RateSnapshot{
		Base: "USD",
		AsOf: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Rates: map[string]float64{
			"EUR": 0.85,
			"GBP": 0.73,
			"JPY": 110.0,
		},
		Provider: "test-provider",
	}
}

// MockContextWithTimeout creates a context with timeout for testing
func MockContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
