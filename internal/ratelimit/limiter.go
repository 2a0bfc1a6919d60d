package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/dalfonso89/currency-dashboard/internal/config"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
)

// Limiter limits inbound API requests per client IP
type Limiter struct {
	Configuration *config.Config
	logger        *logger.Logger
	limiter       *limiter.Limiter
}

// NewLimiter creates a new rate limiter backed by an in-memory store
func NewLimiter(configuration *config.Config, logger *logger.Logger) *Limiter {
	rate := limiter.Rate{
		Period: configuration.RateLimitWindow,
		Limit:  int64(configuration.RateLimitRequests),
	}
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "fx-dashboard",
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})

	return &Limiter{
		Configuration: configuration,
		logger:        logger,
		limiter:       limiter.New(store, rate),
	}
}

// Allow consumes one request for clientIP and reports whether it is within the limit
func (rateLimiter *Limiter) Allow(ctx context.Context, clientIP string) (bool, limiter.Context, error) {
	if !rateLimiter.Configuration.RateLimitEnabled {
		return true, limiter.Context{}, nil
	}

	limitContext, err := rateLimiter.limiter.Get(ctx, clientIP)
	if err != nil {
		return false, limitContext, err
	}
	if limitContext.Reached {
		rateLimiter.logger.Warnf("Rate limit exceeded for IP: %s", clientIP)
	}
	return !limitContext.Reached, limitContext, nil
}

// GetClientIP extracts the real client IP from the request
func (rateLimiter *Limiter) GetClientIP(request *http.Request) string {
	if xForwardedFor := request.Header.Get("X-Forwarded-For"); xForwardedFor != "" {
		// If multiple IPs, take the first one
		first := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0])
		if clientIP := net.ParseIP(first); clientIP != nil {
			return clientIP.String()
		}
		if host, _, err := net.SplitHostPort(first); err == nil {
			if clientIP := net.ParseIP(host); clientIP != nil {
				return clientIP.String()
			}
		}
	}

	if xRealIP := request.Header.Get("X-Real-IP"); xRealIP != "" {
		if clientIP := net.ParseIP(xRealIP); clientIP != nil {
			return clientIP.String()
		}
	}

	clientIP, _, parseError := net.SplitHostPort(request.RemoteAddr)
	if parseError != nil {
		return request.RemoteAddr
	}
	return clientIP
}
