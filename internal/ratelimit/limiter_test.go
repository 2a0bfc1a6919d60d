package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalfonso89/currency-dashboard/internal/testutils"
)

func TestNewLimiter(t *testing.T) {
	cfg := testutils.MockConfig()
	logger := testutils.MockLogger()

	limiter := NewLimiter(cfg, logger)

	if limiter == nil {
		t.Fatal("NewLimiter() returned nil")
	}
	if limiter.Configuration != cfg {
		t.Errorf("NewLimiter() configuration = %v, want %v", limiter.Configuration, cfg)
	}
	if limiter.limiter == nil {
		t.Errorf("NewLimiter() limiter is nil")
	}
}

func TestLimiter_Allow(t *testing.T) {
	tests := []struct {
		name             string
		rateLimitEnabled bool
		requests         int
		expected         []bool
	}{
		{
			name:             "rate limiting disabled",
			rateLimitEnabled: false,
			requests:         5,
			expected:         []bool{true, true, true, true, true},
		},
		{
			name:             "within limit",
			rateLimitEnabled: true,
			requests:         3,
			expected:         []bool{true, true, true},
		},
		{
			name:             "exceed limit",
			rateLimitEnabled: true,
			requests:         5,
			expected:         []bool{true, true, true, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testutils.MockConfig()
			cfg.RateLimitEnabled = tt.rateLimitEnabled
			cfg.RateLimitRequests = 3
			cfg.RateLimitWindow = time.Minute

			limiter := NewLimiter(cfg, testutils.MockLogger())

			for i := 0; i < tt.requests; i++ {
				allowed, _, err := limiter.Allow(context.Background(), "192.168.1.1")
				if err != nil {
					t.Fatalf("Allow() request %d error = %v", i, err)
				}
				if allowed != tt.expected[i] {
					t.Errorf("Allow() request %d = %v, want %v", i, allowed, tt.expected[i])
				}
			}
		})
	}
}

func TestLimiter_Allow_DifferentIPs(t *testing.T) {
	cfg := testutils.MockConfig()
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindow = time.Minute
	limiter := NewLimiter(cfg, testutils.MockLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		for _, ip := range []string{"192.168.1.1", "192.168.1.2"} {
			if allowed, _, _ := limiter.Allow(ctx, ip); !allowed {
				t.Errorf("Allow(%s) request %d = false, want true", ip, i)
			}
		}
	}

	for _, ip := range []string{"192.168.1.1", "192.168.1.2"} {
		allowed, limitContext, _ := limiter.Allow(ctx, ip)
		if allowed {
			t.Errorf("Allow(%s) after limit = true, want false", ip)
		}
		if limitContext.Remaining != 0 {
			t.Errorf("Allow(%s) remaining = %d, want 0", ip, limitContext.Remaining)
		}
	}
}

func TestLimiter_GetClientIP(t *testing.T) {
	limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "X-Forwarded-For header",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195"},
			remoteAddr: "192.168.1.1:12345",
			expected:   "203.0.113.195",
		},
		{
			name:       "X-Forwarded-For chain",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18"},
			remoteAddr: "192.168.1.1:12345",
			expected:   "203.0.113.195",
		},
		{
			name:       "X-Real-IP header",
			headers:    map[string]string{"X-Real-IP": "203.0.113.195"},
			remoteAddr: "192.168.1.1:12345",
			expected:   "203.0.113.195",
		},
		{
			name:       "RemoteAddr fallback",
			headers:    map[string]string{},
			remoteAddr: "192.168.1.1:12345",
			expected:   "192.168.1.1",
		},
		{
			name:       "X-Forwarded-For with port",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195:8080"},
			remoteAddr: "192.168.1.1:12345",
			expected:   "203.0.113.195",
		},
		{
			name:       "Invalid X-Forwarded-For falls back to RemoteAddr",
			headers:    map[string]string{"X-Forwarded-For": "invalid-ip"},
			remoteAddr: "192.168.1.1:12345",
			expected:   "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			for header, value := range tt.headers {
				req.Header.Set(header, value)
			}

			if result := limiter.GetClientIP(req); result != tt.expected {
				t.Errorf("GetClientIP() = %v, want %v", result, tt.expected)
			}
		})
	}
}
