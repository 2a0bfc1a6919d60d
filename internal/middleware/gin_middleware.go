package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dalfonso89/currency-dashboard/internal/logger"
	"github.com/dalfonso89/currency-dashboard/internal/models"
	"github.com/dalfonso89/currency-dashboard/internal/ratelimit"
)

// RequestIDKey is the gin context key holding the request ID
const RequestIDKey = "request_id"

// RequestLogger creates a custom request logger middleware
func RequestLogger(logger *logger.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		fields := logrus.Fields{
			"timestamp":  param.TimeStamp.Format(time.RFC3339),
			"status":     param.StatusCode,
			"latency":    param.Latency,
			"client_ip":  param.ClientIP,
			"method":     param.Method,
			"path":       param.Path,
			"user_agent": param.Request.UserAgent(),
		}
		if requestID, ok := param.Keys[RequestIDKey]; ok {
			fields[RequestIDKey] = requestID
		}
		if param.ErrorMessage != "" {
			fields["error"] = param.ErrorMessage
		}
		logger.WithFields(fields).Info("HTTP Request")
		return ""
	})
}

// SecurityHeaders adds security headers to responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RequestID propagates X-Request-ID or assigns a fresh UUID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set(RequestIDKey, requestID)
		c.Next()
	}
}

// CORS allows read-only cross-origin access from the configured origins
func CORS(allowedOrigins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}

	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	return cors.New(corsConfig)
}

// RateLimit rejects clients that exceed the inbound request budget
func RateLimit(rateLimiter *ratelimit.Limiter, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := rateLimiter.GetClientIP(c.Request)

		allowed, limitContext, err := rateLimiter.Allow(c.Request.Context(), clientIP)
		if err != nil {
			logger.WithField("client_ip", clientIP).WithError(err).Error("Rate limit check failed")
			c.Next()
			return
		}

		if limitContext.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(limitContext.Limit, 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(limitContext.Remaining, 10))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(limitContext.Reset, 10))
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "too many requests, please try again later",
				Code:    http.StatusTooManyRequests,
			})
			return
		}

		c.Next()
	}
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
