package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
	"github.com/dalfonso89/currency-dashboard/internal/middleware"
	"github.com/dalfonso89/currency-dashboard/internal/models"
	"github.com/dalfonso89/currency-dashboard/internal/normalize"
	"github.com/dalfonso89/currency-dashboard/internal/provider"
	"github.com/dalfonso89/currency-dashboard/internal/ratelimit"
)

const (
	defaultBase = "USD"
	defaultDays = 30
	version     = "1.0.0"
)

// Dashboard is the read side the handlers expose
type Dashboard interface {
	GetSnapshotTable(ctx context.Context, base string, opts normalize.FilterOptions) (models.RateTable, error)
	GetSeriesTable(ctx context.Context, base, target string, days int) (models.TimeSeriesTable, error)
	GetCatalog(ctx context.Context) (models.CurrencyCatalog, bool)
	Convert(ctx context.Context, from, to string, amount decimal.Decimal) (models.Conversion, error)
	GetProviderStatus() []provider.ProviderStatus
	MaxHistoryDays() int
}

// HandlerConfig holds the dependencies of the HTTP handlers
type HandlerConfig struct {
	Logger      *logger.Logger
	Dashboard   Dashboard
	RateLimiter *ratelimit.Limiter
	CORSOrigins []string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	dashboard   Dashboard
	logger      *logger.Logger
	startTime   time.Time
	rateLimiter *ratelimit.Limiter
	corsOrigins []string
}

type ratesResponse struct {
	models.RateTable
	Warning string `json:"warning,omitempty"`
}

type historyResponse struct {
	models.TimeSeriesTable
	Warning string `json:"warning,omitempty"`
}

type conversionResponse struct {
	*models.Conversion
	Warning string `json:"warning,omitempty"`
}

type currenciesResponse struct {
	Currencies []models.CatalogEntry `json:"currencies"`
	Fallback   bool                  `json:"fallback"`
}

type providersResponse struct {
	Providers []provider.ProviderStatus `json:"providers"`
}

// NewHandlers creates a new handlers instance
func NewHandlers(handlerConfig HandlerConfig) *Handlers {
	return &Handlers{
		dashboard:   handlerConfig.Dashboard,
		logger:      handlerConfig.Logger,
		startTime:   time.Now(),
		rateLimiter: handlerConfig.RateLimiter,
		corsOrigins: handlerConfig.CORSOrigins,
	}
}

// SetupRoutes configures all the routes using Gin
func (handlers *Handlers) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(handlers.logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(handlers.corsOrigins))

	if handlers.rateLimiter != nil {
		router.Use(middleware.RateLimit(handlers.rateLimiter, handlers.logger))
	}

	router.GET("/health", handlers.HealthCheck)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/currencies", handlers.GetCurrencies)
		apiV1.GET("/rates", handlers.GetRates)
		apiV1.GET("/rates/:base", handlers.GetRatesByBase)
		apiV1.GET("/history/:base/:target", handlers.GetHistory)
		apiV1.GET("/convert", handlers.Convert)
		apiV1.GET("/providers", handlers.GetProviders)
	}

	return router
}

// HealthCheck handles health check requests
func (handlers *Handlers) HealthCheck(context *gin.Context) {
	healthStatus := "healthy"
	if handlers.dashboard == nil {
		healthStatus = "unhealthy"
	} else {
		available := 0
		for _, status := range handlers.dashboard.GetProviderStatus() {
			if status.Available {
				available++
			}
		}
		if available == 0 {
			healthStatus = "degraded"
		}
	}

	context.JSON(http.StatusOK, models.HealthCheck{
		Status:    healthStatus,
		Timestamp: time.Now(),
		Version:   version,
		Uptime:    time.Since(handlers.startTime).String(),
	})
}

// GetCurrencies returns the currency catalog as select-box entries
func (handlers *Handlers) GetCurrencies(context *gin.Context) {
	if !handlers.ready(context) {
		return
	}

	catalog, fallback := handlers.dashboard.GetCatalog(context.Request.Context())
	context.JSON(http.StatusOK, currenciesResponse{
		Currencies: normalize.CatalogEntries(catalog),
		Fallback:   fallback,
	})
}

// GetRates returns latest rates for the base query parameter
func (handlers *Handlers) GetRates(context *gin.Context) {
	handlers.writeRates(context, context.DefaultQuery("base", defaultBase))
}

// GetRatesByBase returns rates for a specific base currency using path parameter
func (handlers *Handlers) GetRatesByBase(context *gin.Context) {
	handlers.writeRates(context, context.Param("base"))
}

func (handlers *Handlers) writeRates(context *gin.Context, rawBase string) {
	if !handlers.ready(context) {
		return
	}

	base, err := parseCurrency("base", rawBase)
	if err != nil {
		handlers.writeBadRequest(context, err)
		return
	}
	opts, err := parseFilterOptions(context)
	if err != nil {
		handlers.writeBadRequest(context, err)
		return
	}

	table, err := handlers.dashboard.GetSnapshotTable(context.Request.Context(), base, opts)
	if err != nil {
		if warning, ok := handlers.warningFor(context, err); ok {
			context.JSON(http.StatusOK, ratesResponse{RateTable: table, Warning: warning})
		}
		return
	}
	context.JSON(http.StatusOK, ratesResponse{RateTable: table})
}

// GetHistory returns the daily trend of target against base
func (handlers *Handlers) GetHistory(context *gin.Context) {
	if !handlers.ready(context) {
		return
	}

	base, err := parseCurrency("base", context.Param("base"))
	if err != nil {
		handlers.writeBadRequest(context, err)
		return
	}
	target, err := parseCurrency("target", context.Param("target"))
	if err != nil {
		handlers.writeBadRequest(context, err)
		return
	}
	days, err := parsePositiveInt("days", context.DefaultQuery("days", strconv.Itoa(defaultDays)))
	if err != nil || days < 1 || days > handlers.dashboard.MaxHistoryDays() {
		handlers.writeBadRequest(context, fmt.Errorf("%w: days must be between 1 and %d", apperrors.ErrValidation, handlers.dashboard.MaxHistoryDays()))
		return
	}

	table, err := handlers.dashboard.GetSeriesTable(context.Request.Context(), base, target, days)
	if err != nil {
		if warning, ok := handlers.warningFor(context, err); ok {
			context.JSON(http.StatusOK, historyResponse{TimeSeriesTable: table, Warning: warning})
		}
		return
	}

	response := historyResponse{TimeSeriesTable: table}
	if len(table.Missing) > 0 {
		response.Warning = fmt.Sprintf("partial data: %d of %d days unavailable", len(table.Missing), days+1)
	}
	context.JSON(http.StatusOK, response)
}

// Convert prices an amount of one currency in another
func (handlers *Handlers) Convert(context *gin.Context) {
	if !handlers.ready(context) {
		return
	}

	from, err := parseCurrency("from", context.DefaultQuery("from", defaultBase))
	if err != nil {
		handlers.writeBadRequest(context, err)
		return
	}
	to, err := parseCurrency("to", context.Query("to"))
	if err != nil {
		handlers.writeBadRequest(context, err)
		return
	}
	amount, err := decimal.NewFromString(context.DefaultQuery("amount", "1"))
	if err != nil {
		handlers.writeBadRequest(context, fmt.Errorf("%w: amount must be a number", apperrors.ErrValidation))
		return
	}

	conversion, err := handlers.dashboard.Convert(context.Request.Context(), from, to, amount)
	if err != nil {
		if warning, ok := handlers.warningFor(context, err); ok {
			context.JSON(http.StatusOK, conversionResponse{Warning: warning})
		}
		return
	}
	context.JSON(http.StatusOK, conversionResponse{Conversion: &conversion})
}

// GetProviders lists the configured upstream providers
func (handlers *Handlers) GetProviders(context *gin.Context) {
	if !handlers.ready(context) {
		return
	}
	context.JSON(http.StatusOK, providersResponse{Providers: handlers.dashboard.GetProviderStatus()})
}

func (handlers *Handlers) ready(context *gin.Context) bool {
	if handlers.dashboard == nil {
		handlers.writeErrorResponse(context, http.StatusServiceUnavailable, "rates service unavailable", "not configured", "")
		return false
	}
	return true
}

// warningFor maps err to a warning for transient failures. Any other error is written as an error
// response and ok is false.
func (handlers *Handlers) warningFor(context *gin.Context, err error) (string, bool) {
	kind := apperrors.KindOf(err)
	switch {
	case errors.Is(err, apperrors.ErrValidation) || errors.Is(err, apperrors.ErrUnknownCurrency):
		handlers.writeBadRequest(context, err)
		return "", false
	case kind == apperrors.KindConfiguration:
		handlers.writeErrorResponse(context, http.StatusServiceUnavailable, "rates provider misconfigured", err.Error(), kind.String())
		return "", false
	case kind == apperrors.KindRateLimited:
		return "the rates provider is throttling requests, try again shortly", true
	case kind == apperrors.KindNoHistoricalData:
		return "no historical data is available for this period", true
	case apperrors.IsTransient(err):
		return "exchange rates are temporarily unavailable", true
	case context.Request.Context().Err() != nil:
		handlers.writeErrorResponse(context, http.StatusServiceUnavailable, "request cancelled", err.Error(), "")
		return "", false
	default:
		handlers.logger.WithError(err).Error("Unexpected dashboard failure")
		handlers.writeErrorResponse(context, http.StatusInternalServerError, "internal error", err.Error(), kind.String())
		return "", false
	}
}

func (handlers *Handlers) writeBadRequest(context *gin.Context, err error) {
	handlers.writeErrorResponse(context, http.StatusBadRequest, "invalid request", err.Error(), "")
}

// writeErrorResponse writes an error response using Gin context
func (handlers *Handlers) writeErrorResponse(context *gin.Context, statusCode int, errorMessage, errorDetails, kind string) {
	context.JSON(statusCode, models.ErrorResponse{
		Error:   errorMessage,
		Message: errorDetails,
		Kind:    kind,
		Code:    statusCode,
	})
}

// parseCurrency upper-cases value and checks it is three ASCII letters
func parseCurrency(field, value string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(value))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %s must be a 3-letter currency code", apperrors.ErrValidation, field)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %s must be a 3-letter currency code", apperrors.ErrValidation, field)
		}
	}
	return code, nil
}

func parseFilterOptions(context *gin.Context) (normalize.FilterOptions, error) {
	opts := normalize.FilterOptions{
		Search:      context.Query("q"),
		ExcludeBase: true,
	}

	switch order := normalize.Order(strings.ToLower(context.DefaultQuery("sort", string(normalize.OrderByCode)))); order {
	case normalize.OrderByCode, normalize.OrderByRate:
		opts.Order = order
	default:
		return opts, fmt.Errorf("%w: sort must be %q or %q", apperrors.ErrValidation, normalize.OrderByCode, normalize.OrderByRate)
	}

	if raw := context.Query("limit"); raw != "" {
		limit, err := parsePositiveInt("limit", raw)
		if err != nil {
			return opts, err
		}
		opts.Limit = limit
	}
	return opts, nil
}

func parsePositiveInt(field, raw string) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", apperrors.ErrValidation, field)
	}
	return value, nil
}
