package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/config"
	"github.com/dalfonso89/currency-dashboard/internal/models"
	"github.com/dalfonso89/currency-dashboard/internal/normalize"
	"github.com/dalfonso89/currency-dashboard/internal/provider"
	"github.com/dalfonso89/currency-dashboard/internal/ratelimit"
	"github.com/dalfonso89/currency-dashboard/internal/service"
	"github.com/dalfonso89/currency-dashboard/internal/testutils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubDashboard returns canned results and records the arguments it was called with
type stubDashboard struct {
	table     models.RateTable
	series    models.TimeSeriesTable
	catalog   models.CurrencyCatalog
	fallback  bool
	err       error
	statuses  []provider.ProviderStatus
	maxDays   int
	lastBase  string
	lastOpts  normalize.FilterOptions
	lastDays  int
	lastPair  [2]string
	lastValue decimal.Decimal
}

func (s *stubDashboard) GetSnapshotTable(ctx context.Context, base string, opts normalize.FilterOptions) (models.RateTable, error) {
	s.lastBase, s.lastOpts = base, opts
	if s.err != nil {
		return models.RateTable{Base: base, Rows: []models.RateRow{}}, s.err
	}
	return s.table, nil
}

func (s *stubDashboard) GetSeriesTable(ctx context.Context, base, target string, days int) (models.TimeSeriesTable, error) {
	s.lastBase, s.lastDays = base, days
	if s.err != nil {
		return models.TimeSeriesTable{Base: base, Target: target, Rows: []models.SeriesRow{}}, s.err
	}
	return s.series, nil
}

func (s *stubDashboard) GetCatalog(ctx context.Context) (models.CurrencyCatalog, bool) {
	return s.catalog, s.fallback
}

func (s *stubDashboard) Convert(ctx context.Context, from, to string, amount decimal.Decimal) (models.Conversion, error) {
	s.lastPair, s.lastValue = [2]string{from, to}, amount
	if s.err != nil {
		return models.Conversion{}, s.err
	}
	return models.Conversion{From: from, To: to, Amount: amount, Rate: decimal.RequireFromString("0.5"), Converted: amount.Div(decimal.NewFromInt(2))}, nil
}

func (s *stubDashboard) GetProviderStatus() []provider.ProviderStatus {
	return s.statuses
}

func (s *stubDashboard) MaxHistoryDays() int {
	if s.maxDays == 0 {
		return 90
	}
	return s.maxDays
}

func newTestRouter(dashboard Dashboard) *gin.Engine {
	handlers := NewHandlers(HandlerConfig{
		Logger:    testutils.MockLogger(),
		Dashboard: dashboard,
	})
	return handlers.SetupRoutes()
}

func serve(t *testing.T, router http.Handler, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body), recorder.Body.String())
	return recorder, body
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name      string
		dashboard Dashboard
		expected  string
	}{
		{"healthy", &stubDashboard{statuses: []provider.ProviderStatus{{Name: "erapi", Available: true}}}, "healthy"},
		{"degraded", &stubDashboard{statuses: []provider.ProviderStatus{{Name: "unavailable"}}}, "degraded"},
		{"unhealthy", nil, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder, body := serve(t, newTestRouter(tt.dashboard), "/health")

			assert.Equal(t, http.StatusOK, recorder.Code)
			assert.Equal(t, tt.expected, body["status"])
			assert.Equal(t, version, body["version"])
		})
	}
}

func TestGetRates(t *testing.T) {
	dashboard := &stubDashboard{table: models.RateTable{
		Base:     "USD",
		Provider: "erapi",
		Rows:     []models.RateRow{{Currency: "EUR", Rate: 0.9}},
	}}
	router := newTestRouter(dashboard)

	t.Run("default base", func(t *testing.T) {
		recorder, body := serve(t, router, "/api/v1/rates")

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, "USD", dashboard.lastBase)
		assert.Equal(t, normalize.OrderByCode, dashboard.lastOpts.Order)
		assert.True(t, dashboard.lastOpts.ExcludeBase)
		assert.Len(t, body["rows"], 1)
		assert.NotContains(t, body, "warning")
	})

	t.Run("query options", func(t *testing.T) {
		recorder, _ := serve(t, router, "/api/v1/rates?base=gbp&q=eu&sort=rate&limit=5")

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, "GBP", dashboard.lastBase)
		assert.Equal(t, normalize.FilterOptions{Search: "eu", Order: normalize.OrderByRate, Limit: 5, ExcludeBase: true}, dashboard.lastOpts)
	})

	t.Run("path base", func(t *testing.T) {
		recorder, _ := serve(t, router, "/api/v1/rates/jpy")

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, "JPY", dashboard.lastBase)
	})
}

func TestGetRates_InvalidInput(t *testing.T) {
	router := newTestRouter(&stubDashboard{})

	tests := []struct {
		name   string
		target string
	}{
		{"short base", "/api/v1/rates?base=US"},
		{"digits in base", "/api/v1/rates/U5D"},
		{"unknown sort", "/api/v1/rates?sort=volume"},
		{"negative limit", "/api/v1/rates?limit=-1"},
		{"non numeric limit", "/api/v1/rates?limit=ten"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder, body := serve(t, router, tt.target)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Equal(t, "invalid request", body["error"])
		})
	}
}

func TestGetRates_ErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantWarning bool
	}{
		{"upstream down", apperrors.New(apperrors.KindUpstreamUnavailable, "erapi", "status 503", nil), http.StatusOK, true},
		{"malformed", apperrors.New(apperrors.KindMalformedResponse, "erapi", "rates is not an object", nil), http.StatusOK, true},
		{"throttled", apperrors.New(apperrors.KindRateLimited, "erapi", "quota", nil), http.StatusOK, true},
		{"misconfigured", apperrors.New(apperrors.KindConfiguration, "factory", "no exchange rate providers configured", nil), http.StatusServiceUnavailable, false},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder, body := serve(t, newTestRouter(&stubDashboard{err: tt.err}), "/api/v1/rates?base=EUR")

			assert.Equal(t, tt.wantStatus, recorder.Code)
			if tt.wantWarning {
				assert.NotEmpty(t, body["warning"])
				assert.Equal(t, "EUR", body["base"])
				assert.Empty(t, body["rows"])
			} else {
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestGetHistory(t *testing.T) {
	dashboard := &stubDashboard{series: models.TimeSeriesTable{
		Base:    "USD",
		Target:  "EUR",
		Rows:    []models.SeriesRow{{Date: "2024-03-30", Rate: 0.91}, {Date: "2024-03-31", Rate: 0.92}},
		Missing: []string{"2024-03-29"},
	}}
	router := newTestRouter(dashboard)

	t.Run("default days", func(t *testing.T) {
		recorder, body := serve(t, router, "/api/v1/history/usd/eur")

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, defaultDays, dashboard.lastDays)
		assert.Len(t, body["rows"], 2)
		assert.Equal(t, "partial data: 1 of 31 days unavailable", body["warning"])
	})

	t.Run("explicit days", func(t *testing.T) {
		recorder, _ := serve(t, router, "/api/v1/history/USD/EUR?days=7")

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, 7, dashboard.lastDays)
	})

	for _, days := range []string{"0", "91", "-2", "week"} {
		t.Run("rejects days="+days, func(t *testing.T) {
			recorder, _ := serve(t, router, "/api/v1/history/USD/EUR?days="+days)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
		})
	}
}

func TestGetHistory_NoData(t *testing.T) {
	err := apperrors.New(apperrors.KindNoHistoricalData, "history", "no day in range could be fetched", nil)
	recorder, body := serve(t, newTestRouter(&stubDashboard{err: err}), "/api/v1/history/USD/EUR?days=3")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "no historical data is available for this period", body["warning"])
	assert.Empty(t, body["rows"])
}

func TestConvert(t *testing.T) {
	dashboard := &stubDashboard{}
	router := newTestRouter(dashboard)

	recorder, body := serve(t, router, "/api/v1/convert?from=usd&to=eur&amount=10.50")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, [2]string{"USD", "EUR"}, dashboard.lastPair)
	assert.True(t, decimal.RequireFromString("10.5").Equal(dashboard.lastValue))
	assert.Equal(t, "5.25", body["converted"])

	recorder, _ = serve(t, router, "/api/v1/convert?to=GBP")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, decimal.NewFromInt(1).Equal(dashboard.lastValue))
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
	}{
		{"missing target", "/api/v1/convert?from=USD", nil, http.StatusBadRequest},
		{"bad amount", "/api/v1/convert?from=USD&to=EUR&amount=lots", nil, http.StatusBadRequest},
		{"negative amount", "/api/v1/convert?from=USD&to=EUR&amount=-1", apperrors.ErrValidation, http.StatusBadRequest},
		{"unknown currency", "/api/v1/convert?from=USD&to=XYZ", apperrors.ErrUnknownCurrency, http.StatusBadRequest},
		{"upstream down", "/api/v1/convert?from=USD&to=EUR", apperrors.ErrUpstreamUnavailable, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder, _ := serve(t, newTestRouter(&stubDashboard{err: tt.err}), tt.target)
			assert.Equal(t, tt.wantStatus, recorder.Code)
		})
	}
}

func TestGetCurrencies(t *testing.T) {
	router := newTestRouter(&stubDashboard{
		catalog:  normalize.FallbackCatalog,
		fallback: true,
	})

	recorder, body := serve(t, router, "/api/v1/currencies")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, true, body["fallback"])
	currencies := body["currencies"].([]interface{})
	require.Len(t, currencies, len(normalize.FallbackCatalog))
	assert.Equal(t, "AUD - Australian Dollar", currencies[0].(map[string]interface{})["label"])
}

func TestGetProviders(t *testing.T) {
	router := newTestRouter(&stubDashboard{statuses: []provider.ProviderStatus{
		{Name: "erapi", Priority: 1, Available: true},
		{Name: "openexchangerates", Priority: 3, FixedBase: "USD"},
	}})

	recorder, body := serve(t, router, "/api/v1/providers")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Len(t, body["providers"], 2)
}

func TestRoutes_Unconfigured(t *testing.T) {
	recorder, body := serve(t, newTestRouter(nil), "/api/v1/rates")

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "rates service unavailable", body["error"])
}

func TestRoutes_EndToEnd(t *testing.T) {
	upstream := testutils.NewMockExchangeRateServer(config.ProviderFrankfurter)
	defer upstream.Close()

	cfg := testutils.MockConfig()
	cfg.ExchangeRateProviders = []config.ExchangeRateProvider{upstream.ProviderConfig()}
	cfg.RateLimitRequests = 4

	dashboard := service.NewDashboard(cfg, testutils.MockLogger(), service.WithPacer(ratelimit.NewPacer(0)))
	handlers := NewHandlers(HandlerConfig{
		Logger:      testutils.MockLogger(),
		Dashboard:   dashboard,
		RateLimiter: ratelimit.NewLimiter(cfg, testutils.MockLogger()),
		CORSOrigins: cfg.CORSAllowedOrigins,
	})
	server := httptest.NewServer(handlers.SetupRoutes())
	defer server.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	get := func(path string, target interface{}) *http.Response {
		t.Helper()
		response, err := client.Get(server.URL + path)
		require.NoError(t, err)
		defer response.Body.Close()
		require.NoError(t, json.NewDecoder(response.Body).Decode(target))
		return response
	}

	var rates ratesResponse
	response := get("/api/v1/rates?base=EUR&sort=rate&limit=2", &rates)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "4", response.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, response.Header.Get("X-Request-ID"))
	require.Len(t, rates.Rows, 2)
	assert.Equal(t, "JPY", rates.Rows[0].Currency)

	var history historyResponse
	response = get("/api/v1/history/EUR/USD?days=3", &history)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Len(t, history.Rows, 4)
	assert.Empty(t, history.Warning)

	var currencies currenciesResponse
	get("/api/v1/currencies", &currencies)
	assert.False(t, currencies.Fallback)
	assert.NotEmpty(t, currencies.Currencies)

	var conversion conversionResponse
	get("/api/v1/convert?from=EUR&to=USD&amount=100", &conversion)
	require.NotNil(t, conversion.Conversion)
	assert.Equal(t, "USD", conversion.To)

	var limited models.ErrorResponse
	response = get("/api/v1/providers", &limited)
	assert.Equal(t, http.StatusTooManyRequests, response.StatusCode)
	assert.Equal(t, "rate limit exceeded", limited.Error)
}
