package testutils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dalfonso89/currency-dashboard/internal/config"
)

// MockEURRates are the EUR denominated rates the mock server derives every response from
var MockEURRates = map[string]float64{
	"USD": 1.10,
	"GBP": 0.86,
	"JPY": 160.0,
	"AUD": 1.65,
	"CHF": 0.95,
	"CAD": 1.48,
}

// MockCurrencyNames is served by the names endpoints
var MockCurrencyNames = map[string]string{
	"EUR": "Euro",
	"USD": "United States Dollar",
	"GBP": "British Pound",
	"JPY": "Japanese Yen",
	"AUD": "Australian Dollar",
	"CHF": "Swiss Franc",
	"CAD": "Canadian Dollar",
}

// MockExchangeRateServer imitates one upstream provider's URL layout and payload shape
type MockExchangeRateServer struct {
	server *httptest.Server
	flavor string

	mu           sync.Mutex
	requests     []string
	dayRequests  []string
	failDates    map[string]int
	throttled    map[string]bool
	latestStatus int
	rawResponses map[string]string
}

// NewMockExchangeRateServer creates a mock server speaking the named provider's dialect
func NewMockExchangeRateServer(flavor string) *MockExchangeRateServer {
	mock := &MockExchangeRateServer{
		flavor:       flavor,
		failDates:    make(map[string]int),
		throttled:    make(map[string]bool),
		rawResponses: make(map[string]string),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handler))
	return mock
}

// URL returns the mock server URL
func (m *MockExchangeRateServer) URL() string {
	return m.server.URL
}

// Close closes the mock server
func (m *MockExchangeRateServer) Close() {
	m.server.Close()
}

// ProviderConfig returns a provider configuration pointing at this server
func (m *MockExchangeRateServer) ProviderConfig() config.ExchangeRateProvider {
	provider := MockProviderConfig(m.flavor, m.server.URL)
	if m.flavor == config.ProviderOpenExchangeRates || m.flavor == config.ProviderExchangeRateHost {
		provider.APIKey = "test-key"
	}
	return provider
}

// FailDate makes requests for date answer with the given HTTP status
func (m *MockExchangeRateServer) FailDate(date string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDates[date] = status
}

// ThrottleDate makes requests for date answer with the provider's throttling response
func (m *MockExchangeRateServer) ThrottleDate(date string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttled[date] = true
}

// SetLatestStatus makes latest-rate requests answer with the given HTTP status
func (m *MockExchangeRateServer) SetLatestStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestStatus = status
}

// SetRawResponse serves body verbatim for requests whose path equals path
func (m *MockExchangeRateServer) SetRawResponse(path, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawResponses[path] = body
}

// Requests returns every request URI received so far
func (m *MockExchangeRateServer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// DayRequests returns the dates of single-day historical requests received so far
func (m *MockExchangeRateServer) DayRequests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dayRequests...)
}

// MockRatesFor returns the EUR based rates the server reports for date ("" means latest)
func MockRatesFor(date string) map[string]float64 {
	factor := 1.0
	if day, err := time.Parse("2006-01-02", date); err == nil {
		factor += float64(day.Day()) / 1000
	}
	rates := make(map[string]float64, len(MockEURRates))
	for code, rate := range MockEURRates {
		rates[code] = rate * factor
	}
	return rates
}

// MockRebase converts EUR based rates to base, listing every currency including EUR and base
func MockRebase(eurRates map[string]float64, base string) (map[string]float64, bool) {
	all := make(map[string]float64, len(eurRates)+1)
	for code, rate := range eurRates {
		all[code] = rate
	}
	all["EUR"] = 1
	pivot, ok := all[base]
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(all))
	for code, rate := range all {
		out[code] = rate / pivot
	}
	out[base] = 1
	return out, true
}

func (m *MockExchangeRateServer) handler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, r.URL.RequestURI())
	raw, hasRaw := m.rawResponses[r.URL.Path]
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if hasRaw {
		_, _ = w.Write([]byte(raw))
		return
	}

	switch m.flavor {
	case config.ProviderFrankfurter:
		m.serveFrankfurter(w, r)
	case config.ProviderOpenExchangeRates:
		m.serveOpenExchangeRates(w, r)
	case config.ProviderExchangeRateHost:
		m.serveExchangeRateHost(w, r)
	default:
		m.serveERAPI(w, r)
	}
}

// checkDate records a day request and writes a failure response when one is configured
func (m *MockExchangeRateServer) checkDate(w http.ResponseWriter, date string) bool {
	m.mu.Lock()
	m.dayRequests = append(m.dayRequests, date)
	status, failed := m.failDates[date]
	throttled := m.throttled[date]
	m.mu.Unlock()

	if throttled {
		m.writeThrottled(w)
		return false
	}
	if failed {
		w.WriteHeader(status)
		writeJSON(w, map[string]interface{}{"error": "mock failure"})
		return false
	}
	return true
}

func (m *MockExchangeRateServer) checkLatest(w http.ResponseWriter) bool {
	m.mu.Lock()
	status := m.latestStatus
	m.mu.Unlock()
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		writeJSON(w, map[string]interface{}{"error": "mock failure"})
		return false
	}
	return true
}

func (m *MockExchangeRateServer) writeThrottled(w http.ResponseWriter) {
	switch m.flavor {
	case config.ProviderExchangeRateHost:
		writeJSON(w, map[string]interface{}{
			"success": false,
			"error":   map[string]interface{}{"code": 104, "info": "Your monthly usage limit has been reached."},
		})
	case config.ProviderOpenExchangeRates:
		w.WriteHeader(http.StatusTooManyRequests)
		writeJSON(w, map[string]interface{}{"error": true, "status": 429, "message": "too_many_requests"})
	default:
		w.WriteHeader(http.StatusTooManyRequests)
		writeJSON(w, map[string]interface{}{"result": "error", "error-type": "rate-limited"})
	}
}

func (m *MockExchangeRateServer) serveERAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	if strings.HasPrefix(path, "latest/") {
		if !m.checkLatest(w) {
			return
		}
		base := strings.TrimPrefix(path, "latest/")
		rates, ok := MockRebase(MockRatesFor(""), base)
		if !ok {
			writeJSON(w, map[string]interface{}{"result": "error", "error-type": "unsupported-code"})
			return
		}
		writeJSON(w, map[string]interface{}{
			"result":                "success",
			"base_code":             base,
			"time_last_update_unix": time.Now().Unix(),
			"rates":                 rates,
		})
		return
	}

	date := path
	if !m.checkDate(w, date) {
		return
	}
	base := r.URL.Query().Get("base")
	rates, ok := MockRebase(MockRatesFor(date), base)
	if !ok {
		writeJSON(w, map[string]interface{}{"result": "error", "error-type": "unsupported-code"})
		return
	}
	writeJSON(w, map[string]interface{}{"result": "success", "base_code": base, "date": date, "rates": rates})
}

func (m *MockExchangeRateServer) serveFrankfurter(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	base := r.URL.Query().Get("base")
	if base == "" {
		base = "EUR"
	}

	switch {
	case path == "currencies":
		writeJSON(w, MockCurrencyNames)
	case path == "latest":
		if !m.checkLatest(w) {
			return
		}
		m.writeFrankfurterDay(w, base, time.Now().UTC().Format("2006-01-02"), MockRatesFor(""))
	case strings.Contains(path, ".."):
		bounds := strings.SplitN(path, "..", 2)
		start, err1 := time.Parse("2006-01-02", bounds[0])
		end, err2 := time.Parse("2006-01-02", bounds[1])
		if err1 != nil || err2 != nil {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]interface{}{"message": "not found"})
			return
		}
		series := map[string]map[string]float64{}
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			date := day.Format("2006-01-02")
			rates, ok := MockRebase(MockRatesFor(date), base)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				writeJSON(w, map[string]interface{}{"message": "not found"})
				return
			}
			delete(rates, base)
			series[date] = rates
		}
		writeJSON(w, map[string]interface{}{
			"amount": 1.0, "base": base, "start_date": bounds[0], "end_date": bounds[1], "rates": series,
		})
	default:
		if !m.checkDate(w, path) {
			return
		}
		m.writeFrankfurterDay(w, base, path, MockRatesFor(path))
	}
}

func (m *MockExchangeRateServer) writeFrankfurterDay(w http.ResponseWriter, base, date string, eurRates map[string]float64) {
	rates, ok := MockRebase(eurRates, base)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{"message": "not found"})
		return
	}
	delete(rates, base)
	writeJSON(w, map[string]interface{}{"amount": 1.0, "base": base, "date": date, "rates": rates})
}

func (m *MockExchangeRateServer) serveOpenExchangeRates(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("app_id") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]interface{}{"error": true, "status": 401, "message": "invalid_app_id"})
		return
	}
	path := strings.Trim(r.URL.Path, "/")

	switch {
	case path == "currencies.json":
		writeJSON(w, MockCurrencyNames)
	case path == "latest.json":
		if !m.checkLatest(w) {
			return
		}
		rates, _ := MockRebase(MockRatesFor(""), "USD")
		writeJSON(w, map[string]interface{}{"base": "USD", "timestamp": time.Now().Unix(), "rates": rates})
	case strings.HasPrefix(path, "historical/"):
		date := strings.TrimSuffix(strings.TrimPrefix(path, "historical/"), ".json")
		if !m.checkDate(w, date) {
			return
		}
		rates, _ := MockRebase(MockRatesFor(date), "USD")
		writeJSON(w, map[string]interface{}{"base": "USD", "timestamp": time.Now().Unix(), "rates": rates})
	default:
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{"error": true, "status": 404, "message": "not_found"})
	}
}

func (m *MockExchangeRateServer) serveExchangeRateHost(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("access_key") == "" {
		writeJSON(w, map[string]interface{}{
			"success": false,
			"error":   map[string]interface{}{"code": 101, "type": "missing_access_key"},
		})
		return
	}
	path := strings.Trim(r.URL.Path, "/")

	switch path {
	case "symbols":
		symbols := map[string]interface{}{}
		codes := make([]string, 0, len(MockCurrencyNames))
		for code := range MockCurrencyNames {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			symbols[code] = map[string]string{"code": code, "description": MockCurrencyNames[code]}
		}
		writeJSON(w, map[string]interface{}{"success": true, "symbols": symbols})
	case "latest":
		if !m.checkLatest(w) {
			return
		}
		rates, _ := MockRebase(MockRatesFor(""), "EUR")
		writeJSON(w, map[string]interface{}{"success": true, "base": "EUR", "rates": rates})
	default:
		if !m.checkDate(w, path) {
			return
		}
		rates, _ := MockRebase(MockRatesFor(path), "EUR")
		writeJSON(w, map[string]interface{}{"success": true, "historical": true, "base": "EUR", "date": path, "rates": rates})
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	_ = json.NewEncoder(w).Encode(payload)
}
