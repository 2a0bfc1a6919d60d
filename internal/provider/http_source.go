package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/config"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
	"github.com/dalfonso89/currency-dashboard/internal/models"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRetryDelay = 100 * time.Millisecond
	maxBodyBytes      = 4 << 20
)

// HTTPSource implements RateSource for HTTP-based APIs
type HTTPSource struct {
	configuration config.ExchangeRateProvider
	logger        *logger.Logger
	httpClient    *http.Client
	now           func() time.Time
	catalogBase   string
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithHTTPClient replaces the HTTP client. Per-request timeouts still apply.
func WithHTTPClient(client *http.Client) Option {
	return func(source *HTTPSource) {
		source.httpClient = client
	}
}

// WithClock sets the clock used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(source *HTTPSource) {
		source.now = now
	}
}

// WithCatalogBase sets the base whose snapshot keys form the catalog when the provider has no
// names endpoint.
func WithCatalogBase(base string) Option {
	return func(source *HTTPSource) {
		source.catalogBase = base
	}
}

// NewHTTPSource creates a source for one configured provider. Providers that need an API key fail
// with a configuration error when none is set.
func NewHTTPSource(configuration config.ExchangeRateProvider, logger *logger.Logger, options ...Option) (*HTTPSource, error) {
	if configuration.BaseURL == "" {
		return nil, apperrors.Newf(apperrors.KindConfiguration, "provider.New", "provider %s has no base URL", configuration.Name)
	}
	if requiresAPIKey(configuration.Name) && configuration.APIKey == "" {
		return nil, apperrors.Newf(apperrors.KindConfiguration, "provider.New", "provider %s requires an API key", configuration.Name)
	}

	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	configuration.Timeout = timeout

	source := &HTTPSource{
		configuration: configuration,
		logger:        logger,
		httpClient:    &http.Client{Timeout: timeout},
		now:           time.Now,
		catalogBase:   "EUR",
	}
	for _, option := range options {
		option(source)
	}
	return source, nil
}

// GetName returns the provider name
func (source *HTTPSource) GetName() string {
	return source.configuration.Name
}

// GetPriority returns the provider priority
func (source *HTTPSource) GetPriority() int {
	return source.configuration.Priority
}

// FixedBase returns the only base the provider quotes against, or "" when any base is accepted.
func (source *HTTPSource) FixedBase() string {
	return fixedBase(source.configuration.Name)
}

// SupportsRange reports whether the provider serves a date range in one call.
func (source *HTTPSource) SupportsRange() bool {
	return source.configuration.Name == config.ProviderFrankfurter
}

// Status describes the provider for the status endpoint.
func (source *HTTPSource) Status() ProviderStatus {
	return ProviderStatus{
		Name:          source.GetName(),
		Priority:      source.GetPriority(),
		Available:     true,
		FixedBase:     source.FixedBase(),
		SupportsRange: source.SupportsRange(),
	}
}

// FetchLatest fetches the latest rates against base
func (source *HTTPSource) FetchLatest(ctx context.Context, base string) (models.RateSnapshot, error) {
	const op = "fetchLatest"

	requestBase := source.requestBase(base)
	body, err := source.fetch(ctx, op, source.latestURL(requestBase))
	if err != nil {
		return models.RateSnapshot{}, err
	}

	snapshot, err := source.parseSnapshot(op, body, requestBase)
	if err != nil {
		return models.RateSnapshot{}, err
	}
	return source.rebase(snapshot, base)
}

// FetchDay fetches the rates published for one calendar day against base
func (source *HTTPSource) FetchDay(ctx context.Context, date time.Time, base string) (models.RateSnapshot, error) {
	const op = "fetchDay"

	day := date.UTC().Format(models.DateLayout)
	requestBase := source.requestBase(base)
	body, err := source.fetch(ctx, op, source.dayURL(day, requestBase))
	if err != nil {
		return models.RateSnapshot{}, err
	}

	snapshot, err := source.parseSnapshot(op, body, requestBase)
	if err != nil {
		return models.RateSnapshot{}, err
	}
	snapshot.Date = day
	return source.rebase(snapshot, base)
}

// FetchCatalog fetches the currency catalog. Providers without a names endpoint derive it from the
// keys of a catalog-base snapshot, each code standing for itself.
func (source *HTTPSource) FetchCatalog(ctx context.Context) (models.CurrencyCatalog, error) {
	const op = "fetchCatalog"

	if catalogURL := source.catalogURL(); catalogURL != "" {
		body, err := source.fetch(ctx, op, catalogURL)
		if err != nil {
			return nil, err
		}
		return parseCatalog(op, body)
	}

	snapshot, err := source.FetchLatest(ctx, source.catalogBase)
	if err != nil {
		return nil, err
	}
	catalog := make(models.CurrencyCatalog, len(snapshot.Rates)+1)
	for code := range snapshot.Rates {
		catalog[code] = code
	}
	catalog[source.catalogBase] = source.catalogBase
	return catalog, nil
}

// FetchRange fetches every published day in [start, end] with one call. Days that cannot be
// re-based are listed as missing.
func (source *HTTPSource) FetchRange(ctx context.Context, start, end time.Time, base string) (models.HistoricalSeries, error) {
	const op = "fetchRange"

	if !source.SupportsRange() {
		return models.HistoricalSeries{}, apperrors.Newf(apperrors.KindUpstreamUnavailable, op,
			"provider %s has no range endpoint", source.GetName())
	}

	requestBase := source.requestBase(base)
	rangeURL := fmt.Sprintf("%s/%s..%s?base=%s", source.configuration.BaseURL,
		start.UTC().Format(models.DateLayout), end.UTC().Format(models.DateLayout), url.QueryEscape(requestBase))
	body, err := source.fetch(ctx, op, rangeURL)
	if err != nil {
		return models.HistoricalSeries{}, err
	}

	if !gjson.ValidBytes(body) {
		return models.HistoricalSeries{}, apperrors.Newf(apperrors.KindMalformedResponse, op, "response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	days := root.Get("rates")
	if !days.IsObject() {
		return models.HistoricalSeries{}, apperrors.Newf(apperrors.KindMalformedResponse, op, "response has no rates object")
	}
	payloadBase := payloadBase(root, requestBase)

	series := models.HistoricalSeries{
		Base:     base,
		Rates:    make(map[string]map[string]float64),
		Provider: source.GetName(),
	}
	days.ForEach(func(key, value gjson.Result) bool {
		date := key.String()
		if !value.IsObject() {
			series.Missing = append(series.Missing, date)
			return true
		}
		snapshot := models.RateSnapshot{Base: payloadBase, Date: date, Rates: parseRateObject(value), Provider: source.GetName()}
		rebased, err := Rebase(snapshot, base)
		if err != nil {
			series.Missing = append(series.Missing, date)
			return true
		}
		series.Rates[date] = rebased.Rates
		return true
	})
	return series, nil
}

func (source *HTTPSource) requestBase(base string) string {
	if fixed := source.FixedBase(); fixed != "" {
		return fixed
	}
	return base
}

// rebase returns snapshot quoted against base, with base itself listed at 1.0
func (source *HTTPSource) rebase(snapshot models.RateSnapshot, base string) (models.RateSnapshot, error) {
	if snapshot.Base != base {
		return Rebase(snapshot, base)
	}
	if _, ok := snapshot.Rates[base]; !ok {
		snapshot.Rates[base] = 1
	}
	return snapshot, nil
}

// latestURL constructs the latest-rates URL for the provider
func (source *HTTPSource) latestURL(base string) string {
	baseURL := source.configuration.BaseURL
	switch source.configuration.Name {
	case config.ProviderERAPI:
		return fmt.Sprintf("%s/latest/%s", baseURL, url.PathEscape(base))
	case config.ProviderFrankfurter:
		return fmt.Sprintf("%s/latest?base=%s", baseURL, url.QueryEscape(base))
	case config.ProviderOpenExchangeRates:
		return fmt.Sprintf("%s/latest.json?app_id=%s", baseURL, url.QueryEscape(source.configuration.APIKey))
	case config.ProviderExchangeRateHost:
		return fmt.Sprintf("%s/latest?access_key=%s", baseURL, url.QueryEscape(source.configuration.APIKey))
	default:
		return fmt.Sprintf("%s?base=%s", baseURL, url.QueryEscape(base))
	}
}

// dayURL constructs the historical-day URL for the provider
func (source *HTTPSource) dayURL(date, base string) string {
	baseURL := source.configuration.BaseURL
	switch source.configuration.Name {
	case config.ProviderOpenExchangeRates:
		return fmt.Sprintf("%s/historical/%s.json?app_id=%s", baseURL, date, url.QueryEscape(source.configuration.APIKey))
	case config.ProviderExchangeRateHost:
		return fmt.Sprintf("%s/%s?access_key=%s", baseURL, date, url.QueryEscape(source.configuration.APIKey))
	default:
		return fmt.Sprintf("%s/%s?base=%s", baseURL, date, url.QueryEscape(base))
	}
}

// catalogURL returns the names endpoint, or "" when the provider has none
func (source *HTTPSource) catalogURL() string {
	baseURL := source.configuration.BaseURL
	switch source.configuration.Name {
	case config.ProviderFrankfurter:
		return baseURL + "/currencies"
	case config.ProviderOpenExchangeRates:
		return fmt.Sprintf("%s/currencies.json?app_id=%s", baseURL, url.QueryEscape(source.configuration.APIKey))
	case config.ProviderExchangeRateHost:
		return fmt.Sprintf("%s/symbols?access_key=%s", baseURL, url.QueryEscape(source.configuration.APIKey))
	default:
		return ""
	}
}

// fetch performs a GET, retrying network failures and server errors with exponential backoff
func (source *HTTPSource) fetch(ctx context.Context, op, requestURL string) ([]byte, error) {
	log := source.logger.ForProvider(source.GetName()).WithField("op", op)

	var body []byte
	operation := func() error {
		data, retryable, err := source.doGet(ctx, op, requestURL)
		if err != nil {
			if !retryable || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			log.WithError(err).Debug("Retrying upstream request")
			return err
		}
		body = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(source.newBackOff(), uint64(source.retryCount())), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.New(apperrors.KindUpstreamUnavailable, op, "request cancelled", err)
		}
		log.WithField("kind", apperrors.KindOf(err).String()).WithError(err).Warn("Upstream request failed")
		return nil, err
	}
	return body, nil
}

func (source *HTTPSource) doGet(ctx context.Context, op, requestURL string) ([]byte, bool, error) {
	requestContext, cancel := context.WithTimeout(ctx, source.configuration.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestContext, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, false, apperrors.New(apperrors.KindConfiguration, op, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	source.logger.ForProvider(source.GetName()).Debugf("Fetching %s", redact(requestURL))
	resp, err := source.httpClient.Do(req)
	if err != nil {
		return nil, true, apperrors.New(apperrors.KindUpstreamUnavailable, op, "failed to make request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, apperrors.New(apperrors.KindUpstreamUnavailable, op, "failed to read response body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, false, apperrors.Newf(apperrors.KindRateLimited, op, "provider %s returned status %d", source.GetName(), resp.StatusCode)
	}
	if payloadErr := classifyPayloadError(op, body); payloadErr != nil {
		return nil, false, payloadErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode >= 500, apperrors.Newf(apperrors.KindUpstreamUnavailable, op,
			"provider %s returned status %d", source.GetName(), resp.StatusCode)
	}
	return body, false, nil
}

func (source *HTTPSource) newBackOff() backoff.BackOff {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = source.configuration.RetryDelay
	if expBackoff.InitialInterval <= 0 {
		expBackoff.InitialInterval = defaultRetryDelay
	}
	expBackoff.MaxElapsedTime = 0
	return expBackoff
}

func (source *HTTPSource) retryCount() int {
	if source.configuration.RetryCount < 0 {
		return 0
	}
	return source.configuration.RetryCount
}

// parseSnapshot reads a rates payload. The payload's own base wins over the requested one so that
// providers ignoring the base parameter are re-based afterwards.
func (source *HTTPSource) parseSnapshot(op string, body []byte, requestBase string) (models.RateSnapshot, error) {
	if !gjson.ValidBytes(body) {
		return models.RateSnapshot{}, apperrors.Newf(apperrors.KindMalformedResponse, op, "response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	rates := root.Get("rates")
	if !rates.IsObject() {
		return models.RateSnapshot{}, apperrors.Newf(apperrors.KindMalformedResponse, op, "response has no rates object")
	}

	snapshot := models.RateSnapshot{
		Base:     payloadBase(root, requestBase),
		AsOf:     source.now().UTC(),
		Rates:    parseRateObject(rates),
		Provider: source.GetName(),
	}
	switch {
	case root.Get("date").Exists():
		snapshot.Date = root.Get("date").String()
	case root.Get("time_last_update_unix").Exists():
		snapshot.Date = time.Unix(root.Get("time_last_update_unix").Int(), 0).UTC().Format(models.DateLayout)
	case root.Get("timestamp").Exists():
		snapshot.Date = time.Unix(root.Get("timestamp").Int(), 0).UTC().Format(models.DateLayout)
	}
	return snapshot, nil
}

func payloadBase(root gjson.Result, fallback string) string {
	for _, path := range []string{"base_code", "base", "source"} {
		if value := root.Get(path); value.Type == gjson.String && value.String() != "" {
			return strings.ToUpper(value.String())
		}
	}
	return fallback
}

// parseRateObject keeps numeric entries only. Zero and negative values are kept so re-basing can
// reject them.
func parseRateObject(rates gjson.Result) map[string]float64 {
	parsed := make(map[string]float64)
	rates.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			parsed[strings.ToUpper(key.String())] = value.Float()
		}
		return true
	})
	return parsed
}

// parseCatalog accepts {CODE: "Name"} and {"symbols": {CODE: {"description": "Name"}}}
func parseCatalog(op string, body []byte) (models.CurrencyCatalog, error) {
	if !gjson.ValidBytes(body) {
		return nil, apperrors.Newf(apperrors.KindMalformedResponse, op, "response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if symbols := root.Get("symbols"); symbols.IsObject() {
		root = symbols
	}
	if !root.IsObject() {
		return nil, apperrors.Newf(apperrors.KindMalformedResponse, op, "catalog is not an object")
	}

	catalog := make(models.CurrencyCatalog)
	root.ForEach(func(key, value gjson.Result) bool {
		code := strings.ToUpper(key.String())
		switch {
		case value.Type == gjson.String:
			catalog[code] = value.String()
		case value.IsObject() && value.Get("description").Exists():
			catalog[code] = value.Get("description").String()
		}
		return true
	})
	if len(catalog) == 0 {
		return nil, apperrors.Newf(apperrors.KindMalformedResponse, op, "catalog is empty")
	}
	return catalog, nil
}

// classifyPayloadError inspects provider-specific error fields of a JSON body
func classifyPayloadError(op string, body []byte) error {
	if !gjson.ValidBytes(body) {
		return nil
	}
	root := gjson.ParseBytes(body)

	var code int64
	var message string
	switch {
	case root.Get("result").String() == "error":
		message = root.Get("error-type").String()
	case root.Get("success").Type == gjson.False:
		code = root.Get("error.code").Int()
		message = firstNonEmpty(root.Get("error.info").String(), root.Get("error.type").String())
	case root.Get("error").Type == gjson.True:
		code = root.Get("status").Int()
		message = firstNonEmpty(root.Get("description").String(), root.Get("message").String())
	default:
		return nil
	}

	if message == "" {
		message = "provider reported an error"
	}
	if code == 104 || code == http.StatusTooManyRequests || mentionsLimit(message) {
		return apperrors.Newf(apperrors.KindRateLimited, op, "%s", message)
	}
	return apperrors.Newf(apperrors.KindUpstreamUnavailable, op, "%s", message)
}

func mentionsLimit(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range []string{"limit", "quota", "too many", "too_many"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func requiresAPIKey(name string) bool {
	return name == config.ProviderOpenExchangeRates || name == config.ProviderExchangeRateHost
}

func fixedBase(name string) string {
	switch name {
	case config.ProviderOpenExchangeRates:
		return "USD"
	case config.ProviderExchangeRateHost:
		return "EUR"
	default:
		return ""
	}
}

// redact hides API keys in logged URLs
func redact(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	for _, key := range []string{"app_id", "access_key"} {
		if query.Has(key) {
			query.Set(key, "redacted")
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
