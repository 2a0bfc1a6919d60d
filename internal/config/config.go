package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Provider names understood by the provider factory
const (
	ProviderERAPI             = "erapi"
	ProviderFrankfurter       = "frankfurter"
	ProviderOpenExchangeRates = "openexchangerates"
	ProviderExchangeRateHost  = "exchangerate.host"
)

// ExchangeRateProvider represents a single exchange rate API provider
type ExchangeRateProvider struct {
	Name       string
	BaseURL    string
	APIKey     string
	Enabled    bool
	Priority   int // Lower number = higher priority
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration

	// RequestInterval is the minimum spacing between consecutive upstream calls
	RequestInterval time.Duration
}

// Config holds all configuration for the application
type Config struct {
	Port     string
	LogLevel string

	// Exchange rate providers, enabled only, sorted by priority
	ExchangeRateProviders []ExchangeRateProvider
	CatalogBase           string
	HistoryMaxDays        int

	CORSAllowedOrigins []string

	// Rate limiting of inbound API requests
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type providerDefaults struct {
	name     string
	prefix   string
	baseURL  string
	enabled  bool
	priority int
	interval time.Duration
}

var defaultProviders = []providerDefaults{
	{ProviderERAPI, "EXCHANGE_RATE_API", "https://open.er-api.com/v6", true, 1, 250 * time.Millisecond},
	{ProviderFrankfurter, "FRANKFURTER", "https://api.frankfurter.app", true, 2, 250 * time.Millisecond},
	{ProviderOpenExchangeRates, "OPEN_EXCHANGE_RATES", "https://openexchangerates.org/api", false, 3, time.Second},
	{ProviderExchangeRateHost, "EXCHANGE_RATE_HOST", "https://api.exchangerate.host", false, 4, time.Second},
}

// maxAdditionalProviders bounds the PROVIDER_{n}_* scan
const maxAdditionalProviders = 10

const (
	minHistoryFetchBudget   = time.Minute
	historyFetchBudgetSlack = 30 * time.Second
)

// Load loads configuration from environment variables and a .env file if present
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:               v.GetString("PORT"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		CatalogBase:        strings.ToUpper(v.GetString("CATALOG_BASE")),
		HistoryMaxDays:     v.GetInt("HISTORY_MAX_DAYS"),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		RateLimitEnabled:   v.GetBool("RATE_LIMIT_ENABLED"),
		RateLimitRequests:  v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindow:    v.GetDuration("RATE_LIMIT_WINDOW"),
	}
	cfg.ExchangeRateProviders = loadExchangeRateProviders(v)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8081")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CATALOG_BASE", "EUR")
	v.SetDefault("HISTORY_MAX_DAYS", 90)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Minute)

	for _, d := range defaultProviders {
		setProviderDefaults(v, d.prefix, d.baseURL, d.enabled, d.priority, d.interval)
	}
}

func setProviderDefaults(v *viper.Viper, prefix, baseURL string, enabled bool, priority int, interval time.Duration) {
	v.SetDefault(prefix+"_BASE_URL", baseURL)
	v.SetDefault(prefix+"_API_KEY", "")
	v.SetDefault(prefix+"_ENABLED", enabled)
	v.SetDefault(prefix+"_PRIORITY", priority)
	v.SetDefault(prefix+"_TIMEOUT", 10*time.Second)
	v.SetDefault(prefix+"_RETRY_COUNT", 2)
	v.SetDefault(prefix+"_RETRY_DELAY", 500*time.Millisecond)
	v.SetDefault(prefix+"_REQUEST_INTERVAL", interval)
}

func readProvider(v *viper.Viper, name, prefix string) ExchangeRateProvider {
	return ExchangeRateProvider{
		Name:            name,
		BaseURL:         strings.TrimRight(v.GetString(prefix+"_BASE_URL"), "/"),
		APIKey:          v.GetString(prefix + "_API_KEY"),
		Enabled:         v.GetBool(prefix + "_ENABLED"),
		Priority:        v.GetInt(prefix + "_PRIORITY"),
		Timeout:         v.GetDuration(prefix + "_TIMEOUT"),
		RetryCount:      v.GetInt(prefix + "_RETRY_COUNT"),
		RetryDelay:      v.GetDuration(prefix + "_RETRY_DELAY"),
		RequestInterval: v.GetDuration(prefix + "_REQUEST_INTERVAL"),
	}
}

// loadExchangeRateProviders loads the built-in providers plus PROVIDER_{n}_* additions, keeping only
// enabled ones sorted by priority
func loadExchangeRateProviders(v *viper.Viper) []ExchangeRateProvider {
	providers := make([]ExchangeRateProvider, 0, len(defaultProviders))
	for _, d := range defaultProviders {
		providers = append(providers, readProvider(v, d.name, d.prefix))
	}
	providers = append(providers, loadAdditionalProviders(v)...)

	enabledProviders := make([]ExchangeRateProvider, 0, len(providers))
	for _, provider := range providers {
		if provider.Enabled {
			enabledProviders = append(enabledProviders, provider)
		}
	}

	sort.SliceStable(enabledProviders, func(i, j int) bool {
		return enabledProviders[i].Priority < enabledProviders[j].Priority
	})
	return enabledProviders
}

// loadAdditionalProviders loads custom providers (PROVIDER_1_NAME, PROVIDER_2_NAME, ...)
func loadAdditionalProviders(v *viper.Viper) []ExchangeRateProvider {
	providers := []ExchangeRateProvider{}

	for i := 1; i <= maxAdditionalProviders; i++ {
		prefix := fmt.Sprintf("PROVIDER_%d", i)
		name := v.GetString(prefix + "_NAME")
		if name == "" {
			break
		}
		setProviderDefaults(v, prefix, "", true, 10, time.Second)

		provider := readProvider(v, name, prefix)
		if provider.BaseURL != "" {
			providers = append(providers, provider)
		}
	}

	return providers
}

// HistoryFetchBudget is how long a cold day-by-day series of HistoryMaxDays may take against the
// primary provider: one paced call per day plus its retries, and some slack.
func (cfg *Config) HistoryFetchBudget() time.Duration {
	if len(cfg.ExchangeRateProviders) == 0 {
		return minHistoryFetchBudget
	}
	primary := cfg.ExchangeRateProviders[0]
	perDay := primary.RequestInterval + time.Duration(primary.RetryCount)*primary.RetryDelay
	budget := time.Duration(cfg.HistoryMaxDays+1)*perDay + historyFetchBudgetSlack
	if budget < minHistoryFetchBudget {
		return minHistoryFetchBudget
	}
	return budget
}

func (cfg *Config) validate() error {
	if cfg.HistoryMaxDays < 1 {
		return fmt.Errorf("HISTORY_MAX_DAYS must be positive, got %d", cfg.HistoryMaxDays)
	}
	if len(cfg.CatalogBase) != 3 {
		return fmt.Errorf("CATALOG_BASE must be a 3-letter currency code, got %q", cfg.CatalogBase)
	}
	if cfg.RateLimitEnabled && (cfg.RateLimitRequests < 1 || cfg.RateLimitWindow <= 0) {
		return fmt.Errorf("rate limiting needs positive RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW")
	}
	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
