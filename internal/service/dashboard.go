package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/cache"
	"github.com/dalfonso89/currency-dashboard/internal/config"
	"github.com/dalfonso89/currency-dashboard/internal/history"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
	"github.com/dalfonso89/currency-dashboard/internal/models"
	"github.com/dalfonso89/currency-dashboard/internal/normalize"
	"github.com/dalfonso89/currency-dashboard/internal/provider"
	"github.com/dalfonso89/currency-dashboard/internal/ratelimit"
)

// Cache operation names
const (
	opLatest  = "latest"
	opCatalog = "catalog"
	opSeries  = "series"
)

// Dashboard serves the read operations behind the converter, live-rates and history views
type Dashboard struct {
	configuration *config.Config
	logger        *logger.Logger
	source        provider.RateSource
	cache         *cache.Cache
	assembler     *history.Assembler
	pacer         ratelimit.Waiter
	now           func() time.Time
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithSource replaces the providers built from configuration.
func WithSource(source provider.RateSource) Option {
	return func(d *Dashboard) {
		d.source = source
	}
}

// WithClock sets the clock shared by the cache and the history assembler.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) {
		d.now = now
	}
}

// WithPacer replaces the pacer spacing historical day fetches.
func WithPacer(pacer ratelimit.Waiter) Option {
	return func(d *Dashboard) {
		d.pacer = pacer
	}
}

// NewDashboard wires the providers, cache and history assembler from configuration
func NewDashboard(configuration *config.Config, logger *logger.Logger, options ...Option) *Dashboard {
	d := &Dashboard{
		configuration: configuration,
		logger:        logger,
		now:           time.Now,
	}
	for _, option := range options {
		option(d)
	}

	if d.source == nil {
		d.source = provider.NewProviderFactory(configuration, logger, provider.WithClock(d.now)).CreateSource()
	}
	if d.pacer == nil {
		d.pacer = ratelimit.NewPacer(primaryRequestInterval(configuration))
	}
	d.cache = cache.New(cache.WithClock(d.now), cache.WithFetchTimeout(configuration.HistoryFetchBudget()))
	d.assembler = history.NewAssembler(d.source, logger,
		history.WithClock(d.now),
		history.WithPacer(d.pacer),
		history.WithMaxDays(configuration.HistoryMaxDays),
	)
	return d
}

// MaxHistoryDays returns the largest accepted history window.
func (d *Dashboard) MaxHistoryDays() int {
	return d.assembler.MaxDays()
}

// Cache exposes the shared result cache.
func (d *Dashboard) Cache() *cache.Cache {
	return d.cache
}

// Latest returns the cached or freshly fetched latest snapshot for base
func (d *Dashboard) Latest(ctx context.Context, base string) (models.RateSnapshot, error) {
	return cache.GetOrFetch(ctx, d.cache, cache.NewKey(opLatest, base), cache.TTLLatest,
		func(ctx context.Context) (models.RateSnapshot, error) {
			return d.source.FetchLatest(ctx, base)
		})
}

// GetSnapshotTable returns the live-rates table for base. On failure the table is empty and the error
// says whether to warn or to report a configuration problem.
func (d *Dashboard) GetSnapshotTable(ctx context.Context, base string, opts normalize.FilterOptions) (models.RateTable, error) {
	snapshot, err := d.Latest(ctx, base)
	if err != nil {
		d.logFailure(err, "latest rates unavailable", base)
		return models.RateTable{Base: base, Rows: []models.RateRow{}}, err
	}
	return normalize.FilterRateTable(normalize.ToRateTable(&snapshot), opts), nil
}

// GetSeriesTable returns the trend of target against base over the last days days
func (d *Dashboard) GetSeriesTable(ctx context.Context, base, target string, days int) (models.TimeSeriesTable, error) {
	empty := models.TimeSeriesTable{Base: base, Target: target, Rows: []models.SeriesRow{}}

	today := d.assembler.Today().Format(models.DateLayout)
	key := cache.NewKey(opSeries, base, strconv.Itoa(days), today)
	series, err := cache.GetOrFetch(ctx, d.cache, key, cache.TTLSeries,
		func(ctx context.Context) (models.HistoricalSeries, error) {
			return d.assembler.FetchSeries(ctx, base, days)
		})
	if err != nil {
		d.logFailure(err, "historical series unavailable", base)
		return empty, err
	}

	table := normalize.ToTimeSeriesTable(&series, target)
	table.Base = base
	return table, nil
}

// GetCatalog returns the currency catalog and whether the fixed fallback had to be used
func (d *Dashboard) GetCatalog(ctx context.Context) (models.CurrencyCatalog, bool) {
	catalog, err := cache.GetOrFetch(ctx, d.cache, cache.NewKey(opCatalog), cache.TTLCatalog, d.source.FetchCatalog)
	if err != nil {
		d.logFailure(err, "currency catalog unavailable, using fallback", "")
	}
	return normalize.CatalogOrFallback(catalog, err)
}

// Convert prices amount of from in to using the latest from-based snapshot
func (d *Dashboard) Convert(ctx context.Context, from, to string, amount decimal.Decimal) (models.Conversion, error) {
	if amount.IsNegative() {
		return models.Conversion{}, fmt.Errorf("%w: amount must not be negative", apperrors.ErrValidation)
	}

	snapshot, err := d.Latest(ctx, from)
	if err != nil {
		d.logFailure(err, "conversion rates unavailable", from)
		return models.Conversion{}, err
	}

	rate, ok := snapshot.PairRate(from, to)
	if !ok {
		return models.Conversion{}, fmt.Errorf("%w: %s is not quoted against %s", apperrors.ErrUnknownCurrency, to, from)
	}

	rateValue := decimal.NewFromFloat(rate)
	return models.Conversion{
		From:      from,
		To:        to,
		Amount:    amount,
		Rate:      rateValue.Round(6),
		Converted: amount.Mul(rateValue).Round(2),
		Provider:  snapshot.Provider,
		AsOf:      snapshot.AsOf,
	}, nil
}

// GetProviderStatus returns the status of all configured providers
func (d *Dashboard) GetProviderStatus() []provider.ProviderStatus {
	if reporter, ok := d.source.(provider.StatusReporter); ok {
		return reporter.Statuses()
	}
	_, ranged := provider.AsRangeSource(d.source)
	return []provider.ProviderStatus{{
		Name:          d.source.GetName(),
		Priority:      d.source.GetPriority(),
		Available:     true,
		SupportsRange: ranged,
	}}
}

func (d *Dashboard) logFailure(err error, message, base string) {
	entry := d.logger.WithField("kind", apperrors.KindOf(err).String())
	if base != "" {
		entry = entry.WithField("base", base)
	}
	if apperrors.KindOf(err) == apperrors.KindConfiguration {
		entry.WithError(err).Error(message)
		return
	}
	entry.WithError(err).Warn(message)
}

func primaryRequestInterval(configuration *config.Config) time.Duration {
	if len(configuration.ExchangeRateProviders) == 0 {
		return 0
	}
	return configuration.ExchangeRateProviders[0].RequestInterval
}
