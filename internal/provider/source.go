// Package provider fetches exchange rates from upstream providers and turns their payloads into
// canonical snapshots, catalogs and series.
package provider

import (
	"context"
	"time"

	"github.com/dalfonso89/currency-dashboard/internal/models"
)

// RateSource defines the interface for exchange rate providers
type RateSource interface {
	GetName() string
	GetPriority() int
	FetchLatest(ctx context.Context, base string) (models.RateSnapshot, error)
	FetchCatalog(ctx context.Context) (models.CurrencyCatalog, error)
	FetchDay(ctx context.Context, date time.Time, base string) (models.RateSnapshot, error)
}

// RangeSource is implemented by sources that can return a whole date range in one call
type RangeSource interface {
	RateSource
	SupportsRange() bool
	FetchRange(ctx context.Context, start, end time.Time, base string) (models.HistoricalSeries, error)
}

// StatusReporter is implemented by sources that can describe their configured providers
type StatusReporter interface {
	Statuses() []ProviderStatus
}

// ProviderStatus represents the status of a provider
type ProviderStatus struct {
	Name          string `json:"name"`
	Priority      int    `json:"priority"`
	Available     bool   `json:"available"`
	FixedBase     string `json:"fixed_base,omitempty"`
	SupportsRange bool   `json:"supports_range"`
	Error         string `json:"error,omitempty"`
}

// AsRangeSource returns source as a RangeSource when it can serve a historical range in one call.
func AsRangeSource(source RateSource) (RangeSource, bool) {
	rangeSource, ok := source.(RangeSource)
	if !ok || !rangeSource.SupportsRange() {
		return nil, false
	}
	return rangeSource, true
}
