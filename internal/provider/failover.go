package provider

import (
	"context"
	"time"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
	"github.com/dalfonso89/currency-dashboard/internal/models"
)

// FailoverSource queries its sources in priority order and returns the first success. When every
// source fails the first failure is returned.
type FailoverSource struct {
	sources []RateSource
	logger  *logger.Logger
}

// NewFailoverSource composes sources, which must already be sorted by priority
func NewFailoverSource(sources []RateSource, logger *logger.Logger) *FailoverSource {
	return &FailoverSource{sources: sources, logger: logger}
}

// GetName returns the name of the primary source
func (f *FailoverSource) GetName() string {
	if len(f.sources) == 0 {
		return "none"
	}
	return f.sources[0].GetName()
}

// GetPriority returns the priority of the primary source
func (f *FailoverSource) GetPriority() int {
	if len(f.sources) == 0 {
		return 0
	}
	return f.sources[0].GetPriority()
}

// Sources returns the composed sources in priority order
func (f *FailoverSource) Sources() []RateSource {
	return append([]RateSource(nil), f.sources...)
}

func (f *FailoverSource) FetchLatest(ctx context.Context, base string) (models.RateSnapshot, error) {
	return firstSuccess(ctx, f, "fetchLatest", func(source RateSource) (models.RateSnapshot, error) {
		return source.FetchLatest(ctx, base)
	})
}

func (f *FailoverSource) FetchCatalog(ctx context.Context) (models.CurrencyCatalog, error) {
	return firstSuccess(ctx, f, "fetchCatalog", func(source RateSource) (models.CurrencyCatalog, error) {
		return source.FetchCatalog(ctx)
	})
}

func (f *FailoverSource) FetchDay(ctx context.Context, date time.Time, base string) (models.RateSnapshot, error) {
	return firstSuccess(ctx, f, "fetchDay", func(source RateSource) (models.RateSnapshot, error) {
		return source.FetchDay(ctx, date, base)
	})
}

// SupportsRange reports whether any composed source serves ranges
func (f *FailoverSource) SupportsRange() bool {
	for _, source := range f.sources {
		if _, ok := AsRangeSource(source); ok {
			return true
		}
	}
	return false
}

// FetchRange asks range-capable sources in priority order
func (f *FailoverSource) FetchRange(ctx context.Context, start, end time.Time, base string) (models.HistoricalSeries, error) {
	var firstErr error
	for _, source := range f.sources {
		rangeSource, ok := AsRangeSource(source)
		if !ok {
			continue
		}
		series, err := rangeSource.FetchRange(ctx, start, end, base)
		if err == nil {
			return series, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.HistoricalSeries{}, ctxErr
		}
		f.logger.ForProvider(source.GetName()).WithError(err).Warn("Range fetch failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = apperrors.Newf(apperrors.KindUpstreamUnavailable, "fetchRange", "no provider serves date ranges")
	}
	return models.HistoricalSeries{}, firstErr
}

// Statuses returns the status of all configured providers
func (f *FailoverSource) Statuses() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(f.sources))
	for _, source := range f.sources {
		if reporter, ok := source.(interface{ Status() ProviderStatus }); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}
		_, ranged := AsRangeSource(source)
		statuses = append(statuses, ProviderStatus{
			Name:          source.GetName(),
			Priority:      source.GetPriority(),
			Available:     true,
			SupportsRange: ranged,
		})
	}
	return statuses
}

func firstSuccess[T any](ctx context.Context, f *FailoverSource, op string, call func(RateSource) (T, error)) (T, error) {
	var zero T
	if len(f.sources) == 0 {
		return zero, apperrors.Newf(apperrors.KindConfiguration, op, "no exchange rate providers configured")
	}

	var firstErr error
	for _, source := range f.sources {
		result, err := call(source)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, err
		}
		f.logger.ForProvider(source.GetName()).
			WithField("kind", apperrors.KindOf(err).String()).
			WithError(err).
			Warnf("Provider failed during %s", op)
		if firstErr == nil {
			firstErr = err
		}
	}

	if len(f.sources) > 1 {
		f.logger.Errorf("All %d exchange rate providers failed during %s", len(f.sources), op)
	}
	return zero, firstErr
}
