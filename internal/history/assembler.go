// Package history assembles multi-day rate series from single-day or range upstream calls.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
	"github.com/dalfonso89/currency-dashboard/internal/models"
	"github.com/dalfonso89/currency-dashboard/internal/provider"
	"github.com/dalfonso89/currency-dashboard/internal/ratelimit"
)

// DefaultMaxDays bounds how far back a series may reach.
const DefaultMaxDays = 90

// Assembler builds historical series for one base currency
type Assembler struct {
	source  provider.RateSource
	pacer   ratelimit.Waiter
	logger  *logger.Logger
	now     func() time.Time
	maxDays int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithPacer sets the waiter consulted before every upstream day fetch.
func WithPacer(pacer ratelimit.Waiter) Option {
	return func(a *Assembler) {
		a.pacer = pacer
	}
}

// WithClock sets the clock that decides which day is today.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithMaxDays overrides DefaultMaxDays.
func WithMaxDays(days int) Option {
	return func(a *Assembler) {
		if days > 0 {
			a.maxDays = days
		}
	}
}

func NewAssembler(source provider.RateSource, logger *logger.Logger, options ...Option) *Assembler {
	a := &Assembler{
		source:  source,
		pacer:   ratelimit.NewPacer(0),
		logger:  logger,
		now:     time.Now,
		maxDays: DefaultMaxDays,
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// MaxDays returns the largest accepted window.
func (a *Assembler) MaxDays() int {
	return a.maxDays
}

// Today returns the current UTC calendar day.
func (a *Assembler) Today() time.Time {
	now := a.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// FetchSeries returns rates for every date in [today-days, today] that could be fetched. Failed days
// are listed in Missing. When no day succeeds the result is a NoHistoricalData error, and when ctx
// ends first the context error is returned instead of a partial series.
func (a *Assembler) FetchSeries(ctx context.Context, base string, days int) (models.HistoricalSeries, error) {
	if days < 1 || days > a.maxDays {
		return models.HistoricalSeries{}, fmt.Errorf("%w: days must be between 1 and %d, got %d", apperrors.ErrValidation, a.maxDays, days)
	}

	end := a.Today()
	start := end.AddDate(0, 0, -days)

	if rangeSource, ok := provider.AsRangeSource(a.source); ok {
		series, err := rangeSource.FetchRange(ctx, start, end, base)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.HistoricalSeries{}, ctxErr
		}
		if err == nil && len(series.Rates) > 0 {
			return series, nil
		}
		a.logger.WithField("base", base).WithError(err).Info("Range fetch unusable, fetching day by day")
	}

	return a.fetchDays(ctx, base, start, end)
}

func (a *Assembler) fetchDays(ctx context.Context, base string, start, end time.Time) (models.HistoricalSeries, error) {
	series := models.HistoricalSeries{
		Base:     base,
		Rates:    make(map[string]map[string]float64),
		Provider: a.source.GetName(),
	}

	var lastErr error
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := a.pacer.Wait(ctx); err != nil {
			return models.HistoricalSeries{}, err
		}

		date := day.Format(models.DateLayout)
		snapshot, err := a.source.FetchDay(ctx, day, base)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.HistoricalSeries{}, ctxErr
		}
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"base": base,
				"date": date,
				"kind": apperrors.KindOf(err).String(),
			}).WithError(err).Warn("Skipping historical day")
			series.Missing = append(series.Missing, date)
			lastErr = err
			continue
		}

		series.Rates[date] = snapshot.Rates
		if snapshot.Provider != "" {
			series.Provider = snapshot.Provider
		}
	}

	if len(series.Rates) == 0 {
		return models.HistoricalSeries{}, apperrors.New(apperrors.KindNoHistoricalData, "fetchSeries",
			fmt.Sprintf("no rates for %s between %s and %s", base, start.Format(models.DateLayout), end.Format(models.DateLayout)), lastErr)
	}
	if len(series.Missing) > 0 {
		a.logger.WithField("base", base).Warnf("Historical series is missing %d of %d days", len(series.Missing), len(series.Missing)+len(series.Rates))
	}
	return series, nil
}
