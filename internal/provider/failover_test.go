package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/config"
	"github.com/dalfonso89/currency-dashboard/internal/models"
	"github.com/dalfonso89/currency-dashboard/internal/testutils"
)

type stubSource struct {
	name     string
	priority int
	snapshot models.RateSnapshot
	catalog  models.CurrencyCatalog
	err      error
	calls    int
}

func (s *stubSource) GetName() string  { return s.name }
func (s *stubSource) GetPriority() int { return s.priority }

func (s *stubSource) FetchLatest(ctx context.Context, base string) (models.RateSnapshot, error) {
	s.calls++
	return s.snapshot, s.err
}

func (s *stubSource) FetchCatalog(ctx context.Context) (models.CurrencyCatalog, error) {
	s.calls++
	return s.catalog, s.err
}

func (s *stubSource) FetchDay(ctx context.Context, date time.Time, base string) (models.RateSnapshot, error) {
	s.calls++
	return s.snapshot, s.err
}

func TestFailoverSource_FirstSuccessWins(t *testing.T) {
	failing := &stubSource{name: "primary", priority: 1, err: apperrors.Newf(apperrors.KindUpstreamUnavailable, "fetchLatest", "down")}
	healthy := &stubSource{name: "secondary", priority: 2, snapshot: models.RateSnapshot{Base: "USD", Provider: "secondary"}}
	unused := &stubSource{name: "tertiary", priority: 3}

	source := NewFailoverSource([]RateSource{failing, healthy, unused}, testutils.MockLogger())
	snapshot, err := source.FetchLatest(context.Background(), "USD")

	require.NoError(t, err)
	assert.Equal(t, "secondary", snapshot.Provider)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, healthy.calls)
	assert.Equal(t, 0, unused.calls)
}

func TestFailoverSource_AllFailReturnsFirstError(t *testing.T) {
	first := apperrors.Newf(apperrors.KindRateLimited, "fetchCatalog", "throttled")
	source := NewFailoverSource([]RateSource{
		&stubSource{name: "a", err: first},
		&stubSource{name: "b", err: apperrors.Newf(apperrors.KindUpstreamUnavailable, "fetchCatalog", "down")},
	}, testutils.MockLogger())

	_, err := source.FetchCatalog(context.Background())

	assert.Same(t, first, err)
}

func TestFailoverSource_NoSources(t *testing.T) {
	source := NewFailoverSource(nil, testutils.MockLogger())

	_, err := source.FetchDay(context.Background(), time.Now(), "USD")

	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	assert.Equal(t, "none", source.GetName())
}

func TestFailoverSource_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first := &stubSource{name: "a", err: context.Canceled}
	second := &stubSource{name: "b"}

	source := NewFailoverSource([]RateSource{first, second}, testutils.MockLogger())
	_, err := source.FetchLatest(ctx, "USD")

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, second.calls)
}

func TestFailoverSource_Range(t *testing.T) {
	mock := testutils.NewMockExchangeRateServer(config.ProviderFrankfurter)
	defer mock.Close()
	frankfurter := newTestSource(t, mock.ProviderConfig())

	withRange := NewFailoverSource([]RateSource{&stubSource{name: "plain"}, frankfurter}, testutils.MockLogger())
	withoutRange := NewFailoverSource([]RateSource{&stubSource{name: "plain"}}, testutils.MockLogger())

	assert.True(t, withRange.SupportsRange())
	assert.False(t, withoutRange.SupportsRange())

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	series, err := withRange.FetchRange(context.Background(), start, start.AddDate(0, 0, 1), "EUR")
	require.NoError(t, err)
	assert.Len(t, series.Rates, 2)

	_, err = withoutRange.FetchRange(context.Background(), start, start, "EUR")
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

func TestFailoverSource_Statuses(t *testing.T) {
	mock := testutils.NewMockExchangeRateServer(config.ProviderExchangeRateHost)
	defer mock.Close()
	host := newTestSource(t, mock.ProviderConfig())

	source := NewFailoverSource([]RateSource{host, &stubSource{name: "stub", priority: 9}}, testutils.MockLogger())
	statuses := source.Statuses()

	require.Len(t, statuses, 2)
	assert.Equal(t, ProviderStatus{Name: config.ProviderExchangeRateHost, Priority: 1, Available: true, FixedBase: "EUR"}, statuses[0])
	assert.Equal(t, ProviderStatus{Name: "stub", Priority: 9, Available: true}, statuses[1])
}
