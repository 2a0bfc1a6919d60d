package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dalfonso89/currency-dashboard/internal/models"
)

// MockRateSource provides a testify mock for a rate source
type MockRateSource struct {
	mock.Mock
}

func (m *MockRateSource) GetName() string {
	return "mock"
}

func (m *MockRateSource) GetPriority() int {
	return 1
}

func (m *MockRateSource) FetchLatest(ctx context.Context, base string) (models.RateSnapshot, error) {
	args := m.Called(ctx, base)
	return args.Get(0).(models.RateSnapshot), args.Error(1)
}

func (m *MockRateSource) FetchCatalog(ctx context.Context) (models.CurrencyCatalog, error) {
	args := m.Called(ctx)
	catalog, _ := args.Get(0).(models.CurrencyCatalog)
	return catalog, args.Error(1)
}

func (m *MockRateSource) FetchDay(ctx context.Context, date time.Time, base string) (models.RateSnapshot, error) {
	args := m.Called(ctx, date, base)
	return args.Get(0).(models.RateSnapshot), args.Error(1)
}
