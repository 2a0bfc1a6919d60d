package provider

import (
	"context"
	"time"

	"github.com/dalfonso89/currency-dashboard/internal/models"
)

// UnavailableSource stands in when no provider could be configured. Every call returns the
// configuration error without touching the network.
type UnavailableSource struct {
	err error
}

func NewUnavailableSource(err error) *UnavailableSource {
	return &UnavailableSource{err: err}
}

func (u *UnavailableSource) GetName() string {
	return "unavailable"
}

func (u *UnavailableSource) GetPriority() int {
	return 0
}

func (u *UnavailableSource) FetchLatest(context.Context, string) (models.RateSnapshot, error) {
	return models.RateSnapshot{}, u.err
}

func (u *UnavailableSource) FetchCatalog(context.Context) (models.CurrencyCatalog, error) {
	return nil, u.err
}

func (u *UnavailableSource) FetchDay(context.Context, time.Time, string) (models.RateSnapshot, error) {
	return models.RateSnapshot{}, u.err
}

func (u *UnavailableSource) Statuses() []ProviderStatus {
	return []ProviderStatus{{Name: u.GetName(), Available: false, Error: u.err.Error()}}
}
