package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar date format used for series keys
const DateLayout = "2006-01-02"

// CurrencyCatalog maps a currency code to its display name
type CurrencyCatalog map[string]string

type RateSnapshot struct {
	Base     string             `json:"base"`
	AsOf     time.Time          `json:"as_of"`
	Date     string             `json:"date,omitempty"`
	Rates    map[string]float64 `json:"rates"`
	Provider string             `json:"provider"`
}

// HistoricalSeries holds one rates map per ISO date. Dates whose fetch failed are listed in Missing
// and absent from Rates.
type HistoricalSeries struct {
	Base     string                        `json:"base"`
	Rates    map[string]map[string]float64 `json:"rates"`
	Provider string                        `json:"provider"`
	Missing  []string                      `json:"missing,omitempty"`
}

type RateRow struct {
	Currency string  `json:"currency"`
	Rate     float64 `json:"rate"`
}

type RateTable struct {
	Base     string    `json:"base"`
	Provider string    `json:"provider,omitempty"`
	AsOf     time.Time `json:"as_of,omitempty"`
	Rows     []RateRow `json:"rows"`
}

type SeriesRow struct {
	Date string  `json:"date"`
	Rate float64 `json:"rate"`
}

type TimeSeriesTable struct {
	Base    string      `json:"base"`
	Target  string      `json:"target"`
	Rows    []SeriesRow `json:"rows"`
	Missing []string    `json:"missing,omitempty"`
}

type CatalogEntry struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

type Conversion struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	Converted decimal.Decimal `json:"converted"`
	Provider  string          `json:"provider"`
	AsOf      time.Time       `json:"as_of"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code"`
}

type HealthCheck struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

// PairRate returns how many units of to one unit of from buys in this snapshot. The base currency
// is implicitly 1.0 when the provider omits it.
func (s RateSnapshot) PairRate(from, to string) (float64, bool) {
	if from == to {
		return 1, true
	}
	fromRate, ok := s.rateOf(from)
	if !ok || fromRate <= 0 {
		return 0, false
	}
	toRate, ok := s.rateOf(to)
	if !ok || toRate <= 0 {
		return 0, false
	}
	return toRate / fromRate, true
}

func (s RateSnapshot) rateOf(code string) (float64, bool) {
	if rate, ok := s.Rates[code]; ok {
		return rate, true
	}
	if code == s.Base {
		return 1, true
	}
	return 0, false
}
