// Package normalize turns snapshots and series into flat, ordered tables for display. Nothing here
// returns an error: missing or malformed input degrades to an empty table.
package normalize

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dalfonso89/currency-dashboard/internal/models"
)

// FallbackCatalog is served when the provider catalog cannot be fetched
var FallbackCatalog = models.CurrencyCatalog{
	"USD": "US Dollar",
	"EUR": "Euro",
	"GBP": "British Pound",
	"JPY": "Japanese Yen",
	"AUD": "Australian Dollar",
}

// knownNames labels codes that a derived catalog maps to themselves
var knownNames = map[string]string{
	"USD": "US Dollar",
	"EUR": "Euro",
	"GBP": "British Pound",
	"JPY": "Japanese Yen",
	"AUD": "Australian Dollar",
	"CAD": "Canadian Dollar",
	"CHF": "Swiss Franc",
	"CNY": "Chinese Yuan",
	"INR": "Indian Rupee",
	"NZD": "New Zealand Dollar",
}

// Order selects the row order of a RateTable
type Order string

const (
	OrderByCode Order = "code"
	OrderByRate Order = "rate"
)

// FilterOptions narrows a RateTable for the live-rates view
type FilterOptions struct {
	Search      string
	Order       Order
	Limit       int
	ExcludeBase bool
}

// ToRateTable flattens a snapshot into rows ordered by currency code
func ToRateTable(snapshot *models.RateSnapshot) models.RateTable {
	if snapshot == nil {
		return models.RateTable{Rows: []models.RateRow{}}
	}

	rows := make([]models.RateRow, 0, len(snapshot.Rates))
	for code, rate := range snapshot.Rates {
		if !usable(rate) {
			continue
		}
		rows = append(rows, models.RateRow{Currency: code, Rate: rate})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Currency < rows[j].Currency
	})

	return models.RateTable{
		Base:     snapshot.Base,
		Provider: snapshot.Provider,
		AsOf:     snapshot.AsOf,
		Rows:     rows,
	}
}

// ToTimeSeriesTable extracts target from every date of series. Dates are normalized to YYYY-MM-DD,
// and when two keys normalize to the same date the later key in sorted order wins.
func ToTimeSeriesTable(series *models.HistoricalSeries, target string) models.TimeSeriesTable {
	table := models.TimeSeriesTable{Target: target, Rows: []models.SeriesRow{}}
	if series == nil {
		return table
	}
	table.Base = series.Base
	table.Missing = append([]string(nil), series.Missing...)

	keys := make([]string, 0, len(series.Rates))
	for key := range series.Rates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	byDate := make(map[string]float64, len(keys))
	for _, key := range keys {
		date, ok := normalizeDate(key)
		if !ok {
			continue
		}
		rate, ok := series.Rates[key][target]
		if !ok || !usable(rate) {
			continue
		}
		byDate[date] = rate
	}

	for date, rate := range byDate {
		table.Rows = append(table.Rows, models.SeriesRow{Date: date, Rate: rate})
	}
	sort.Slice(table.Rows, func(i, j int) bool {
		return table.Rows[i].Date < table.Rows[j].Date
	})
	return table
}

// CatalogOrFallback returns catalog unless the fetch failed or produced nothing
func CatalogOrFallback(catalog models.CurrencyCatalog, err error) (models.CurrencyCatalog, bool) {
	if err != nil || len(catalog) == 0 {
		return copyCatalog(FallbackCatalog), true
	}
	return catalog, false
}

// FilterRateTable applies the search, order and limit of opts to a copy of table
func FilterRateTable(table models.RateTable, opts FilterOptions) models.RateTable {
	search := strings.ToUpper(strings.TrimSpace(opts.Search))

	rows := make([]models.RateRow, 0, len(table.Rows))
	for _, row := range table.Rows {
		if opts.ExcludeBase && row.Currency == table.Base {
			continue
		}
		if search != "" && !strings.Contains(strings.ToUpper(row.Currency), search) {
			continue
		}
		rows = append(rows, row)
	}

	if opts.Order == OrderByRate {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Rate > rows[j].Rate
		})
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}

	filtered := table
	filtered.Rows = rows
	return filtered
}

// CatalogEntries lists the catalog sorted by code with "CODE - Name" labels
func CatalogEntries(catalog models.CurrencyCatalog) []models.CatalogEntry {
	entries := make([]models.CatalogEntry, 0, len(catalog))
	for code, name := range catalog {
		if name == "" || name == code {
			if known, ok := knownNames[code]; ok {
				name = known
			} else {
				name = code
			}
		}
		label := code
		if name != code {
			label = code + " - " + name
		}
		entries = append(entries, models.CatalogEntry{Code: code, Name: name, Label: label})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Code < entries[j].Code
	})
	return entries
}

func normalizeDate(key string) (string, bool) {
	if day, err := time.Parse(models.DateLayout, key); err == nil {
		return day.Format(models.DateLayout), true
	}
	if instant, err := time.Parse(time.RFC3339, key); err == nil {
		return instant.Format(models.DateLayout), true
	}
	return "", false
}

func usable(rate float64) bool {
	return rate > 0 && !math.IsNaN(rate) && !math.IsInf(rate, 0)
}

func copyCatalog(catalog models.CurrencyCatalog) models.CurrencyCatalog {
	out := make(models.CurrencyCatalog, len(catalog))
	for code, name := range catalog {
		out[code] = name
	}
	return out
}
