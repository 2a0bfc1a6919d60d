package provider

import (
	"math"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/models"
)

// Rebase re-expresses snapshot against base. The snapshot's own base counts as 1.0 when the
// provider leaves it out, every rate is divided by the rate of base, and base itself becomes 1.0.
// A missing, zero or non-finite rate for base is a malformed response.
func Rebase(snapshot models.RateSnapshot, base string) (models.RateSnapshot, error) {
	rates := make(map[string]float64, len(snapshot.Rates)+1)
	for code, rate := range snapshot.Rates {
		rates[code] = rate
	}
	if _, ok := rates[snapshot.Base]; !ok && snapshot.Base != "" {
		rates[snapshot.Base] = 1
	}

	rebased := snapshot
	rebased.Base = base

	if base == snapshot.Base {
		rates[base] = 1
		rebased.Rates = rates
		return rebased, nil
	}

	pivot, ok := rates[base]
	if !ok || pivot <= 0 || math.IsNaN(pivot) || math.IsInf(pivot, 0) {
		return models.RateSnapshot{}, apperrors.Newf(apperrors.KindMalformedResponse, "rebase",
			"%s snapshot from %s has no usable rate for %s", snapshot.Base, snapshot.Provider, base)
	}

	out := make(map[string]float64, len(rates))
	for code, rate := range rates {
		out[code] = rate / pivot
	}
	out[base] = 1
	rebased.Rates = out
	return rebased, nil
}
