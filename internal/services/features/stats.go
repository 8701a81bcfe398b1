package features

import (
	"gonum.org/v1/gonum/stat"

	"PricePulse/internal/domain/models"
)

// TrailingSales returns the trailing-window average of sales_units over the
// most recent `window` records, or 0 when history is empty.
func TrailingSales(history []models.FeatureRecord, window int) float64 {
	vals := tail(history, window, func(f models.FeatureRecord) float64 { return f.SalesUnits })
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

// TrailingOwnPrice returns the trailing-window average own_price, or 0 when
// history is empty.
func TrailingOwnPrice(history []models.FeatureRecord, window int) float64 {
	vals := tail(history, window, func(f models.FeatureRecord) float64 { return f.OwnPrice })
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

// TrailingStockStats returns mean and sample standard deviation of
// stock_on_hand over the trailing window. StdDev is 0 for fewer than two
// observations.
func TrailingStockStats(history []models.FeatureRecord, window int) (mean, stddev float64) {
	vals := tail(history, window, func(f models.FeatureRecord) float64 { return f.StockOnHand })
	if len(vals) == 0 {
		return 0, 0
	}
	mean = stat.Mean(vals, nil)
	if len(vals) < 2 {
		return mean, 0
	}
	return mean, stat.StdDev(vals, nil)
}

func tail(history []models.FeatureRecord, window int, pick func(models.FeatureRecord) float64) []float64 {
	if len(history) == 0 || window <= 0 {
		return nil
	}
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, len(history)-start)
	for _, f := range history[start:] {
		out = append(out, pick(f))
	}
	return out
}
