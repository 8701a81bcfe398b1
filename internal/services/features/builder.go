package features

import (
	"context"
	"sort"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/domain/service"
)

// Builder turns one day's raw observations for a SKU into a FeatureRecord.
// Competitor aggregates come from available offers with a positive price;
// own price, sales, and stock come from the latest observation of the day.
type Builder struct{}

var _ service.FeatureBuilder = (*Builder)(nil)

func NewBuilder() *Builder {
	return &Builder{}
}

// Build produces the feature record for (sku, date). It returns
// DataQualityError when the day carries no observations, or when the latest
// observation has a missing/negative own price or negative sales/stock.
func (b *Builder) Build(_ context.Context, sku string, date time.Time, obs []models.RawObservation) (*models.FeatureRecord, error) {
	if len(obs) == 0 {
		return nil, &models.DataQualityError{SKU: sku, Field: "own_price", Reason: "no observations for date"}
	}

	latest := obs[0]
	for _, o := range obs[1:] {
		if o.Timestamp.After(latest.Timestamp) {
			latest = o
		}
	}
	if latest.OwnPrice <= 0 {
		return nil, &models.DataQualityError{SKU: sku, Field: "own_price", Reason: "missing or non-positive"}
	}
	if latest.SalesUnits < 0 {
		return nil, &models.DataQualityError{SKU: sku, Field: "sales_units", Reason: "negative"}
	}
	if latest.Stock < 0 {
		return nil, &models.DataQualityError{SKU: sku, Field: "stock_on_hand", Reason: "negative"}
	}

	rec := &models.FeatureRecord{
		SKU:         sku,
		Date:        date,
		OwnPrice:    latest.OwnPrice,
		SalesUnits:  latest.SalesUnits,
		StockOnHand: latest.Stock,
	}

	prices := competitorPrices(obs)
	if len(prices) > 0 {
		min := prices[0]
		sum := 0.0
		for _, p := range prices {
			sum += p
		}
		avg := sum / float64(len(prices))
		rec.CompetitorMinPrice = &min
		rec.CompetitorAvgPrice = &avg
	}
	return rec, nil
}

// competitorPrices collects available competitor offer prices, sorted
// ascending. Unavailable offers and non-positive prices are dropped rather
// than failing the SKU.
func competitorPrices(obs []models.RawObservation) []float64 {
	out := make([]float64, 0, len(obs))
	for _, o := range obs {
		if !o.Available || o.Price <= 0 {
			continue
		}
		out = append(out, o.Price)
	}
	sort.Float64s(out)
	return out
}
