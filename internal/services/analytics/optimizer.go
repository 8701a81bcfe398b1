package analytics

import (
	"context"
	"fmt"
	"math"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/domain/service"
	"PricePulse/pkg/config"
)

// GridOptimizer searches the configured bounded price grid and selects the
// candidate maximizing expected profit under the forecaster's demand curve.
// The stored expected_profit is the uplift versus holding the current price.
type GridOptimizer struct {
	model config.ModelConfig
}

var _ service.PriceOptimizer = (*GridOptimizer)(nil)

func NewGridOptimizer(model config.ModelConfig) *GridOptimizer {
	return &GridOptimizer{model: model}
}

// Optimize always returns a recommendation: when no grid candidate turns a
// profit it returns the least-loss candidate with the explain string marked.
// Ties resolve to the lowest price.
func (o *GridOptimizer) Optimize(_ context.Context, feature *models.FeatureRecord, curve *models.DemandCurve) (*models.PriceRecommendation, error) {
	cost := o.model.CostFor(feature.SKU)
	grid := o.grid(cost)
	if len(grid) == 0 {
		return nil, &models.ModelError{SKU: feature.SKU, Reason: "empty price grid"}
	}

	holdQty := curve.QuantityAt(feature.OwnPrice)
	holdProfit := holdQty * (feature.OwnPrice - cost)

	type candidate struct {
		price, qty, profit float64
	}
	best := candidate{profit: math.Inf(-1)}
	second := candidate{profit: math.Inf(-1)}
	for _, p := range grid {
		q := curve.QuantityAt(p)
		profit := q * (p - cost)
		switch {
		case profit > best.profit:
			second = best
			best = candidate{price: p, qty: q, profit: profit}
		case profit > second.profit:
			second = candidate{price: p, qty: q, profit: profit}
		}
	}

	explain := fmt.Sprintf("grid %.0f..%.0f/%.0f: price=%.0f uplift=%.0f",
		grid[0], grid[len(grid)-1], o.model.GridStep, best.price, best.profit-holdProfit)
	if !math.IsInf(second.profit, -1) {
		explain += fmt.Sprintf("; runner-up price=%.0f uplift=%.0f", second.price, second.profit-holdProfit)
	}
	explain += fmt.Sprintf("; hold price=%.0f", feature.OwnPrice)
	if best.profit <= 0 {
		explain += "; no profitable candidate, least-loss pick"
	}

	return &models.PriceRecommendation{
		SKU:            feature.SKU,
		Date:           feature.Date,
		Price:          best.price,
		ExpectedQty:    best.qty,
		ExpectedProfit: best.profit - holdProfit,
		Explain:        explain,
		ModelVer:       curve.ModelVer,
	}, nil
}

// grid materializes the ascending candidate set. Candidates below cost are
// excluded; when every candidate sits below cost the full grid is kept so a
// least-loss recommendation can still be made.
func (o *GridOptimizer) grid(cost float64) []float64 {
	var all, above []float64
	for p := o.model.GridMin; p <= o.model.GridMax+1e-9; p += o.model.GridStep {
		all = append(all, p)
		if p >= cost {
			above = append(above, p)
		}
	}
	if len(above) > 0 {
		return above
	}
	return all
}
