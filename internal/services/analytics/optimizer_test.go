package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PricePulse/internal/domain/models"
)

func fixtureFeature() *models.FeatureRecord {
	cmin, cavg := 270000.0, 280000.0
	return &models.FeatureRecord{
		SKU:                "SKU-IPH-13-128",
		CompetitorMinPrice: &cmin,
		CompetitorAvgPrice: &cavg,
		OwnPrice:           275000,
		SalesUnits:         10,
		StockOnHand:        50,
	}
}

// Seed-data scenario: the optimizer must land on 279000 with expected
// quantity 9 and an expected profit uplift of 32000 under demo-v1.
func TestOptimizerSeedScenario(t *testing.T) {
	o := NewGridOptimizer(demoModel())
	curve := &models.DemandCurve{BaseQty: 10, BasePrice: 275000, Elasticity: -5.0, ModelVer: "demo-v1"}

	reco, err := o.Optimize(context.Background(), fixtureFeature(), curve)
	require.NoError(t, err)
	assert.Equal(t, 279000.0, reco.Price)
	assert.Equal(t, 9.0, reco.ExpectedQty)
	assert.Equal(t, 32000.0, reco.ExpectedProfit)
	assert.Equal(t, "demo-v1", reco.ModelVer)
	assert.Contains(t, reco.Explain, "price=279000")
	assert.Contains(t, reco.Explain, "runner-up")
}

func TestOptimizerOptimality(t *testing.T) {
	model := demoModel()
	o := NewGridOptimizer(model)
	curve := &models.DemandCurve{BaseQty: 10, BasePrice: 275000, Elasticity: -5.0, ModelVer: "demo-v1"}

	reco, err := o.Optimize(context.Background(), fixtureFeature(), curve)
	require.NoError(t, err)

	cost := model.CostFor("SKU-IPH-13-128")
	bestProfit := reco.ExpectedQty * (reco.Price - cost)
	for p := model.GridMin; p <= model.GridMax; p += model.GridStep {
		profit := curve.QuantityAt(p) * (p - cost)
		assert.GreaterOrEqual(t, bestProfit, profit, "candidate %v", p)
	}
}

func TestOptimizerTieBreaksToLowestPrice(t *testing.T) {
	model := demoModel()
	o := NewGridOptimizer(model)
	// price-independent curve: every candidate above cost changes profit,
	// but a flat zero-quantity curve ties all candidates at zero profit
	curve := &models.DemandCurve{BaseQty: 0, BasePrice: 275000, Elasticity: 0, ModelVer: "demo-v1-naive"}

	reco, err := o.Optimize(context.Background(), fixtureFeature(), curve)
	require.NoError(t, err)
	assert.Equal(t, 271000.0, reco.Price) // lowest candidate at-or-above cost
	assert.Equal(t, 0.0, reco.ExpectedQty)
}

func TestOptimizerLeastLossMarked(t *testing.T) {
	model := demoModel()
	model.DefaultCost = 500000 // every grid candidate sells at a loss
	o := NewGridOptimizer(model)
	curve := &models.DemandCurve{BaseQty: 10, BasePrice: 275000, Elasticity: 0, ModelVer: "demo-v1"}

	reco, err := o.Optimize(context.Background(), fixtureFeature(), curve)
	require.NoError(t, err)
	assert.Equal(t, 279000.0, reco.Price) // least loss at flat quantity
	assert.Contains(t, reco.Explain, "least-loss")
}

func TestOptimizerPriceWithinGridBounds(t *testing.T) {
	model := demoModel()
	o := NewGridOptimizer(model)
	curves := []*models.DemandCurve{
		{BaseQty: 10, BasePrice: 275000, Elasticity: -5.0, ModelVer: "demo-v1"},
		{BaseQty: 3, BasePrice: 250000, Elasticity: -1.0, ModelVer: "demo-v1"},
		{BaseQty: 0, BasePrice: 275000, Elasticity: 0, ModelVer: "demo-v1-naive"},
	}
	for _, c := range curves {
		reco, err := o.Optimize(context.Background(), fixtureFeature(), c)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, reco.Price, model.GridMin)
		assert.LessOrEqual(t, reco.Price, model.GridMax)
	}
}
