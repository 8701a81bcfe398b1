package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PricePulse/internal/domain/models"
	"PricePulse/pkg/config"
)

func demoAnomaly() config.AnomalyConfig {
	return config.AnomalyConfig{
		PriceCrashThreshold: 0.15,
		StockSigmaMultiple:  3.0,
		StockAbsThreshold:   25,
		UndercutMargin:      0.05,
	}
}

func newDetector() *ThresholdDetector {
	return NewThresholdDetector(demoAnomaly(), demoPipeline())
}

// Seed scenario: own_price dropping 275000 -> 200000 day-over-day is a >15%
// crash and must produce exactly one anomaly alert for the SKU.
func TestDetectorPriceCrashScenario(t *testing.T) {
	d := newDetector()
	hist := historyDays("SKU-IPH-13-128", 1, 275000, 10)
	hist[0].StockOnHand = 50
	current := &models.FeatureRecord{
		SKU:         "SKU-IPH-13-128",
		OwnPrice:    200000,
		SalesUnits:  10,
		StockOnHand: 50,
	}

	alerts, err := d.Detect(context.Background(), current, hist)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertAnomaly, alerts[0].Type)
	assert.Equal(t, "SKU-IPH-13-128", alerts[0].SKU)
	assert.Equal(t, RulePriceCrash, alerts[0].Payload.Rule)
	assert.InDelta(t, (275000.0-200000.0)/275000.0, alerts[0].Payload.Observed, 1e-9)
	assert.Equal(t, 0.15, alerts[0].Payload.Threshold)
}

func TestDetectorCrashThresholdMonotonicity(t *testing.T) {
	d := newDetector()
	hist := historyDays("SKU-IPH-13-128", 3, 275000, 10)

	tests := []struct {
		name     string
		ownPrice float64
		fires    bool
	}{
		{"far above threshold", 200000, true},
		{"just above threshold", 275000 * 0.84, true},
		{"exactly at threshold", 275000 * 0.85, false},
		{"just below threshold", 275000 * 0.86, false},
		{"no drop", 275000, false},
		{"price increase", 300000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := &models.FeatureRecord{SKU: "SKU-IPH-13-128", OwnPrice: tt.ownPrice}
			alerts, err := d.Detect(context.Background(), current, hist)
			require.NoError(t, err)
			fired := false
			for _, a := range alerts {
				if a.Payload.Rule == RulePriceCrash {
					fired = true
				}
			}
			assert.Equal(t, tt.fires, fired)
		})
	}
}

func TestDetectorStockJump(t *testing.T) {
	d := newDetector()

	// short history, stddev unavailable: absolute threshold applies
	hist := historyDays("SKU-IPH-13-128", 1, 275000, 10)
	hist[0].StockOnHand = 50
	current := &models.FeatureRecord{SKU: "SKU-IPH-13-128", OwnPrice: 275000, StockOnHand: 90}

	alerts, err := d.Detect(context.Background(), current, hist)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, RuleStockJump, alerts[0].Payload.Rule)
	assert.Equal(t, 40.0, alerts[0].Payload.Observed)
	assert.Equal(t, 25.0, alerts[0].Payload.Threshold)

	// within the absolute threshold: quiet
	current.StockOnHand = 60
	alerts, err = d.Detect(context.Background(), current, hist)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// longer history: sigma-based threshold
	hist = historyDays("SKU-IPH-13-128", 4, 275000, 10)
	for i, stock := range []float64{48, 52, 49, 51} {
		hist[i].StockOnHand = stock
	}
	current.StockOnHand = 80
	alerts, err = d.Detect(context.Background(), current, hist)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, RuleStockJump, alerts[0].Payload.Rule)
}

func TestDetectorCompetitorUndercut(t *testing.T) {
	d := newDetector()
	hist := historyDays("SKU-IPH-13-128", 3, 275000, 10)
	for i := range hist {
		hist[i].StockOnHand = 50
	}

	cmin := 250000.0 // ~9% below own price, margin is 5%
	current := &models.FeatureRecord{
		SKU:                "SKU-IPH-13-128",
		OwnPrice:           275000,
		StockOnHand:        50,
		CompetitorMinPrice: &cmin,
	}

	alerts, err := d.Detect(context.Background(), current, hist)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, RuleUndercut, alerts[0].Payload.Rule)

	within := 270000.0 // ~1.8% below, quiet
	current.CompetitorMinPrice = &within
	alerts, err = d.Detect(context.Background(), current, hist)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDetectorNoHistoryNoAlerts(t *testing.T) {
	d := newDetector()
	current := &models.FeatureRecord{SKU: "SKU-IPH-13-128", OwnPrice: 100}

	alerts, err := d.Detect(context.Background(), current, nil)
	require.NoError(t, err)
	assert.Nil(t, alerts)
}

func TestDetectorIndependentRules(t *testing.T) {
	d := newDetector()
	hist := historyDays("SKU-IPH-13-128", 1, 275000, 10)
	hist[0].StockOnHand = 50

	cmin := 150000.0
	current := &models.FeatureRecord{
		SKU:                "SKU-IPH-13-128",
		OwnPrice:           200000,
		StockOnHand:        100,
		CompetitorMinPrice: &cmin,
	}

	alerts, err := d.Detect(context.Background(), current, hist)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	rules := []string{alerts[0].Payload.Rule, alerts[1].Payload.Rule, alerts[2].Payload.Rule}
	assert.Contains(t, rules, RulePriceCrash)
	assert.Contains(t, rules, RuleStockJump)
	assert.Contains(t, rules, RuleUndercut)
}
