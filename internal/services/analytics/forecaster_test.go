package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PricePulse/internal/domain/models"
	"PricePulse/pkg/config"
)

func demoModel() config.ModelConfig {
	return config.ModelConfig{
		Version:     "demo-v1",
		Elasticity:  -5.0,
		GridMin:     270000,
		GridMax:     279000,
		GridStep:    1000,
		DefaultCost: 271000,
	}
}

func demoPipeline() config.PipelineConfig {
	return config.PipelineConfig{HistoryWindow: 30, MinHistory: 2}
}

func historyDays(sku string, days int, ownPrice, sales float64) []models.FeatureRecord {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.FeatureRecord, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, models.FeatureRecord{
			SKU:        sku,
			Date:       start.AddDate(0, 0, i),
			OwnPrice:   ownPrice,
			SalesUnits: sales,
		})
	}
	return out
}

func TestForecasterElasticityCurve(t *testing.T) {
	f := NewElasticityForecaster(demoModel(), demoPipeline())
	hist := historyDays("SKU-IPH-13-128", 5, 275000, 10)

	curve, err := f.Forecast(context.Background(), "SKU-IPH-13-128", hist)
	require.NoError(t, err)
	assert.Equal(t, "demo-v1", curve.ModelVer)
	assert.Equal(t, 10.0, curve.QuantityAt(275000))
	assert.Equal(t, 9.0, curve.QuantityAt(279000))
	assert.Equal(t, 11.0, curve.QuantityAt(271000))
}

func TestForecasterNaiveFallback(t *testing.T) {
	f := NewElasticityForecaster(demoModel(), demoPipeline())
	hist := historyDays("SKU-IPH-13-128", 1, 275000, 7)

	curve, err := f.Forecast(context.Background(), "SKU-IPH-13-128", hist)
	require.NoError(t, err)
	assert.Equal(t, "demo-v1-naive", curve.ModelVer)
	// price-independent
	assert.Equal(t, 7.0, curve.QuantityAt(100))
	assert.Equal(t, 7.0, curve.QuantityAt(999999))
}

func TestForecasterNeverNegative(t *testing.T) {
	f := NewElasticityForecaster(demoModel(), demoPipeline())
	hist := historyDays("SKU-IPH-13-128", 5, 275000, 10)

	curve, err := f.Forecast(context.Background(), "SKU-IPH-13-128", hist)
	require.NoError(t, err)
	for p := 100000.0; p <= 900000; p += 10000 {
		assert.GreaterOrEqual(t, curve.QuantityAt(p), 0.0, "price %v", p)
	}
}

func TestForecasterModelErrors(t *testing.T) {
	f := NewElasticityForecaster(demoModel(), demoPipeline())
	ctx := context.Background()

	_, err := f.Forecast(ctx, "SKU-IPH-13-128", nil)
	var me *models.ModelError
	require.ErrorAs(t, err, &me)

	hist := historyDays("SKU-IPH-13-128", 3, 275000, 10)
	hist[2].Date = hist[0].Date // duplicate day
	_, err = f.Forecast(ctx, "SKU-IPH-13-128", hist)
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "SKU-IPH-13-128", me.SKU)
}
