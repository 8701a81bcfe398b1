package analytics

import (
	"context"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/domain/service"
	"PricePulse/internal/services/features"
	"PricePulse/pkg/config"
)

// ElasticityForecaster estimates next-period demand with a linear elasticity
// model around the trailing own price. With fewer than MinHistory records it
// falls back to a naive price-independent forecast (last known sales) and
// tags the result with the fallback model version.
type ElasticityForecaster struct {
	model      config.ModelConfig
	window     int
	minHistory int
}

var _ service.DemandForecaster = (*ElasticityForecaster)(nil)

func NewElasticityForecaster(model config.ModelConfig, pipeline config.PipelineConfig) *ElasticityForecaster {
	return &ElasticityForecaster{
		model:      model,
		window:     pipeline.HistoryWindow,
		minHistory: pipeline.MinHistory,
	}
}

// Forecast returns the demand curve for the most recent record in history.
// History must be ordered by date ascending; violations fail with ModelError.
func (f *ElasticityForecaster) Forecast(_ context.Context, sku string, history []models.FeatureRecord) (*models.DemandCurve, error) {
	if len(history) == 0 {
		return nil, &models.ModelError{SKU: sku, Reason: "empty history"}
	}
	for i := 1; i < len(history); i++ {
		if !history[i].Date.After(history[i-1].Date) {
			return nil, &models.ModelError{SKU: sku, Reason: "history dates not strictly ascending"}
		}
	}

	latest := history[len(history)-1]
	if len(history) < f.minHistory {
		return &models.DemandCurve{
			BaseQty:    latest.SalesUnits,
			BasePrice:  latest.OwnPrice,
			Elasticity: 0,
			ModelVer:   f.model.FallbackVersion(),
		}, nil
	}

	return &models.DemandCurve{
		BaseQty:    features.TrailingSales(history, f.window),
		BasePrice:  features.TrailingOwnPrice(history, f.window),
		Elasticity: f.model.Elasticity,
		ModelVer:   f.model.Version,
	}, nil
}
