package service

import (
	"context"
	"time"

	"PricePulse/internal/domain/models"
)

// FeatureBuilder aggregates one day's raw observations for one SKU into a
// daily feature row.
type FeatureBuilder interface {
	Build(ctx context.Context, sku string, date time.Time, obs []models.RawObservation) (*models.FeatureRecord, error)
}

// DemandForecaster estimates a demand curve for the next period from a
// trailing feature history, ordered by date ascending.
type DemandForecaster interface {
	Forecast(ctx context.Context, sku string, history []models.FeatureRecord) (*models.DemandCurve, error)
}

// PriceOptimizer picks the profit-maximizing price for a SKU given its
// latest features and demand curve.
type PriceOptimizer interface {
	Optimize(ctx context.Context, feature *models.FeatureRecord, curve *models.DemandCurve) (*models.PriceRecommendation, error)
}

// AnomalyDetector flags abnormal market conditions for one SKU by comparing
// the current feature row against its trailing history.
type AnomalyDetector interface {
	Detect(ctx context.Context, current *models.FeatureRecord, history []models.FeatureRecord) ([]models.Alert, error)
}
