package repository

import (
	"context"
	"time"

	"PricePulse/internal/domain/models"
)

// SnapshotStore is the archive of raw scraped observations (ClickHouse).
// The ingest path appends; the pipeline reads one day at a time.
type SnapshotStore interface {
	Store(ctx context.Context, o *models.RawObservation) error
	StoreBatch(ctx context.Context, os []*models.RawObservation) error
	// LoadDaily aggregates the archive into one day's snapshot. An empty skus
	// slice means every SKU observed on that date.
	LoadDaily(ctx context.Context, date time.Time, skus []string) (*models.Snapshot, error)
	Health(ctx context.Context) error
	Close() error
}

// RecordStore is the relational serving store for pipeline outputs (SQLite).
// Forecast, recommendation, and alert writes for one SKU within one run go
// through SaveSKUResult, which commits or rolls back as a unit.
type RecordStore interface {
	UpsertFeature(ctx context.Context, f *models.FeatureRecord) error
	FeatureHistory(ctx context.Context, sku string, until time.Time, window int) ([]models.FeatureRecord, error)

	SaveSKUResult(ctx context.Context, date time.Time, fc *models.DemandForecast, reco *models.PriceRecommendation, alerts []models.Alert) error

	LatestReco(ctx context.Context, sku string) (*models.PriceRecommendation, error)
	Forecast(ctx context.Context, sku string, date time.Time) (*models.DemandForecast, error)
	Alerts(ctx context.Context, sku string, limit int) ([]models.Alert, error)

	SaveRun(ctx context.Context, summary *models.RunSummary) error
	Run(ctx context.Context, date time.Time) (*models.RunSummary, error)

	Health(ctx context.Context) error
	Close() error
}

// DigestPublisher hands the run digest to the external delivery channel.
type DigestPublisher interface {
	PublishDigest(ctx context.Context, summary *models.RunSummary) error
	Close() error
}

// RunQueue accepts run requests for serialized execution.
type RunQueue interface {
	EnqueueRun(ctx context.Context, req *models.RunRequest) error
}

// Metrics records pipeline and ingest measurements.
type Metrics interface {
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordSKUOutcome(outcome string)
	RecordRunStatus(status string)
	RecordRecoPrice(sku string, price float64)
	RecordObservationStored(sku string)
}
