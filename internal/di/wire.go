//go:build wireinject
// +build wireinject

package di

import (
	"PricePulse/pkg/config"
	"PricePulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideSQLiteClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,

		// Stores and publishers
		ProvideSnapshotStore,
		ProvideRecordStore,
		ProvideDigestPublisher,

		// Pipeline stages
		ProvideFeatureBuilder,
		ProvideForecaster,
		ProvideOptimizer,
		ProvideDetector,

		// Use cases
		ProvidePipeline,
		ProvideRunQueue,
		ProvideQueueConsumer,
		ProvideSnapshotHandler,
		ProvideRecoUseCase,
		ProvideScheduler,

		// API surface
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
