package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	"PricePulse/internal/domain/service"
	"PricePulse/internal/handler/api"
	internalrepo "PricePulse/internal/repository"
	"PricePulse/internal/services/analytics"
	"PricePulse/internal/services/features"
	"PricePulse/internal/usecase"
	"PricePulse/pkg/cache"
	pkgch "PricePulse/pkg/clickhouse"
	"PricePulse/pkg/config"
	xhttp "PricePulse/pkg/http"
	pkgkafka "PricePulse/pkg/kafka"
	"PricePulse/pkg/logger"
	"PricePulse/pkg/metrics"
	"PricePulse/pkg/queue"
	"PricePulse/pkg/scheduler"
	"PricePulse/pkg/server"
	pkgsqlite "PricePulse/pkg/sqlite"
	"PricePulse/pkg/util"

	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the application logger. Development gets console
// output at debug, everything else structured JSON at info.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := &logger.Config{Level: "info", Format: "json", Output: "stdout"}
	if cfg.Environment == "development" {
		lc.Level = "debug"
		lc.Format = "console"
	}
	l, err := logger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideClickHouseClient creates the snapshot warehouse client and ensures
// the raw observation table exists.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := cfg.ClickHouse.Database
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + db,
		"CREATE TABLE IF NOT EXISTS " + db + ".raw_observations (" +
			"sku String, ts DateTime, merchant String, price Float64, own_price Float64, " +
			"sales_units Float64, stock Float64, available UInt8" +
			") ENGINE=MergeTree ORDER BY (sku, ts)",
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideSQLiteClient opens the serving store and applies its schema.
func ProvideSQLiteClient(cfg *config.Config) (*pkgsqlite.Client, error) {
	client, err := pkgsqlite.NewClient(
		pkgsqlite.WithPath(cfg.SQLite.Path),
		pkgsqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates the digest producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the snapshot ingest consumer.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideCache creates the recommendation cache: layered memory+Redis when
// Redis is enabled, otherwise in-process memory only.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}

	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr %q: %w", cfg.Redis.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port %q: %w", portStr, err)
	}

	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc), nil
}

// redisClientOf extracts the underlying Redis connection, nil when the cache
// is memory-only.
func redisClientOf(c cache.Service) *redis.Client {
	switch v := c.(type) {
	case *cache.RedisCache:
		return v.Client()
	case *cache.LayeredCache:
		return v.Redis().Client()
	}
	return nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideSnapshotStore creates the ClickHouse snapshot store.
func ProvideSnapshotStore(ch *pkgch.Client, cfg *config.Config, l *logger.Logger) domrepo.SnapshotStore {
	s := internalrepo.NewCHSnapshotStore(ch, cfg.ClickHouse.Database+".raw_observations")
	s.SetLogger(l)
	return s
}

// ProvideRecordStore creates the SQLite serving store.
func ProvideRecordStore(sq *pkgsqlite.Client, l *logger.Logger) domrepo.RecordStore {
	s := internalrepo.NewSQLiteRecordStore(sq)
	s.SetLogger(l)
	return s
}

// ProvideDigestPublisher creates the Kafka digest publisher.
func ProvideDigestPublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.DigestPublisher {
	return internalrepo.NewKafkaDigestPublisher(producer, cfg.Kafka.DigestTopic)
}

// ProvideFeatureBuilder creates the daily feature builder.
func ProvideFeatureBuilder() service.FeatureBuilder {
	return features.NewBuilder()
}

// ProvideForecaster creates the demand forecaster.
func ProvideForecaster(cfg *config.Config) service.DemandForecaster {
	return analytics.NewElasticityForecaster(cfg.Model, cfg.Pipeline)
}

// ProvideOptimizer creates the price optimizer.
func ProvideOptimizer(cfg *config.Config) service.PriceOptimizer {
	return analytics.NewGridOptimizer(cfg.Model)
}

// ProvideDetector creates the anomaly detector.
func ProvideDetector(cfg *config.Config) service.AnomalyDetector {
	return analytics.NewThresholdDetector(cfg.Anomaly, cfg.Pipeline)
}

// ProvidePipeline creates the nightly pipeline orchestrator.
func ProvidePipeline(
	snapshots domrepo.SnapshotStore,
	store domrepo.RecordStore,
	builder service.FeatureBuilder,
	forecaster service.DemandForecaster,
	optimizer service.PriceOptimizer,
	detector service.AnomalyDetector,
	publisher domrepo.DigestPublisher,
	m domrepo.Metrics,
	cfg *config.Config,
	l *logger.Logger,
) *usecase.Pipeline {
	return usecase.NewPipeline(snapshots, store, builder, forecaster, optimizer, detector, publisher, m, cfg.Pipeline, cfg.Model, l)
}

// ProvideRunQueue creates the run trigger. With Redis it enqueues on the
// shared list so one worker serializes runs; without it, runs execute
// in-process.
func ProvideRunQueue(cfg *config.Config, c cache.Service, pipeline *usecase.Pipeline, l *logger.Logger) domrepo.RunQueue {
	client := redisClientOf(c)
	if !cfg.Redis.Enabled || client == nil {
		return usecase.NewInlineRunTrigger(pipeline, c, l)
	}
	pub := queue.NewRedisPublisher(l, client, queue.WithKeyPrefix(cfg.Redis.RunQueue))
	return usecase.NewQueueRunTrigger(pub)
}

// ProvideQueueConsumer creates the run queue worker. A single worker keeps
// concurrent run triggers from interleaving. Returns nil when Redis is off.
func ProvideQueueConsumer(cfg *config.Config, c cache.Service, pipeline *usecase.Pipeline, l *logger.Logger) *queue.RedisQueue {
	client := redisClientOf(c)
	if !cfg.Redis.Enabled || client == nil {
		return nil
	}
	qc := &queue.QueueConfig{
		Workers:    1,
		RetryLimit: cfg.Pipeline.RetryMax,
		RetryDelay: cfg.Pipeline.BackoffMin,
	}
	jobs := []queue.Job{usecase.NewRunJob(pipeline, c, l)}
	return queue.NewRedisConsumer(l, qc, client, jobs, queue.WithKeyPrefix(cfg.Redis.RunQueue))
}

// ProvideSnapshotHandler registers the handler for the snapshot topic.
func ProvideSnapshotHandler(store domrepo.SnapshotStore, m domrepo.Metrics, cfg *config.Config) *usecase.SnapshotHandler {
	return usecase.NewSnapshotHandler(cfg.Kafka.SnapshotTopic, store, m)
}

// ProvideRecoUseCase creates the read-side use case.
func ProvideRecoUseCase(store domrepo.RecordStore, rq domrepo.RunQueue, c cache.Service, cfg *config.Config, l *logger.Logger) *usecase.RecoUseCase {
	return usecase.NewRecoUseCase(store, rq, c, cfg.Redis.CacheTTL, l)
}

// ProvideHTTPHandler creates the API surface.
func ProvideHTTPHandler(l *logger.Logger, recos *usecase.RecoUseCase) xhttp.Handler {
	return api.NewPricingEchoHandler(l, recos)
}

// ProvideScheduler creates the cron scheduler with the nightly job
// registered. Returns nil when scheduling is disabled.
func ProvideScheduler(cfg *config.Config, rq domrepo.RunQueue, l *logger.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	s := scheduler.New(l)
	if err := s.AddJob(cfg.Scheduler.Spec, usecase.NewNightlyRunJob(rq)); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return s, nil
}

// ProvideApp assembles the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	chClient *pkgch.Client,
	sqClient *pkgsqlite.Client,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	sh *usecase.SnapshotHandler,
	qc *queue.RedisQueue,
	sched *scheduler.Scheduler,
	handler xhttp.Handler,
	c cache.Service,
	m domrepo.Metrics,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(usecase.NewIngestMetricsHook(m))
	}
	if cfg.Kafka.ErrorTopic != "" {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.ErrorTopic,
			Publisher:      producer,
		})
	}
	return server.New(cfg, l, chClient, sqClient, producer, consumer, sh, qc, sched, handler, c)
}

// RunOnce executes a single pipeline run directly, for one-shot CLI mode.
func RunOnce(cfg *config.Config, dateStr string, skus []string) (err error) {
	l, err := ProvideLogger(cfg)
	if err != nil {
		return err
	}

	chClient, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := chClient.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	sqClient, err := ProvideSQLiteClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sqClient.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	producer, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return err
	}
	publisher := ProvideDigestPublisher(producer, cfg)
	defer func() {
		if cerr := publisher.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	pipeline := ProvidePipeline(
		ProvideSnapshotStore(chClient, cfg, l),
		ProvideRecordStore(sqClient, l),
		ProvideFeatureBuilder(),
		ProvideForecaster(cfg),
		ProvideOptimizer(cfg),
		ProvideDetector(cfg),
		publisher,
		ProvideMetrics(),
		cfg,
		l,
	)

	req := &models.RunRequest{SKUs: skus}
	if dateStr != "" {
		if req.Date, err = util.ParseDate(dateStr); err != nil {
			return fmt.Errorf("run date: %w", err)
		}
	}

	summary, err := pipeline.Run(context.Background(), req)
	if err != nil {
		return err
	}
	l.Info("run finished",
		logger.String("date", util.FormatDate(summary.Date)),
		logger.String("status", string(summary.Status)),
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("failed", summary.Failed),
	)
	return nil
}
