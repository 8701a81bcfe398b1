package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	"PricePulse/internal/domain/service"
	"PricePulse/pkg/config"
	"PricePulse/pkg/logger"
)

// Pipeline orchestrates one analytics run: features, forecast, optimization,
// anomaly detection, and persistence per SKU, with per-SKU failure isolation
// and bounded retries for transient store errors. Re-running a date upserts
// the same rows, so invocations are idempotent.
type Pipeline struct {
	snapshots  domrepo.SnapshotStore
	store      domrepo.RecordStore
	builder    service.FeatureBuilder
	forecaster service.DemandForecaster
	optimizer  service.PriceOptimizer
	detector   service.AnomalyDetector
	publisher  domrepo.DigestPublisher
	metrics    domrepo.Metrics
	cfg        config.PipelineConfig
	modelVer   string
	log        *logger.Logger
	now        func() time.Time
}

func NewPipeline(
	snapshots domrepo.SnapshotStore,
	store domrepo.RecordStore,
	builder service.FeatureBuilder,
	forecaster service.DemandForecaster,
	optimizer service.PriceOptimizer,
	detector service.AnomalyDetector,
	publisher domrepo.DigestPublisher,
	metrics domrepo.Metrics,
	cfg config.PipelineConfig,
	model config.ModelConfig,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		snapshots:  snapshots,
		store:      store,
		builder:    builder,
		forecaster: forecaster,
		optimizer:  optimizer,
		detector:   detector,
		publisher:  publisher,
		metrics:    metrics,
		cfg:        cfg,
		modelVer:   model.Version,
		log:        log,
		now:        time.Now,
	}
}

// Run executes the pipeline for a run date (zero date means today, UTC).
// Only snapshot unavailability is run-fatal; per-SKU errors are captured in
// the summary and never abort the other SKUs.
func (p *Pipeline) Run(ctx context.Context, req *models.RunRequest) (*models.RunSummary, error) {
	date := req.Date
	if date.IsZero() {
		date = p.now().UTC()
	}
	date = date.Truncate(24 * time.Hour)

	summary := &models.RunSummary{
		Date:      date,
		Status:    models.RunPending,
		StartedAt: p.now().UTC(),
	}
	if err := p.saveRun(ctx, summary); err != nil {
		summary.Status = models.RunFailed
		return summary, fmt.Errorf("store unavailable: %w", err)
	}

	start := p.now()
	snap, err := p.loadSnapshot(ctx, date, req.SKUs)
	if err != nil {
		summary.Status = models.RunFailed
		summary.FinishedAt = p.now().UTC()
		p.saveRunLogged(ctx, summary)
		p.metrics.RecordRunStatus(string(summary.Status))
		return summary, fmt.Errorf("load snapshot for %s: %w", date.Format("2006-01-02"), err)
	}

	skus := make([]string, 0, len(snap.Rows))
	for sku := range snap.Rows {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	summary.Status = models.RunRunning
	p.saveRunLogged(ctx, summary)
	p.log.Info("pipeline run started",
		logger.String("date", date.Format("2006-01-02")),
		logger.Int("skus", len(skus)),
		logger.Int("workers", p.cfg.Workers),
	)

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout)
	defer cancel()

	results := p.processAll(runCtx, date, skus, snap)
	p.finalize(summary, results)
	summary.FinishedAt = p.now().UTC()
	p.saveRunLogged(ctx, summary)

	p.metrics.RecordRunStatus(string(summary.Status))
	p.metrics.RecordLatency("pipeline_run_seconds", time.Since(start).Seconds())
	p.log.Info("pipeline run finished",
		logger.String("date", date.Format("2006-01-02")),
		logger.String("status", string(summary.Status)),
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("failed", summary.Failed),
		logger.Duration("duration_ms", time.Since(start)),
	)

	if p.publisher != nil {
		if err := p.publisher.PublishDigest(ctx, summary); err != nil {
			p.metrics.RecordError("digest_publish")
			p.log.Error("digest publish failed", logger.Error(err))
		}
	}
	return summary, nil
}

// processAll fans SKUs out over the worker pool. SKUs still queued when the
// run context expires are recorded as failed rather than processed late.
func (p *Pipeline) processAll(ctx context.Context, date time.Time, skus []string, snap *models.Snapshot) []models.SKUResult {
	jobs := make(chan string)
	out := make(chan models.SKUResult, len(skus))

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sku := range jobs {
				if ctx.Err() != nil {
					out <- models.SKUResult{
						SKU:         sku,
						FailedStage: models.StageFeatures,
						Error:       "run timeout: sku abandoned",
					}
					continue
				}
				out <- p.processSKU(ctx, date, sku, snap.Rows[sku])
			}
		}()
	}

	for _, sku := range skus {
		jobs <- sku
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]models.SKUResult, 0, len(skus))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// processSKU runs the stage sequence for one SKU. Stages execute strictly in
// order; the first failure is recorded with its stage and the rest skipped.
func (p *Pipeline) processSKU(ctx context.Context, date time.Time, sku string, obs []models.RawObservation) models.SKUResult {
	fail := func(stage models.Stage, err error) models.SKUResult {
		p.metrics.RecordError("stage_" + string(stage))
		p.metrics.RecordSKUOutcome("failed")
		p.log.Warn("sku failed",
			logger.String("sku", sku),
			logger.String("stage", string(stage)),
			logger.Error(err),
		)
		return models.SKUResult{SKU: sku, FailedStage: stage, Error: err.Error()}
	}

	feature, err := p.builder.Build(ctx, sku, date, obs)
	if err != nil {
		return fail(models.StageFeatures, err)
	}
	if err := p.withRetry(ctx, func() error { return p.store.UpsertFeature(ctx, feature) }); err != nil {
		return fail(models.StageFeatures, err)
	}

	var history []models.FeatureRecord
	err = p.withRetry(ctx, func() error {
		var herr error
		history, herr = p.store.FeatureHistory(ctx, sku, date, p.cfg.HistoryWindow)
		return herr
	})
	if err != nil {
		return fail(models.StageForecast, err)
	}

	curve, err := p.forecaster.Forecast(ctx, sku, history)
	if err != nil {
		return fail(models.StageForecast, err)
	}
	degraded := curve.ModelVer != p.modelVer

	reco, err := p.optimizer.Optimize(ctx, feature, curve)
	if err != nil {
		return fail(models.StageOptimize, err)
	}

	trailing := history[:len(history)-1] // current day is the last row
	alerts, err := p.detector.Detect(ctx, feature, trailing)
	if err != nil {
		return fail(models.StageAnomaly, err)
	}

	fc := &models.DemandForecast{
		SKU:      sku,
		Date:     date,
		Qty:      curve.QuantityAt(feature.OwnPrice),
		ModelVer: curve.ModelVer,
	}
	if err := p.withRetry(ctx, func() error { return p.store.SaveSKUResult(ctx, date, fc, reco, alerts) }); err != nil {
		return fail(models.StagePersist, err)
	}

	p.metrics.RecordSKUOutcome("succeeded")
	p.metrics.RecordRecoPrice(sku, reco.Price)
	return models.SKUResult{
		SKU:       sku,
		Succeeded: true,
		Degraded:  degraded,
		Reco:      reco,
		Alerts:    alerts,
	}
}

// finalize folds per-SKU results into the summary: counts, aggregated
// alerts, failures sorted by SKU, and the top-N recommendations sorted by
// expected profit descending with SKU as the deterministic tie-break.
func (p *Pipeline) finalize(summary *models.RunSummary, results []models.SKUResult) {
	var recos []models.PriceRecommendation
	for _, r := range results {
		if !r.Succeeded {
			summary.Failed++
			summary.Failures = append(summary.Failures, r)
			continue
		}
		summary.Succeeded++
		if r.Degraded {
			summary.Degraded++
		}
		if r.Reco != nil {
			recos = append(recos, *r.Reco)
		}
		summary.Alerts = append(summary.Alerts, r.Alerts...)
	}

	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].SKU < summary.Failures[j].SKU
	})
	sort.Slice(summary.Alerts, func(i, j int) bool {
		return summary.Alerts[i].SKU < summary.Alerts[j].SKU
	})
	sort.Slice(recos, func(i, j int) bool {
		if recos[i].ExpectedProfit != recos[j].ExpectedProfit {
			return recos[i].ExpectedProfit > recos[j].ExpectedProfit
		}
		return recos[i].SKU < recos[j].SKU
	})
	if len(recos) > p.cfg.TopN {
		recos = recos[:p.cfg.TopN]
	}
	summary.TopRecos = recos

	switch {
	case summary.Failed == 0:
		summary.Status = models.RunSucceeded
	case summary.Succeeded > 0:
		summary.Status = models.RunPartial
	default:
		summary.Status = models.RunFailed
	}
}

// withRetry retries transient store errors with jittered exponential backoff.
// Integrity violations and every other error class fail immediately.
func (p *Pipeline) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !models.IsTransient(err) || models.IsIntegrity(err) {
			return err
		}
	}
	return err
}

func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.cfg.BackoffMin << uint(attempt-1)
	if d > p.cfg.BackoffMax {
		d = p.cfg.BackoffMax
	}
	// jitter to avoid retry alignment across workers
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func (p *Pipeline) loadSnapshot(ctx context.Context, date time.Time, skus []string) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := p.withRetry(ctx, func() error {
		var serr error
		snap, serr = p.snapshots.LoadDaily(ctx, date, skus)
		return serr
	})
	return snap, err
}

func (p *Pipeline) saveRun(ctx context.Context, summary *models.RunSummary) error {
	return p.withRetry(ctx, func() error { return p.store.SaveRun(ctx, summary) })
}

func (p *Pipeline) saveRunLogged(ctx context.Context, summary *models.RunSummary) {
	if err := p.saveRun(ctx, summary); err != nil {
		p.metrics.RecordError("save_run")
		p.log.Error("save run state failed",
			logger.String("date", summary.Date.Format("2006-01-02")),
			logger.String("status", string(summary.Status)),
			logger.Error(err),
		)
	}
}
