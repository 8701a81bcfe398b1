package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	"PricePulse/pkg/cache"
	"PricePulse/pkg/logger"
)

// RecoUseCase serves read paths for the API: recommendations (cached),
// alerts, and run summaries, plus run-trigger enqueueing.
type RecoUseCase struct {
	store    domrepo.RecordStore
	queue    domrepo.RunQueue
	cache    cache.Service
	cacheTTL time.Duration
	log      *logger.Logger
}

func NewRecoUseCase(store domrepo.RecordStore, queue domrepo.RunQueue, c cache.Service, ttl time.Duration, log *logger.Logger) *RecoUseCase {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RecoUseCase{store: store, queue: queue, cache: c, cacheTTL: ttl, log: log}
}

func recoCacheKey(sku string) string {
	return cache.GenerateKey("reco", sku)
}

// GetReco returns the latest recommendation for a SKU, or nil when the SKU
// has not been processed yet.
func (uc *RecoUseCase) GetReco(ctx context.Context, sku string) (*models.PriceRecommendation, error) {
	if sku == "" {
		return nil, fmt.Errorf("sku required")
	}

	if uc.cache != nil {
		var cached models.PriceRecommendation
		err := uc.cache.Get(ctx, recoCacheKey(sku), &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			uc.log.Warn("reco cache read failed", logger.String("sku", sku), logger.Error(err))
		}
	}

	reco, err := uc.store.LatestReco(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("latest reco: %w", err)
	}
	if reco == nil {
		return nil, nil
	}

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, recoCacheKey(sku), reco, uc.cacheTTL); err != nil {
			uc.log.Warn("reco cache write failed", logger.String("sku", sku), logger.Error(err))
		}
	}
	return reco, nil
}

func (uc *RecoUseCase) GetAlerts(ctx context.Context, sku string, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	alerts, err := uc.store.Alerts(ctx, sku, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// GetRun returns the stored summary for a run date, or nil for no such run.
func (uc *RecoUseCase) GetRun(ctx context.Context, date time.Time) (*models.RunSummary, error) {
	summary, err := uc.store.Run(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return summary, nil
}

// TriggerRun enqueues a run request. Execution is serialized by the queue
// worker, so two triggers for the same date never interleave writes.
func (uc *RecoUseCase) TriggerRun(ctx context.Context, req *models.RunRequest) error {
	if err := uc.queue.EnqueueRun(ctx, req); err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}
	uc.log.Info("run enqueued",
		logger.String("date", req.Date.Format("2006-01-02")),
		logger.Int("skus", len(req.SKUs)),
	)
	return nil
}
