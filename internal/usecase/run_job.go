package usecase

import (
	"context"
	"fmt"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	"PricePulse/pkg/cache"
	"PricePulse/pkg/logger"
	"PricePulse/pkg/queue"
	"PricePulse/pkg/util"
)

const runMessageType = "pipeline.run"

// runPayload is the queue wire form of a run request.
type runPayload struct {
	Date string   `json:"date,omitempty"`
	SKUs []string `json:"skus,omitempty"`
}

// QueueRunTrigger enqueues run requests on the Redis queue.
type QueueRunTrigger struct {
	publisher queue.QueueService
}

var _ domrepo.RunQueue = (*QueueRunTrigger)(nil)

func NewQueueRunTrigger(publisher queue.QueueService) *QueueRunTrigger {
	return &QueueRunTrigger{publisher: publisher}
}

func (t *QueueRunTrigger) EnqueueRun(ctx context.Context, req *models.RunRequest) error {
	p := runPayload{SKUs: req.SKUs}
	if !req.Date.IsZero() {
		p.Date = util.FormatDate(req.Date)
	}
	return t.publisher.PublishMessage(ctx, runMessageType, p)
}

// InlineRunTrigger executes runs in-process when no Redis queue is
// configured. Triggers return immediately; the run proceeds in the
// background under its own timeout.
type InlineRunTrigger struct {
	pipeline *Pipeline
	cache    cache.Service
	log      *logger.Logger
}

var _ domrepo.RunQueue = (*InlineRunTrigger)(nil)

func NewInlineRunTrigger(pipeline *Pipeline, c cache.Service, log *logger.Logger) *InlineRunTrigger {
	return &InlineRunTrigger{pipeline: pipeline, cache: c, log: log}
}

func (t *InlineRunTrigger) EnqueueRun(_ context.Context, req *models.RunRequest) error {
	go func() {
		job := &RunJob{pipeline: t.pipeline, cache: t.cache, log: t.log}
		if err := job.run(context.Background(), req); err != nil {
			t.log.Error("inline pipeline run failed", logger.Error(err))
		}
	}()
	return nil
}

// NightlyRunJob is the cron entry point: it enqueues a run for today, which
// the queue worker then executes like any manually triggered run.
type NightlyRunJob struct {
	trigger domrepo.RunQueue
}

func NewNightlyRunJob(trigger domrepo.RunQueue) *NightlyRunJob {
	return &NightlyRunJob{trigger: trigger}
}

func (j *NightlyRunJob) Name() string { return "nightly_pipeline_run" }

func (j *NightlyRunJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return j.trigger.EnqueueRun(ctx, &models.RunRequest{})
}

// RunJob executes queued run requests. The queue consumer runs a single
// worker, which serializes runs and keeps same-date runs from interleaving.
type RunJob struct {
	pipeline *Pipeline
	cache    cache.Service
	log      *logger.Logger
}

var _ queue.Job = (*RunJob)(nil)

func NewRunJob(pipeline *Pipeline, c cache.Service, log *logger.Logger) *RunJob {
	return &RunJob{pipeline: pipeline, cache: c, log: log}
}

func (j *RunJob) Name() string { return "pipeline_run" }
func (j *RunJob) Type() string { return runMessageType }

func (j *RunJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[runPayload](payload)
	if err != nil {
		return fmt.Errorf("parse run payload: %w", err)
	}

	req := &models.RunRequest{SKUs: p.SKUs}
	if p.Date != "" {
		if req.Date, err = util.ParseDate(p.Date); err != nil {
			return fmt.Errorf("parse run date: %w", err)
		}
	}
	return j.run(ctx, req)
}

func (j *RunJob) run(ctx context.Context, req *models.RunRequest) error {
	summary, err := j.pipeline.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	// drop stale cached recommendations now that rows changed
	if j.cache != nil && summary.Succeeded > 0 {
		if err := j.cache.DeleteByPattern(ctx, cache.BuildPattern("reco:")); err != nil {
			j.log.Warn("reco cache invalidation failed", logger.Error(err))
		}
	}
	return nil
}
