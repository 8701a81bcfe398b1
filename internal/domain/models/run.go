package models

import "time"

// RunStatus is the pipeline run state machine.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunPartial   RunStatus = "PARTIAL"
	RunFailed    RunStatus = "FAILED"
)

// Stage names the steps of a single SKU's pipeline sequence, in order.
type Stage string

const (
	StageFeatures Stage = "features"
	StageForecast Stage = "forecast"
	StageOptimize Stage = "optimize"
	StageAnomaly  Stage = "anomaly"
	StagePersist  Stage = "persist"
)

// SKUResult records the outcome of one SKU's stage sequence within a run.
type SKUResult struct {
	SKU         string               `json:"sku"`
	Succeeded   bool                 `json:"succeeded"`
	FailedStage Stage                `json:"failed_stage,omitempty"`
	Error       string               `json:"error,omitempty"`
	Degraded    bool                 `json:"degraded,omitempty"` // fallback forecast used
	Reco        *PriceRecommendation `json:"-"`
	Alerts      []Alert              `json:"-"`
}

// RunSummary is the terminal report of a pipeline run, consumed by the
// notifier and the API. TopRecos is sorted by expected profit descending,
// ties broken by SKU ascending.
type RunSummary struct {
	Date       time.Time             `json:"date"`
	Status     RunStatus             `json:"status"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Succeeded  int                   `json:"succeeded"`
	Failed     int                   `json:"failed"`
	Degraded   int                   `json:"degraded"`
	TopRecos   []PriceRecommendation `json:"top_recos"`
	Alerts     []Alert               `json:"alerts"`
	Failures   []SKUResult           `json:"failures,omitempty"`
}

// RunRequest is the run invocation payload: a run date (zero = today) and an
// optional SKU subset for manual or demo invocations.
type RunRequest struct {
	Date time.Time `json:"date"`
	SKUs []string  `json:"skus,omitempty"`
}
