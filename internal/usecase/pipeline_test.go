package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/services/analytics"
	"PricePulse/internal/services/features"
	"PricePulse/pkg/config"
	"PricePulse/pkg/logger"
)

// --- fakes -----------------------------------------------------------------

type fakeSnapshots struct {
	snap      *models.Snapshot
	failLoads int
	mu        sync.Mutex
}

func (f *fakeSnapshots) Store(context.Context, *models.RawObservation) error        { return nil }
func (f *fakeSnapshots) StoreBatch(context.Context, []*models.RawObservation) error { return nil }
func (f *fakeSnapshots) Health(context.Context) error                               { return nil }
func (f *fakeSnapshots) Close() error                                               { return nil }

func (f *fakeSnapshots) LoadDaily(_ context.Context, date time.Time, skus []string) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoads > 0 {
		f.failLoads--
		return nil, &models.TransientIOError{Op: "load daily snapshot", Err: errors.New("clickhouse down")}
	}
	if len(skus) == 0 {
		return f.snap, nil
	}
	filtered := &models.Snapshot{Date: date, Rows: map[string][]models.RawObservation{}}
	for _, sku := range skus {
		if rows, ok := f.snap.Rows[sku]; ok {
			filtered.Rows[sku] = rows
		}
	}
	return filtered, nil
}

type skuRecord struct {
	forecast models.DemandForecast
	reco     models.PriceRecommendation
}

type fakeStore struct {
	mu           sync.Mutex
	features     map[string][]models.FeatureRecord // sku -> records asc
	results      map[string]skuRecord              // sku|date
	alerts       []models.Alert
	runs         map[string]models.RunSummary
	failUpserts  int
	failPersists int
	persistCalls int
	historyDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		features: map[string][]models.FeatureRecord{},
		results:  map[string]skuRecord{},
		runs:     map[string]models.RunSummary{},
	}
}

func key(sku string, date time.Time) string { return sku + "|" + date.Format("2006-01-02") }

func (s *fakeStore) UpsertFeature(_ context.Context, f *models.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpserts > 0 {
		s.failUpserts--
		return &models.TransientIOError{Op: "upsert feature", Err: errors.New("locked")}
	}
	recs := s.features[f.SKU]
	for i, r := range recs {
		if r.Date.Equal(f.Date) {
			recs[i] = *f
			return nil
		}
	}
	s.features[f.SKU] = append(recs, *f)
	return nil
}

func (s *fakeStore) FeatureHistory(_ context.Context, sku string, until time.Time, window int) ([]models.FeatureRecord, error) {
	if s.historyDelay > 0 {
		time.Sleep(s.historyDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FeatureRecord
	for _, r := range s.features[sku] {
		if !r.Date.After(until) {
			out = append(out, r)
		}
	}
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out, nil
}

func (s *fakeStore) SaveSKUResult(_ context.Context, date time.Time, fc *models.DemandForecast, reco *models.PriceRecommendation, alerts []models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistCalls++
	if s.failPersists > 0 {
		s.failPersists--
		return &models.TransientIOError{Op: "persist", Err: errors.New("busy")}
	}
	s.results[key(fc.SKU, date)] = skuRecord{forecast: *fc, reco: *reco}
	s.alerts = append(s.alerts, alerts...)
	return nil
}

func (s *fakeStore) LatestReco(_ context.Context, sku string) (*models.PriceRecommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.PriceRecommendation
	for _, rec := range s.results {
		if rec.reco.SKU != sku {
			continue
		}
		r := rec.reco
		if latest == nil || r.Date.After(latest.Date) {
			latest = &r
		}
	}
	return latest, nil
}

func (s *fakeStore) Forecast(_ context.Context, sku string, date time.Time) (*models.DemandForecast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.results[key(sku, date)]; ok {
		f := rec.forecast
		return &f, nil
	}
	return nil, nil
}

func (s *fakeStore) Alerts(_ context.Context, sku string, limit int) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, a := range s.alerts {
		if sku == "" || a.SKU == sku {
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) SaveRun(_ context.Context, summary *models.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[summary.Date.Format("2006-01-02")] = *summary
	return nil
}

func (s *fakeStore) Run(_ context.Context, date time.Time) (*models.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[date.Format("2006-01-02")]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *fakeStore) Health(context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

type fakeMetrics struct{}

func (fakeMetrics) RecordError(string)              {}
func (fakeMetrics) RecordLatency(string, float64)   {}
func (fakeMetrics) RecordSKUOutcome(string)         {}
func (fakeMetrics) RecordRunStatus(string)          {}
func (fakeMetrics) RecordRecoPrice(string, float64) {}
func (fakeMetrics) RecordObservationStored(string)  {}

type fakePublisher struct {
	mu        sync.Mutex
	published []*models.RunSummary
}

func (p *fakePublisher) PublishDigest(_ context.Context, s *models.RunSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, s)
	return nil
}
func (p *fakePublisher) Close() error { return nil }

// --- helpers ---------------------------------------------------------------

var runDate = time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Workers:       4,
		RunTimeout:    30 * time.Second,
		HistoryWindow: 30,
		MinHistory:    2,
		TopN:          5,
		RetryMax:      2,
		BackoffMin:    time.Millisecond,
		BackoffMax:    5 * time.Millisecond,
	}
}

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

func snapshotRow(sku string, ownPrice float64) []models.RawObservation {
	return []models.RawObservation{
		{SKU: sku, Timestamp: runDate.Add(10 * time.Hour), Merchant: "techno-store", Price: 270000, OwnPrice: ownPrice, SalesUnits: 10, Stock: 50, Available: true},
		{SKU: sku, Timestamp: runDate.Add(11 * time.Hour), Merchant: "mega-electro", Price: 290000, OwnPrice: ownPrice, SalesUnits: 10, Stock: 50, Available: true},
	}
}

func seedHistory(store *fakeStore, sku string, days int, ownPrice, sales float64) {
	for i := days; i >= 1; i-- {
		store.features[sku] = append(store.features[sku], models.FeatureRecord{
			SKU:        sku,
			Date:       runDate.AddDate(0, 0, -i),
			OwnPrice:   ownPrice,
			SalesUnits: sales,
			StockOnHand: 50,
		})
	}
}

func newTestPipeline(t *testing.T, snaps *fakeSnapshots, store *fakeStore, pub *fakePublisher) *Pipeline {
	t.Helper()
	model := demoModel()
	pcfg := testPipelineConfig()
	return NewPipeline(
		snaps,
		store,
		features.NewBuilder(),
		analytics.NewElasticityForecaster(model, pcfg),
		analytics.NewGridOptimizer(model),
		analytics.NewThresholdDetector(config.AnomalyConfig{
			PriceCrashThreshold: 0.15,
			StockSigmaMultiple:  3.0,
			StockAbsThreshold:   25,
			UndercutMargin:      0.05,
		}, pcfg),
		pub,
		fakeMetrics{},
		pcfg,
		model,
		testLogger(t),
	)
}

// --- tests -----------------------------------------------------------------

func TestPipelineEndToEnd(t *testing.T) {
	store := newFakeStore()
	seedHistory(store, "SKU-IPH-13-128", 5, 275000, 10)
	snaps := &fakeSnapshots{snap: &models.Snapshot{
		Date: runDate,
		Rows: map[string][]models.RawObservation{"SKU-IPH-13-128": snapshotRow("SKU-IPH-13-128", 275000)},
	}}
	pub := &fakePublisher{}
	p := newTestPipeline(t, snaps, store, pub)

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, summary.Status)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)

	require.Len(t, summary.TopRecos, 1)
	reco := summary.TopRecos[0]
	assert.Equal(t, 279000.0, reco.Price)
	assert.Equal(t, 9.0, reco.ExpectedQty)
	assert.Equal(t, 32000.0, reco.ExpectedProfit)
	assert.Equal(t, "demo-v1", reco.ModelVer)

	rec, ok := store.results[key("SKU-IPH-13-128", runDate)]
	require.True(t, ok)
	assert.Equal(t, 10.0, rec.forecast.Qty)
	assert.Equal(t, "demo-v1", rec.forecast.ModelVer)

	require.Len(t, pub.published, 1)
	assert.Equal(t, models.RunSucceeded, pub.published[0].Status)
}

func TestPipelineIdempotentRerun(t *testing.T) {
	store := newFakeStore()
	seedHistory(store, "SKU-IPH-13-128", 5, 275000, 10)
	snaps := &fakeSnapshots{snap: &models.Snapshot{
		Date: runDate,
		Rows: map[string][]models.RawObservation{"SKU-IPH-13-128": snapshotRow("SKU-IPH-13-128", 275000)},
	}}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})

	_, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	first := store.results[key("SKU-IPH-13-128", runDate)]
	firstFeatures := len(store.features["SKU-IPH-13-128"])

	_, err = p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	second := store.results[key("SKU-IPH-13-128", runDate)]

	assert.Equal(t, first, second)
	assert.Len(t, store.results, 1)
	assert.Equal(t, firstFeatures, len(store.features["SKU-IPH-13-128"]))
}

func TestPipelinePartialFailureIsolation(t *testing.T) {
	store := newFakeStore()
	rows := map[string][]models.RawObservation{}
	for i := 1; i <= 5; i++ {
		sku := fmt.Sprintf("SKU-%03d", i)
		seedHistory(store, sku, 5, 275000, 10)
		rows[sku] = snapshotRow(sku, 275000)
	}
	// poison one SKU: missing own price is a data quality failure
	bad := rows["SKU-003"]
	for i := range bad {
		bad[i].OwnPrice = 0
	}
	snaps := &fakeSnapshots{snap: &models.Snapshot{Date: runDate, Rows: rows}}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	assert.Equal(t, models.RunPartial, summary.Status)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "SKU-003", summary.Failures[0].SKU)
	assert.Equal(t, models.StageFeatures, summary.Failures[0].FailedStage)

	for i := 1; i <= 5; i++ {
		sku := fmt.Sprintf("SKU-%03d", i)
		_, ok := store.results[key(sku, runDate)]
		assert.Equal(t, sku != "SKU-003", ok, sku)
	}
}

func TestPipelineRetriesTransientPersist(t *testing.T) {
	store := newFakeStore()
	store.failPersists = 2 // recovered within RetryMax attempts
	seedHistory(store, "SKU-IPH-13-128", 5, 275000, 10)
	snaps := &fakeSnapshots{snap: &models.Snapshot{
		Date: runDate,
		Rows: map[string][]models.RawObservation{"SKU-IPH-13-128": snapshotRow("SKU-IPH-13-128", 275000)},
	}}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, summary.Status)
	assert.Equal(t, 3, store.persistCalls)
}

func TestPipelineExhaustedRetriesFailSKU(t *testing.T) {
	store := newFakeStore()
	store.failPersists = 10 // beyond RetryMax
	seedHistory(store, "SKU-IPH-13-128", 5, 275000, 10)
	snaps := &fakeSnapshots{snap: &models.Snapshot{
		Date: runDate,
		Rows: map[string][]models.RawObservation{"SKU-IPH-13-128": snapshotRow("SKU-IPH-13-128", 275000)},
	}}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, summary.Status)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, models.StagePersist, summary.Failures[0].FailedStage)
}

func TestPipelineSnapshotUnavailableFailsRun(t *testing.T) {
	store := newFakeStore()
	snaps := &fakeSnapshots{failLoads: 100}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, summary.Status)

	stored, gerr := store.Run(context.Background(), runDate)
	require.NoError(t, gerr)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunFailed, stored.Status)
}

func TestPipelineDegradedForecastMarked(t *testing.T) {
	store := newFakeStore()
	// one prior day only: below MinHistory, triggers the naive fallback
	seedHistory(store, "SKU-NEW-1", 0, 275000, 10)
	snaps := &fakeSnapshots{snap: &models.Snapshot{
		Date: runDate,
		Rows: map[string][]models.RawObservation{"SKU-NEW-1": snapshotRow("SKU-NEW-1", 275000)},
	}}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, summary.Status)
	assert.Equal(t, 1, summary.Degraded)

	rec := store.results[key("SKU-NEW-1", runDate)]
	assert.Equal(t, "demo-v1-naive", rec.forecast.ModelVer)
	assert.Equal(t, "demo-v1-naive", rec.reco.ModelVer)
}

func TestPipelineAnomalyAlertFlows(t *testing.T) {
	store := newFakeStore()
	seedHistory(store, "SKU-IPH-13-128", 5, 275000, 10)
	snaps := &fakeSnapshots{snap: &models.Snapshot{
		Date: runDate,
		Rows: map[string][]models.RawObservation{"SKU-IPH-13-128": snapshotRow("SKU-IPH-13-128", 200000)},
	}}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	require.Len(t, summary.Alerts, 1)
	assert.Equal(t, models.AlertAnomaly, summary.Alerts[0].Type)
	assert.Equal(t, "SKU-IPH-13-128", summary.Alerts[0].SKU)

	persisted, err := store.Alerts(context.Background(), "SKU-IPH-13-128", 10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
}

func TestPipelineTopNSortedByProfit(t *testing.T) {
	store := newFakeStore()
	rows := map[string][]models.RawObservation{}
	// vary trailing sales so expected profit differs per SKU
	for i := 1; i <= 8; i++ {
		sku := fmt.Sprintf("SKU-%03d", i)
		seedHistory(store, sku, 5, 275000, float64(4+i))
		rows[sku] = snapshotRow(sku, 275000)
	}
	snaps := &fakeSnapshots{snap: &models.Snapshot{Date: runDate, Rows: rows}}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	require.Len(t, summary.TopRecos, 5) // capped at TopN
	for i := 1; i < len(summary.TopRecos); i++ {
		prev, cur := summary.TopRecos[i-1], summary.TopRecos[i]
		if prev.ExpectedProfit == cur.ExpectedProfit {
			assert.Less(t, prev.SKU, cur.SKU)
		} else {
			assert.Greater(t, prev.ExpectedProfit, cur.ExpectedProfit)
		}
	}
}

func TestPipelineSKUSubset(t *testing.T) {
	store := newFakeStore()
	rows := map[string][]models.RawObservation{}
	for _, sku := range []string{"SKU-A", "SKU-B", "SKU-C"} {
		seedHistory(store, sku, 5, 275000, 10)
		rows[sku] = snapshotRow(sku, 275000)
	}
	snaps := &fakeSnapshots{snap: &models.Snapshot{Date: runDate, Rows: rows}}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate, SKUs: []string{"SKU-B"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	_, okA := store.results[key("SKU-A", runDate)]
	_, okB := store.results[key("SKU-B", runDate)]
	assert.False(t, okA)
	assert.True(t, okB)
}

func TestPipelineTimeoutMarksAbandoned(t *testing.T) {
	store := newFakeStore()
	store.historyDelay = 100 * time.Millisecond // first SKU outlives the run timeout
	rows := map[string][]models.RawObservation{}
	for i := 1; i <= 10; i++ {
		sku := fmt.Sprintf("SKU-%03d", i)
		seedHistory(store, sku, 5, 275000, 10)
		rows[sku] = snapshotRow(sku, 275000)
	}
	snaps := &fakeSnapshots{snap: &models.Snapshot{Date: runDate, Rows: rows}}
	p := newTestPipeline(t, snaps, store, &fakePublisher{})
	p.cfg.RunTimeout = 20 * time.Millisecond
	p.cfg.Workers = 1

	summary, err := p.Run(context.Background(), &models.RunRequest{Date: runDate})
	require.NoError(t, err)
	assert.Equal(t, models.RunPartial, summary.Status)
	assert.Equal(t, 1, summary.Succeeded) // in-flight SKU finished and committed
	assert.Equal(t, 9, summary.Failed)
	for _, f := range summary.Failures {
		assert.Contains(t, f.Error, "abandoned")
	}
}
