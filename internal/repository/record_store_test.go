package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PricePulse/internal/domain/models"
	pkgsqlite "PricePulse/pkg/sqlite"
)

func newTestStore(t *testing.T) *SQLiteRecordStore {
	t.Helper()
	client, err := pkgsqlite.NewClient(
		pkgsqlite.WithPath(filepath.Join(t.TempDir(), "records.db")),
		pkgsqlite.WithBusyTimeout(time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.InitSchema(context.Background(), Schema()))
	return NewSQLiteRecordStore(client)
}

func fptr(v float64) *float64 { return &v }

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

func TestUpsertFeatureIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := &models.FeatureRecord{
		SKU:                "SKU-IPH-13-128",
		Date:               day(28),
		CompetitorMinPrice: fptr(270000),
		CompetitorAvgPrice: fptr(280000),
		OwnPrice:           275000,
		SalesUnits:         10,
		StockOnHand:        50,
	}
	require.NoError(t, store.UpsertFeature(ctx, f))

	f.OwnPrice = 276000
	require.NoError(t, store.UpsertFeature(ctx, f))

	history, err := store.FeatureHistory(ctx, f.SKU, day(28), 30)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 276000.0, history[0].OwnPrice)
	require.NotNil(t, history[0].CompetitorMinPrice)
	assert.Equal(t, 270000.0, *history[0].CompetitorMinPrice)
}

func TestFeatureHistoryWindowAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for d := 1; d <= 10; d++ {
		require.NoError(t, store.UpsertFeature(ctx, &models.FeatureRecord{
			SKU:         "SKU-001",
			Date:        day(d),
			OwnPrice:    1000 + float64(d),
			SalesUnits:  float64(d),
			StockOnHand: 20,
		}))
	}

	history, err := store.FeatureHistory(ctx, "SKU-001", day(8), 5)
	require.NoError(t, err)
	require.Len(t, history, 5)
	// window ends at `until`, ascending
	assert.Equal(t, day(4), history[0].Date)
	assert.Equal(t, day(8), history[4].Date)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].Date.After(history[i-1].Date))
	}
}

func TestFeatureHistoryNullCompetitorFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFeature(ctx, &models.FeatureRecord{
		SKU:         "SKU-LONELY",
		Date:        day(28),
		OwnPrice:    9000,
		SalesUnits:  3,
		StockOnHand: 7,
	}))

	history, err := store.FeatureHistory(ctx, "SKU-LONELY", day(28), 30)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].CompetitorMinPrice)
	assert.Nil(t, history[0].CompetitorAvgPrice)
}

func TestSaveSKUResultRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fc := &models.DemandForecast{SKU: "SKU-IPH-13-128", Date: day(28), Qty: 10, ModelVer: "demo-v1"}
	reco := &models.PriceRecommendation{
		SKU: "SKU-IPH-13-128", Date: day(28),
		Price: 279000, ExpectedQty: 9, ExpectedProfit: 32000,
		Explain: "grid 270000..279000/1000", ModelVer: "demo-v1",
	}
	alerts := []models.Alert{{
		Type: models.AlertAnomaly, SKU: "SKU-IPH-13-128",
		Payload:   models.AlertPayload{Rule: "price_crash", Observed: 200000, Baseline: 275000, Threshold: 0.15},
		CreatedAt: time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, store.SaveSKUResult(ctx, day(28), fc, reco, alerts))

	gotReco, err := store.LatestReco(ctx, "SKU-IPH-13-128")
	require.NoError(t, err)
	require.NotNil(t, gotReco)
	assert.Equal(t, 279000.0, gotReco.Price)
	assert.Equal(t, 32000.0, gotReco.ExpectedProfit)
	assert.Equal(t, day(28), gotReco.Date)

	gotFc, err := store.Forecast(ctx, "SKU-IPH-13-128", day(28))
	require.NoError(t, err)
	require.NotNil(t, gotFc)
	assert.Equal(t, 10.0, gotFc.Qty)
	assert.Equal(t, "demo-v1", gotFc.ModelVer)

	gotAlerts, err := store.Alerts(ctx, "SKU-IPH-13-128", 10)
	require.NoError(t, err)
	require.Len(t, gotAlerts, 1)
	assert.Equal(t, "price_crash", gotAlerts[0].Payload.Rule)
	assert.Equal(t, 275000.0, gotAlerts[0].Payload.Baseline)
}

func TestSaveSKUResultRerunOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fc := &models.DemandForecast{SKU: "SKU-002", Date: day(28), Qty: 5, ModelVer: "demo-v1"}
	reco := &models.PriceRecommendation{SKU: "SKU-002", Date: day(28), Price: 1000, ExpectedQty: 5, ExpectedProfit: 100, Explain: "x", ModelVer: "demo-v1"}
	alerts := []models.Alert{{
		Type:      models.AlertAnomaly,
		SKU:       "SKU-002",
		Payload:   models.AlertPayload{Rule: "price_crash", Observed: 0.2, Baseline: 1250, Threshold: 0.15},
		CreatedAt: day(28).Add(2 * time.Hour),
	}}
	require.NoError(t, store.SaveSKUResult(ctx, day(28), fc, reco, alerts))

	reco.Price = 1100
	fc.Qty = 6
	require.NoError(t, store.SaveSKUResult(ctx, day(28), fc, reco, alerts))

	got, err := store.LatestReco(ctx, "SKU-002")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1100.0, got.Price)

	// one row per (sku, date), not two
	var n int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM price_reco WHERE sku = 'SKU-002'").Scan(&n))
	assert.Equal(t, 1, n)

	// rerun replaces the day's alerts instead of appending duplicates
	gotAlerts, err := store.Alerts(ctx, "SKU-002", 10)
	require.NoError(t, err)
	assert.Len(t, gotAlerts, 1)
}

func TestSaveSKUResultRerunKeepsOtherDatesAlerts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for d := 27; d <= 28; d++ {
		fc := &models.DemandForecast{SKU: "SKU-002", Date: day(d), Qty: 5, ModelVer: "demo-v1"}
		reco := &models.PriceRecommendation{SKU: "SKU-002", Date: day(d), Price: 1000, ExpectedQty: 5, ExpectedProfit: 100, Explain: "x", ModelVer: "demo-v1"}
		alerts := []models.Alert{{
			Type:      models.AlertAnomaly,
			SKU:       "SKU-002",
			Payload:   models.AlertPayload{Rule: "stock_jump", Observed: float64(d), Baseline: 50, Threshold: 25},
			CreatedAt: day(d).Add(2 * time.Hour),
		}}
		require.NoError(t, store.SaveSKUResult(ctx, day(d), fc, reco, alerts))
	}

	// rerun day 28 with no alerts: day 28's alert goes away, day 27's stays
	fc := &models.DemandForecast{SKU: "SKU-002", Date: day(28), Qty: 5, ModelVer: "demo-v1"}
	reco := &models.PriceRecommendation{SKU: "SKU-002", Date: day(28), Price: 1000, ExpectedQty: 5, ExpectedProfit: 100, Explain: "x", ModelVer: "demo-v1"}
	require.NoError(t, store.SaveSKUResult(ctx, day(28), fc, reco, nil))

	gotAlerts, err := store.Alerts(ctx, "SKU-002", 10)
	require.NoError(t, err)
	require.Len(t, gotAlerts, 1)
	assert.Equal(t, 27.0, gotAlerts[0].Payload.Observed)
}

func TestLatestRecoPicksNewestDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for d := 26; d <= 28; d++ {
		fc := &models.DemandForecast{SKU: "SKU-003", Date: day(d), Qty: 5, ModelVer: "demo-v1"}
		reco := &models.PriceRecommendation{SKU: "SKU-003", Date: day(d), Price: float64(d * 100), ExpectedQty: 5, ExpectedProfit: 10, Explain: "x", ModelVer: "demo-v1"}
		require.NoError(t, store.SaveSKUResult(ctx, day(d), fc, reco, nil))
	}

	got, err := store.LatestReco(ctx, "SKU-003")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, day(28), got.Date)
	assert.Equal(t, 2800.0, got.Price)
}

func TestReadMissesReturnNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reco, err := store.LatestReco(ctx, "SKU-NOPE")
	require.NoError(t, err)
	assert.Nil(t, reco)

	fc, err := store.Forecast(ctx, "SKU-NOPE", day(28))
	require.NoError(t, err)
	assert.Nil(t, fc)

	run, err := store.Run(ctx, day(28))
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestSaveRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	summary := &models.RunSummary{
		Date:       day(28),
		Status:     models.RunSucceeded,
		StartedAt:  time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 28, 2, 5, 0, 0, time.UTC),
		Succeeded:  12,
		TopRecos: []models.PriceRecommendation{
			{SKU: "SKU-001", Date: day(28), Price: 279000, ExpectedQty: 9, ExpectedProfit: 32000, Explain: "x", ModelVer: "demo-v1"},
		},
	}
	require.NoError(t, store.SaveRun(ctx, summary))

	// second save for the same date replaces the row
	summary.Status = models.RunPartial
	require.NoError(t, store.SaveRun(ctx, summary))

	got, err := store.Run(ctx, day(28))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunPartial, got.Status)
	assert.Equal(t, 12, got.Succeeded)
	require.Len(t, got.TopRecos, 1)
	assert.Equal(t, "SKU-001", got.TopRecos[0].SKU)
}

func TestAlertsLimitAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sku := "SKU-A"
		if i%2 == 1 {
			sku = "SKU-B"
		}
		fc := &models.DemandForecast{SKU: sku, Date: day(24 + i), Qty: 1, ModelVer: "demo-v1"}
		reco := &models.PriceRecommendation{SKU: sku, Date: day(24 + i), Price: 1, ExpectedQty: 1, ExpectedProfit: 1, Explain: "x", ModelVer: "demo-v1"}
		alert := models.Alert{
			Type: models.AlertAnomaly, SKU: sku,
			Payload:   models.AlertPayload{Rule: "stock_jump", Observed: float64(i)},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.SaveSKUResult(ctx, day(24+i), fc, reco, []models.Alert{alert}))
	}

	all, err := store.Alerts(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// newest first
	assert.Equal(t, 4.0, all[0].Payload.Observed)

	onlyB, err := store.Alerts(ctx, "SKU-B", 10)
	require.NoError(t, err)
	require.Len(t, onlyB, 2)
	for _, a := range onlyB {
		assert.Equal(t, "SKU-B", a.SKU)
	}
}

func TestClassifyWriteErr(t *testing.T) {
	integ := classifyWriteErr("upsert reco", "SKU-001", errors.New("UNIQUE constraint failed: price_reco.sku"))
	assert.True(t, models.IsIntegrity(integ))
	assert.False(t, models.IsTransient(integ))

	trans := classifyWriteErr("upsert reco", "SKU-001", errors.New("database is locked"))
	assert.True(t, models.IsTransient(trans))
	assert.False(t, models.IsIntegrity(trans))
}
