package models

import (
	"math"
	"time"
)

// FeatureRecord is one day's aggregated market/sales observation for a SKU.
// Competitor prices are nil when no competitor offers were observed that day.
type FeatureRecord struct {
	SKU                string
	Date               time.Time
	CompetitorMinPrice *float64
	CompetitorAvgPrice *float64
	OwnPrice           float64
	SalesUnits         float64
	StockOnHand        float64
}

// HasCompetitorPrices reports whether both competitor aggregates are present.
func (f *FeatureRecord) HasCompetitorPrices() bool {
	return f.CompetitorMinPrice != nil && f.CompetitorAvgPrice != nil
}

// DemandForecast is the expected next-period quantity for a SKU, produced by
// the forecaster in effect for the run. One row per (sku, date), upserted.
type DemandForecast struct {
	SKU      string
	Date     time.Time
	Qty      float64
	ModelVer string
}

// PriceRecommendation is the optimizer's output for a SKU on the run date.
// ExpectedProfit is the profit uplift of Price versus holding the current
// price, under the forecaster identified by ModelVer.
type PriceRecommendation struct {
	SKU            string
	Date           time.Time
	Price          float64
	ExpectedQty    float64
	ExpectedProfit float64
	Explain        string
	ModelVer       string
}

// DemandCurve is the forecaster's output: expected quantity as a function of
// candidate price. Elasticity 0 makes the curve price-independent (the naive
// fallback). Quantities are whole units, never negative.
type DemandCurve struct {
	BaseQty    float64
	BasePrice  float64
	Elasticity float64
	ModelVer   string
}

// QuantityAt evaluates the curve at a candidate price.
func (c *DemandCurve) QuantityAt(price float64) float64 {
	q := c.BaseQty
	if c.Elasticity != 0 && c.BasePrice > 0 {
		q = c.BaseQty * (1 + c.Elasticity*(price-c.BasePrice)/c.BasePrice)
	}
	q = math.Round(q)
	if q < 0 {
		return 0
	}
	return q
}

// AlertType tags the alert category.
type AlertType string

const (
	AlertAnomaly AlertType = "anomaly"
)

// Alert is an append-only diagnostic record produced by the anomaly detector.
type Alert struct {
	Type      AlertType
	SKU       string
	Payload   AlertPayload
	CreatedAt time.Time
}

// AlertPayload carries the rule that fired and the numbers behind it.
type AlertPayload struct {
	Rule      string  `json:"rule"`
	Observed  float64 `json:"observed"`
	Baseline  float64 `json:"baseline"`
	Threshold float64 `json:"threshold"`
}

// RawObservation is a single scraped marketplace row for a SKU, as delivered
// on the snapshots topic and archived in ClickHouse.
type RawObservation struct {
	SKU        string
	Timestamp  time.Time
	Merchant   string
	Price      float64
	OwnPrice   float64
	SalesUnits float64
	Stock      float64
	Available  bool
}

// Snapshot groups one day's raw observations per SKU, the FeatureBuilder input.
type Snapshot struct {
	Date time.Time
	Rows map[string][]RawObservation
}
