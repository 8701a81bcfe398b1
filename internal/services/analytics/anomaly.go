package analytics

import (
	"context"
	"math"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/domain/service"
	"PricePulse/internal/services/features"
	"PricePulse/pkg/config"
)

const (
	RulePriceCrash = "price_crash"
	RuleStockJump  = "stock_jump"
	RuleUndercut   = "competitor_undercut"
)

// ThresholdDetector flags abnormal transitions in the latest feature record
// against trailing statistics. Each rule evaluates independently and emits
// its own alert; rules are never merged.
type ThresholdDetector struct {
	cfg    config.AnomalyConfig
	window int
	now    func() time.Time
}

var _ service.AnomalyDetector = (*ThresholdDetector)(nil)

func NewThresholdDetector(cfg config.AnomalyConfig, pipeline config.PipelineConfig) *ThresholdDetector {
	return &ThresholdDetector{cfg: cfg, window: pipeline.HistoryWindow, now: time.Now}
}

// Detect compares current against the trailing history (current excluded).
// With no history there is no baseline, so no alerts and no error.
func (d *ThresholdDetector) Detect(_ context.Context, current *models.FeatureRecord, history []models.FeatureRecord) ([]models.Alert, error) {
	if len(history) == 0 {
		return nil, nil
	}

	var alerts []models.Alert
	ts := d.now().UTC()

	if baseline := features.TrailingOwnPrice(history, d.window); baseline > 0 {
		drop := (baseline - current.OwnPrice) / baseline
		if drop > d.cfg.PriceCrashThreshold {
			alerts = append(alerts, d.alert(current.SKU, ts, models.AlertPayload{
				Rule:      RulePriceCrash,
				Observed:  drop,
				Baseline:  baseline,
				Threshold: d.cfg.PriceCrashThreshold,
			}))
		}
	}

	mean, stddev := features.TrailingStockStats(history, d.window)
	delta := math.Abs(current.StockOnHand - mean)
	threshold := d.cfg.StockAbsThreshold
	if stddev > 0 {
		threshold = d.cfg.StockSigmaMultiple * stddev
	}
	if threshold > 0 && delta > threshold {
		alerts = append(alerts, d.alert(current.SKU, ts, models.AlertPayload{
			Rule:      RuleStockJump,
			Observed:  delta,
			Baseline:  mean,
			Threshold: threshold,
		}))
	}

	if current.CompetitorMinPrice != nil && current.OwnPrice > 0 {
		undercut := (current.OwnPrice - *current.CompetitorMinPrice) / current.OwnPrice
		if undercut > d.cfg.UndercutMargin {
			alerts = append(alerts, d.alert(current.SKU, ts, models.AlertPayload{
				Rule:      RuleUndercut,
				Observed:  undercut,
				Baseline:  current.OwnPrice,
				Threshold: d.cfg.UndercutMargin,
			}))
		}
	}

	return alerts, nil
}

func (d *ThresholdDetector) alert(sku string, ts time.Time, payload models.AlertPayload) models.Alert {
	return models.Alert{
		Type:      models.AlertAnomaly,
		SKU:       sku,
		Payload:   payload,
		CreatedAt: ts,
	}
}
