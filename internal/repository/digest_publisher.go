package repository

import (
	"context"
	"fmt"
	"strings"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	pkgkafka "PricePulse/pkg/kafka"
)

// KafkaDigestPublisher hands the run digest to the delivery channel via the
// digest topic. The actual messenger (Telegram bot etc) consumes from there.
type KafkaDigestPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.DigestPublisher = (*KafkaDigestPublisher)(nil)

func NewKafkaDigestPublisher(producer *pkgkafka.Producer, topic string) *KafkaDigestPublisher {
	return &KafkaDigestPublisher{producer: producer, topic: topic}
}

func (p *KafkaDigestPublisher) PublishDigest(ctx context.Context, summary *models.RunSummary) error {
	payload := map[string]interface{}{
		"date":      summary.Date.Format("2006-01-02"),
		"status":    string(summary.Status),
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"degraded":  summary.Degraded,
		"text":      FormatDigest(summary),
		"recos":     recoRows(summary.TopRecos),
		"alerts":    summary.Alerts,
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(summary.Date.Format("2006-01-02")), payload); err != nil {
		return fmt.Errorf("publish digest: %w", err)
	}
	return nil
}

func (p *KafkaDigestPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// FormatDigest renders the human digest text: a header, the top
// recommendations by expected profit, and any anomaly alerts.
func FormatDigest(summary *models.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pricing digest %s [%s]: %d ok, %d failed\n",
		summary.Date.Format("2006-01-02"), summary.Status, summary.Succeeded, summary.Failed)
	for i, r := range summary.TopRecos {
		fmt.Fprintf(&b, "%d. %s -> %.0f (qty %.0f, Δ≈%.0f, %s)\n",
			i+1, r.SKU, r.Price, r.ExpectedQty, r.ExpectedProfit, r.ModelVer)
	}
	if len(summary.Alerts) > 0 {
		fmt.Fprintf(&b, "Alerts: %d\n", len(summary.Alerts))
		for _, a := range summary.Alerts {
			fmt.Fprintf(&b, "- [%s] %s %s\n", a.Type, a.SKU, a.Payload.Rule)
		}
	}
	return b.String()
}

func recoRows(recos []models.PriceRecommendation) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(recos))
	for _, r := range recos {
		out = append(out, map[string]interface{}{
			"sku":             r.SKU,
			"price":           r.Price,
			"expected_qty":    r.ExpectedQty,
			"expected_profit": r.ExpectedProfit,
			"explain":         r.Explain,
			"model_ver":       r.ModelVer,
		})
	}
	return out
}
