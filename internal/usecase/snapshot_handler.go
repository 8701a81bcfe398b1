package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	pkgkafka "PricePulse/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

// SnapshotHandler consumes scraper snapshot rows from Kafka and archives
// them in the snapshot store.
type SnapshotHandler struct {
	topic   string
	store   domrepo.SnapshotStore
	metrics domrepo.Metrics
}

func NewSnapshotHandler(topic string, store domrepo.SnapshotStore, metrics domrepo.Metrics) *SnapshotHandler {
	return &SnapshotHandler{topic: topic, store: store, metrics: metrics}
}

func (h *SnapshotHandler) Topic() string { return h.topic }

// incoming message schema:
// {sku, ts, merchant, price, own_price, sales_units, stock, available}
func (h *SnapshotHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		SKU        string  `json:"sku"`
		TS         int64   `json:"ts"`
		Merchant   string  `json:"merchant"`
		Price      float64 `json:"price"`
		OwnPrice   float64 `json:"own_price"`
		SalesUnits float64 `json:"sales_units"`
		Stock      float64 `json:"stock"`
		Available  bool    `json:"available"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.SKU == "" || m.TS == 0 {
		h.metrics.RecordError("consumer_invalid_row")
		return fmt.Errorf("snapshot row missing sku or ts")
	}
	if m.TS > 1e11 { // ms
		m.TS = m.TS / 1000
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(time.Unix(m.TS, 0)).Seconds())

	start := time.Now()
	err := h.store.Store(ctx, &models.RawObservation{
		SKU:        m.SKU,
		Timestamp:  time.Unix(m.TS, 0).UTC(),
		Merchant:   m.Merchant,
		Price:      m.Price,
		OwnPrice:   m.OwnPrice,
		SalesUnits: m.SalesUnits,
		Stock:      m.Stock,
		Available:  m.Available,
	})
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordObservationStored(m.SKU)
	return nil
}

var _ pkgkafka.MessageHandler = (*SnapshotHandler)(nil)

// IngestMetricsHook wraps consumer message handling with latency and error
// recording on the metrics port.
type IngestMetricsHook struct {
	metrics domrepo.Metrics
}

var _ pkgkafka.ConsumerHook = (*IngestMetricsHook)(nil)

func NewIngestMetricsHook(m domrepo.Metrics) *IngestMetricsHook {
	return &IngestMetricsHook{metrics: m}
}

func (h *IngestMetricsHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return pkgkafka.WithStartTime(ctx, time.Now()), km, data, nil
}

func (h *IngestMetricsHook) AfterHandle(ctx context.Context, _ string, _ kafka.Message, _ []byte, _ error) {
	if start, ok := ctx.Value(pkgkafka.CtxStartTime).(time.Time); ok {
		h.metrics.RecordLatency("consumer_handle_seconds", time.Since(start).Seconds())
	}
}

func (h *IngestMetricsHook) OnError(_ context.Context, _ string, _ kafka.Message, _ []byte, _ error) {
	h.metrics.RecordError("consumer_handle")
}
