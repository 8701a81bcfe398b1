package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PricePulse/internal/domain/models"
)

type recordingMetrics struct {
	mu        sync.Mutex
	errors    map[string]int
	latencies map[string][]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{errors: map[string]int{}, latencies: map[string][]float64{}}
}

func (m *recordingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *recordingMetrics) RecordLatency(op string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[op] = append(m.latencies[op], seconds)
}

func (m *recordingMetrics) RecordSKUOutcome(string)         {}
func (m *recordingMetrics) RecordRunStatus(string)          {}
func (m *recordingMetrics) RecordRecoPrice(string, float64) {}
func (m *recordingMetrics) RecordObservationStored(string)  {}

type captureSnapshotStore struct {
	mu     sync.Mutex
	stored []*models.RawObservation
}

func (s *captureSnapshotStore) Store(_ context.Context, o *models.RawObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, o)
	return nil
}

func (s *captureSnapshotStore) StoreBatch(ctx context.Context, os []*models.RawObservation) error {
	for _, o := range os {
		if err := s.Store(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (s *captureSnapshotStore) LoadDaily(context.Context, time.Time, []string) (*models.Snapshot, error) {
	return nil, nil
}
func (s *captureSnapshotStore) Health(context.Context) error { return nil }
func (s *captureSnapshotStore) Close() error                 { return nil }

func TestSnapshotHandlerStoresRow(t *testing.T) {
	store := &captureSnapshotStore{}
	h := NewSnapshotHandler("snapshots.raw", store, newRecordingMetrics())

	msg := []byte(`{"sku":"SKU-IPH-13-128","ts":1756350000,"merchant":"techno-store","price":270000,"own_price":275000,"sales_units":10,"stock":50,"available":true}`)
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, store.stored, 1)
	o := store.stored[0]
	assert.Equal(t, "SKU-IPH-13-128", o.SKU)
	assert.Equal(t, time.Unix(1756350000, 0).UTC(), o.Timestamp)
	assert.Equal(t, 275000.0, o.OwnPrice)
	assert.True(t, o.Available)
}

func TestSnapshotHandlerNormalizesMillisTimestamps(t *testing.T) {
	store := &captureSnapshotStore{}
	h := NewSnapshotHandler("snapshots.raw", store, newRecordingMetrics())

	msg := []byte(`{"sku":"SKU-1","ts":1756350000000,"merchant":"m","price":1,"own_price":1,"sales_units":1,"stock":1,"available":true}`)
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, store.stored, 1)
	assert.Equal(t, time.Unix(1756350000, 0).UTC(), store.stored[0].Timestamp)
}

func TestSnapshotHandlerRejectsInvalidRows(t *testing.T) {
	metrics := newRecordingMetrics()
	h := NewSnapshotHandler("snapshots.raw", &captureSnapshotStore{}, metrics)

	assert.Error(t, h.Handle(context.Background(), []byte(`not json`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"ts":1756350000}`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"sku":"SKU-1"}`)))

	assert.Equal(t, 1, metrics.errors["consumer_unmarshal"])
	assert.Equal(t, 2, metrics.errors["consumer_invalid_row"])
}

func TestIngestMetricsHookRecordsHandleLatency(t *testing.T) {
	metrics := newRecordingMetrics()
	hook := NewIngestMetricsHook(metrics)

	ctx, km, data, err := hook.BeforeHandle(context.Background(), "snapshots.raw", kafka.Message{}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	hook.AfterHandle(ctx, "snapshots.raw", km, data, nil)

	require.Len(t, metrics.latencies["consumer_handle_seconds"], 1)
	assert.GreaterOrEqual(t, metrics.latencies["consumer_handle_seconds"][0], 0.0)
}

func TestIngestMetricsHookSkipsLatencyWithoutStartTime(t *testing.T) {
	metrics := newRecordingMetrics()
	hook := NewIngestMetricsHook(metrics)

	// AfterHandle on a context that never went through BeforeHandle
	hook.AfterHandle(context.Background(), "snapshots.raw", kafka.Message{}, nil, nil)
	assert.Empty(t, metrics.latencies["consumer_handle_seconds"])
}

func TestIngestMetricsHookCountsErrors(t *testing.T) {
	metrics := newRecordingMetrics()
	hook := NewIngestMetricsHook(metrics)

	hook.OnError(context.Background(), "snapshots.raw", kafka.Message{}, nil, assert.AnError)
	hook.OnError(context.Background(), "snapshots.raw", kafka.Message{}, nil, assert.AnError)
	assert.Equal(t, 2, metrics.errors["consumer_handle"])
}
