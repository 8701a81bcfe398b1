package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	pkgch "PricePulse/pkg/clickhouse"
	applogger "PricePulse/pkg/logger"
)

// CHSnapshotStore archives raw scraper observations in ClickHouse and serves
// the pipeline's daily snapshot reads.
type CHSnapshotStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.SnapshotStore = (*CHSnapshotStore)(nil)

func NewCHSnapshotStore(ch *pkgch.Client, table string) *CHSnapshotStore {
	return &CHSnapshotStore{db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *CHSnapshotStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHSnapshotStore) Store(ctx context.Context, o *models.RawObservation) error {
	return s.StoreBatch(ctx, []*models.RawObservation{o})
}

func (s *CHSnapshotStore) StoreBatch(ctx context.Context, os []*models.RawObservation) error {
	if len(os) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(os); start += chunkSize {
		end := start + chunkSize
		if end > len(os) {
			end = len(os)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, o := range os[start:end] {
			if o == nil || o.SKU == "" || o.Timestamp.IsZero() {
				continue
			}
			available := uint8(0)
			if o.Available {
				available = 1
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				o.SKU,
				o.Timestamp,
				o.Merchant,
				o.Price,
				o.OwnPrice,
				o.SalesUnits,
				o.Stock,
				available,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (sku, ts, merchant, price, own_price, sales_units, stock, available) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store observations: %w", err)
		}
	}
	return nil
}

// LoadDaily reads one day's observations grouped per SKU. An empty skus
// slice loads every SKU observed on that date. Query failures are transient.
func (s *CHSnapshotStore) LoadDaily(ctx context.Context, date time.Time, skus []string) (*models.Snapshot, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT sku, ts, merchant, price, own_price, sales_units, stock, available
        FROM %s
        WHERE toDate(ts) = toDate(?)`, s.table)
	args := []interface{}{date}
	if len(skus) > 0 {
		q += fmt.Sprintf(" AND sku IN (%s)", placeholders(len(skus)))
		for _, sku := range skus {
			args = append(args, sku)
		}
	}
	q += " ORDER BY sku, ts ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &models.TransientIOError{Op: "load daily snapshot", Err: err}
	}
	defer rows.Close()

	snap := &models.Snapshot{Date: date, Rows: make(map[string][]models.RawObservation)}
	n := 0
	for rows.Next() {
		var o models.RawObservation
		var available uint8
		if err := rows.Scan(&o.SKU, &o.Timestamp, &o.Merchant, &o.Price, &o.OwnPrice, &o.SalesUnits, &o.Stock, &available); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Available = available != 0
		snap.Rows[o.SKU] = append(snap.Rows[o.SKU], o)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, &models.TransientIOError{Op: "load daily snapshot", Err: err}
	}
	if s.l != nil {
		s.l.Info("clickhouse snapshot loaded",
			applogger.String("date", date.Format("2006-01-02")),
			applogger.Int("skus", len(snap.Rows)),
			applogger.Int("rows", n),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return snap, nil
}

func (s *CHSnapshotStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHSnapshotStore) Close() error {
	return nil // pool managed by pkg client
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
