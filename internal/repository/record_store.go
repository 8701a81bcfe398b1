package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	applogger "PricePulse/pkg/logger"
	pkgsqlite "PricePulse/pkg/sqlite"
)

const dateLayout = "2006-01-02"

// Schema returns the serving-store DDL (idempotent).
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS features_daily (
            sku TEXT NOT NULL,
            date TEXT NOT NULL,
            competitor_min_price REAL,
            competitor_avg_price REAL,
            own_price REAL NOT NULL,
            sales_units REAL NOT NULL,
            stock_on_hand REAL NOT NULL,
            UNIQUE(sku, date)
        )`,
		`CREATE TABLE IF NOT EXISTS demand_forecast (
            sku TEXT NOT NULL,
            date TEXT NOT NULL,
            q REAL NOT NULL,
            model_ver TEXT NOT NULL,
            UNIQUE(sku, date)
        )`,
		`CREATE TABLE IF NOT EXISTS price_reco (
            sku TEXT NOT NULL,
            date TEXT NOT NULL,
            price REAL NOT NULL,
            expected_qty REAL NOT NULL,
            expected_profit REAL NOT NULL,
            explain TEXT NOT NULL,
            model_ver TEXT NOT NULL,
            UNIQUE(sku, date)
        )`,
		`CREATE TABLE IF NOT EXISTS alerts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            sku TEXT NOT NULL,
            date TEXT NOT NULL,
            payload TEXT NOT NULL,
            ts TIMESTAMP NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
            run_date TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL,
            started_at TIMESTAMP NOT NULL,
            finished_at TIMESTAMP,
            summary TEXT NOT NULL
        )`,
	}
}

// SQLiteRecordStore implements RecordStore over the SQLite serving store.
// All writes for one SKU within a run commit or roll back as one transaction.
type SQLiteRecordStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.RecordStore = (*SQLiteRecordStore)(nil)

func NewSQLiteRecordStore(client *pkgsqlite.Client) *SQLiteRecordStore {
	return &SQLiteRecordStore{db: client.DB()}
}

// SetLogger injects a structured logger.
func (s *SQLiteRecordStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *SQLiteRecordStore) UpsertFeature(ctx context.Context, f *models.FeatureRecord) error {
	const q = `INSERT INTO features_daily
        (sku, date, competitor_min_price, competitor_avg_price, own_price, sales_units, stock_on_hand)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(sku, date) DO UPDATE SET
            competitor_min_price = excluded.competitor_min_price,
            competitor_avg_price = excluded.competitor_avg_price,
            own_price = excluded.own_price,
            sales_units = excluded.sales_units,
            stock_on_hand = excluded.stock_on_hand`
	_, err := s.db.ExecContext(ctx, q,
		f.SKU, f.Date.Format(dateLayout),
		f.CompetitorMinPrice, f.CompetitorAvgPrice,
		f.OwnPrice, f.SalesUnits, f.StockOnHand,
	)
	if err != nil {
		return classifyWriteErr("upsert feature", f.SKU, err)
	}
	return nil
}

// FeatureHistory returns up to `window` records ending at `until`, ordered by
// date ascending.
func (s *SQLiteRecordStore) FeatureHistory(ctx context.Context, sku string, until time.Time, window int) ([]models.FeatureRecord, error) {
	const q = `SELECT sku, date, competitor_min_price, competitor_avg_price, own_price, sales_units, stock_on_hand
        FROM features_daily
        WHERE sku = ? AND date <= ?
        ORDER BY date DESC
        LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, sku, until.Format(dateLayout), window)
	if err != nil {
		return nil, &models.TransientIOError{Op: "feature history", Err: err}
	}
	defer rows.Close()

	tmp := make([]models.FeatureRecord, 0, window)
	for rows.Next() {
		var f models.FeatureRecord
		var date string
		if err := rows.Scan(&f.SKU, &date, &f.CompetitorMinPrice, &f.CompetitorAvgPrice, &f.OwnPrice, &f.SalesUnits, &f.StockOnHand); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		if f.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parse feature date: %w", err)
		}
		tmp = append(tmp, f)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.TransientIOError{Op: "feature history", Err: err}
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return tmp, nil
}

// SaveSKUResult upserts the forecast and recommendation and replaces the
// day's alerts in one transaction, so a SKU never ends up with one but not
// the other and a rerun never duplicates alerts.
func (s *SQLiteRecordStore) SaveSKUResult(ctx context.Context, date time.Time, fc *models.DemandForecast, reco *models.PriceRecommendation, alerts []models.Alert) error {
	sku := fc.SKU
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.TransientIOError{Op: "begin sku tx", Err: err}
	}
	defer tx.Rollback()

	day := date.Format(dateLayout)
	const fq = `INSERT INTO demand_forecast (sku, date, q, model_ver) VALUES (?, ?, ?, ?)
        ON CONFLICT(sku, date) DO UPDATE SET q = excluded.q, model_ver = excluded.model_ver`
	if _, err := tx.ExecContext(ctx, fq, fc.SKU, day, fc.Qty, fc.ModelVer); err != nil {
		return classifyWriteErr("upsert forecast", sku, err)
	}

	const rq = `INSERT INTO price_reco (sku, date, price, expected_qty, expected_profit, explain, model_ver)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(sku, date) DO UPDATE SET
            price = excluded.price,
            expected_qty = excluded.expected_qty,
            expected_profit = excluded.expected_profit,
            explain = excluded.explain,
            model_ver = excluded.model_ver`
	if _, err := tx.ExecContext(ctx, rq, reco.SKU, day, reco.Price, reco.ExpectedQty, reco.ExpectedProfit, reco.Explain, reco.ModelVer); err != nil {
		return classifyWriteErr("upsert reco", sku, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM alerts WHERE sku = ? AND date = ?", sku, day); err != nil {
		return classifyWriteErr("clear alerts", sku, err)
	}
	for _, a := range alerts {
		payload, err := json.Marshal(a.Payload)
		if err != nil {
			return fmt.Errorf("marshal alert payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO alerts (type, sku, date, payload, ts) VALUES (?, ?, ?, ?, ?)",
			string(a.Type), a.SKU, day, string(payload), a.CreatedAt,
		); err != nil {
			return classifyWriteErr("insert alert", sku, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyWriteErr("commit sku tx", sku, err)
	}
	return nil
}

// LatestReco returns the newest recommendation for a SKU, or nil when the SKU
// has not been processed yet.
func (s *SQLiteRecordStore) LatestReco(ctx context.Context, sku string) (*models.PriceRecommendation, error) {
	const q = `SELECT sku, date, price, expected_qty, expected_profit, explain, model_ver
        FROM price_reco WHERE sku = ? ORDER BY date DESC LIMIT 1`
	var r models.PriceRecommendation
	var date string
	err := s.db.QueryRowContext(ctx, q, sku).Scan(&r.SKU, &date, &r.Price, &r.ExpectedQty, &r.ExpectedProfit, &r.Explain, &r.ModelVer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.TransientIOError{Op: "latest reco", Err: err}
	}
	if r.Date, err = time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("parse reco date: %w", err)
	}
	return &r, nil
}

func (s *SQLiteRecordStore) Forecast(ctx context.Context, sku string, date time.Time) (*models.DemandForecast, error) {
	const q = `SELECT sku, date, q, model_ver FROM demand_forecast WHERE sku = ? AND date = ?`
	var f models.DemandForecast
	var day string
	err := s.db.QueryRowContext(ctx, q, sku, date.Format(dateLayout)).Scan(&f.SKU, &day, &f.Qty, &f.ModelVer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.TransientIOError{Op: "get forecast", Err: err}
	}
	if f.Date, err = time.Parse(dateLayout, day); err != nil {
		return nil, fmt.Errorf("parse forecast date: %w", err)
	}
	return &f, nil
}

// Alerts returns recent alerts, newest first. Empty sku means all SKUs.
func (s *SQLiteRecordStore) Alerts(ctx context.Context, sku string, limit int) ([]models.Alert, error) {
	q := "SELECT type, sku, payload, ts FROM alerts"
	args := []interface{}{}
	if sku != "" {
		q += " WHERE sku = ?"
		args = append(args, sku)
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &models.TransientIOError{Op: "list alerts", Err: err}
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var typ, payload string
		if err := rows.Scan(&typ, &a.SKU, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = models.AlertType(typ)
		if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal alert payload: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteRecordStore) SaveRun(ctx context.Context, summary *models.RunSummary) error {
	blob, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	const q = `INSERT INTO pipeline_runs (run_date, status, started_at, finished_at, summary)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(run_date) DO UPDATE SET
            status = excluded.status,
            started_at = excluded.started_at,
            finished_at = excluded.finished_at,
            summary = excluded.summary`
	_, err = s.db.ExecContext(ctx, q,
		summary.Date.Format(dateLayout), string(summary.Status),
		summary.StartedAt, summary.FinishedAt, string(blob),
	)
	if err != nil {
		return classifyWriteErr("save run", "", err)
	}
	return nil
}

// Run returns the stored summary for a run date, or nil when no run exists.
func (s *SQLiteRecordStore) Run(ctx context.Context, date time.Time) (*models.RunSummary, error) {
	const q = `SELECT summary FROM pipeline_runs WHERE run_date = ?`
	var blob string
	err := s.db.QueryRowContext(ctx, q, date.Format(dateLayout)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.TransientIOError{Op: "get run", Err: err}
	}
	var summary models.RunSummary
	if err := json.Unmarshal([]byte(blob), &summary); err != nil {
		return nil, fmt.Errorf("unmarshal run summary: %w", err)
	}
	return &summary, nil
}

func (s *SQLiteRecordStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteRecordStore) Close() error {
	return nil // pool managed by pkg client
}

// classifyWriteErr separates integrity violations (logic bugs, never retried)
// from transient store failures (retried at the stage boundary).
func classifyWriteErr(op, sku string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint violation") {
		return &models.PersistenceIntegrityError{SKU: sku, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &models.TransientIOError{Op: op, Err: err}
}
