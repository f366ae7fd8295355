package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/repairflow/internal/jobs"
	"github.com/odyssey-erp/repairflow/internal/store"
)

// NegativeStockLister is the slice of the store service the scan needs.
type NegativeStockLister interface {
	NegativeStocks(ctx context.Context, limit int) ([]store.Stock, error)
}

// NegativeStockScanJob reports stock rows that overridden transfers left below zero.
type NegativeStockScanJob struct {
	Stocks  NegativeStockLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewNegativeStockScanJob initialises the scan handler.
func NewNegativeStockScanJob(stocks NegativeStockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *NegativeStockScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &NegativeStockScanJob{
		Stocks:  stocks,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *NegativeStockScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Stocks == nil {
		return errors.New("negative stock scan: handler not configured")
	}
	var payload NegativeStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("negative stock scan: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = 500
	}

	start := j.clock()
	tracker := j.Metrics.Track(TaskNegativeStockScan)
	defer func() {
		err = tracker.End(err)
	}()

	rows, err := j.Stocks.NegativeStocks(ctx, payload.Limit)
	if err != nil {
		j.Logger.Error("negative stock scan failed", slog.Any("error", err))
		return err
	}
	for _, s := range rows {
		j.Logger.Warn("stock below zero",
			slog.String("product_uuid", s.ProductUUID),
			slog.String("warehouse_uuid", s.WarehouseUUID),
			slog.String("quantity", s.Quantity.String()))
	}
	j.Metrics.SetNegativeStock(len(rows))
	j.Logger.Info("completed negative stock scan",
		slog.Int("rows", len(rows)),
		slog.Bool("truncated", len(rows) == payload.Limit),
		slog.Duration("duration", j.clock().Sub(start)))
	return nil
}
