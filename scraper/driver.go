package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/monoscrape/models"
)

// Driver walks the product id space in fixed-size batches.
type Driver struct {
	fetcher   RangeFetcher
	fetchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverLogger sets the progress logger.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = logger }
}

// WithDriverMetrics records batch outcomes on m.
func WithDriverMetrics(m *Metrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// NewDriver builds a driver that fetches fetchSize ids per batch.
func NewDriver(fetcher RangeFetcher, fetchSize int, opts ...DriverOption) *Driver {
	if fetchSize <= 0 {
		fetchSize = 1
	}
	d := &Driver{
		fetcher:   fetcher,
		fetchSize: fetchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run scans [minID, maxID) batch by batch. It stops early when a batch that
// leaves ids unscanned yields no items, which is taken to mean the scan went
// past the end of the catalog. Cancelling ctx ends the run as interrupted.
// The returned result always carries every item found so far; an error is
// only returned when a batch failed on a fatal transport error.
func (d *Driver) Run(ctx context.Context, minID, maxID int) (*models.ScrapeResult, error) {
	result := &models.ScrapeResult{
		Items:     make(map[int]models.Item),
		State:     models.StateRunning,
		Cursor:    minID,
		StartTime: time.Now(),
	}
	finish := func(state models.RunState) {
		result.State = state
		result.EndTime = time.Now()
		d.metrics.IncBatch(state.String())
	}

	for result.Cursor < maxID {
		if ctx.Err() != nil {
			finish(models.StateInterrupted)
			d.logInterrupted(result)
			return result, nil
		}

		start := result.Cursor
		end := min(start+d.fetchSize, maxID)
		found, err := d.fetcher.FetchRange(ctx, start, end)
		for id, item := range found {
			result.Items[id] = item
		}
		result.Batches++

		if ctx.Err() != nil {
			finish(models.StateInterrupted)
			d.logInterrupted(result)
			return result, nil
		}
		if err != nil {
			finish(models.StateAborted)
			d.logger.Error("batch failed, ending run with partial results",
				slog.Int("batch_start", start),
				slog.Int("batch_end", end),
				slog.Int("total_found", len(result.Items)),
				slog.Any("error", err),
			)
			return result, fmt.Errorf("batch [%d, %d): %w", start, end, err)
		}

		if len(found) == 0 && end < maxID {
			finish(models.StateStoppedEarly)
			d.logger.Info("no items found in batch, stopping",
				slog.Int("batch_start", start),
				slog.Int("batch_end", end),
				slog.Int("max_product_id", maxID),
				slog.Int("total_found", len(result.Items)),
			)
			return result, nil
		}

		result.Cursor = end
		d.metrics.IncBatch(models.StateRunning.String())
		d.logger.Info("batch complete",
			slog.Int("batch_start", start),
			slog.Int("batch_end", end),
			slog.Int("found", len(found)),
			slog.Int("total_found", len(result.Items)),
		)
	}

	finish(models.StateCompleted)
	return result, nil
}

func (d *Driver) logInterrupted(result *models.ScrapeResult) {
	d.logger.Warn("scrape interrupted, keeping partial results",
		slog.Int("cursor", result.Cursor),
		slog.Int("total_found", len(result.Items)),
	)
}
