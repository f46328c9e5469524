package conversion

import (
	"context"
	"fmt"

	"github.com/offerpath/offerpath/internal/clock"
	"github.com/offerpath/offerpath/internal/epc"
	"github.com/offerpath/offerpath/internal/metrics"
	"github.com/offerpath/offerpath/internal/models"
	"github.com/offerpath/offerpath/internal/storage"
	"go.uber.org/zap"
)

// Recorder applies the one-way unconverted->converted transition on
// ledger entries. Safe under retries and concurrent duplicates: the
// store guarantees first-writer-wins, every later call observes the
// stored record unchanged.
type Recorder struct {
	clicks  storage.ClickStore
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRecorder creates a new conversion recorder.
func NewRecorder(clicks storage.ClickStore, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *Recorder {
	if clk == nil {
		clk = clock.System{}
	}
	return &Recorder{clicks: clicks, clock: clk, logger: logger, metrics: m}
}

// MarkConversion marks the click converted with the given revenue.
// If the click is already converted the stored record comes back
// unchanged; that is success, not an error, and the supplied revenue
// is not re-applied. Unknown click ids return storage.ErrNotFound
// without writing anything.
func (r *Recorder) MarkConversion(ctx context.Context, clickID string, revenue float64) (*models.ClickEvent, error) {
	if clickID == "" {
		return nil, storage.NewValidationError("click_id", "must not be empty")
	}

	click, applied, err := r.clicks.MarkConverted(ctx, clickID, revenue, r.clock.Now())
	if err != nil {
		return nil, err
	}

	if applied {
		r.metrics.RecordConversion(click.OfferID, click.Revenue)
		r.logger.Info("conversion recorded",
			zap.String("click_id", click.ID),
			zap.String("offer_id", click.OfferID),
			zap.Float64("revenue", click.Revenue),
		)
	} else {
		r.metrics.RecordConversionReplay()
		r.logger.Debug("conversion replay absorbed",
			zap.String("click_id", click.ID),
			zap.Float64("stored_revenue", click.Revenue),
			zap.Float64("ignored_revenue", revenue),
		)
	}

	return click, nil
}

// ComposedRecorder marks conversions and immediately refreshes the
// affected offer's cached metrics so dashboards reading the cache see
// the conversion without waiting for the next on-demand recompute.
type ComposedRecorder struct {
	recorder   *Recorder
	calc       *epc.Calculator
	windowDays int
}

// NewComposedRecorder creates a recorder that writes back EPC metrics
// after each conversion call.
func NewComposedRecorder(recorder *Recorder, calc *epc.Calculator, windowDays int) *ComposedRecorder {
	return &ComposedRecorder{recorder: recorder, calc: calc, windowDays: windowDays}
}

// MarkConversion marks the conversion, then recomputes and caches the
// offer's metrics. The recompute runs on replays too: it is a pure
// function of ledger state, so repeating it converges the cache even
// after a previously failed write-back. A cache write failure is
// returned alongside the (already durable) click record.
func (c *ComposedRecorder) MarkConversion(ctx context.Context, clickID string, revenue float64) (*models.ClickEvent, error) {
	click, err := c.recorder.MarkConversion(ctx, clickID, revenue)
	if err != nil {
		return nil, err
	}

	if _, err := c.calc.UpdateOffer(ctx, click.OfferID, c.windowDays); err != nil {
		return click, fmt.Errorf("conversion recorded but metrics write-back failed: %w", err)
	}
	return click, nil
}
