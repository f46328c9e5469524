package epc

import (
	"context"
	"fmt"
	"time"

	"github.com/offerpath/offerpath/internal/clock"
	"github.com/offerpath/offerpath/internal/metrics"
	"github.com/offerpath/offerpath/internal/models"
	"github.com/offerpath/offerpath/internal/storage"
	"go.uber.org/zap"
)

// DefaultWindowDays is the trailing window used when a caller passes
// a non-positive window.
const DefaultWindowDays = 7

// EligibilityLookup resolves which offers a question may route to.
// Supplied by the caller so the EPC engine never reaches back into
// question services directly.
type EligibilityLookup interface {
	EligibleOffers(ctx context.Context, questionID string) ([]*models.Offer, error)
}

// Calculator derives earnings-per-click metrics from the click
// ledger. Every calculation is a fresh windowed scan over ledger
// rows; nothing here increments running counters, so retries and
// backfills cannot drift the numbers.
type Calculator struct {
	clicks      storage.ClickStore
	offers      storage.OfferRepo
	eligibility EligibilityLookup
	clock       clock.Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewCalculator creates a new EPC calculator.
func NewCalculator(
	clicks storage.ClickStore,
	offers storage.OfferRepo,
	eligibility EligibilityLookup,
	clk clock.Clock,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Calculator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Calculator{
		clicks:      clicks,
		offers:      offers,
		eligibility: eligibility,
		clock:       clk,
		logger:      logger,
		metrics:     m,
	}
}

// Calculate computes windowed metrics for one offer from ledger rows
// with clicked_at in [now-windowDays, now], both ends inclusive.
func (c *Calculator) Calculate(ctx context.Context, offerID string, windowDays int) (*models.OfferMetrics, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	start := time.Now()
	now := c.clock.Now()
	from := now.AddDate(0, 0, -windowDays)

	stats, err := c.clicks.OfferWindowStats(ctx, offerID, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to compute epc for offer %s: %w", offerID, err)
	}

	m := FromWindowStats(stats, now)
	if c.metrics != nil {
		c.metrics.ObserveEPCRecompute(time.Since(start))
	}
	return m, nil
}

// FromWindowStats derives the metric value object from raw window
// counts, guarding every division by the click count.
func FromWindowStats(stats storage.WindowStats, at time.Time) *models.OfferMetrics {
	m := &models.OfferMetrics{
		TotalClicks:      stats.Clicks,
		TotalConversions: stats.Conversions,
		TotalRevenue:     stats.Revenue,
		LastUpdated:      at,
	}
	if stats.Clicks > 0 {
		m.EPC = stats.Revenue / float64(stats.Clicks)
		m.ConversionRate = float64(stats.Conversions) / float64(stats.Clicks) * 100
	}
	return m
}

// UpdateOffer recomputes the offer's metrics and writes them back
// into the cached snapshot on the offer row. Pure write-back: the
// cache is a read optimization, never consulted by this calculator.
// Concurrent recomputes converge on the same ledger-derived value,
// so last writer wins on the cache.
func (c *Calculator) UpdateOffer(ctx context.Context, offerID string, windowDays int) (*models.OfferMetrics, error) {
	m, err := c.Calculate(ctx, offerID, windowDays)
	if err != nil {
		return nil, err
	}
	if err := c.offers.UpdateMetrics(ctx, offerID, m); err != nil {
		return nil, fmt.Errorf("failed to cache metrics for offer %s: %w", offerID, err)
	}
	c.logger.Debug("offer metrics cached",
		zap.String("offer_id", offerID),
		zap.Float64("epc", m.EPC),
		zap.Int64("clicks", m.TotalClicks),
	)
	return m, nil
}

// offerEPCResult carries one per-offer computation as an explicit
// success or failure instead of an implicit zero, so "no offers
// linked" and "computation errored" stay distinguishable.
type offerEPCResult struct {
	offerID string
	epc     float64
	err     error
}

// QuestionEPC averages the positive EPC values of the question's
// eligible offers. Failed per-offer computations are logged and
// excluded from the average rather than pulling it toward zero; an
// empty eligible set or all-zero EPCs yield 0. Only a failure of the
// eligibility lookup itself propagates as an error.
func (c *Calculator) QuestionEPC(ctx context.Context, questionID string, windowDays int) (float64, error) {
	offers, err := c.eligibility.EligibleOffers(ctx, questionID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve offers for question %s: %w", questionID, err)
	}
	if len(offers) == 0 {
		return 0, nil
	}

	results := make([]offerEPCResult, 0, len(offers))
	for _, offer := range offers {
		m, err := c.Calculate(ctx, offer.ID, windowDays)
		if err != nil {
			results = append(results, offerEPCResult{offerID: offer.ID, err: err})
			continue
		}
		results = append(results, offerEPCResult{offerID: offer.ID, epc: m.EPC})
	}

	var sum float64
	var positive int
	for _, r := range results {
		if r.err != nil {
			c.logger.Warn("offer epc excluded from question average",
				zap.String("question_id", questionID),
				zap.String("offer_id", r.offerID),
				zap.Error(r.err),
			)
			continue
		}
		if r.epc > 0 {
			sum += r.epc
			positive++
		}
	}
	if positive == 0 {
		return 0, nil
	}
	return sum / float64(positive), nil
}
