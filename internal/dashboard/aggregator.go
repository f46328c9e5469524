package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/offerpath/offerpath/internal/clock"
	"github.com/offerpath/offerpath/internal/epc"
	"github.com/offerpath/offerpath/internal/metrics"
	"github.com/offerpath/offerpath/internal/models"
	"github.com/offerpath/offerpath/internal/storage"
	"go.uber.org/zap"
)

// TimeRange selects the trailing window for dashboard aggregation.
type TimeRange string

const (
	RangeLast24h TimeRange = "last24h"
	RangeLast7d  TimeRange = "last7d"
	RangeLast30d TimeRange = "last30d"
)

// Days returns the window length; unknown ranges default to 7 days.
func (t TimeRange) Days() int {
	switch t {
	case RangeLast24h:
		return 1
	case RangeLast30d:
		return 30
	default:
		return 7
	}
}

// Filters scope the dashboard response.
type Filters struct {
	TimeRange TimeRange `json:"time_range"`
	// OfferIDs, when non-empty, is an explicit allow-list.
	OfferIDs []string `json:"offer_ids,omitempty"`
	// MinEPC, when set, drops offer rows below the threshold.
	MinEPC *float64 `json:"min_epc,omitempty"`
}

// OfferReport is one offer row with full metrics and a dense rank
// (1 = highest EPC) assigned after filtering.
type OfferReport struct {
	OfferID string              `json:"offer_id"`
	Name    string              `json:"name,omitempty"`
	Rank    int                 `json:"rank"`
	Metrics models.OfferMetrics `json:"metrics"`
}

// QuestionReport is the per-question funnel view.
type QuestionReport struct {
	QuestionID       string  `json:"question_id"`
	Text             string  `json:"text,omitempty"`
	Impressions      int64   `json:"impressions"`
	Clicks           int64   `json:"clicks"`
	Skips            int64   `json:"skips"`
	SkipRate         float64 `json:"skip_rate"`
	ClickThroughRate float64 `json:"click_through_rate"`
	AverageEPC       float64 `json:"average_epc"`
}

// Summary is the global rollup over the returned offer rows.
// AverageEPC is the unweighted arithmetic mean across offers, not a
// click-weighted one: low-volume offers count as much as high-volume
// ones.
type Summary struct {
	TotalOffers      int          `json:"total_offers"`
	TotalClicks      int64        `json:"total_clicks"`
	TotalConversions int64        `json:"total_conversions"`
	TotalRevenue     float64      `json:"total_revenue"`
	AverageEPC       float64      `json:"average_epc"`
	TopOffer         *OfferReport `json:"top_offer,omitempty"`
}

// Dashboard is one complete dashboard response.
type Dashboard struct {
	OfferMetrics    []OfferReport    `json:"offer_metrics"`
	QuestionMetrics []QuestionReport `json:"question_metrics"`
	Summary         Summary          `json:"summary"`
	WindowFrom      time.Time        `json:"window_from"`
	WindowTo        time.Time        `json:"window_to"`
}

// Aggregator builds read-side rollups from the click ledger plus the
// offer/question catalogs. It is independent of the ranking path: the
// ranker never consumes these views.
type Aggregator struct {
	clicks      storage.ClickStore
	offers      storage.OfferRepo
	questions   storage.QuestionRepo
	impressions ImpressionSource
	clock       clock.Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewAggregator creates a new dashboard aggregator.
func NewAggregator(
	clicks storage.ClickStore,
	offers storage.OfferRepo,
	questions storage.QuestionRepo,
	impressions ImpressionSource,
	clk clock.Clock,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Aggregator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Aggregator{
		clicks:      clicks,
		offers:      offers,
		questions:   questions,
		impressions: impressions,
		clock:       clk,
		logger:      logger,
		metrics:     m,
	}
}

// DashboardMetrics builds the full dashboard response. All three
// rollups derive from one ledger snapshot, so the summary always
// matches the sum of the returned offer rows even while clicks and
// conversions land concurrently.
func (a *Aggregator) DashboardMetrics(ctx context.Context, f Filters) (*Dashboard, error) {
	start := time.Now()

	now := a.clock.Now()
	from := now.AddDate(0, 0, -f.TimeRange.Days())

	snap, err := a.clicks.WindowSnapshot(ctx, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot ledger: %w", err)
	}

	offerReports, err := a.aggregateOffers(ctx, f, snap)
	if err != nil {
		return nil, err
	}

	questionReports, err := a.aggregateQuestions(ctx, snap)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		OfferMetrics:    offerReports,
		QuestionMetrics: questionReports,
		Summary:         summarize(offerReports),
		WindowFrom:      from,
		WindowTo:        now,
	}

	a.metrics.ObserveDashboardQuery(time.Since(start))
	return d, nil
}

func (a *Aggregator) aggregateOffers(ctx context.Context, f Filters, snap *storage.SnapshotStats) ([]OfferReport, error) {
	offers, err := a.offers.ListOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}

	allow := map[string]bool{}
	for _, id := range f.OfferIDs {
		allow[id] = true
	}

	reports := make([]OfferReport, 0, len(offers))
	for _, offer := range offers {
		if len(allow) > 0 && !allow[offer.ID] {
			continue
		}
		m := epc.FromWindowStats(snap.Offers[offer.ID], snap.To)
		if f.MinEPC != nil && m.EPC < *f.MinEPC {
			continue
		}
		reports = append(reports, OfferReport{
			OfferID: offer.ID,
			Name:    offer.Name,
			Metrics: *m,
		})
	}

	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].Metrics.EPC != reports[j].Metrics.EPC {
			return reports[i].Metrics.EPC > reports[j].Metrics.EPC
		}
		return reports[i].OfferID < reports[j].OfferID
	})

	// Dense rank: equal EPC shares a rank, the next distinct value
	// takes the following integer.
	rank := 0
	for i := range reports {
		if i == 0 || reports[i].Metrics.EPC != reports[i-1].Metrics.EPC {
			rank++
		}
		reports[i].Rank = rank
	}
	return reports, nil
}

func (a *Aggregator) aggregateQuestions(ctx context.Context, snap *storage.SnapshotStats) ([]QuestionReport, error) {
	questions, err := a.questions.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}

	reports := make([]QuestionReport, 0, len(questions))
	for _, q := range questions {
		impressions, err := a.impressions.Count(ctx, q.ID, snap.From, snap.To)
		if err != nil {
			return nil, err
		}
		clicks := snap.QuestionClicks[q.ID]

		r := QuestionReport{
			QuestionID:  q.ID,
			Text:        q.Text,
			Impressions: impressions,
			Clicks:      clicks,
		}
		// Skips floor at zero: clicks can exceed impressions when the
		// widget batches or the impression pixel was blocked.
		if skips := impressions - clicks; skips > 0 {
			r.Skips = skips
		}
		if impressions > 0 {
			r.SkipRate = float64(r.Skips) / float64(impressions) * 100
			r.ClickThroughRate = float64(clicks) / float64(impressions) * 100
		}

		avg, err := a.questionAverageEPC(ctx, q.ID, snap)
		if err != nil {
			return nil, err
		}
		r.AverageEPC = avg

		reports = append(reports, r)
	}
	return reports, nil
}

// questionAverageEPC is the plain mean EPC across the question's
// eligible offers, computed from the same snapshot as every other
// dashboard number.
func (a *Aggregator) questionAverageEPC(ctx context.Context, questionID string, snap *storage.SnapshotStats) (float64, error) {
	offers, err := a.questions.EligibleOffers(ctx, questionID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve offers for question %s: %w", questionID, err)
	}
	if len(offers) == 0 {
		return 0, nil
	}

	var sum float64
	for _, offer := range offers {
		sum += epc.FromWindowStats(snap.Offers[offer.ID], snap.To).EPC
	}
	return sum / float64(len(offers)), nil
}

func summarize(reports []OfferReport) Summary {
	s := Summary{TotalOffers: len(reports)}
	for i := range reports {
		s.TotalClicks += reports[i].Metrics.TotalClicks
		s.TotalConversions += reports[i].Metrics.TotalConversions
		s.TotalRevenue += reports[i].Metrics.TotalRevenue
		s.AverageEPC += reports[i].Metrics.EPC
	}
	if len(reports) > 0 {
		s.AverageEPC /= float64(len(reports))
		top := reports[0]
		s.TopOffer = &top
	}
	return s
}
