package epc

import (
	"context"
	"sort"

	"github.com/offerpath/offerpath/internal/metrics"
	"github.com/offerpath/offerpath/internal/models"
	"go.uber.org/zap"
)

// Ranker orders questions by the EPC of their linked offers so the
// best earners surface first for future respondents.
type Ranker struct {
	calc       *Calculator
	windowDays int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewRanker creates a new question ranker.
func NewRanker(calc *Calculator, windowDays int, logger *zap.Logger, m *metrics.Metrics) *Ranker {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Ranker{calc: calc, windowDays: windowDays, logger: logger, metrics: m}
}

// Order returns the questions sorted by EPC descending, ties broken
// by static order ascending. This is a total order: for any two
// questions with different EPC the higher sorts first, otherwise the
// lower static-order value does.
//
// If EPC computation fails for any question in the batch the partial
// results are abandoned and the whole batch is sorted by static
// order alone; a partially-ranked, partially-static result is never
// returned. The input slice is not mutated.
func (r *Ranker) Order(ctx context.Context, questions []*models.Question) []*models.Question {
	ordered := make([]*models.Question, len(questions))
	copy(ordered, questions)

	epcByID := make(map[string]float64, len(questions))
	for _, q := range questions {
		epc, err := r.calc.QuestionEPC(ctx, q.ID, r.windowDays)
		if err != nil {
			r.logger.Warn("epc ranking unavailable, falling back to static order",
				zap.String("question_id", q.ID),
				zap.Error(err),
			)
			r.metrics.RecordRankingFallback()
			return r.staticOrder(ordered)
		}
		epcByID[q.ID] = epc
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := epcByID[ordered[i].ID], epcByID[ordered[j].ID]
		if a != b {
			return a > b
		}
		return ordered[i].StaticOrder < ordered[j].StaticOrder
	})
	return ordered
}

func (r *Ranker) staticOrder(questions []*models.Question) []*models.Question {
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].StaticOrder < questions[j].StaticOrder
	})
	return questions
}
