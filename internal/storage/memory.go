package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/offerpath/offerpath/internal/models"
)

// InMemoryClickStore provides in-memory storage for the click ledger.
// It backs tests and lets the server run without PostgreSQL.
type InMemoryClickStore struct {
	mu     sync.RWMutex
	clicks map[string]*models.ClickEvent

	// Index for faster per-offer scans
	clicksByOffer map[string][]string // offer_id -> []click_id
}

// NewInMemoryClickStore creates a new in-memory click store.
func NewInMemoryClickStore() *InMemoryClickStore {
	return &InMemoryClickStore{
		clicks:        make(map[string]*models.ClickEvent),
		clicksByOffer: make(map[string][]string),
	}
}

func (s *InMemoryClickStore) SaveClick(ctx context.Context, click *models.ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *click
	s.clicks[cp.ID] = &cp
	s.clicksByOffer[cp.OfferID] = append(s.clicksByOffer[cp.OfferID], cp.ID)
	return nil
}

func (s *InMemoryClickStore) GetClick(ctx context.Context, id string) (*models.ClickEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	click, ok := s.clicks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *click
	return &cp, nil
}

func (s *InMemoryClickStore) MarkConverted(ctx context.Context, clickID string, revenue float64, at time.Time) (*models.ClickEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	click, ok := s.clicks[clickID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if click.Converted {
		cp := *click
		return &cp, false, nil
	}

	click.Converted = true
	convertedAt := at
	click.ConvertedAt = &convertedAt
	click.Revenue = revenue

	cp := *click
	return &cp, true, nil
}

func (s *InMemoryClickStore) OfferWindowStats(ctx context.Context, offerID string, from, to time.Time) (WindowStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats WindowStats
	for _, id := range s.clicksByOffer[offerID] {
		click := s.clicks[id]
		if click == nil || !inWindow(click, from, to) {
			continue
		}
		stats.Clicks++
		if click.Converted {
			stats.Conversions++
			stats.Revenue += click.Revenue
		}
	}
	return stats, nil
}

func (s *InMemoryClickStore) WindowSnapshot(ctx context.Context, from, to time.Time) (*SnapshotStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &SnapshotStats{
		From:           from,
		To:             to,
		Offers:         make(map[string]WindowStats),
		QuestionClicks: make(map[string]int64),
	}

	// One pass under one lock keeps the per-offer and per-question
	// views mutually consistent.
	for _, click := range s.clicks {
		if !inWindow(click, from, to) {
			continue
		}
		st := snap.Offers[click.OfferID]
		st.Clicks++
		if click.Converted {
			st.Conversions++
			st.Revenue += click.Revenue
		}
		snap.Offers[click.OfferID] = st

		if click.QuestionID != "" {
			snap.QuestionClicks[click.QuestionID]++
		}
	}
	return snap, nil
}

// inWindow matches clicked_at against the closed window [from, to].
// A click exactly on either boundary is inside.
func inWindow(click *models.ClickEvent, from, to time.Time) bool {
	if !click.CountsForMetrics() {
		return false
	}
	return !click.ClickedAt.Before(from) && !click.ClickedAt.After(to)
}

// =============================================
// OFFER CATALOG (in-memory)
// =============================================

// InMemoryOfferRepo provides in-memory offer storage.
type InMemoryOfferRepo struct {
	mu     sync.RWMutex
	offers map[string]*models.Offer
}

// NewInMemoryOfferRepo creates a new in-memory offer repository.
func NewInMemoryOfferRepo() *InMemoryOfferRepo {
	return &InMemoryOfferRepo{offers: make(map[string]*models.Offer)}
}

func (r *InMemoryOfferRepo) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	if o.Metrics != nil {
		m := *o.Metrics
		cp.Metrics = &m
	}
	return &cp, nil
}

func (r *InMemoryOfferRepo) ListOffers(ctx context.Context) ([]*models.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Offer, 0, len(r.offers))
	for _, o := range r.offers {
		cp := *o
		if o.Metrics != nil {
			m := *o.Metrics
			cp.Metrics = &m
		}
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *InMemoryOfferRepo) UpsertOffer(ctx context.Context, o *models.Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *o
	r.offers[cp.ID] = &cp
	return nil
}

func (r *InMemoryOfferRepo) UpdateMetrics(ctx context.Context, offerID string, m *models.OfferMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.offers[offerID]
	if !ok {
		return ErrNotFound
	}
	if o.Metrics == nil {
		o.Metrics = &models.OfferMetrics{}
	}
	// Field-level merge mirroring the jsonb merge in Postgres.
	o.Metrics.TotalClicks = m.TotalClicks
	o.Metrics.TotalConversions = m.TotalConversions
	o.Metrics.TotalRevenue = m.TotalRevenue
	o.Metrics.ConversionRate = m.ConversionRate
	o.Metrics.EPC = m.EPC
	o.Metrics.LastUpdated = m.LastUpdated
	return nil
}

// =============================================
// QUESTION CATALOG (in-memory)
// =============================================

// InMemoryQuestionRepo provides in-memory question storage with
// question->offer eligibility links.
type InMemoryQuestionRepo struct {
	mu        sync.RWMutex
	questions map[string]*models.Question
	links     map[string][]string // question_id -> []offer_id
	offers    OfferRepo
}

// NewInMemoryQuestionRepo creates a new in-memory question repository.
// Eligible offers resolve through the given offer repository.
func NewInMemoryQuestionRepo(offers OfferRepo) *InMemoryQuestionRepo {
	return &InMemoryQuestionRepo{
		questions: make(map[string]*models.Question),
		links:     make(map[string][]string),
		offers:    offers,
	}
}

func (r *InMemoryQuestionRepo) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (r *InMemoryQuestionRepo) ListQuestions(ctx context.Context) ([]*models.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Question, 0, len(r.questions))
	for _, q := range r.questions {
		cp := *q
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StaticOrder < result[j].StaticOrder })
	return result, nil
}

func (r *InMemoryQuestionRepo) UpsertQuestion(ctx context.Context, q *models.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *q
	r.questions[cp.ID] = &cp
	return nil
}

func (r *InMemoryQuestionRepo) EligibleOffers(ctx context.Context, questionID string) ([]*models.Offer, error) {
	r.mu.RLock()
	offerIDs := append([]string(nil), r.links[questionID]...)
	r.mu.RUnlock()

	result := make([]*models.Offer, 0, len(offerIDs))
	for _, id := range offerIDs {
		o, err := r.offers.GetOffer(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, nil
}

func (r *InMemoryQuestionRepo) LinkOffer(ctx context.Context, questionID, offerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.links[questionID] {
		if id == offerID {
			return nil
		}
	}
	r.links[questionID] = append(r.links[questionID], offerID)
	return nil
}
