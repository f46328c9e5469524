package storage

import (
	"context"
	"time"

	"github.com/offerpath/offerpath/internal/models"
)

// =============================================
// CLICK LEDGER
// =============================================

// WindowStats are raw counts over ledger rows with clicked_at inside
// a closed window [from, to]. Only clicks with status valid count.
type WindowStats struct {
	Clicks      int64
	Conversions int64
	Revenue     float64
}

// SnapshotStats is one consistent view of the ledger over a window,
// pre-aggregated per offer and per question. All maps come from the
// same read so dashboard rollups built on top of them cannot skew
// against each other while writes land concurrently.
type SnapshotStats struct {
	From time.Time
	To   time.Time

	// Offers maps offer ID to its window stats.
	Offers map[string]WindowStats

	// QuestionClicks maps question ID to valid click count.
	QuestionClicks map[string]int64
}

// ClickStore is the append-mostly click ledger. Clicks are created
// once, mutated at most once by MarkConverted and never deleted here.
type ClickStore interface {
	// SaveClick persists a click event in one atomic write.
	SaveClick(ctx context.Context, click *models.ClickEvent) error

	// GetClick returns the click or ErrNotFound.
	GetClick(ctx context.Context, id string) (*models.ClickEvent, error)

	// MarkConverted applies the one-way unconverted->converted
	// transition. The check and the write execute atomically so two
	// concurrent callers cannot both win: the first writer sets
	// revenue and converted_at, every later caller gets the stored
	// record back unchanged with applied=false. Unknown click ids
	// return ErrNotFound.
	MarkConverted(ctx context.Context, clickID string, revenue float64, at time.Time) (click *models.ClickEvent, applied bool, err error)

	// OfferWindowStats aggregates valid clicks for one offer with
	// clicked_at in [from, to].
	OfferWindowStats(ctx context.Context, offerID string, from, to time.Time) (WindowStats, error)

	// WindowSnapshot aggregates the whole window in one consistent
	// read (single transaction on SQL stores, single lock in memory).
	WindowSnapshot(ctx context.Context, from, to time.Time) (*SnapshotStats, error)
}

// =============================================
// OFFER CATALOG
// =============================================

// OfferRepo defines operations for offer storage.
type OfferRepo interface {
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	ListOffers(ctx context.Context) ([]*models.Offer, error)
	UpsertOffer(ctx context.Context, o *models.Offer) error

	// UpdateMetrics write-backs calculator output into the offer's
	// cached metrics blob. The merge is field-level: keys absent from
	// m stay untouched in the cache. The cache is never authoritative.
	UpdateMetrics(ctx context.Context, offerID string, m *models.OfferMetrics) error
}

// =============================================
// QUESTION CATALOG
// =============================================

// QuestionRepo defines operations for question storage and the
// question->offer eligibility relation. EligibleOffers makes it
// usable as the eligibility lookup the EPC engine depends on.
type QuestionRepo interface {
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	ListQuestions(ctx context.Context) ([]*models.Question, error)
	UpsertQuestion(ctx context.Context, q *models.Question) error

	// Eligibility links
	EligibleOffers(ctx context.Context, questionID string) ([]*models.Offer, error)
	LinkOffer(ctx context.Context, questionID, offerID string) error
}
