package models

import (
	"time"
)

// ===========================================
// CLICK EVENT
// ===========================================

// ClickStatus classifies a click at creation time. Statuses are
// terminal: a click never moves between classifications after it is
// written to the ledger.
type ClickStatus string

const (
	ClickStatusValid     ClickStatus = "valid"
	ClickStatusPending   ClickStatus = "pending"
	ClickStatusFiltered  ClickStatus = "filtered"
	ClickStatusDuplicate ClickStatus = "duplicate"
	ClickStatusFraud     ClickStatus = "fraud"
)

// ClickEvent is one click-through from a survey CTA button to an
// offer. It is the system of record for attribution: every derived
// metric traces back to these rows, never to running counters.
//
// Converted flips false->true exactly once and never reverts.
// Revenue is written together with that transition and is immutable
// afterwards.
type ClickEvent struct {
	ID        string    `json:"id"`
	ClickedAt time.Time `json:"clicked_at"`

	// Attribution
	OfferID         string `json:"offer_id"`
	SessionID       string `json:"session_id"`
	QuestionID      string `json:"question_id"`
	ButtonVariantID string `json:"button_variant_id,omitempty"`
	SurveyID        string `json:"survey_id,omitempty"`

	// Classification
	Status ClickStatus `json:"status"`

	// Conversion state
	Converted   bool       `json:"converted"`
	ConvertedAt *time.Time `json:"converted_at,omitempty"`
	Revenue     float64    `json:"revenue"`

	// Request info
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Geo info (enriched from IP when a geo database is configured)
	GeoCountry string `json:"geo_country,omitempty"`
	GeoRegion  string `json:"geo_region,omitempty"`
	GeoCity    string `json:"geo_city,omitempty"`

	// Target URL the respondent was redirected to
	TargetURL string `json:"target_url,omitempty"`

	// Additional params
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CountsForMetrics reports whether the click participates in EPC and
// dashboard aggregation. Filtered, duplicate and fraud clicks stay in
// the ledger but never contribute to performance numbers.
func (c *ClickEvent) CountsForMetrics() bool {
	return c.Status == ClickStatusValid
}

// ===========================================
// OFFER
// ===========================================

type OfferStatus string

const (
	OfferStatusActive   OfferStatus = "active"
	OfferStatusPaused   OfferStatus = "paused"
	OfferStatusArchived OfferStatus = "archived"
)

// Offer is a promotable destination reachable through survey CTA
// buttons.
type Offer struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Status OfferStatus `json:"status"`

	// DestinationTemplate may contain {click_id}, {survey_id} and
	// {session_id} tokens; see tracking.BuildOfferURL.
	DestinationTemplate string `json:"destination_template"`

	// Payout terms
	PayoutAmount   float64 `json:"payout_amount,omitempty"`
	PayoutCurrency string  `json:"payout_currency,omitempty"`

	// DailyClickCap limits valid clicks per day. Zero means uncapped.
	DailyClickCap int64 `json:"daily_click_cap,omitempty"`

	// Metrics is a write-back cache of calculator output. It is a
	// performance optimization only and never the source of truth.
	Metrics *OfferMetrics `json:"metrics,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the offer may receive new clicks.
func (o *Offer) IsActive() bool {
	return o.Status == OfferStatusActive
}

// ===========================================
// OFFER METRICS (derived, windowed)
// ===========================================

// OfferMetrics is a derived value object recomputed from ledger rows
// within a trailing time window. ConversionRate is a percentage.
type OfferMetrics struct {
	TotalClicks      int64     `json:"total_clicks"`
	TotalConversions int64     `json:"total_conversions"`
	TotalRevenue     float64   `json:"total_revenue"`
	ConversionRate   float64   `json:"conversion_rate"`
	EPC              float64   `json:"epc"`
	LastUpdated      time.Time `json:"last_updated"`
}

// ===========================================
// QUESTION
// ===========================================

// Question is a survey question whose CTA buttons link to offers.
// StaticOrder is the author-assigned sequence (ascending = shown
// earlier) used whenever performance ranking is unavailable.
type Question struct {
	ID          string    `json:"id"`
	SurveyID    string    `json:"survey_id,omitempty"`
	Text        string    `json:"text,omitempty"`
	StaticOrder int       `json:"static_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
