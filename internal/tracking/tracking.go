package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/offerpath/offerpath/internal/clock"
	"github.com/offerpath/offerpath/internal/metrics"
	"github.com/offerpath/offerpath/internal/models"
	"github.com/offerpath/offerpath/internal/session"
	"github.com/offerpath/offerpath/internal/storage"
	"go.uber.org/zap"
)

// Service is the click ledger front door: it validates the session
// and offer, classifies the click, writes it durably and hands back
// the redirect URL.
type Service struct {
	clicks    storage.ClickStore
	offers    storage.OfferRepo
	sessions  session.Validator
	capper    ClickCapper
	geo       GeoProvider
	pixelBase string
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewService creates a new tracking service. capper and geo are
// optional; pass nil to disable click caps or geo enrichment.
func NewService(
	clicks storage.ClickStore,
	offers storage.OfferRepo,
	sessions session.Validator,
	capper ClickCapper,
	geo GeoProvider,
	pixelBase string,
	clk clock.Clock,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		clicks:    clicks,
		offers:    offers,
		sessions:  sessions,
		capper:    capper,
		geo:       geo,
		pixelBase: pixelBase,
		clock:     clk,
		logger:    logger,
		metrics:   m,
	}
}

// ClickRequest carries one click-through from a survey CTA button.
type ClickRequest struct {
	SessionID       string
	QuestionID      string
	OfferID         string
	ButtonVariantID string
	SurveyID        string
	Timestamp       time.Time
	UserAgent       string
	IP              string
}

// RecordClick validates the request, appends a click event to the
// ledger in one atomic write and returns the event together with the
// offer redirect URL. Nothing else is mutated: offer state and
// cached metrics are untouched.
func (s *Service) RecordClick(ctx context.Context, req ClickRequest) (*models.ClickEvent, string, error) {
	if req.SessionID == "" {
		s.metrics.RecordRejectedClick("missing_session")
		return nil, "", storage.NewValidationError("session_id", "must not be empty")
	}
	if req.QuestionID == "" {
		s.metrics.RecordRejectedClick("missing_question")
		return nil, "", storage.NewValidationError("question_id", "must not be empty")
	}
	if req.OfferID == "" {
		s.metrics.RecordRejectedClick("missing_offer")
		return nil, "", storage.NewValidationError("offer_id", "must not be empty")
	}

	ok, err := s.sessions.IsSessionValid(ctx, req.SessionID)
	if err != nil {
		return nil, "", fmt.Errorf("session check failed: %w", err)
	}
	if !ok {
		s.metrics.RecordRejectedClick("invalid_session")
		return nil, "", storage.NewValidationError("session_id", "unknown or expired session")
	}

	offer, err := s.offers.GetOffer(ctx, req.OfferID)
	if err != nil {
		if err == storage.ErrNotFound {
			s.metrics.RecordRejectedClick("offer_not_found")
		}
		return nil, "", err
	}
	if !offer.IsActive() {
		s.metrics.RecordRejectedClick("offer_inactive")
		return nil, "", storage.NewValidationError("offer_id", fmt.Sprintf("offer is %s", offer.Status))
	}

	clickedAt := req.Timestamp
	if clickedAt.IsZero() {
		clickedAt = s.clock.Now()
	}

	status := models.ClickStatusValid
	if s.capper != nil {
		allowed, err := s.capper.Allow(ctx, offer.ID, offer.DailyClickCap, clickedAt)
		if err != nil {
			// Fail open regardless of what the capper reported: cap
			// enforcement is best effort, the ledger stays the source
			// of truth.
			s.logger.Warn("click cap check failed, allowing click", zap.Error(err))
			allowed = true
		}
		if !allowed {
			status = models.ClickStatusFiltered
		}
	}

	click := &models.ClickEvent{
		ID:              uuid.NewString(),
		ClickedAt:       clickedAt,
		OfferID:         offer.ID,
		SessionID:       req.SessionID,
		QuestionID:      req.QuestionID,
		ButtonVariantID: req.ButtonVariantID,
		SurveyID:        req.SurveyID,
		Status:          status,
		IP:              req.IP,
		UserAgent:       req.UserAgent,
	}

	if s.geo != nil && req.IP != "" {
		if info, err := s.geo.Lookup(req.IP); err == nil && info != nil {
			click.GeoCountry = info.Country
			click.GeoRegion = info.Region
			click.GeoCity = info.City
		}
	}

	click.TargetURL = BuildOfferURL(offer, URLVariables{
		ClickID:   click.ID,
		SurveyID:  req.SurveyID,
		SessionID: req.SessionID,
	})

	if err := s.clicks.SaveClick(ctx, click); err != nil {
		return nil, "", fmt.Errorf("failed to record click: %w", err)
	}

	s.metrics.RecordClick(offer.ID, string(status))
	s.logger.Info("click recorded",
		zap.String("click_id", click.ID),
		zap.String("offer_id", offer.ID),
		zap.String("question_id", req.QuestionID),
		zap.String("status", string(status)),
		zap.String("geo_country", click.GeoCountry),
	)

	return click, click.TargetURL, nil
}

// PixelURL builds the conversion pixel URL for a recorded click.
func (s *Service) PixelURL(clickID, surveyID string) string {
	return BuildPixelURL(s.pixelBase, clickID, surveyID, s.clock.Now())
}
