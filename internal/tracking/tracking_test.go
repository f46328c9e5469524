package tracking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/offerpath/offerpath/internal/clock"
	"github.com/offerpath/offerpath/internal/models"
	"github.com/offerpath/offerpath/internal/session"
	"github.com/offerpath/offerpath/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type trackingFixture struct {
	svc      *Service
	clicks   *storage.InMemoryClickStore
	offers   *storage.InMemoryOfferRepo
	sessions *session.MemoryValidator
	now      time.Time
}

func newTrackingFixture(t *testing.T, capper ClickCapper) *trackingFixture {
	t.Helper()

	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	clicks := storage.NewInMemoryClickStore()
	offers := storage.NewInMemoryOfferRepo()
	sessions := session.NewMemoryValidator()

	svc := NewService(
		clicks, offers, sessions, capper, nil,
		"https://t.example.com/i.gif",
		clock.Fixed{At: now}, zap.NewNop(), nil,
	)
	return &trackingFixture{svc: svc, clicks: clicks, offers: offers, sessions: sessions, now: now}
}

func (f *trackingFixture) addOffer(t *testing.T, offer *models.Offer) {
	t.Helper()
	require.NoError(t, f.offers.UpsertOffer(context.Background(), offer))
}

func (f *trackingFixture) addSession(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.sessions.Register(context.Background(), id))
}

func validRequest() ClickRequest {
	return ClickRequest{
		SessionID:  "ses-1",
		QuestionID: "q-1",
		OfferID:    "off-1",
		SurveyID:   "srv-1",
	}
}

func TestRecordClickValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*ClickRequest)
	}{
		{"missing session", func(r *ClickRequest) { r.SessionID = "" }},
		{"missing question", func(r *ClickRequest) { r.QuestionID = "" }},
		{"missing offer", func(r *ClickRequest) { r.OfferID = "" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newTrackingFixture(t, nil)
			req := validRequest()
			tt.mutate(&req)

			_, _, err := f.svc.RecordClick(context.Background(), req)
			assert.True(t, storage.IsValidation(err))
		})
	}
}

func TestRecordClickUnknownSession(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t, nil)
	f.addOffer(t, &models.Offer{ID: "off-1", Status: models.OfferStatusActive})

	_, _, err := f.svc.RecordClick(context.Background(), validRequest())
	assert.True(t, storage.IsValidation(err))
}

func TestRecordClickOfferNotFound(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t, nil)
	f.addSession(t, "ses-1")

	_, _, err := f.svc.RecordClick(context.Background(), validRequest())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordClickInactiveOffer(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t, nil)
	f.addSession(t, "ses-1")
	f.addOffer(t, &models.Offer{ID: "off-1", Status: models.OfferStatusPaused})

	_, _, err := f.svc.RecordClick(context.Background(), validRequest())
	assert.True(t, storage.IsValidation(err))
}

func TestRecordClickSuccess(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t, nil)
	f.addSession(t, "ses-1")
	f.addOffer(t, &models.Offer{
		ID:                  "off-1",
		Status:              models.OfferStatusActive,
		DestinationTemplate: "https://aff.example.com/go?cid={click_id}",
	})

	event, target, err := f.svc.RecordClick(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, models.ClickStatusValid, event.Status)
	assert.Equal(t, f.now, event.ClickedAt)
	assert.False(t, event.Converted)
	assert.True(t, strings.Contains(target, event.ID))
	assert.Equal(t, target, event.TargetURL)

	// The click is durable in the ledger.
	stored, err := f.clicks.GetClick(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.ID, stored.ID)
	assert.Equal(t, "q-1", stored.QuestionID)
}

func TestRecordClickDailyCap(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t, NewMemoryClickCapper())
	f.addSession(t, "ses-1")
	f.addOffer(t, &models.Offer{
		ID:                  "off-1",
		Status:              models.OfferStatusActive,
		DailyClickCap:       2,
		DestinationTemplate: "https://aff.example.com/go",
	})

	for i := 0; i < 2; i++ {
		event, _, err := f.svc.RecordClick(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Equal(t, models.ClickStatusValid, event.Status)
	}

	// Third click of the day exceeds the cap: still recorded for
	// audit, but classified filtered so it never counts for metrics.
	event, target, err := f.svc.RecordClick(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ClickStatusFiltered, event.Status)
	assert.NotEmpty(t, target)
	assert.False(t, event.CountsForMetrics())

	stored, err := f.clicks.GetClick(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClickStatusFiltered, stored.Status)
}

type brokenCapper struct{}

func (brokenCapper) Allow(ctx context.Context, offerID string, cap int64, at time.Time) (bool, error) {
	// A misbehaving capper: reports an error and denies the click.
	return false, errors.New("cap backend unreachable")
}

func TestRecordClickCapCheckFailureFailsOpen(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t, brokenCapper{})
	f.addSession(t, "ses-1")
	f.addOffer(t, &models.Offer{
		ID:                  "off-1",
		Status:              models.OfferStatusActive,
		DailyClickCap:       1,
		DestinationTemplate: "https://aff.example.com/go",
	})

	// The capper errored, so its verdict is ignored: the click stays
	// valid rather than getting filtered by a broken backend.
	event, _, err := f.svc.RecordClick(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ClickStatusValid, event.Status)
	assert.True(t, event.CountsForMetrics())
}

func TestRecordClickExplicitTimestamp(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t, nil)
	f.addSession(t, "ses-1")
	f.addOffer(t, &models.Offer{ID: "off-1", Status: models.OfferStatusActive, DestinationTemplate: "https://x.example.com"})

	at := f.now.Add(-30 * time.Minute)
	req := validRequest()
	req.Timestamp = at

	event, _, err := f.svc.RecordClick(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, at, event.ClickedAt)
}

func TestPixelURL(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t, nil)
	got := f.svc.PixelURL("clk-1", "srv-1")
	assert.Contains(t, got, "click_id=clk-1")
	assert.Contains(t, got, "survey_id=srv-1")
}
