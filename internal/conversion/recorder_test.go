package conversion

import (
	"context"
	"testing"
	"time"

	"github.com/offerpath/offerpath/internal/clock"
	"github.com/offerpath/offerpath/internal/epc"
	"github.com/offerpath/offerpath/internal/models"
	"github.com/offerpath/offerpath/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedClick(t *testing.T, clicks *storage.InMemoryClickStore, id, offerID string, at time.Time) {
	t.Helper()
	require.NoError(t, clicks.SaveClick(context.Background(), &models.ClickEvent{
		ID:        id,
		ClickedAt: at,
		OfferID:   offerID,
		SessionID: "ses-1",
		Status:    models.ClickStatusValid,
	}))
}

func TestMarkConversionAppliesOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	clicks := storage.NewInMemoryClickStore()
	seedClick(t, clicks, "clk-1", "off-1", now.Add(-time.Hour))

	r := NewRecorder(clicks, clock.Fixed{At: now}, zap.NewNop(), nil)

	first, err := r.MarkConversion(context.Background(), "clk-1", 10)
	require.NoError(t, err)
	assert.True(t, first.Converted)
	assert.Equal(t, 10.0, first.Revenue)
	require.NotNil(t, first.ConvertedAt)
	assert.Equal(t, now, *first.ConvertedAt)

	// Replay with a different revenue: success, but the stored record
	// comes back untouched.
	second, err := r.MarkConversion(context.Background(), "clk-1", 20)
	require.NoError(t, err)
	assert.True(t, second.Converted)
	assert.Equal(t, 10.0, second.Revenue)
	assert.Equal(t, *first.ConvertedAt, *second.ConvertedAt)
}

func TestMarkConversionUnknownClick(t *testing.T) {
	t.Parallel()

	r := NewRecorder(storage.NewInMemoryClickStore(), clock.Fixed{At: time.Now()}, zap.NewNop(), nil)

	_, err := r.MarkConversion(context.Background(), "nope", 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkConversionEmptyClickID(t *testing.T) {
	t.Parallel()

	r := NewRecorder(storage.NewInMemoryClickStore(), clock.Fixed{At: time.Now()}, zap.NewNop(), nil)

	_, err := r.MarkConversion(context.Background(), "", 5)
	assert.True(t, storage.IsValidation(err))
}

func TestComposedRecorderRefreshesMetricsCache(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	clk := clock.Fixed{At: now}

	clicks := storage.NewInMemoryClickStore()
	offers := storage.NewInMemoryOfferRepo()
	questions := storage.NewInMemoryQuestionRepo(offers)
	require.NoError(t, offers.UpsertOffer(context.Background(), &models.Offer{
		ID:     "off-1",
		Status: models.OfferStatusActive,
	}))

	seedClick(t, clicks, "clk-1", "off-1", now.Add(-time.Hour))
	seedClick(t, clicks, "clk-2", "off-1", now.Add(-2*time.Hour))

	calc := epc.NewCalculator(clicks, offers, questions, clk, zap.NewNop(), nil)
	composed := NewComposedRecorder(NewRecorder(clicks, clk, zap.NewNop(), nil), calc, 7)

	_, err := composed.MarkConversion(context.Background(), "clk-1", 8)
	require.NoError(t, err)

	offer, err := offers.GetOffer(context.Background(), "off-1")
	require.NoError(t, err)
	require.NotNil(t, offer.Metrics)
	assert.Equal(t, int64(2), offer.Metrics.TotalClicks)
	assert.Equal(t, int64(1), offer.Metrics.TotalConversions)
	assert.Equal(t, 4.0, offer.Metrics.EPC)

	// A replayed postback still recomputes the cache; the numbers do
	// not move because the ledger did not.
	_, err = composed.MarkConversion(context.Background(), "clk-1", 999)
	require.NoError(t, err)

	offer, err = offers.GetOffer(context.Background(), "off-1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, offer.Metrics.EPC)
	assert.Equal(t, int64(1), offer.Metrics.TotalConversions)
}
