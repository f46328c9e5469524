package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/offerpath/offerpath/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func click(id, offerID, questionID string, at time.Time, status models.ClickStatus) *models.ClickEvent {
	return &models.ClickEvent{
		ID:         id,
		ClickedAt:  at,
		OfferID:    offerID,
		QuestionID: questionID,
		SessionID:  "ses-1",
		Status:     status,
	}
}

func TestMarkConvertedFirstWriterWins(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s := NewInMemoryClickStore()
	require.NoError(t, s.SaveClick(context.Background(), click("c1", "off-1", "q-1", now, models.ClickStatusValid)))

	got, applied, err := s.MarkConverted(context.Background(), "c1", 10, now)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 10.0, got.Revenue)

	got, applied, err = s.MarkConverted(context.Background(), "c1", 99, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 10.0, got.Revenue)
	assert.Equal(t, now, *got.ConvertedAt)
}

func TestMarkConvertedConcurrent(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewInMemoryClickStore()
	require.NoError(t, s.SaveClick(context.Background(), click("c1", "off-1", "q-1", now, models.ClickStatusValid)))

	const writers = 16
	var wg sync.WaitGroup
	appliedCount := make(chan bool, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(revenue float64) {
			defer wg.Done()
			_, applied, err := s.MarkConverted(context.Background(), "c1", revenue, now)
			assert.NoError(t, err)
			appliedCount <- applied
		}(float64(i + 1))
	}
	wg.Wait()
	close(appliedCount)

	applied := 0
	for ok := range appliedCount {
		if ok {
			applied++
		}
	}
	// Exactly one writer observes the transition.
	assert.Equal(t, 1, applied)
}

func TestMarkConvertedUnknownClick(t *testing.T) {
	t.Parallel()

	s := NewInMemoryClickStore()
	_, _, err := s.MarkConverted(context.Background(), "missing", 1, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOfferWindowStats(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	from := now.AddDate(0, 0, -7)
	s := NewInMemoryClickStore()
	ctx := context.Background()

	require.NoError(t, s.SaveClick(ctx, click("in-1", "off-1", "q-1", now.Add(-time.Hour), models.ClickStatusValid)))
	require.NoError(t, s.SaveClick(ctx, click("in-2", "off-1", "q-1", now.Add(-2*time.Hour), models.ClickStatusValid)))
	require.NoError(t, s.SaveClick(ctx, click("filtered", "off-1", "q-1", now.Add(-time.Hour), models.ClickStatusFiltered)))
	require.NoError(t, s.SaveClick(ctx, click("old", "off-1", "q-1", from.Add(-time.Minute), models.ClickStatusValid)))
	require.NoError(t, s.SaveClick(ctx, click("other", "off-2", "q-1", now, models.ClickStatusValid)))

	_, applied, err := s.MarkConverted(ctx, "in-1", 6, now)
	require.NoError(t, err)
	require.True(t, applied)

	stats, err := s.OfferWindowStats(ctx, "off-1", from, now)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Clicks)
	assert.Equal(t, int64(1), stats.Conversions)
	assert.Equal(t, 6.0, stats.Revenue)
}

func TestWindowSnapshot(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	from := now.AddDate(0, 0, -1)
	s := NewInMemoryClickStore()
	ctx := context.Background()

	require.NoError(t, s.SaveClick(ctx, click("a1", "off-a", "q-1", now.Add(-time.Hour), models.ClickStatusValid)))
	require.NoError(t, s.SaveClick(ctx, click("a2", "off-a", "q-2", now.Add(-time.Hour), models.ClickStatusValid)))
	require.NoError(t, s.SaveClick(ctx, click("b1", "off-b", "q-1", now.Add(-time.Hour), models.ClickStatusValid)))
	require.NoError(t, s.SaveClick(ctx, click("junk", "off-a", "q-1", now.Add(-time.Hour), models.ClickStatusFraud)))

	_, applied, err := s.MarkConverted(ctx, "b1", 3, now)
	require.NoError(t, err)
	require.True(t, applied)

	snap, err := s.WindowSnapshot(ctx, from, now)
	require.NoError(t, err)

	assert.Equal(t, int64(2), snap.Offers["off-a"].Clicks)
	assert.Equal(t, int64(1), snap.Offers["off-b"].Clicks)
	assert.Equal(t, int64(1), snap.Offers["off-b"].Conversions)
	assert.Equal(t, 3.0, snap.Offers["off-b"].Revenue)

	assert.Equal(t, int64(2), snap.QuestionClicks["q-1"])
	assert.Equal(t, int64(1), snap.QuestionClicks["q-2"])
}

func TestGetClickReturnsCopy(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewInMemoryClickStore()
	require.NoError(t, s.SaveClick(context.Background(), click("c1", "off-1", "q-1", now, models.ClickStatusValid)))

	first, err := s.GetClick(context.Background(), "c1")
	require.NoError(t, err)
	first.Revenue = 100

	second, err := s.GetClick(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, second.Revenue)
}

func TestQuestionRepoEligibleOffers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	offers := NewInMemoryOfferRepo()
	questions := NewInMemoryQuestionRepo(offers)

	require.NoError(t, offers.UpsertOffer(ctx, &models.Offer{ID: "off-1", Status: models.OfferStatusActive}))
	require.NoError(t, questions.LinkOffer(ctx, "q-1", "off-1"))
	require.NoError(t, questions.LinkOffer(ctx, "q-1", "off-1")) // duplicate link is a no-op
	require.NoError(t, questions.LinkOffer(ctx, "q-1", "off-gone"))

	got, err := questions.EligibleOffers(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "off-1", got[0].ID)
}

func TestOfferRepoUpdateMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	offers := NewInMemoryOfferRepo()

	err := offers.UpdateMetrics(ctx, "missing", &models.OfferMetrics{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, offers.UpsertOffer(ctx, &models.Offer{ID: "off-1", Status: models.OfferStatusActive}))
	require.NoError(t, offers.UpdateMetrics(ctx, "off-1", &models.OfferMetrics{EPC: 2.5, TotalClicks: 4}))

	got, err := offers.GetOffer(ctx, "off-1")
	require.NoError(t, err)
	require.NotNil(t, got.Metrics)
	assert.Equal(t, 2.5, got.Metrics.EPC)
	assert.Equal(t, int64(4), got.Metrics.TotalClicks)
}
