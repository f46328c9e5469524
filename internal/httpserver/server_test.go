package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/offerpath/offerpath/internal/config"
	"github.com/offerpath/offerpath/internal/dashboard"
	"github.com/offerpath/offerpath/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{}
	cfg.Tracking.DefaultWindowDays = 7
	cfg.Tracking.SessionTTL = time.Hour
	cfg.Tracking.PixelBaseURL = "https://t.example.com/i.gif"

	return NewServer(&Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedCatalog(t *testing.T, h http.Handler) {
	t.Helper()

	rec := doJSON(t, h, http.MethodPost, "/sessions", map[string]string{"session_id": "ses-1"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/offers", &models.Offer{
		ID:                  "off-1",
		Name:                "Alpha",
		Status:              models.OfferStatusActive,
		DestinationTemplate: "https://aff.example.com/go?cid={click_id}",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTrackClickEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)
	seedCatalog(t, h)

	rec := doJSON(t, h, http.MethodPost, "/track/click", map[string]string{
		"session_id":  "ses-1",
		"question_id": "q-1",
		"offer_id":    "off-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ClickID   string `json:"click_id"`
		Status    string `json:"status"`
		TargetURL string `json:"target_url"`
		PixelURL  string `json:"pixel_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ClickID)
	assert.Equal(t, "valid", resp.Status)
	assert.Contains(t, resp.TargetURL, resp.ClickID)
	assert.Contains(t, resp.PixelURL, "click_id="+resp.ClickID)
}

func TestTrackClickEndpointValidation(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)
	seedCatalog(t, h)

	// Unknown session.
	rec := doJSON(t, h, http.MethodPost, "/track/click", map[string]string{
		"session_id":  "ses-unknown",
		"question_id": "q-1",
		"offer_id":    "off-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown offer.
	rec = doJSON(t, h, http.MethodPost, "/track/click", map[string]string{
		"session_id":  "ses-1",
		"question_id": "q-1",
		"offer_id":    "off-missing",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrackClickHonorsSuppliedTimestamp(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)
	seedCatalog(t, h)

	// A batched click delivered two days late carries its original
	// click time and must land in the window that time falls in.
	rec := doJSON(t, h, http.MethodPost, "/track/click", map[string]any{
		"session_id":  "ses-1",
		"question_id": "q-1",
		"offer_id":    "off-1",
		"timestamp":   time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	fetchTotalClicks := func(timeRange string) int64 {
		rec := doJSON(t, h, http.MethodGet, "/dashboard/metrics?time_range="+timeRange, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var d dashboard.Dashboard
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		return d.Summary.TotalClicks
	}

	assert.Equal(t, int64(0), fetchTotalClicks("last24h"))
	assert.Equal(t, int64(1), fetchTotalClicks("last7d"))
}

func TestConversionPostbackEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)
	seedCatalog(t, h)

	rec := doJSON(t, h, http.MethodPost, "/track/click", map[string]string{
		"session_id":  "ses-1",
		"question_id": "q-1",
		"offer_id":    "off-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var click struct {
		ClickID string `json:"click_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &click))

	rec = doJSON(t, h, http.MethodPost, "/postback/conversion?click_id="+click.ClickID+"&revenue=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Replay with different revenue: same shape, stored value wins.
	rec = doJSON(t, h, http.MethodGet, "/postback/conversion?click_id="+click.ClickID+"&revenue=99", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv struct {
		Converted bool    `json:"converted"`
		Revenue   float64 `json:"revenue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.True(t, conv.Converted)
	assert.Equal(t, 10.0, conv.Revenue)

	// Unknown click id.
	rec = doJSON(t, h, http.MethodPost, "/postback/conversion?click_id=nope&revenue=1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
