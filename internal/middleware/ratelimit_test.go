package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/offerpath/offerpath/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func limiterConfig() config.RateLimitConfig {
	// Per-IP buckets run at a tenth of the tracking budget, so burst
	// 20 gives each IP a burst of 2.
	return config.RateLimitConfig{
		Enabled:   true,
		RPS:       1000,
		Burst:     20,
		MgmtRPS:   1000,
		MgmtBurst: 20,
	}
}

func doRequest(h http.Handler, path, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitPerIPOnTrackingEndpoints(t *testing.T) {
	t.Parallel()

	rl := NewRateLimitMiddleware(limiterConfig(), zap.NewNop())
	h := rl.Handler(okHandler())

	// One IP exhausts its own bucket without touching anyone else's.
	assert.Equal(t, http.StatusOK, doRequest(h, "/track/click", "10.0.0.1:40000"))
	assert.Equal(t, http.StatusOK, doRequest(h, "/track/click", "10.0.0.1:40000"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "/track/click", "10.0.0.1:40000"))

	assert.Equal(t, http.StatusOK, doRequest(h, "/track/click", "10.0.0.2:40000"))
}

func TestRateLimitCleanupResetsIPBuckets(t *testing.T) {
	t.Parallel()

	rl := NewRateLimitMiddleware(limiterConfig(), zap.NewNop())
	h := rl.Handler(okHandler())

	doRequest(h, "/postback/conversion", "10.0.0.3:40000")
	doRequest(h, "/postback/conversion", "10.0.0.3:40000")
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "/postback/conversion", "10.0.0.3:40000"))

	rl.CleanupIPLimiters()
	assert.Equal(t, http.StatusOK, doRequest(h, "/postback/conversion", "10.0.0.3:40000"))
}

func TestRateLimitManagementEndpointsNotPerIP(t *testing.T) {
	t.Parallel()

	rl := NewRateLimitMiddleware(limiterConfig(), zap.NewNop())
	h := rl.Handler(okHandler())

	// Management requests share the global bucket only; one IP can
	// issue more than the per-IP tracking burst.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doRequest(h, "/dashboard/metrics", "10.0.0.4:40000"))
	}
}

func TestRateLimitDisabled(t *testing.T) {
	t.Parallel()

	cfg := limiterConfig()
	cfg.Enabled = false
	rl := NewRateLimitMiddleware(cfg, zap.NewNop())
	h := rl.Handler(okHandler())

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doRequest(h, "/track/click", "10.0.0.5:40000"))
	}
}
