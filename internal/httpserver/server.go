package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/offerpath/offerpath/internal/clock"
	"github.com/offerpath/offerpath/internal/config"
	"github.com/offerpath/offerpath/internal/conversion"
	"github.com/offerpath/offerpath/internal/dashboard"
	"github.com/offerpath/offerpath/internal/database"
	"github.com/offerpath/offerpath/internal/epc"
	"github.com/offerpath/offerpath/internal/metrics"
	"github.com/offerpath/offerpath/internal/models"
	"github.com/offerpath/offerpath/internal/session"
	"github.com/offerpath/offerpath/internal/storage"
	"github.com/offerpath/offerpath/internal/tracking"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server wraps HTTP handlers and the routing services.
type Server struct {
	tracker     *tracking.Service
	recorder    *conversion.ComposedRecorder
	ranker      *epc.Ranker
	aggregator  *dashboard.Aggregator
	impressions dashboard.ImpressionSource
	sessions    session.Registrar
	offers      storage.OfferRepo
	questions   storage.QuestionRepo
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	// Storage: Postgres when available, in-memory otherwise.
	var (
		clickStore storage.ClickStore
		offerRepo  storage.OfferRepo
		qRepo      storage.QuestionRepo
	)
	if deps.DB != nil {
		clickStore = storage.NewPostgresClickStore(deps.DB.Pool)
		offerRepo = storage.NewPostgresOfferRepo(deps.DB.Pool)
		qRepo = storage.NewPostgresQuestionRepo(deps.DB.Pool)
	} else {
		clickStore = storage.NewInMemoryClickStore()
		memOffers := storage.NewInMemoryOfferRepo()
		offerRepo = memOffers
		qRepo = storage.NewInMemoryQuestionRepo(memOffers)
	}

	// Redis-backed counters fall back to process-local ones.
	var (
		sessions    session.Registrar
		capper      tracking.ClickCapper
		impressions dashboard.ImpressionSource
	)
	if deps.Redis != nil {
		sessions = session.NewRedisValidator(deps.Redis.Client, deps.Config.Tracking.SessionTTL)
		capper = tracking.NewRedisClickCapper(deps.Redis.Client)
		impressions = dashboard.NewRedisImpressionCounter(deps.Redis.Client)
	} else {
		sessions = session.NewMemoryValidator()
		capper = tracking.NewMemoryClickCapper()
		impressions = dashboard.NewMemoryImpressionCounter()
	}

	var geo tracking.GeoProvider
	if deps.Config.Geo.Enabled {
		provider, err := tracking.NewMaxMindGeoProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo provider, clicks will not be geo-enriched", zap.Error(err))
		} else {
			geo = provider
		}
	}

	clk := clock.System{}
	windowDays := deps.Config.Tracking.DefaultWindowDays

	tracker := tracking.NewService(
		clickStore, offerRepo, sessions, capper, geo,
		deps.Config.Tracking.PixelBaseURL, clk, deps.Logger, deps.Metrics,
	)
	calc := epc.NewCalculator(clickStore, offerRepo, qRepo, clk, deps.Logger, deps.Metrics)
	recorder := conversion.NewComposedRecorder(
		conversion.NewRecorder(clickStore, clk, deps.Logger, deps.Metrics),
		calc, windowDays,
	)
	ranker := epc.NewRanker(calc, windowDays, deps.Logger, deps.Metrics)
	aggregator := dashboard.NewAggregator(
		clickStore, offerRepo, qRepo, impressions, clk, deps.Logger, deps.Metrics,
	)

	s := &Server{
		tracker:     tracker,
		recorder:    recorder,
		ranker:      ranker,
		aggregator:  aggregator,
		impressions: impressions,
		sessions:    sessions,
		offers:      offerRepo,
		questions:   qRepo,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Tracking
	mux.HandleFunc("/track/click", s.handleClick)
	mux.HandleFunc("/track/impression", s.handleImpression)

	// Conversion postbacks
	mux.HandleFunc("/postback/conversion", s.handleConversion)

	// Question ranking
	mux.HandleFunc("/questions/ranked", s.handleRankedQuestions)

	// Dashboard
	mux.HandleFunc("/dashboard/metrics", s.handleDashboardMetrics)

	// Catalog management
	mux.HandleFunc("/offers", s.handleOffers)
	mux.HandleFunc("/offers/", s.handleOfferByID)
	mux.HandleFunc("/questions", s.handleQuestions)
	mux.HandleFunc("/questions/", s.handleQuestionByID)

	// Sessions
	mux.HandleFunc("/sessions", s.handleSessions)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Click Tracking ----

type clickPayload struct {
	SessionID       string `json:"session_id"`
	QuestionID      string `json:"question_id"`
	OfferID         string `json:"offer_id"`
	ButtonVariantID string `json:"button_variant_id"`
	SurveyID        string `json:"survey_id"`
	// Timestamp is optional; late-delivered or batched clicks carry
	// their original click time so they land in the right window.
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p clickPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	event, targetURL, err := s.tracker.RecordClick(r.Context(), tracking.ClickRequest{
		SessionID:       p.SessionID,
		QuestionID:      p.QuestionID,
		OfferID:         p.OfferID,
		ButtonVariantID: p.ButtonVariantID,
		SurveyID:        p.SurveyID,
		Timestamp:       p.Timestamp,
		UserAgent:       r.UserAgent(),
		IP:              clientIP(r),
	})
	if err != nil {
		s.serviceError(w, "failed to record click", err)
		return
	}

	s.jsonResponse(w, map[string]any{
		"click_id":   event.ID,
		"status":     event.Status,
		"target_url": targetURL,
		"pixel_url":  s.tracker.PixelURL(event.ID, event.SurveyID),
	})
}

func (s *Server) handleImpression(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		QuestionID string `json:"question_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.QuestionID == "" {
		s.errorResponse(w, "question_id required", http.StatusBadRequest)
		return
	}

	if err := s.impressions.Record(r.Context(), body.QuestionID, time.Now().UTC()); err != nil {
		s.logger.Error("failed to record impression", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.metrics.RecordImpression(body.QuestionID)
	w.WriteHeader(http.StatusNoContent)
}

// ---- Conversion Postbacks ----

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	// Affiliate networks fire postbacks as GET pixels as often as
	// server-to-server POSTs.
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	clickID := q.Get("click_id")
	revenue := 0.0
	if v := q.Get("revenue"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			s.errorResponse(w, "invalid revenue", http.StatusBadRequest)
			return
		}
		revenue = parsed
	}

	event, err := s.recorder.MarkConversion(r.Context(), clickID, revenue)
	if err != nil && event == nil {
		s.serviceError(w, "failed to record conversion", err)
		return
	}
	if err != nil {
		// Conversion is durable; only the cached metrics write-back
		// failed. The next postback or recompute converges it.
		s.logger.Warn("conversion recorded with stale metrics cache", zap.Error(err))
	}

	s.jsonResponse(w, map[string]any{
		"click_id":  event.ID,
		"converted": event.Converted,
		"revenue":   event.Revenue,
	})
}

// ---- Question Ranking ----

func (s *Server) handleRankedQuestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	questions, err := s.questions.ListQuestions(r.Context())
	if err != nil {
		s.logger.Error("failed to list questions", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	if surveyID := r.URL.Query().Get("survey_id"); surveyID != "" {
		filtered := questions[:0]
		for _, q := range questions {
			if q.SurveyID == surveyID {
				filtered = append(filtered, q)
			}
		}
		questions = filtered
	}

	s.jsonResponse(w, s.ranker.Order(r.Context(), questions))
}

// ---- Dashboard ----

func (s *Server) handleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	f := dashboard.Filters{TimeRange: dashboard.TimeRange(q.Get("time_range"))}
	if ids := q.Get("offer_ids"); ids != "" {
		f.OfferIDs = strings.Split(ids, ",")
	}
	if v := q.Get("min_epc"); v != "" {
		minEPC, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.errorResponse(w, "invalid min_epc", http.StatusBadRequest)
			return
		}
		f.MinEPC = &minEPC
	}

	d, err := s.aggregator.DashboardMetrics(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to build dashboard", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, d)
}

// ---- Offer Catalog ----

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.offers.ListOffers(r.Context())
		if err != nil {
			s.logger.Error("failed to list offers", zap.Error(err))
			s.errorResponse(w, "failed to list", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var o models.Offer
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if o.ID == "" {
			s.errorResponse(w, "id required", http.StatusBadRequest)
			return
		}
		if err := s.offers.UpsertOffer(r.Context(), &o); err != nil {
			s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
			return
		}
		s.jsonResponse(w, o)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOfferByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/offers/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	o, err := s.offers.GetOffer(r.Context(), id)
	if err != nil {
		s.serviceError(w, "failed to get offer", err)
		return
	}
	s.jsonResponse(w, o)
}

// ---- Question Catalog ----

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.questions.ListQuestions(r.Context())
		if err != nil {
			s.logger.Error("failed to list questions", zap.Error(err))
			s.errorResponse(w, "failed to list", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var q models.Question
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if q.ID == "" {
			s.errorResponse(w, "id required", http.StatusBadRequest)
			return
		}
		if err := s.questions.UpsertQuestion(r.Context(), &q); err != nil {
			s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
			return
		}
		s.jsonResponse(w, q)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleQuestionByID serves /questions/{id} and the offer link
// sub-resource /questions/{id}/offers.
func (s *Server) handleQuestionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/questions/")
	if rest == "" || rest == "ranked" {
		http.NotFound(w, r)
		return
	}

	id, sub, _ := strings.Cut(rest, "/")

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q, err := s.questions.GetQuestion(r.Context(), id)
		if err != nil {
			s.serviceError(w, "failed to get question", err)
			return
		}
		s.jsonResponse(w, q)

	case "offers":
		switch r.Method {
		case http.MethodGet:
			offers, err := s.questions.EligibleOffers(r.Context(), id)
			if err != nil {
				s.serviceError(w, "failed to list eligible offers", err)
				return
			}
			s.jsonResponse(w, offers)

		case http.MethodPost:
			var body struct {
				OfferID string `json:"offer_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OfferID == "" {
				s.errorResponse(w, "offer_id required", http.StatusBadRequest)
				return
			}
			if err := s.questions.LinkOffer(r.Context(), id, body.OfferID); err != nil {
				s.serviceError(w, "failed to link offer", err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		http.NotFound(w, r)
	}
}

// ---- Sessions ----

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		s.errorResponse(w, "session_id required", http.StatusBadRequest)
		return
	}

	if err := s.sessions.Register(r.Context(), body.SessionID); err != nil {
		s.logger.Error("failed to register session", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Helper Methods ----

// serviceError maps domain errors onto HTTP status codes.
func (s *Server) serviceError(w http.ResponseWriter, message string, err error) {
	switch {
	case storage.IsValidation(err):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		s.errorResponse(w, "not found", http.StatusNotFound)
	default:
		s.logger.Error(message, zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
