// Package api is the read-only HTTP surface over synced listings.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"listings_sync/metrics"
	"listings_sync/models"
)

// Reader is the query side of the listings store.
type Reader interface {
	Ping(ctx context.Context) error
	SearchProperties(ctx context.Context, p models.PropertySearchParams) (*models.PropertySearchResult, error)
	GetPropertyDetail(ctx context.Context, listingKey string) (*models.PropertyDetail, error)
	GetPropertyHistory(ctx context.Context, listingKey string) (*models.PropertyHistory, error)
	ListSyncStates(ctx context.Context) ([]models.SyncState, error)
}

// RunLister exposes recent run history and the log lines of each run.
type RunLister interface {
	ListRecentRuns(syncType models.SyncType, limit int) ([]models.SyncRun, error)
	GetRunLogs(runID int64) ([]models.SyncLog, error)
}

type PauseReporter interface {
	IsPaused() bool
}

type Options struct {
	RateLimitPerMin int
	Runs            RunLister
	Pause           PauseReporter
}

type Server struct {
	reader Reader
	runs   RunLister
	pause  PauseReporter
}

func NewRouter(reader Reader, opts Options) http.Handler {
	s := &Server{reader: reader, runs: opts.Runs, pause: opts.Pause}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(accessLog)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimitPerMin > 0 {
			r.Use(httprate.LimitByIP(opts.RateLimitPerMin, time.Minute))
		}
		r.Get("/properties", s.handleSearch)
		r.Get("/properties/{listingKey}", s.handleProperty)
		r.Get("/properties/{listingKey}/history", s.handleHistory)
		r.Get("/sync/status", s.handleSyncStatus)
		r.Get("/sync/runs/{runID}/logs", s.handleRunLogs)
	})

	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(status)).Observe(elapsed.Seconds())

		log.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Msg("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.reader.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "UNHEALTHY", "database unreachable", err)
		return
	}
	respondData(w, map[string]string{"database": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params, apiErr := parseSearchParams(r)
	if apiErr == nil {
		apiErr = validateRequest(params)
	}
	if apiErr != nil {
		respondJSON(w, http.StatusBadRequest, &Response{Status: "error", Error: apiErr})
		return
	}

	result, err := s.reader.SearchProperties(r.Context(), *params)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_ERROR", "search failed", err)
		return
	}
	respondData(w, result)
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "listingKey")
	detail, err := s.reader.GetPropertyDetail(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_ERROR", "property lookup failed", err)
		return
	}
	if detail == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "property not found", nil)
		return
	}
	respondData(w, detail)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "listingKey")
	history, err := s.reader.GetPropertyHistory(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_ERROR", "history lookup failed", err)
		return
	}
	if history == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no listing history for property", nil)
		return
	}
	respondData(w, history)
}

type syncStatus struct {
	Paused     bool               `json:"paused"`
	Feeds      []models.SyncState `json:"feeds"`
	RecentRuns []models.SyncRun   `json:"recent_runs,omitempty"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	states, err := s.reader.ListSyncStates(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_ERROR", "sync state lookup failed", err)
		return
	}
	status := syncStatus{Feeds: states}
	if status.Feeds == nil {
		status.Feeds = []models.SyncState{}
	}
	if s.pause != nil {
		status.Paused = s.pause.IsPaused()
	}
	if s.runs != nil {
		runs, err := s.runs.ListRecentRuns("", 10)
		if err != nil {
			log.Warn().Err(err).Msg("Could not list recent runs")
		}
		status.RecentRuns = runs
	}
	respondData(w, status)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil || runID <= 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "run id must be a positive integer", nil)
		return
	}
	if s.runs == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "run history is not available", nil)
		return
	}
	logs, err := s.runs.GetRunLogs(runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_ERROR", "run log lookup failed", err)
		return
	}
	if logs == nil {
		logs = []models.SyncLog{}
	}
	respondData(w, logs)
}

const defaultPageSize = 20

func parseSearchParams(r *http.Request) (*models.PropertySearchParams, *APIError) {
	q := r.URL.Query()
	p := &models.PropertySearchParams{
		City:         strings.TrimSpace(q.Get("city")),
		Status:       strings.TrimSpace(q.Get("status")),
		PropertyType: strings.TrimSpace(q.Get("property_type")),
		Limit:        defaultPageSize,
	}

	var bad []string
	floatParam := func(name string) *float64 {
		v := q.Get(name)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			bad = append(bad, name)
			return nil
		}
		return &f
	}
	intParam := func(name string, dst *int) bool {
		v := q.Get(name)
		if v == "" {
			return false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			bad = append(bad, name)
			return false
		}
		*dst = n
		return true
	}

	p.MinPrice = floatParam("min_price")
	p.MaxPrice = floatParam("max_price")
	var beds int
	if intParam("min_beds", &beds) {
		p.MinBeds = &beds
	}
	intParam("limit", &p.Limit)
	intParam("offset", &p.Offset)

	if len(bad) > 0 {
		return nil, &APIError{
			Code:    "VALIDATION_ERROR",
			Message: "invalid number in: " + strings.Join(bad, ", "),
		}
	}
	if p.MinPrice != nil && p.MaxPrice != nil && *p.MaxPrice < *p.MinPrice {
		return nil, &APIError{Code: "VALIDATION_ERROR", Message: "max_price must not be less than min_price"}
	}
	return p, nil
}
