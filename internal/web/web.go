package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"

	"copilot/internal/config"
	appLog "copilot/internal/log"
	"copilot/internal/metrics"
	"copilot/internal/model"
	"copilot/internal/relevance"
	"copilot/internal/surface"
)

const maxBodyBytes = 1 << 20

// EventSource is the read side of the event store.
type EventSource interface {
	Events() []model.Event
	UpdatedAt() time.Time
}

// Server exposes today's events to the dashboard.
type Server struct {
	cfg     *config.Config
	events  EventSource
	filter  *relevance.Filter
	metrics *metrics.Metrics
	mux     *http.ServeMux

	// memo caches the last surfaces built per timezone, keyed by
	// relevance.CacheKey. The filter itself stays stateless.
	memoMu sync.Mutex
	memo   map[string]memoEntry
}

type memoEntry struct {
	key      string
	briefing surface.Briefing
	layer    surface.MapLayer
}

// NewServer constructs a Server. m may be nil when metrics are not wanted.
func NewServer(cfg *config.Config, events EventSource, filter *relevance.Filter, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		events:  events,
		filter:  filter,
		metrics: m,
		mux:     http.NewServeMux(),
		memo:    make(map[string]memoEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the full middleware chain: panic recovery, CORS for the
// configured UI origin, then basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		h = s.basicAuthMiddleware(h)
	}
	if s.cfg != nil && s.cfg.UIOrigin != "" {
		h = handlers.CORS(
			handlers.AllowedOrigins([]string{s.cfg.UIOrigin}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
			handlers.AllowCredentials(),
		)(h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/events/today", s.handleEventsToday)
	s.mux.HandleFunc("GET /api/briefing", s.handleBriefing)
	s.mux.HandleFunc("GET /api/map", s.handleMap)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="copilot", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type eventsResponse struct {
	Events    []model.Event `json:"events"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// handleEvents returns the raw stored set, unfiltered.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:    s.events.Events(),
		UpdatedAt: s.events.UpdatedAt(),
	})
}

// todayMeta is shared by the filtered responses.
type todayMeta struct {
	Timezone        string `json:"timezone"`
	Today           string `json:"today,omitempty"`
	TimezoneMissing bool   `json:"timezone_missing,omitempty"`
	TimezoneInvalid bool   `json:"timezone_invalid,omitempty"`
	EndTimePolicy   string `json:"end_time_policy"`
}

type briefingResponse struct {
	todayMeta
	surface.Briefing
}

type mapResponse struct {
	todayMeta
	surface.MapLayer
}

// handleBriefing serves GET /api/briefing?timezone=America/Chicago.
func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	meta, entry, total := s.today(r.URL.Query().Get("timezone"))
	s.recordFiltered("briefing", total, entry.briefing.Total)
	writeJSON(w, http.StatusOK, briefingResponse{todayMeta: meta, Briefing: entry.briefing})
}

// handleMap serves GET /api/map?timezone=America/Chicago.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	meta, entry, total := s.today(r.URL.Query().Get("timezone"))
	s.recordFiltered("map", total, len(entry.layer.Events()))
	writeJSON(w, http.StatusOK, mapResponse{todayMeta: meta, MapLayer: entry.layer})
}

type todayRequest struct {
	Timezone string        `json:"timezone"`
	Events   []model.Event `json:"events"`
}

type todayResponse struct {
	todayMeta
	Events []model.Event `json:"events"`
}

// handleEventsToday filters a caller-supplied list: POST /api/events/today.
func (s *Server) handleEventsToday(w http.ResponseWriter, r *http.Request) {
	var req todayRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	meta := s.meta(req.Timezone)
	var events []model.Event
	if meta.Today != "" {
		events = s.filter.FilterEventsOn(req.Events, meta.Today)
	} else {
		// Yields nothing, but reports the defect.
		events = s.filter.FilterEventsForToday(req.Events, req.Timezone)
	}
	if s.metrics != nil {
		s.metrics.Filtered("api", len(req.Events), len(events))
	}
	writeJSON(w, http.StatusOK, todayResponse{todayMeta: meta, Events: events})
}

func (s *Server) meta(timezone string) todayMeta {
	meta := todayMeta{Timezone: timezone, EndTimePolicy: s.filter.Policy().String()}
	today, err := s.filter.Today(timezone)
	switch {
	case errors.Is(err, relevance.ErrMissingTimezone):
		meta.TimezoneMissing = true
	case err != nil:
		meta.TimezoneInvalid = true
	default:
		meta.Today = today
	}
	return meta
}

// today builds both surfaces for timezone from the stored events, reusing
// the memoized result while events, timezone and local day are unchanged.
// The local day is resolved once and used for both the key and the filter.
func (s *Server) today(timezone string) (todayMeta, memoEntry, int) {
	events := s.events.Events()
	meta := s.meta(timezone)

	if meta.Today == "" {
		// Run the filter anyway so the defect is reported; it yields nothing.
		briefing, layer := surface.Today(s.filter, events, timezone)
		return meta, memoEntry{briefing: briefing, layer: layer}, len(events)
	}

	key := relevance.CacheKey(events, timezone, meta.Today)

	s.memoMu.Lock()
	cached, ok := s.memo[timezone]
	s.memoMu.Unlock()
	if ok && cached.key == key {
		return meta, cached, len(events)
	}

	briefing, layer := surface.On(s.filter, events, meta.Today)
	entry := memoEntry{key: key, briefing: briefing, layer: layer}

	s.memoMu.Lock()
	s.memo[timezone] = entry
	s.memoMu.Unlock()

	appLog.Debug("today view rebuilt", "timezone", timezone, "today", meta.Today, "events", len(events), "relevant", briefing.Total)
	return meta, entry, len(events)
}

func (s *Server) recordFiltered(surfaceName string, total, included int) {
	if s.metrics != nil {
		s.metrics.Filtered(surfaceName, total, included)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// recoveryLogger routes gorilla's panic reports into the app logger.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	appLog.Error("http handler panic recovered", errors.New(fmt.Sprint(v...)))
}
