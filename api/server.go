package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/bhuvisx/area-news/backend/internal/config"
	"github.com/bhuvisx/area-news/backend/internal/diagnostics"
	"github.com/bhuvisx/area-news/backend/internal/elasticsearch"
	"github.com/bhuvisx/area-news/backend/internal/metrics"
	"github.com/bhuvisx/area-news/backend/internal/models"
	"github.com/bhuvisx/area-news/backend/internal/normalize"
	"github.com/bhuvisx/area-news/backend/internal/sonar"
)

// Client-facing messages. They never include upstream text.
const (
	msgEnvelope      = "Invalid response from Sonar API"
	msgParseSaved    = "Failed to parse Sonar JSON. Raw saved to backend/data for inspection."
	msgParse         = "Failed to parse Sonar JSON."
	msgShape         = "Parsed response is not an array"
	msgInvalidItem   = "Parsed response contains invalid news items"
	msgFetch         = "Failed to fetch news"
	msgAreaRequired  = "area is required"
	msgSearchOff     = "archive search is disabled"
	msgSearchFailure = "Failed to search archive"
)

type archivePublisher interface {
	Publish(ctx context.Context, area string, items []models.NewsItem) (string, error)
}

type archiveSearcher interface {
	SearchNews(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
	Health(ctx context.Context) error
}

type server struct {
	log        *slog.Logger
	cfg        *config.API
	upstream   sonar.Fetcher
	normalizer *normalize.Normalizer
	diag       *diagnostics.Store
	archive    archivePublisher
	search     archiveSearcher
	metrics    *metrics.Metrics
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/api/news/{area}", s.handleNews)
	r.Get("/api/archive", s.handleArchive)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

func (s *server) handleNews(w http.ResponseWriter, r *http.Request) {
	area := strings.TrimSpace(areaParam(r))
	if area == "" {
		s.metrics.ObserveRequest(metrics.OutcomeBadRequest)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgAreaRequired})
		return
	}

	ctx := r.Context()
	log := s.log.With(slog.String("area", area), slog.String("request_id", middleware.GetReqID(ctx)))

	start := time.Now()
	in, err := s.upstream.Fetch(ctx, sonar.BuildPrompt(area))
	s.metrics.ObserveUpstream(s.cfg.Sonar.Mode, time.Since(start), err)

	if in.Text != "" {
		s.diag.Save(area, in.Text)
	}
	if err != nil {
		s.fail(w, log, err)
		return
	}

	items, err := s.normalizer.NormalizeInput(in)
	if err != nil {
		s.fail(w, log, err)
		return
	}

	if s.archive != nil {
		if _, err := s.archive.Publish(ctx, area, items); err != nil {
			log.Warn("archive publish", slog.Any("err", err))
		}
	}

	s.metrics.ObserveItems(len(items))
	s.metrics.ObserveRequest(metrics.OutcomeOK)
	log.Info("news served", slog.Int("items", len(items)), slog.Duration("took", time.Since(start)))
	writeJSON(w, http.StatusOK, items)
}

// fail logs err in full and answers with the fixed message for its category.
func (s *server) fail(w http.ResponseWriter, log *slog.Logger, err error) {
	outcome, msg := metrics.OutcomeNetwork, msgFetch
	switch {
	case errors.Is(err, normalize.ErrEnvelope):
		outcome, msg = metrics.OutcomeEnvelope, msgEnvelope
	case errors.Is(err, normalize.ErrParse):
		outcome, msg = metrics.OutcomeParse, msgParse
		if s.cfg.DiagnosticsDir != "" {
			msg = msgParseSaved
		}
	case errors.Is(err, normalize.ErrShape):
		outcome, msg = metrics.OutcomeShape, msgShape
	case errors.Is(err, normalize.ErrInvalidItem):
		outcome, msg = metrics.OutcomeInvalidItem, msgInvalidItem
	}

	s.metrics.ObserveRequest(outcome)
	log.Error("news request failed", slog.String("outcome", outcome), slog.Any("err", err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	archive := "disabled"
	if s.search != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		archive = "ok"
		if err := s.search.Health(ctx); err != nil {
			s.log.Warn("archive health", slog.Any("err", err))
			archive = "unavailable"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "archive": archive})
}

func (s *server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msgSearchOff})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.SearchParams{
		Query:  strings.TrimSpace(q.Get("q")),
		Area:   strings.TrimSpace(q.Get("area")),
		Source: strings.TrimSpace(q.Get("source")),
		From:   clampInt(q.Get("from"), 0, 10_000),
		Size:   clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Start:  parseTime(q.Get("start")),
		End:    parseTime(q.Get("end")),
	}

	result, err := s.search.SearchNews(ctx, params)
	if err != nil {
		s.log.Error("archive search", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgSearchFailure})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// areaParam returns the decoded area segment. chi matches on RawPath when the
// request has one, and the segment is still escaped in that case.
func areaParam(r *http.Request) string {
	area := chi.URLParam(r, "area")
	if r.URL.RawPath == "" {
		return area
	}
	if decoded, err := url.PathUnescape(area); err == nil {
		return decoded
	}
	return area
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing useful to do on failure.
	_ = json.NewEncoder(w).Encode(payload)
}
