package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/export"
	"github.com/JakeFAU/nga-monitor/internal/metrics"
	"github.com/JakeFAU/nga-monitor/internal/middleware"
	"github.com/JakeFAU/nga-monitor/internal/monitor"
	"github.com/JakeFAU/nga-monitor/internal/proxy"
)

// Monitor is the crawl run owner driven by the API.
type Monitor interface {
	Start(ctx context.Context, params crawler.RunParams) (string, error)
	Stop() error
	Status() monitor.Status
	Records() []crawler.PostRecord
}

// AlertHistory answers queries over persisted alerts.
type AlertHistory interface {
	Alerted(ctx context.Context, section crawler.SectionID) ([]crawler.PostRecord, error)
}

// Config controls routing and request defaults.
type Config struct {
	// Defaults fill fields omitted from a start request.
	Defaults       crawler.RunParams
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the monitor.
type Server struct {
	router  chi.Router
	monitor Monitor
	history AlertHistory
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. history may be
// nil, in which case /v1/alerts is not served.
func NewServer(mon Monitor, history AlertHistory, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		monitor: mon,
		history: history,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.APIKey(cfg.APIKey))
		}
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/start", s.startCrawl)
			r.Post("/stop", s.stopCrawl)
			r.Get("/status", s.crawlStatus)
		})
		r.Get("/records", s.listRecords)
		r.Get("/records/export", s.exportRecords)
		if history != nil {
			r.Get("/alerts", s.listAlerts)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"crawl":  s.monitor.Status().State,
	})
}

type startRequest struct {
	Sections            []int           `json:"sections"`
	Pages               *int            `json:"pages"`
	MaxRepliesPerThread *int            `json:"max_replies_per_thread"`
	MaxItems            *int            `json:"max_items"`
	UID                 string          `json:"uid"`
	Cookie              string          `json:"cookie"`
	Proxies             json.RawMessage `json:"proxies"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	params, err := s.toRunParams(req)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.monitor.Start(r.Context(), params)
	switch {
	case errors.Is(err, crawler.ErrAlreadyRunning):
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, crawler.ErrInvalidUID), errors.Is(err, crawler.ErrNoSections):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("crawl start failed", zap.Error(err))
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) toRunParams(req startRequest) (crawler.RunParams, error) {
	params := s.cfg.Defaults
	params.Sections = append([]crawler.SectionID(nil), params.Sections...)
	params.Proxies = append([]string(nil), params.Proxies...)
	if len(req.Sections) > 0 {
		params.Sections = params.Sections[:0]
		for _, fid := range req.Sections {
			params.Sections = append(params.Sections, crawler.SectionID(fid))
		}
	}
	if req.Pages != nil {
		params.MaxPagesPerSection = *req.Pages
	}
	if req.MaxRepliesPerThread != nil {
		params.MaxRepliesPerThread = *req.MaxRepliesPerThread
	}
	if req.MaxItems != nil {
		params.MaxItems = *req.MaxItems
	}
	if req.UID != "" {
		params.UID = req.UID
	}
	if req.Cookie != "" {
		params.Cookie = req.Cookie
	}
	if len(req.Proxies) > 0 && string(req.Proxies) != "null" {
		proxies, err := decodeProxies(req.Proxies)
		if err != nil {
			return crawler.RunParams{}, err
		}
		params.Proxies = proxies
	}
	return params, nil
}

// decodeProxies accepts either a JSON list or a newline/comma separated
// string.
func decodeProxies(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, entry := range list {
			out = append(out, proxy.ParseList(entry)...)
		}
		return out, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, errors.New("proxies must be a list or a string")
	}
	return proxy.ParseList(text), nil
}

func (s *Server) stopCrawl(w http.ResponseWriter, _ *http.Request) {
	if err := s.monitor.Stop(); err != nil {
		if errors.Is(err, crawler.ErrNotRunning) {
			middleware.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		middleware.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, s.monitor.Status())
}

func (s *Server) crawlStatus(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	records := s.monitor.Records()
	if r.URL.Query().Get("alerted") == "true" {
		records = alertedOnly(records)
	}
	if records == nil {
		records = []crawler.PostRecord{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) exportRecords(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("format")
	if raw == "" {
		raw = string(export.FormatXLSX)
	}
	format, err := export.ParseFormat(raw)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="posts.%s"`, format))
	if err := export.Write(w, format, s.monitor.Records()); err != nil {
		s.logger.Error("export failed", zap.String("format", string(format)), zap.Error(err))
	}
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	var section crawler.SectionID
	if raw := r.URL.Query().Get("fid"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "invalid fid")
			return
		}
		section = crawler.SectionID(n)
	}
	records, err := s.history.Alerted(r.Context(), section)
	if err != nil {
		s.logger.Error("alert history query failed", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "alert history unavailable")
		return
	}
	if records == nil {
		records = []crawler.PostRecord{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func alertedOnly(records []crawler.PostRecord) []crawler.PostRecord {
	out := make([]crawler.PostRecord, 0, len(records))
	for _, rec := range records {
		if rec.Alerted {
			out = append(out, rec)
		}
	}
	return out
}
