// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/buildlead/dsa-harvester/internal/config"
	"github.com/buildlead/dsa-harvester/internal/job"
	"github.com/buildlead/dsa-harvester/internal/metrics"
	"github.com/buildlead/dsa-harvester/internal/store"
	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// Server wires HTTP handlers to the record store and job controller.
type Server struct {
	router     chi.Router
	store      *store.Store
	controller *job.Controller
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st *store.Store, controller *job.Controller, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      st,
		controller: controller,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(recoverMiddleware(logger))
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.startJob)
			r.Get("/", s.listJobs)
			r.Post("/cancel", s.cancelJob)
			r.Get("/{job_id}", s.getJobStatus)
		})
		r.Get("/export.csv", s.exportCSV)
		r.Route("/categories", func(r chi.Router) {
			r.Get("/stats", s.categoryStats)
			r.Get("/{category}/projects", s.projectsByCategory)
		})
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.listRules)
			r.Get("/{category}", s.getRule)
			r.Put("/{category}", s.updateRule)
		})
		r.Post("/recategorize", s.recategorize)
		r.Route("/counties", func(r chi.Router) {
			r.Get("/", s.listCounties)
			r.Put("/{code}", s.updateCounty)
		})
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.store.ProjectCount(); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startJobRequest struct {
	CountyID string `json:"county_id"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CountyID == "" {
		s.writeError(w, http.StatusBadRequest, "county_id required")
		return
	}
	county, err := s.store.CountyByCode(req.CountyID)
	if err != nil {
		if errors.Is(err, store.ErrCountyNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown county")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !county.Enabled {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("county %s is disabled", county.Code))
		return
	}

	jobID, err := s.controller.Start(req.CountyID)
	if err != nil {
		if errors.Is(err, job.ErrJobRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"county": county.Name,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, _ *http.Request) {
	jobID, err := s.controller.Cancel()
	if err != nil {
		if errors.Is(err, job.ErrNoActiveJob) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"status": string(tracker.JobStatusStopped),
	})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "job_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	j, err := s.controller.Status(jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": j})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 20)
	jobs, err := s.store.RecentJobs(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	var filters store.ExportFilters
	if raw := r.URL.Query().Get("min_estimated_amount"); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid min_estimated_amount")
			return
		}
		filters.MinEstimatedAmount = &amount
	}
	for _, q := range []struct {
		name   string
		target **time.Time
	}{
		{"received_after", &filters.ReceivedAfter},
		{"approved_after", &filters.ApprovedAfter},
	} {
		raw := r.URL.Query().Get(q.name)
		if raw == "" {
			continue
		}
		t, ok := tracker.ParseDate(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid "+q.name)
			return
		}
		*q.target = &t
	}

	data, err := s.store.ExportCSV(filters)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusNotFound, "no projects match the filters")
		return
	}
	filename := fmt.Sprintf("dgs_projects_%s.csv", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := w.Write(data); err != nil {
		s.logger.Error("csv write failed", zap.Error(err))
	}
}

func (s *Server) categoryStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.store.CategoryStatistics()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"categories": stats})
}

func (s *Server) projectsByCategory(w http.ResponseWriter, r *http.Request) {
	category := tracker.Category(chi.URLParam(r, "category"))
	limit := intQuery(r, "limit", 0)
	projects, err := s.store.ProjectsByCategory(category, limit)
	if err != nil {
		if errors.Is(err, store.ErrCategoryUnknown) {
			s.writeError(w, http.StatusNotFound, "unknown category")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"count":    len(projects),
		"projects": projects,
	})
}

func (s *Server) listRules(w http.ResponseWriter, _ *http.Request) {
	rules, err := s.store.Rules()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	category := tracker.Category(chi.URLParam(r, "category"))
	rule, err := s.store.Rule(category)
	if err != nil {
		if errors.Is(err, store.ErrCategoryUnknown) {
			s.writeError(w, http.StatusNotFound, "unknown category")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

type updateRuleRequest struct {
	MinAmount     int64    `json:"min_amount"`
	ReceivedAfter string   `json:"received_after"`
	ApprovedAfter string   `json:"approved_after"`
	Keywords      []string `json:"keywords"`
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	category := tracker.Category(chi.URLParam(r, "category"))
	var req updateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rule := tracker.ScoringRule{
		Category:  category,
		MinAmount: req.MinAmount,
		Keywords:  req.Keywords,
	}
	for _, d := range []struct {
		raw    string
		target *time.Time
		name   string
	}{
		{req.ReceivedAfter, &rule.ReceivedAfter, "received_after"},
		{req.ApprovedAfter, &rule.ApprovedAfter, "approved_after"},
	} {
		if d.raw == "" {
			continue
		}
		t, ok := tracker.ParseDate(d.raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid "+d.name)
			return
		}
		*d.target = t
	}
	if err := s.store.UpdateRule(rule); err != nil {
		if errors.Is(err, store.ErrCategoryUnknown) {
			s.writeError(w, http.StatusNotFound, "unknown category")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (s *Server) recategorize(w http.ResponseWriter, _ *http.Request) {
	n, err := s.store.RecategorizeAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"recategorized": n})
}

func (s *Server) listCounties(w http.ResponseWriter, _ *http.Request) {
	counties, err := s.store.Counties()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"counties": counties})
}

type updateCountyRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) updateCounty(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req updateCountyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.store.SetCountyEnabled(code, req.Enabled); err != nil {
		if errors.Is(err, store.ErrCountyNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown county")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	county, err := s.store.CountyByCode(code)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"county": county})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	total, err := s.store.ProjectCount()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	categories, err := s.store.CategoryStatistics()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := map[string]any{
		"total_projects": total,
		"categories":     categories,
	}
	if jobID, ok := s.controller.ActiveJobID(); ok {
		payload["active_job_id"] = jobID
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
