package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/social-fetcher/internal/config"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/internal/usecase"
)

// Server aggregates handlers dependencies.
type Server struct {
	Cfg        config.Config
	Fetch      usecase.FetchService
	DBCheck    func(ctx context.Context) error
	QueueCheck func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
// RedisCheck may be nil when the limiter runs in local mode.
func NewServer(cfg config.Config, fetch usecase.FetchService, dbCheck, queueCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Fetch: fetch, DBCheck: dbCheck, QueueCheck: queueCheck, RedisCheck: redisCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// Default result counts when the request leaves count unset.
const (
	defaultSimilarCount = 50
	defaultSearchCount  = 20
)

// maxBodyBytes caps intake request bodies.
const maxBodyBytes = 1 << 20 // 1MB

// SimilarHandler accepts a similar-user fetch request and returns the
// pending task.
func (s *Server) SimilarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept negotiation: only JSON responses supported
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotAcceptable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "INVALID_ARGUMENT", "message": "not acceptable", "details": map[string]any{"accept": a}}})
			return
		}
		// Cap body size to prevent abuse
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req struct {
			Platform string                `json:"platform" validate:"required"`
			Username string                `json:"username" validate:"required"`
			UID      string                `json:"uid"`
			Count    int                   `json:"count" validate:"omitempty,min=1,max=100"`
			Follows  *domain.FollowsFilter `json:"follows"`
			AvgViews *domain.ViewsFilter   `json:"avg_views"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		if req.Count == 0 {
			req.Count = defaultSimilarCount
		}
		params := domain.SimilarParams{
			Username: req.Username,
			UID:      req.UID,
			Count:    req.Count,
			Follows:  req.Follows,
			AvgViews: req.AvgViews,
		}
		t, err := s.Fetch.Similar(r.Context(), domain.Platform(req.Platform), params)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"task_id": t.TaskID, "status": string(t.Status)})
	}
}

// SearchHandler accepts a user-search fetch request and returns the
// pending task.
func (s *Server) SearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept negotiation: only JSON responses supported
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotAcceptable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "INVALID_ARGUMENT", "message": "not acceptable", "details": map[string]any{"accept": a}}})
			return
		}
		// Cap body size to prevent abuse
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req struct {
			Platform string                `json:"platform" validate:"required"`
			Query    string                `json:"query" validate:"required"`
			Count    int                   `json:"count" validate:"omitempty,min=1,max=100"`
			Follows  *domain.FollowsFilter `json:"follows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		if req.Count == 0 {
			req.Count = defaultSearchCount
		}
		params := domain.SearchParams{
			Query:   req.Query,
			Count:   req.Count,
			Follows: req.Follows,
		}
		t, err := s.Fetch.Search(r.Context(), domain.Platform(req.Platform), params)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"task_id": t.TaskID, "status": string(t.Status)})
	}
}

// TaskHandler returns task status and results when completed.
func (s *Server) TaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept negotiation: only JSON responses supported
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotAcceptable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "INVALID_ARGUMENT", "message": "not acceptable", "details": map[string]any{"accept": a}}})
			return
		}
		id := chi.URLParam(r, "task_id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: task_id missing", domain.ErrInvalidArgument), nil)
			return
		}
		t, err := s.Fetch.GetTask(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := map[string]any{"task_id": t.TaskID, "status": string(t.Status)}
		if t.Status == domain.TaskCompleted {
			// A completed task always carries its result list, even when
			// every candidate was filtered out.
			rs := t.Result
			if rs == nil {
				rs = []domain.UserRecord{}
			}
			out["results"] = rs
		}
		if t.Error != "" {
			out["error"] = t.Error
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// HealthHandler reports overall service health with per-component detail.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		components := map[string]string{}
		healthy := true
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				components["database"] = err.Error()
				healthy = false
			} else {
				components["database"] = "ok"
			}
		}
		if s.QueueCheck != nil {
			if err := s.QueueCheck(ctx); err != nil {
				components["workqueue"] = err.Error()
				healthy = false
			} else {
				components["workqueue"] = "ok"
			}
		}
		status, st := "ok", http.StatusOK
		if !healthy {
			status, st = "degraded", http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"status": status, "components": components})
	}
}

// ReadyzHandler returns a readiness handler that probes the database, the
// work queue and, when configured, Redis.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.QueueCheck != nil {
			if err := s.QueueCheck(ctx); err != nil {
				checks = append(checks, check{Name: "workqueue", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "workqueue", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// taskSummary is the admin browser row. Full result payloads stay out of
// the listing; operators follow up on a single task when they need them.
type taskSummary struct {
	TaskID    string    `json:"task_id"`
	Platform  string    `json:"platform"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Results   int       `json:"results"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminTasksHandler lists recent tasks for operators.
func (s *Server) AdminTasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}
		tasks, err := s.Fetch.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		rows := make([]taskSummary, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, taskSummary{
				TaskID:    t.TaskID,
				Platform:  string(t.Platform),
				Action:    string(t.Action),
				Status:    string(t.Status),
				Results:   len(t.Result),
				Error:     t.Error,
				CreatedAt: t.CreatedAt,
				UpdatedAt: t.UpdatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": rows, "count": len(rows)})
	}
}
