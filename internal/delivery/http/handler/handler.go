package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/backup"
	"github.com/user/autoria-crawler/internal/delivery/http/request"
	"github.com/user/autoria-crawler/internal/delivery/http/response"
	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/repository"
	"github.com/user/autoria-crawler/internal/scheduler"
	"github.com/user/autoria-crawler/internal/supervisor"
	"github.com/user/autoria-crawler/internal/usecase"
)

// CrawlController starts, stops and inspects the crawl process.
type CrawlController interface {
	Start() (entity.Run, error)
	Stop(ctx context.Context) (entity.Run, error)
	Status() entity.Run
	ListLogs() ([]string, error)
	ReadLog(name string) ([]byte, error)
}

// SchedulerController toggles the daily jobs.
type SchedulerController interface {
	Start() error
	Stop() error
	Status() scheduler.Status
}

// BackupRunner takes one database dump.
type BackupRunner interface {
	Run(ctx context.Context) (*backup.Result, error)
}

// PingFunc checks one dependency.
type PingFunc func(ctx context.Context) error

// Deps are the services behind the control surface.
type Deps struct {
	Crawl     CrawlController
	Scheduler SchedulerController
	Backup    BackupRunner
	Listings  usecase.ListingQuery
	Checks    map[string]PingFunc
}

type Handler struct {
	deps   Deps
	logger *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := response.HealthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	for name, ping := range h.deps.Checks {
		if err := ping(ctx); err != nil {
			h.logger.Error("health check failed", zap.String("dependency", name), zap.Error(err))
			resp.Checks[name] = "unhealthy"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "healthy"
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) HandleStartCrawl(w http.ResponseWriter, r *http.Request) {
	run, err := h.deps.Crawl.Start()
	if errors.Is(err, supervisor.ErrAlreadyRunning) {
		h.writeJSON(w, http.StatusConflict, response.RunResponse{Message: "Crawl is already running", Run: run})
		return
	}
	if err != nil {
		h.logger.Error("failed to start crawl", zap.Error(err))
		h.writeJSONError(w, "Could not start crawl", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, response.RunResponse{Message: "Crawl started", Run: run})
}

func (h *Handler) HandleStopCrawl(w http.ResponseWriter, r *http.Request) {
	run, err := h.deps.Crawl.Stop(r.Context())
	if errors.Is(err, supervisor.ErrNotRunning) {
		h.writeJSON(w, http.StatusConflict, response.RunResponse{Message: "Crawl is not running", Run: run})
		return
	}
	if err != nil {
		h.logger.Error("failed to stop crawl", zap.Error(err))
		h.writeJSONError(w, "Could not stop crawl", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.RunResponse{Message: "Crawl stopped", Run: run})
}

func (h *Handler) HandleCrawlStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, response.RunResponse{Run: h.deps.Crawl.Status()})
}

func (h *Handler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.deps.Crawl.ListLogs()
	if err != nil {
		h.logger.Error("failed to list logs", zap.Error(err))
		h.writeJSONError(w, "Could not list logs", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.LogsResponse{Logs: logs})
}

func (h *Handler) HandleReadLog(w http.ResponseWriter, r *http.Request) {
	data, err := h.deps.Crawl.ReadLog(chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, supervisor.ErrInvalidLogName):
		h.writeJSONError(w, "Invalid log file name", http.StatusBadRequest)
		return
	case errors.Is(err, supervisor.ErrLogNotFound):
		h.writeJSONError(w, "Log file not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("failed to read log", zap.Error(err))
		h.writeJSONError(w, "Could not read log", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write log response", zap.Error(err))
	}
}

func (h *Handler) HandleBackup(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Backup.Run(r.Context())
	if errors.Is(err, backup.ErrInProgress) {
		h.writeJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		// A dump that was written but not uploaded is still reported.
		if res != nil {
			h.writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "backup": res})
			return
		}
		h.writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleStartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scheduler.Start(); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			h.writeJSONError(w, "Scheduler is already running", http.StatusConflict)
			return
		}
		h.logger.Error("failed to start scheduler", zap.Error(err))
		h.writeJSONError(w, "Could not start scheduler", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.MessageResponse{Status: "success", Message: "Scheduler started"})
}

func (h *Handler) HandleStopScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scheduler.Stop(); err != nil {
		if errors.Is(err, scheduler.ErrNotRunning) {
			h.writeJSONError(w, "Scheduler is not running", http.StatusConflict)
			return
		}
		h.logger.Error("failed to stop scheduler", zap.Error(err))
		h.writeJSONError(w, "Could not stop scheduler", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.MessageResponse{Status: "success", Message: "Scheduler stopped"})
}

func (h *Handler) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.deps.Scheduler.Status())
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Listings.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to count listings", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleItems(w http.ResponseWriter, r *http.Request) {
	q, err := request.ParseItemsQuery(r.URL.Query())
	if err != nil {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := h.deps.Listings.Items(r.Context(), q.Limit, q.Oldest)
	if errors.Is(err, usecase.ErrInvalidLimit) {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("failed to list listings", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.ItemsResponse{Count: len(items), Items: items})
}

func (h *Handler) HandleRejections(w http.ResponseWriter, r *http.Request) {
	q, err := request.ParseItemsQuery(r.URL.Query())
	if err != nil {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	recs, err := h.deps.Listings.Rejections(r.Context(), q.Limit)
	if errors.Is(err, usecase.ErrInvalidLimit) {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("failed to list rejections", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.RejectionsResponse{Count: len(recs), Rejections: recs})
}

func (h *Handler) HandleGetListing(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		h.writeJSONError(w, "URL query parameter is required", http.StatusBadRequest)
		return
	}
	l, err := h.deps.Listings.Lookup(r.Context(), rawURL)
	if errors.Is(err, repository.ErrNotFound) {
		h.writeJSONError(w, "Listing not found for the given URL", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to find listing", zap.String("url", rawURL), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, l)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
