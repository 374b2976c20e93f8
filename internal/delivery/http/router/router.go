package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/delivery/http/handler"
	"github.com/user/autoria-crawler/internal/delivery/http/middleware"
)

func New(h *handler.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealthCheck)

		r.Post("/crawl/start", h.HandleStartCrawl)
		r.Post("/crawl/stop", h.HandleStopCrawl)
		r.Get("/crawl/status", h.HandleCrawlStatus)

		r.Get("/logs", h.HandleListLogs)
		r.Get("/logs/{name}", h.HandleReadLog)

		r.Post("/backup", h.HandleBackup)

		r.Post("/scheduler/start", h.HandleStartScheduler)
		r.Post("/scheduler/stop", h.HandleStopScheduler)
		r.Get("/scheduler/status", h.HandleSchedulerStatus)

		r.Get("/stats", h.HandleStats)
		r.Get("/items", h.HandleItems)
		r.Get("/listing", h.HandleGetListing)
		r.Get("/rejections", h.HandleRejections)
	})

	return r
}
