package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	monitorapp "machine-monitor/internal/monitor/application"
	"machine-monitor/internal/observability/logging"
	"machine-monitor/internal/stream"
	streamhttp "machine-monitor/internal/stream/interfaces/http"
)

const defaultInsightWait = 10 * time.Second

// RouterConfig carries the dependencies of the HTTP surface.
type RouterConfig struct {
	Engine      *monitorapp.Engine
	Broadcaster *stream.Broadcaster
	Logger      *zap.Logger
	// InsightWait bounds how long a forced insight request blocks.
	InsightWait time.Duration
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("monitor http: nil engine")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("monitor http: nil broadcaster")
	}
	logger := logging.OrNop(cfg.Logger).Named("http")
	wait := cfg.InsightWait
	if wait <= 0 {
		wait = defaultInsightWait
	}
	h := &Handler{engine: cfg.Engine, logger: logger, insightWait: wait}
	ws, err := streamhttp.NewWebSocketHandler(cfg.Broadcaster, logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(correlationMiddleware)
	r.Use(loggingMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/machines", h.listMachines)
		r.Post("/machines", h.registerMachine)
		r.Route("/machines/{id}", func(r chi.Router) {
			r.Get("/", h.getMachine)
			r.Delete("/", h.deregisterMachine)
			r.Get("/snapshot", h.getSnapshot)
			r.Get("/history", h.getHistory)
			r.Get("/transitions", h.getTransitions)
			r.Post("/insight", h.forceInsight)
			r.Get("/insight", h.getInsight)
			r.Post("/readings", h.ingestReading)
			r.Post("/simulate", h.simulate)
			r.Get("/report.pdf", h.incidentReport)
		})
		r.Get("/snapshots", h.listSnapshots)
		r.Handle("/stream", streamhttp.NewSSEHandler(cfg.Broadcaster, logger))
		r.Handle("/ws", ws)
		r.Get("/reports/fleet.xlsx", h.fleetReport)
	})
	return r, nil
}
