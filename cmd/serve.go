package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	monitorhttp "machine-monitor/internal/monitor/interfaces/http"
	"machine-monitor/internal/observability/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring pipeline and HTTP API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	metrics.Init()
	profiles, err := loadRoster(a.cfg.RosterPath, a.logger)
	if err != nil {
		return err
	}
	p, err := buildPipeline(ctx, a.cfg, profiles, nil, a.cfg.Broadcast.QueueSize, a.logger)
	if err != nil {
		return err
	}
	defer p.Close()

	router, err := monitorhttp.NewRouter(monitorhttp.RouterConfig{
		Engine:      p.engine,
		Broadcaster: p.broadcaster,
		Logger:      a.logger,
		InsightWait: a.cfg.Insight.Timeout,
	})
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.engine.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Streams only end when their subscriptions close.
		p.broadcaster.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	a.logger.Info("shutdown complete")
	return err
}
