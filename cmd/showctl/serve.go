package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"obs-showctl/internal/api"
	"obs-showctl/internal/data"
	"obs-showctl/internal/service"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to every instance and serve the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("static-dir", ".", "directory served for unmatched paths; empty disables")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	cfg, logger := c.cfg, c.logger

	store, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var source data.InstanceSource = store
	if len(cfg.Instances) > 0 {
		level.Info(logger).Log("msg", "using configured instances", "count", len(cfg.Instances))
		source = data.StaticInstances(cfg.Instances)
	}

	svc := service.NewService(service.Options{
		StateCommand: service.StateCommand{
			RequestType: cfg.OBS.StateRequest,
			Field:       cfg.OBS.StateField,
		},
		ConnectTimeout: cfg.OBS.ConnectTimeout,
		CommandTimeout: cfg.OBS.CommandTimeout,
	}, store, source, logger)
	svc.Start(ctx)
	defer svc.Shutdown()

	if strings.ToLower(cfg.Log.Level) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(logger))
	api.NewHandler(svc, cfg, logger).SetupRoutes(r)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	errc := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "listening", "addr", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	level.Info(logger).Log("msg", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
