package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	api "github.com/hydrowatch/alertengine/internal/api/v2"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
	"github.com/hydrowatch/alertengine/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, telemetry ingest and background sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags)
		},
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	a, err := newApp(ctx, flags.configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if a.settings.Telemetry.Enabled {
		sub := telemetry.NewSubscriber(a.settings.Telemetry, a.readings, a.log)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
	} else {
		a.log.Warn("telemetry disabled, rules on pushed metrics are not evaluated")
	}

	a.sys.Start()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	opts := []api.Option{
		api.WithBell(a.bell),
		api.WithMetrics(a.metrics),
		api.WithLogger(a.log),
	}
	if a.names != nil {
		opts = append(opts, api.WithNameCache(a.names))
	}
	api.New(e, a.sys, opts...)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", logger.String("listen", a.settings.HTTP.Listen))
		if err := e.Start(a.settings.HTTP.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return errors.New(err).
				Component("alertd").
				Category(errors.CategoryConfiguration).
				Context("listen", a.settings.HTTP.Listen).
				Build()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown incomplete", logger.Error(err))
	}
	return nil
}
