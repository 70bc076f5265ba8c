package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hydrowatch/alertengine/internal/alerting"
	"github.com/hydrowatch/alertengine/internal/collectors"
	"github.com/hydrowatch/alertengine/internal/conf"
	datastore "github.com/hydrowatch/alertengine/internal/datastore/v2"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
	"github.com/hydrowatch/alertengine/internal/notification"
	"github.com/hydrowatch/alertengine/internal/observability/metrics"
	"github.com/hydrowatch/alertengine/internal/targets"
	"github.com/hydrowatch/alertengine/internal/telemetry"
)

// pushedMetrics are the readings fed by telemetry.
var pushedMetrics = []string{
	alerting.MetricPH,
	alerting.MetricTurbidity,
	alerting.MetricResidualChlorine,
	alerting.MetricFlow,
	alerting.MetricPressure,
	alerting.MetricWaterLevel,
	alerting.MetricTaskOverdueHours,
}

type app struct {
	settings *conf.Settings
	log      logger.Logger
	store    *datastore.Manager
	readings *collectors.LatestReadings
	names    *targets.Resolver
	metrics  *metrics.AlertingMetrics
	bell     *notification.Service
	sys      *alerting.System

	closers []io.Closer
}

func loadSettings(path string) (*conf.Settings, logger.Logger, []io.Closer, error) {
	settings, err := conf.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}

	level := logger.LogLevel(settings.Logging.Level)
	var closers []io.Closer
	var log logger.Logger
	if settings.Logging.File != "" {
		l, c := logger.NewFileLogger(logger.FileConfig{
			Path:       settings.Logging.File,
			MaxSizeMB:  settings.Logging.MaxSizeMB,
			MaxBackups: settings.Logging.MaxBackups,
			MaxAgeDays: settings.Logging.MaxAgeDays,
			Compress:   true,
		}, level)
		log, closers = l, append(closers, c)
	} else {
		var tz *time.Location
		if settings.Logging.Timezone != "" {
			if tz, err = time.LoadLocation(settings.Logging.Timezone); err != nil {
				return nil, nil, nil, errors.New(err).
					Component("alertd").
					Category(errors.CategoryConfiguration).
					Context("timezone", settings.Logging.Timezone).
					Build()
			}
		}
		log = logger.NewSlogLogger(os.Stdout, level, tz)
	}
	return settings, log, closers, nil
}

func openStore(settings *conf.Settings) (*datastore.Manager, error) {
	store, err := datastore.NewManager(settings.Database.Driver, datastore.Config{
		Path:  settings.Database.Path,
		DSN:   settings.Database.DSN,
		Debug: settings.Database.Debug,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newApp loads configuration and wires every component. Background sweeps
// are not started.
func newApp(ctx context.Context, configPath string) (*app, error) {
	settings, log, closers, err := loadSettings(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{settings: settings, log: log, closers: closers}

	if err := errors.InitSentry(settings.Sentry.DSN, settings.Sentry.Environment, version); err != nil {
		log.Warn("sentry disabled", logger.Error(err))
	}

	if a.store, err = openStore(settings); err != nil {
		a.close()
		return nil, err
	}
	if a.metrics, err = metrics.NewAlertingMetrics(); err != nil {
		a.close()
		return nil, err
	}

	a.readings = collectors.NewLatestReadings("telemetry", pushedMetrics)
	host := collectors.NewHostCollector(settings.Alerting.HostTargetID, "/")
	a.bell = notification.Initialize(nil)

	deps := alerting.Dependencies{
		Rules:      repository.NewAlertRuleRepository(a.store.DB()),
		Records:    repository.NewAlertRecordRepository(a.store.DB()),
		NotifyLogs: repository.NewAlertNotifyLogRepository(a.store.DB()),
		Collectors: []alerting.MetricCollector{a.readings, host},
		Bell:       a.bell,
		Metrics:    a.metrics,
		Logger:     log,
	}
	if settings.Targets.BaseURL != "" {
		if a.names, err = targets.NewResolver(settings.Targets, log); err != nil {
			a.close()
			return nil, err
		}
		deps.Names = a.names
	}

	if a.sys, err = alerting.Initialize(ctx, settings, deps); err != nil {
		a.close()
		return nil, err
	}
	log.Info("alertd initialized",
		logger.String("version", version),
		logger.String("database", a.store.Driver()))
	return a, nil
}

// warmTelemetry subscribes for the configured warm-up so retained readings
// reach the collector before a one-shot sweep. The returned func stops the
// subscriber. With telemetry disabled the collector stays cold and telemetry
// rules are skipped.
func (a *app) warmTelemetry(ctx context.Context) (func(), error) {
	if !a.settings.Telemetry.Enabled {
		return func() {}, nil
	}
	settings := a.settings.Telemetry
	settings.ClientID = settings.ClientID + "-" + uuid.NewString()[:8]
	sub := telemetry.NewSubscriber(settings, a.readings, a.log)
	if err := sub.Start(ctx); err != nil {
		return nil, err
	}

	timer := time.NewTimer(settings.WarmUp.Std())
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		sub.Stop()
		return nil, ctx.Err()
	}
	a.log.Info("telemetry warm-up finished",
		logger.Uint64("readings", sub.Stats().Readings),
		logger.Bool("ready", a.readings.Ready()))
	return sub.Stop, nil
}

// close stops the alerting system, draining queued notifications, and
// releases every resource.
func (a *app) close() {
	if a.sys != nil {
		a.sys.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close database", logger.Error(err))
		}
	}
	errors.CloseSentry()
	for _, c := range a.closers {
		_ = c.Close()
	}
}
