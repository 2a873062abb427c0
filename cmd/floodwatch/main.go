package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	bleadapter "github.com/floodwatch-io/floodwatch/internal/adapter/ble"
	httpadapter "github.com/floodwatch-io/floodwatch/internal/adapter/http"
	kafkaadapter "github.com/floodwatch-io/floodwatch/internal/adapter/kafka"
	"github.com/floodwatch-io/floodwatch/internal/adapter/openmeteo"
	"github.com/floodwatch-io/floodwatch/internal/adapter/usgs"
	"github.com/floodwatch-io/floodwatch/internal/alert"
	"github.com/floodwatch-io/floodwatch/internal/config"
	"github.com/floodwatch-io/floodwatch/internal/observability"
	"github.com/floodwatch-io/floodwatch/internal/sensor"
	"github.com/floodwatch-io/floodwatch/internal/watchlist"
)

// readiness gates /readyz on the watchlist database being reachable.
type readiness struct {
	store *watchlist.Store
}

func (r readiness) CheckReadiness(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	store, err := watchlist.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open watchlist database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	stages := cfg.Thresholds.StagesForSite

	usgsClient := usgs.NewClient(cfg.USGSBaseURL, cfg.UpstreamTimeout, stages, logger, metrics)
	gauges := usgs.NewCachedClient(usgsClient, cfg.GaugeCacheStale, cfg.GaugeCacheRetain, clock, metrics)

	meteoClient := openmeteo.NewClient(cfg.OpenMeteoFloodURL, cfg.OpenMeteoWeatherURL, cfg.UpstreamTimeout, logger, metrics)
	forecasts := openmeteo.NewCachedClient(meteoClient, cfg.ForecastCacheStale, cfg.ForecastCacheRetain, clock, metrics)

	// Alerting (feature-flagged via ALERTS_ENABLED).
	var (
		alertWriter *kafkaadapter.Writer
		scheduler   *cron.Cron
	)
	if cfg.AlertsEnabled {
		alertWriter = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaAlertTopic, logger)
		evaluator := alert.NewEvaluator(gauges, store, alertWriter, stages, logger, metrics)

		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.AlertSchedule, func() {
			if err := evaluator.RunOnce(context.Background()); err != nil {
				logger.Error("alert evaluation failed", "error", err)
			}
		})
		if err != nil {
			logger.Error("invalid alert schedule", "schedule", cfg.AlertSchedule, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		logger.Info("alerting enabled", "schedule", cfg.AlertSchedule, "topic", cfg.KafkaAlertTopic)
	} else {
		logger.Info("alerting disabled")
	}

	// BLE sensor support (feature-flagged via BLE_ENABLED).
	var sensors httpadapter.SensorService
	var manager *sensor.Manager
	if cfg.BLEEnabled {
		transport, err := bleadapter.NewTransport(cfg.BLEServiceUUID, cfg.BLEDevicePrefix, logger)
		if err != nil {
			logger.Error("failed to initialize bluetooth", "error", err)
			os.Exit(1)
		}
		manager = sensor.NewManager(sensor.Config{
			ServiceUUID:    cfg.BLEServiceUUID,
			WaterLevelUUID: cfg.BLEWaterLevelUUID,
			RiseRateUUID:   cfg.BLERiseRateUUID,
			BatteryUUID:    cfg.BLEBatteryUUID,
			StatusUUID:     cfg.BLEStatusUUID,
			NamePrefix:     cfg.BLEDevicePrefix,
			Stages:         cfg.Thresholds.Default,
		}, transport, sensor.NewStore(), sensor.FixedLocator{Lat: cfg.StationLat, Lon: cfg.StationLon}, logger, metrics, clock)
		sensors = manager
		logger.Info("ble sensor support enabled", "device_prefix", cfg.BLEDevicePrefix)
	} else {
		logger.Info("ble sensor support disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, gauges, forecasts, sensors, store,
		readiness{store: store}, cfg.StationLat, cfg.StationLon, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if manager != nil {
		manager.Disconnect()
	}
	if alertWriter != nil {
		if err := alertWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
