// Package config loads service settings from environment variables plus an
// optional YAML file of per-site stage thresholds.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/floodwatch-io/floodwatch/internal/domain"
)

// Default BLE identifiers for the FloodWatch personal sensor.
const (
	DefaultServiceUUID    = "12345678-1234-5678-1234-56789abcdef0"
	DefaultWaterLevelUUID = "12345678-1234-5678-1234-56789abcdef1"
	DefaultRiseRateUUID   = "12345678-1234-5678-1234-56789abcdef2"
	DefaultBatteryUUID    = "12345678-1234-5678-1234-56789abcdef3"
	DefaultStatusUUID     = "12345678-1234-5678-1234-56789abcdef4"
	DefaultDevicePrefix   = "FloodWatch"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DBPath string

	KafkaBrokers    []string
	KafkaAlertTopic string
	AlertsEnabled   bool
	AlertSchedule   string

	USGSBaseURL         string
	OpenMeteoFloodURL   string
	OpenMeteoWeatherURL string
	UpstreamTimeout     time.Duration

	GaugeCacheStale     time.Duration
	GaugeCacheRetain    time.Duration
	ForecastCacheStale  time.Duration
	ForecastCacheRetain time.Duration

	BLEEnabled        bool
	BLEServiceUUID    string
	BLEWaterLevelUUID string
	BLERiseRateUUID   string
	BLEBatteryUUID    string
	BLEStatusUUID     string
	BLEDevicePrefix   string

	StationLat float64
	StationLon float64

	// Thresholds holds the default stages plus per-site overrides loaded
	// from THRESHOLDS_FILE.
	Thresholds Thresholds
}

// Thresholds is the stage-threshold document: one default set plus optional
// per-site overrides keyed by gauge ID.
type Thresholds struct {
	Default domain.StageThresholds            `yaml:"default"`
	Sites   map[string]domain.StageThresholds `yaml:"sites"`
}

// StagesForSite returns the stage thresholds for a gauge, falling back to
// the default set when the site has no override.
func (t Thresholds) StagesForSite(siteID string) domain.StageThresholds {
	if stages, ok := t.Sites[siteID]; ok {
		return stages
	}
	return t.Default
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDurationEnv("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	upstreamTimeout, err := parseDurationEnv("UPSTREAM_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	gaugeStale, err := parseDurationEnv("GAUGE_CACHE_STALE", "15m")
	if err != nil {
		return nil, err
	}
	gaugeRetain, err := parseDurationEnv("GAUGE_CACHE_RETAIN", "30m")
	if err != nil {
		return nil, err
	}
	forecastStale, err := parseDurationEnv("FORECAST_CACHE_STALE", "2h")
	if err != nil {
		return nil, err
	}
	forecastRetain, err := parseDurationEnv("FORECAST_CACHE_RETAIN", "6h")
	if err != nil {
		return nil, err
	}

	stationLat, err := parseFloatEnv("STATION_LAT", 0)
	if err != nil {
		return nil, err
	}
	stationLon, err := parseFloatEnv("STATION_LON", 0)
	if err != nil {
		return nil, err
	}

	thresholds, err := loadThresholds(os.Getenv("THRESHOLDS_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DBPath: envOrDefault("DB_PATH", "floodwatch.db"),

		KafkaBrokers:    parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaAlertTopic: envOrDefault("KAFKA_ALERT_TOPIC", "flood-alerts"),
		AlertsEnabled:   envOrDefault("ALERTS_ENABLED", "false") == "true",
		AlertSchedule:   envOrDefault("ALERT_SCHEDULE", "@every 15m"),

		USGSBaseURL:         os.Getenv("USGS_BASE_URL"),
		OpenMeteoFloodURL:   os.Getenv("OPENMETEO_FLOOD_URL"),
		OpenMeteoWeatherURL: os.Getenv("OPENMETEO_WEATHER_URL"),
		UpstreamTimeout:     upstreamTimeout,

		GaugeCacheStale:     gaugeStale,
		GaugeCacheRetain:    gaugeRetain,
		ForecastCacheStale:  forecastStale,
		ForecastCacheRetain: forecastRetain,

		BLEEnabled:        envOrDefault("BLE_ENABLED", "false") == "true",
		BLEServiceUUID:    envOrDefault("BLE_SERVICE_UUID", DefaultServiceUUID),
		BLEWaterLevelUUID: envOrDefault("BLE_CHAR_WATER_LEVEL_UUID", DefaultWaterLevelUUID),
		BLERiseRateUUID:   envOrDefault("BLE_CHAR_RISE_RATE_UUID", DefaultRiseRateUUID),
		BLEBatteryUUID:    envOrDefault("BLE_CHAR_BATTERY_UUID", DefaultBatteryUUID),
		BLEStatusUUID:     envOrDefault("BLE_CHAR_STATUS_UUID", DefaultStatusUUID),
		BLEDevicePrefix:   envOrDefault("BLE_DEVICE_PREFIX", DefaultDevicePrefix),

		StationLat: stationLat,
		StationLon: stationLon,

		Thresholds: thresholds,
	}

	if cfg.AlertsEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("ALERTS_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.AlertsEnabled && cfg.KafkaAlertTopic == "" {
		return nil, errors.New("ALERTS_ENABLED is true but KAFKA_ALERT_TOPIC is empty")
	}
	if cfg.GaugeCacheRetain < cfg.GaugeCacheStale {
		return nil, errors.New("GAUGE_CACHE_RETAIN must be at least GAUGE_CACHE_STALE")
	}
	if cfg.ForecastCacheRetain < cfg.ForecastCacheStale {
		return nil, errors.New("FORECAST_CACHE_RETAIN must be at least FORECAST_CACHE_STALE")
	}
	if cfg.StationLat < -90 || cfg.StationLat > 90 {
		return nil, fmt.Errorf("STATION_LAT %g out of range", cfg.StationLat)
	}
	if cfg.StationLon < -180 || cfg.StationLon > 180 {
		return nil, fmt.Errorf("STATION_LON %g out of range", cfg.StationLon)
	}

	return cfg, nil
}

// loadThresholds reads the YAML stage-threshold file. An empty path returns
// the built-in defaults; a present but invalid file is a startup error.
func loadThresholds(path string) (Thresholds, error) {
	thresholds := Thresholds{Default: domain.DefaultStages()}
	if path == "" {
		return thresholds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("read thresholds file: %w", err)
	}
	if err := yaml.Unmarshal(data, &thresholds); err != nil {
		return Thresholds{}, fmt.Errorf("parse thresholds file: %w", err)
	}
	if thresholds.Default == (domain.StageThresholds{}) {
		thresholds.Default = domain.DefaultStages()
	}

	if err := thresholds.Default.Validate(); err != nil {
		return Thresholds{}, fmt.Errorf("thresholds file: default stages: %w", err)
	}
	for site, stages := range thresholds.Sites {
		if err := stages.Validate(); err != nil {
			return Thresholds{}, fmt.Errorf("thresholds file: site %s: %w", site, err)
		}
	}
	return thresholds, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDurationEnv(key, fallback string) (time.Duration, error) {
	raw := envOrDefault(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func parseFloatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}
