// Package http exposes the REST API plus health, readiness, and metrics
// endpoints.
package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/floodwatch-io/floodwatch/internal/domain"
)

const defaultRadiusKm = 50

// GaugeProvider serves public gauge queries.
type GaugeProvider interface {
	FetchByBoundingBox(ctx context.Context, lat, lon, radiusKm float64) ([]domain.Gauge, error)
	FetchSiteHistory(ctx context.Context, siteID string, days int) ([]domain.Reading, error)
}

// ForecastProvider serves river discharge and precipitation forecasts.
type ForecastProvider interface {
	FetchRiverDischarge(ctx context.Context, lat, lon float64) (domain.DischargeForecast, error)
	FetchPrecipitation(ctx context.Context, lat, lon float64) (domain.Precipitation, error)
}

// SensorService is the BLE sensor surface. Nil when BLE is disabled, in
// which case sensor routes answer 503.
type SensorService interface {
	Sensors() []domain.Sensor
	Readings(deviceID string) []domain.Reading
	DiscoverAndConnect(ctx context.Context) error
	Disconnect()
}

// WatchlistStore is the persistence surface for watchlist routes.
type WatchlistStore interface {
	List(ctx context.Context) ([]domain.WatchlistEntry, error)
	Add(ctx context.Context, gaugeID string) error
	Remove(ctx context.Context, gaugeID string) error
	ToggleAlerts(ctx context.Context, gaugeID string) (bool, error)
	SetThresholds(ctx context.Context, gaugeID string, watchLevel, warningLevel *float64) error
	SetPreference(ctx context.Context, key, value string) error
	Preference(ctx context.Context, key string) (string, error)
}

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server exposes the REST API over a plain net/http mux.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	gauges     GaugeProvider
	forecasts  ForecastProvider
	sensors    SensorService
	watchlist  WatchlistStore
	stationLat float64
	stationLon float64
}

// NewServer wires all API routes. sensors may be nil when BLE is disabled.
// stationLat/stationLon are the fallback coordinates for forecast queries
// that omit lat and lon.
func NewServer(addr string, gauges GaugeProvider, forecasts ForecastProvider, sensors SensorService, watchlist WatchlistStore, ready ReadinessChecker, stationLat, stationLon float64, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:     logger,
		gauges:     gauges,
		forecasts:  forecasts,
		sensors:    sensors,
		watchlist:  watchlist,
		stationLat: stationLat,
		stationLon: stationLon,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/gauges", s.handleGauges)
	mux.HandleFunc("GET /api/v1/gauges/{id}/history", s.handleGaugeHistory)
	mux.HandleFunc("GET /api/v1/forecast/discharge", s.handleDischargeForecast)
	mux.HandleFunc("GET /api/v1/forecast/precipitation", s.handlePrecipitationForecast)

	mux.HandleFunc("GET /api/v1/sensors", s.handleSensors)
	mux.HandleFunc("GET /api/v1/sensors/{id}/readings", s.handleSensorReadings)
	mux.HandleFunc("POST /api/v1/sensors/connect", s.handleSensorConnect)
	mux.HandleFunc("POST /api/v1/sensors/disconnect", s.handleSensorDisconnect)

	mux.HandleFunc("GET /api/v1/watchlist", s.handleWatchlist)
	mux.HandleFunc("POST /api/v1/watchlist/{id}", s.handleWatchlistAdd)
	mux.HandleFunc("DELETE /api/v1/watchlist/{id}", s.handleWatchlistRemove)
	mux.HandleFunc("POST /api/v1/watchlist/{id}/alerts", s.handleWatchlistToggleAlerts)
	mux.HandleFunc("PUT /api/v1/watchlist/{id}/thresholds", s.handleWatchlistThresholds)

	mux.HandleFunc("GET /api/v1/preferences/{key}", s.handlePreferenceGet)
	mux.HandleFunc("PUT /api/v1/preferences/{key}", s.handlePreferenceSet)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleGauges(w http.ResponseWriter, r *http.Request) {
	lat, ok := s.floatQuery(w, r, "lat", s.stationLat)
	if !ok {
		return
	}
	lon, ok := s.floatQuery(w, r, "lon", s.stationLon)
	if !ok {
		return
	}
	radius, ok := s.floatQuery(w, r, "radius_km", defaultRadiusKm)
	if !ok {
		return
	}
	if radius <= 0 {
		writeError(w, http.StatusBadRequest, "radius_km must be positive")
		return
	}

	gauges, err := s.gauges.FetchByBoundingBox(r.Context(), lat, lon, radius)
	if err != nil {
		s.logger.Error("gauge query failed", "error", err)
		writeError(w, http.StatusBadGateway, "upstream gauge query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gauges": gauges})
}

func (s *Server) handleGaugeHistory(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("id")
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 30 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 30")
			return
		}
		days = n
	}

	readings, err := s.gauges.FetchSiteHistory(r.Context(), siteID, days)
	if err != nil {
		s.logger.Error("history query failed", "site", siteID, "error", err)
		writeError(w, http.StatusBadGateway, "upstream history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site_id": siteID, "readings": readings})
}

func (s *Server) handleDischargeForecast(w http.ResponseWriter, r *http.Request) {
	lat, ok := s.floatQuery(w, r, "lat", s.stationLat)
	if !ok {
		return
	}
	lon, ok := s.floatQuery(w, r, "lon", s.stationLon)
	if !ok {
		return
	}

	forecast, err := s.forecasts.FetchRiverDischarge(r.Context(), lat, lon)
	if err != nil {
		s.logger.Error("discharge forecast failed", "error", err)
		writeError(w, http.StatusBadGateway, "upstream forecast query failed")
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

func (s *Server) handlePrecipitationForecast(w http.ResponseWriter, r *http.Request) {
	lat, ok := s.floatQuery(w, r, "lat", s.stationLat)
	if !ok {
		return
	}
	lon, ok := s.floatQuery(w, r, "lon", s.stationLon)
	if !ok {
		return
	}

	precip, err := s.forecasts.FetchPrecipitation(r.Context(), lat, lon)
	if err != nil {
		s.logger.Error("precipitation forecast failed", "error", err)
		writeError(w, http.StatusBadGateway, "upstream forecast query failed")
		return
	}
	writeJSON(w, http.StatusOK, precip)
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	if s.sensors == nil {
		writeError(w, http.StatusServiceUnavailable, "ble support disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensors": s.sensors.Sensors()})
}

func (s *Server) handleSensorReadings(w http.ResponseWriter, r *http.Request) {
	if s.sensors == nil {
		writeError(w, http.StatusServiceUnavailable, "ble support disabled")
		return
	}
	deviceID := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"readings":  s.sensors.Readings(deviceID),
	})
}

// handleSensorConnect kicks off discovery in the background; scanning can
// outlive the request, so the handler answers 202 immediately.
func (s *Server) handleSensorConnect(w http.ResponseWriter, r *http.Request) {
	if s.sensors == nil {
		writeError(w, http.StatusServiceUnavailable, "ble support disabled")
		return
	}
	go func() {
		if err := s.sensors.DiscoverAndConnect(context.Background()); err != nil {
			s.logger.Error("sensor connect failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting"})
}

func (s *Server) handleSensorDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.sensors == nil {
		writeError(w, http.StatusServiceUnavailable, "ble support disabled")
		return
	}
	s.sensors.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.watchlist.List(r.Context())
	if err != nil {
		s.logger.Error("watchlist list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "watchlist unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchlist": entries})
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	gaugeID := r.PathValue("id")
	if err := s.watchlist.Add(r.Context(), gaugeID); err != nil {
		s.logger.Error("watchlist add failed", "gauge_id", gaugeID, "error", err)
		writeError(w, http.StatusInternalServerError, "watchlist unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"gauge_id": gaugeID})
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	gaugeID := r.PathValue("id")
	if err := s.watchlist.Remove(r.Context(), gaugeID); err != nil {
		s.logger.Error("watchlist remove failed", "gauge_id", gaugeID, "error", err)
		writeError(w, http.StatusInternalServerError, "watchlist unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWatchlistToggleAlerts(w http.ResponseWriter, r *http.Request) {
	gaugeID := r.PathValue("id")
	enabled, err := s.watchlist.ToggleAlerts(r.Context(), gaugeID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "gauge not watched")
			return
		}
		s.logger.Error("alert toggle failed", "gauge_id", gaugeID, "error", err)
		writeError(w, http.StatusInternalServerError, "watchlist unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gauge_id": gaugeID, "alerts_enabled": enabled})
}

type thresholdsRequest struct {
	WatchLevel   *float64 `json:"watch_level"`
	WarningLevel *float64 `json:"warning_level"`
}

func (s *Server) handleWatchlistThresholds(w http.ResponseWriter, r *http.Request) {
	gaugeID := r.PathValue("id")

	var req thresholdsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WatchLevel == nil && req.WarningLevel == nil {
		writeError(w, http.StatusBadRequest, "at least one of watch_level, warning_level is required")
		return
	}
	if (req.WatchLevel != nil && *req.WatchLevel <= 0) || (req.WarningLevel != nil && *req.WarningLevel <= 0) {
		writeError(w, http.StatusBadRequest, "threshold levels must be positive")
		return
	}

	if err := s.watchlist.SetThresholds(r.Context(), gaugeID, req.WatchLevel, req.WarningLevel); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "gauge not watched")
			return
		}
		s.logger.Error("threshold update failed", "gauge_id", gaugeID, "error", err)
		writeError(w, http.StatusInternalServerError, "watchlist unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"gauge_id": gaugeID})
}

func (s *Server) handlePreferenceGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := s.watchlist.Preference(r.Context(), key)
	if err != nil {
		s.logger.Error("preference read failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "preferences unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

type preferenceRequest struct {
	Value string `json:"value"`
}

func (s *Server) handlePreferenceSet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.watchlist.SetPreference(r.Context(), key, req.Value); err != nil {
		s.logger.Error("preference write failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "preferences unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

// floatQuery parses an optional float query parameter, answering 400 itself
// when the value is malformed.
func (s *Server) floatQuery(w http.ResponseWriter, r *http.Request, name string, fallback float64) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// isNotFound matches the sentinel the sqlite-backed store returns for
// updates against unwatched gauges.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
