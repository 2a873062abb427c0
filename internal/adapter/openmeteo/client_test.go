package openmeteo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floodwatch-io/floodwatch/internal/observability"
)

const floodBody = `{
  "latitude": 30.25,
  "longitude": -97.75,
  "daily": {
    "time": ["2025-05-30", "2025-05-31", "2025-06-01"],
    "river_discharge": [12.4, null, 15.1]
  }
}`

const weatherBody = `{
  "hourly": {
    "time": ["2025-06-01T00:00", "2025-06-01T01:00", "2025-06-01T02:00"],
    "precipitation": [0.0, 1.2, null],
    "precipitation_probability": [5, null, 80]
  },
  "daily": {
    "time": ["2025-06-01", "2025-06-02"],
    "precipitation_sum": [3.4, null]
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(server.URL+"/flood", server.URL+"/forecast", 5*time.Second, logger, observability.NewMetricsForTesting())
}

func TestFetchRiverDischarge(t *testing.T) {
	var query url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/flood", r.URL.Path)
		query = r.URL.Query()
		w.Write([]byte(floodBody))
	})

	forecast, err := client.FetchRiverDischarge(context.Background(), 30.25, -97.75)
	require.NoError(t, err)

	assert.Equal(t, "river_discharge", query.Get("daily"))
	assert.Equal(t, "7", query.Get("forecast_days"))
	assert.Equal(t, "7", query.Get("past_days"))
	assert.Equal(t, "30.2500", query.Get("latitude"))

	assert.Equal(t, 30.25, forecast.Latitude)
	require.Len(t, forecast.Forecasts, 3)
	require.NotNil(t, forecast.Forecasts[0].Discharge)
	assert.Equal(t, 12.4, *forecast.Forecasts[0].Discharge)
	assert.Nil(t, forecast.Forecasts[1].Discharge, "model gaps pass through as nil")
	assert.Equal(t, time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC), forecast.Forecasts[0].Date)
}

func TestFetchPrecipitation(t *testing.T) {
	var query url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forecast", r.URL.Path)
		query = r.URL.Query()
		w.Write([]byte(weatherBody))
	})

	precip, err := client.FetchPrecipitation(context.Background(), 30.25, -97.75)
	require.NoError(t, err)

	assert.Equal(t, "precipitation,precipitation_probability", query.Get("hourly"))
	assert.Equal(t, "precipitation_sum", query.Get("daily"))

	require.Len(t, precip.Hourly, 2, "null precipitation hours dropped")
	assert.Equal(t, 0.0, precip.Hourly[0].Amount)
	assert.Equal(t, 5.0, precip.Hourly[0].Probability)
	assert.Equal(t, 1.2, precip.Hourly[1].Amount)
	assert.Equal(t, 0.0, precip.Hourly[1].Probability, "null probability reads as zero")

	require.Len(t, precip.DailySum, 1, "null daily sums dropped")
	assert.Equal(t, 3.4, precip.DailySum[0].Total)
}

func TestFetchRiverDischargeUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := client.FetchRiverDischarge(context.Background(), 30.25, -97.75)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
