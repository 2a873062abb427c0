package usgs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floodwatch-io/floodwatch/internal/domain"
	"github.com/floodwatch-io/floodwatch/internal/observability"
)

const bboxResponse = `{
  "value": {
    "timeSeries": [
      {
        "sourceInfo": {
          "siteName": "Shoal Ck at Austin, TX",
          "siteCode": [{"value": "08156800"}],
          "geoLocation": {"geogLocation": {"latitude": 30.27, "longitude": -97.75}}
        },
        "variable": {"variableCode": [{"value": "00065"}], "variableName": "Gage height, ft"},
        "values": [{"value": [{"value": "8.2", "dateTime": "2025-06-01T12:00:00.000-05:00"}]}]
      },
      {
        "sourceInfo": {
          "siteName": "Shoal Ck at Austin, TX",
          "siteCode": [{"value": "08156800"}],
          "geoLocation": {"geogLocation": {"latitude": 30.27, "longitude": -97.75}}
        },
        "variable": {"variableCode": [{"value": "00060"}], "variableName": "Discharge, cfs"},
        "values": [{"value": [{"value": "100", "dateTime": "2025-06-01T12:00:00.000-05:00"}]}]
      },
      {
        "sourceInfo": {
          "siteName": "Walnut Ck at Austin, TX",
          "siteCode": [{"value": "08158600"}],
          "geoLocation": {"geogLocation": {"latitude": 30.38, "longitude": -97.69}}
        },
        "variable": {"variableCode": [{"value": "00065"}], "variableName": "Gage height, ft"},
        "values": [{"value": [{"value": null, "dateTime": "2025-06-01T12:00:00.000-05:00"}]}]
      }
    ]
  }
}`

const historyResponse = `{
  "value": {
    "timeSeries": [
      {
        "sourceInfo": {
          "siteName": "Shoal Ck at Austin, TX",
          "siteCode": [{"value": "08156800"}],
          "geoLocation": {"geogLocation": {"latitude": 30.27, "longitude": -97.75}}
        },
        "variable": {"variableCode": [{"value": "00065"}], "variableName": "Gage height, ft"},
        "values": [{"value": [
          {"value": "4.0", "dateTime": "2025-05-31T12:00:00.000-05:00"},
          {"value": null, "dateTime": "2025-05-31T12:15:00.000-05:00"},
          {"value": "5.0", "dateTime": "2025-05-31T12:30:00.000-05:00"}
        ]}]
      }
    ]
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(server.URL, 5*time.Second, nil, logger, observability.NewMetricsForTesting())
}

func TestFetchByBoundingBox(t *testing.T) {
	var query url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(bboxResponse))
	})

	gauges, err := client.FetchByBoundingBox(context.Background(), 30.27, -97.75, 25)
	require.NoError(t, err)

	assert.Equal(t, "00060,00065", query.Get("parameterCd"))
	assert.Equal(t, "json", query.Get("format"))
	assert.Equal(t, "active", query.Get("siteStatus"))
	assert.NotEmpty(t, query.Get("bBox"))

	require.Len(t, gauges, 2)

	shoal := gauges[0]
	assert.Equal(t, "08156800", shoal.ID)
	assert.Equal(t, "08156800", shoal.USGSCode)
	assert.Equal(t, "Shoal Ck at Austin, TX", shoal.Name)
	assert.Equal(t, domain.SourceUSGS, shoal.Source)
	require.NotNil(t, shoal.CurrentLevel)
	assert.InDelta(t, 2.49936, *shoal.CurrentLevel, 1e-6, "8.2 ft in meters")
	require.NotNil(t, shoal.CurrentDischarge)
	assert.InDelta(t, 2.83168, *shoal.CurrentDischarge, 1e-6, "100 cfs in m3/s")
	assert.Equal(t, domain.RiskWatch, shoal.RiskLevel)
	assert.Equal(t, domain.TrendStable, shoal.Trend)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("", -5*3600)).Unix(), shoal.LastUpdated.Unix())

	walnut := gauges[1]
	assert.Nil(t, walnut.CurrentLevel, "null readings stay unset")
	assert.Equal(t, domain.RiskNormal, walnut.RiskLevel)
	assert.Zero(t, walnut.RiskScore)
}

func TestFetchByBoundingBoxUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})

	_, err := client.FetchByBoundingBox(context.Background(), 30.27, -97.75, 25)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestFetchSites(t *testing.T) {
	var query url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(bboxResponse))
	})

	gauges, err := client.FetchSites(context.Background(), []string{"08156800", "08158600"})
	require.NoError(t, err)
	assert.Equal(t, "08156800,08158600", query.Get("sites"))
	assert.Len(t, gauges, 2)
}

func TestFetchSitesEmptyListSkipsRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected request")
	})

	gauges, err := client.FetchSites(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, gauges)
}

func TestFetchSiteHistory(t *testing.T) {
	var query url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(historyResponse))
	})

	readings, err := client.FetchSiteHistory(context.Background(), "08156800", 7)
	require.NoError(t, err)

	assert.Equal(t, "P7D", query.Get("period"))
	assert.Equal(t, "00065", query.Get("parameterCd"))

	require.Len(t, readings, 2, "null values filtered out")
	assert.InDelta(t, 1.2192, readings[0].Level, 1e-6)
	assert.InDelta(t, 1.524, readings[1].Level, 1e-6)
	assert.True(t, readings[0].Timestamp.Before(readings[1].Timestamp))
}

func TestFetchSiteHistoryNoSeries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": {"timeSeries": []}}`))
	})

	readings, err := client.FetchSiteHistory(context.Background(), "08156800", 7)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestCachedClientServesRetainedOnFailure(t *testing.T) {
	fail := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(bboxResponse))
	})

	clock := clockwork.NewFakeClock()
	cached := NewCachedClient(client, 15*time.Minute, 30*time.Minute, clock, observability.NewMetricsForTesting())

	gauges, err := cached.FetchByBoundingBox(context.Background(), 30.27, -97.75, 25)
	require.NoError(t, err)
	require.Len(t, gauges, 2)

	fail = true
	clock.Advance(20 * time.Minute)
	gauges, err = cached.FetchByBoundingBox(context.Background(), 30.27, -97.75, 25)
	require.NoError(t, err, "stale cache masks the outage")
	assert.Len(t, gauges, 2)

	clock.Advance(20 * time.Minute)
	_, err = cached.FetchByBoundingBox(context.Background(), 30.27, -97.75, 25)
	require.Error(t, err, "retention expired")
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
