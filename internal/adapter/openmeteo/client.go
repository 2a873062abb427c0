// Package openmeteo fetches river discharge and precipitation forecasts from
// the Open-Meteo flood and weather APIs.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/floodwatch-io/floodwatch/internal/domain"
	"github.com/floodwatch-io/floodwatch/internal/observability"
)

const (
	metricSource = "openmeteo"

	dailyLayout  = "2006-01-02"
	hourlyLayout = "2006-01-02T15:04"
)

// Client queries the Open-Meteo flood and weather endpoints. Forecasts are
// display data only and never feed risk classification.
type Client struct {
	floodURL   string
	weatherURL string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an Open-Meteo client. Empty URLs select the public
// endpoints.
func NewClient(floodURL, weatherURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if floodURL == "" {
		floodURL = "https://flood-api.open-meteo.com/v1/flood"
	}
	if weatherURL == "" {
		weatherURL = "https://api.open-meteo.com/v1/forecast"
	}
	return &Client{
		floodURL:   floodURL,
		weatherURL: weatherURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
	}
}

type floodResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Daily     struct {
		Time           []string   `json:"time"`
		RiverDischarge []*float64 `json:"river_discharge"`
	} `json:"daily"`
}

type weatherResponse struct {
	Hourly struct {
		Time                     []string   `json:"time"`
		Precipitation            []*float64 `json:"precipitation"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
	} `json:"hourly"`
	Daily struct {
		Time             []string   `json:"time"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// FetchRiverDischarge returns the daily river discharge forecast around a
// point, seven days back and seven forward. Model gaps arrive as nulls and
// are carried through as nil discharge values.
func (c *Client) FetchRiverDischarge(ctx context.Context, lat, lon float64) (domain.DischargeForecast, error) {
	params := url.Values{
		"latitude":      {formatCoord(lat)},
		"longitude":     {formatCoord(lon)},
		"daily":         {"river_discharge"},
		"forecast_days": {"7"},
		"past_days":     {"7"},
	}

	var resp floodResponse
	if err := c.doRequest(ctx, c.floodURL, params, &resp); err != nil {
		return domain.DischargeForecast{}, err
	}

	forecast := domain.DischargeForecast{
		Latitude:  resp.Latitude,
		Longitude: resp.Longitude,
	}
	for i, day := range resp.Daily.Time {
		if i >= len(resp.Daily.RiverDischarge) {
			break
		}
		date, err := time.Parse(dailyLayout, day)
		if err != nil {
			c.logger.Debug("skipping forecast day with bad date", "date", day)
			continue
		}
		forecast.Forecasts = append(forecast.Forecasts, domain.DischargeForecastDay{
			Date:      date,
			Discharge: resp.Daily.RiverDischarge[i],
		})
	}
	return forecast, nil
}

// FetchPrecipitation returns the hourly precipitation forecast with
// probabilities plus daily rainfall totals for the week ahead. Hours with no
// model value are dropped; a missing probability reads as zero.
func (c *Client) FetchPrecipitation(ctx context.Context, lat, lon float64) (domain.Precipitation, error) {
	params := url.Values{
		"latitude":      {formatCoord(lat)},
		"longitude":     {formatCoord(lon)},
		"hourly":        {"precipitation,precipitation_probability"},
		"daily":         {"precipitation_sum"},
		"forecast_days": {"7"},
	}

	var resp weatherResponse
	if err := c.doRequest(ctx, c.weatherURL, params, &resp); err != nil {
		return domain.Precipitation{}, err
	}

	var out domain.Precipitation
	for i, hour := range resp.Hourly.Time {
		if i >= len(resp.Hourly.Precipitation) || resp.Hourly.Precipitation[i] == nil {
			continue
		}
		ts, err := time.Parse(hourlyLayout, hour)
		if err != nil {
			continue
		}
		probability := 0.0
		if i < len(resp.Hourly.PrecipitationProbability) && resp.Hourly.PrecipitationProbability[i] != nil {
			probability = *resp.Hourly.PrecipitationProbability[i]
		}
		out.Hourly = append(out.Hourly, domain.PrecipitationHour{
			Time:        ts,
			Amount:      *resp.Hourly.Precipitation[i],
			Probability: probability,
		})
	}
	for i, day := range resp.Daily.Time {
		if i >= len(resp.Daily.PrecipitationSum) || resp.Daily.PrecipitationSum[i] == nil {
			continue
		}
		date, err := time.Parse(dailyLayout, day)
		if err != nil {
			continue
		}
		out.DailySum = append(out.DailySum, domain.PrecipitationDay{
			Date:  date,
			Total: *resp.Daily.PrecipitationSum[i],
		})
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, baseURL string, params url.Values, out any) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(metricSource, "error").Inc()
		return fmt.Errorf("openmeteo request: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.UpstreamDuration.WithLabelValues(metricSource).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		c.metrics.UpstreamRequests.WithLabelValues(metricSource, "error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("openmeteo API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(metricSource, "error").Inc()
		return fmt.Errorf("decode response: %w", err)
	}

	c.metrics.UpstreamRequests.WithLabelValues(metricSource, "success").Inc()
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
