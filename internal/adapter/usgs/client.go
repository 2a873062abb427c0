// Package usgs fetches USGS instantaneous-values time series and normalizes
// them into the unified gauge model.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/floodwatch-io/floodwatch/internal/domain"
	"github.com/floodwatch-io/floodwatch/internal/observability"
)

// USGS NWIS parameter codes.
const (
	paramDischarge   = "00060" // discharge, cfs
	paramGaugeHeight = "00065" // gauge height, feet
)

const metricSource = "usgs"

// StageResolver supplies the stage thresholds for a site, falling back to
// defaults for sites without configured overrides.
type StageResolver func(siteID string) domain.StageThresholds

// Client queries the USGS NWIS instantaneous-values service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	stages     StageResolver
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a USGS client. An empty baseURL selects the public NWIS
// endpoint; a nil resolver applies default stages everywhere.
func NewClient(baseURL string, timeout time.Duration, stages StageResolver, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if baseURL == "" {
		baseURL = "https://waterservices.usgs.gov/nwis/iv/"
	}
	if stages == nil {
		stages = func(string) domain.StageThresholds { return domain.DefaultStages() }
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		stages:     stages,
		logger:     logger,
		metrics:    metrics,
	}
}

// FetchByBoundingBox returns all active gauges inside the radius around a
// point, with current level/discharge converted to metric and risk
// classified synchronously.
func (c *Client) FetchByBoundingBox(ctx context.Context, lat, lon, radiusKm float64) ([]domain.Gauge, error) {
	bbox := domain.CalculateBoundingBox(lat, lon, radiusKm)
	params := url.Values{
		"bBox":        {domain.FormatBoundingBox(bbox)},
		"parameterCd": {paramDischarge + "," + paramGaugeHeight},
		"format":      {"json"},
		"siteStatus":  {"active"},
	}

	var resp response
	if err := c.doRequest(ctx, params, &resp); err != nil {
		return nil, err
	}
	return c.normalize(resp), nil
}

// FetchSites returns current gauge records for specific site codes, used to
// resolve watchlist entries regardless of query radius.
func (c *Client) FetchSites(ctx context.Context, siteIDs []string) ([]domain.Gauge, error) {
	if len(siteIDs) == 0 {
		return nil, nil
	}
	params := url.Values{
		"sites":       {strings.Join(siteIDs, ",")},
		"parameterCd": {paramDischarge + "," + paramGaugeHeight},
		"format":      {"json"},
	}

	var resp response
	if err := c.doRequest(ctx, params, &resp); err != nil {
		return nil, err
	}
	return c.normalize(resp), nil
}

// FetchSiteHistory returns the gauge-height series for one site over the
// requested day window, oldest first. Null values are filtered out; a series
// with no matching data resolves to an empty slice, not an error.
func (c *Client) FetchSiteHistory(ctx context.Context, siteID string, days int) ([]domain.Reading, error) {
	params := url.Values{
		"sites":       {siteID},
		"parameterCd": {paramGaugeHeight},
		"period":      {fmt.Sprintf("P%dD", days)},
		"format":      {"json"},
	}

	var resp response
	if err := c.doRequest(ctx, params, &resp); err != nil {
		return nil, err
	}

	if len(resp.Value.TimeSeries) == 0 {
		return []domain.Reading{}, nil
	}

	series := resp.Value.TimeSeries[0]
	if len(series.Values) == 0 {
		return []domain.Reading{}, nil
	}

	readings := make([]domain.Reading, 0, len(series.Values[0].Value))
	for _, v := range series.Values[0].Value {
		if v.Value == nil {
			continue
		}
		level, err := parseFloat(*v.Value)
		if err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v.DateTime)
		if err != nil {
			c.logger.Debug("skipping reading with bad timestamp", "site", siteID, "date_time", v.DateTime)
			continue
		}
		readings = append(readings, domain.Reading{
			Timestamp: ts,
			Level:     domain.FeetToMeters(level),
		})
	}
	return readings, nil
}

func (c *Client) doRequest(ctx context.Context, params url.Values, out any) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(metricSource, "error").Inc()
		return fmt.Errorf("usgs request: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.UpstreamDuration.WithLabelValues(metricSource).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		c.metrics.UpstreamRequests.WithLabelValues(metricSource, "error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("usgs API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(metricSource, "error").Inc()
		return fmt.Errorf("decode response: %w", err)
	}

	c.metrics.UpstreamRequests.WithLabelValues(metricSource, "success").Inc()
	return nil
}
