package usgs

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/floodwatch-io/floodwatch/internal/cache"
	"github.com/floodwatch-io/floodwatch/internal/domain"
	"github.com/floodwatch-io/floodwatch/internal/observability"
)

// CachedClient wraps a Client with snapshot caches so repeated queries for
// the same area or site ride out upstream hiccups.
type CachedClient struct {
	inner   *Client
	gauges  *cache.Snapshot[[]domain.Gauge]
	history *cache.Snapshot[[]domain.Reading]
}

// NewCachedClient caches gauge queries for stale/retain windows. History
// queries reuse the same windows since both hit the same upstream.
func NewCachedClient(inner *Client, stale, retain time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedClient {
	lookup := func(name string) func(cache.Result) {
		return func(r cache.Result) {
			metrics.CacheLookups.WithLabelValues(name, string(r)).Inc()
		}
	}
	return &CachedClient{
		inner:   inner,
		gauges:  cache.New[[]domain.Gauge](stale, retain, clock, lookup("usgs_gauges")),
		history: cache.New[[]domain.Reading](stale, retain, clock, lookup("usgs_history")),
	}
}

// FetchByBoundingBox serves gauges for the area around a point, cached per
// bounding box.
func (c *CachedClient) FetchByBoundingBox(ctx context.Context, lat, lon, radiusKm float64) ([]domain.Gauge, error) {
	key := domain.FormatBoundingBox(domain.CalculateBoundingBox(lat, lon, radiusKm))
	return c.gauges.Get(ctx, key, func(ctx context.Context) ([]domain.Gauge, error) {
		return c.inner.FetchByBoundingBox(ctx, lat, lon, radiusKm)
	})
}

// FetchSites serves current records for explicit site codes, cached per site
// set. Callers pass stable orderings so equivalent queries share an entry.
func (c *CachedClient) FetchSites(ctx context.Context, siteIDs []string) ([]domain.Gauge, error) {
	if len(siteIDs) == 0 {
		return nil, nil
	}
	key := "sites:" + fmt.Sprint(siteIDs)
	return c.gauges.Get(ctx, key, func(ctx context.Context) ([]domain.Gauge, error) {
		return c.inner.FetchSites(ctx, siteIDs)
	})
}

// FetchSiteHistory serves the gauge-height series for one site, cached per
// site and window length.
func (c *CachedClient) FetchSiteHistory(ctx context.Context, siteID string, days int) ([]domain.Reading, error) {
	key := fmt.Sprintf("%s|P%dD", siteID, days)
	return c.history.Get(ctx, key, func(ctx context.Context) ([]domain.Reading, error) {
		return c.inner.FetchSiteHistory(ctx, siteID, days)
	})
}
