package openmeteo

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/floodwatch-io/floodwatch/internal/cache"
	"github.com/floodwatch-io/floodwatch/internal/domain"
	"github.com/floodwatch-io/floodwatch/internal/observability"
)

// CachedClient wraps a Client with snapshot caches. Forecast models only
// update a few times a day, so the windows here are hours rather than the
// minutes used for gauge observations.
type CachedClient struct {
	inner         *Client
	discharge     *cache.Snapshot[domain.DischargeForecast]
	precipitation *cache.Snapshot[domain.Precipitation]
}

// NewCachedClient caches forecast queries per coordinate pair.
func NewCachedClient(inner *Client, stale, retain time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedClient {
	lookup := func(name string) func(cache.Result) {
		return func(r cache.Result) {
			metrics.CacheLookups.WithLabelValues(name, string(r)).Inc()
		}
	}
	return &CachedClient{
		inner:         inner,
		discharge:     cache.New[domain.DischargeForecast](stale, retain, clock, lookup("openmeteo_discharge")),
		precipitation: cache.New[domain.Precipitation](stale, retain, clock, lookup("openmeteo_precipitation")),
	}
}

// FetchRiverDischarge serves the discharge forecast for a point, cached per
// coordinate pair.
func (c *CachedClient) FetchRiverDischarge(ctx context.Context, lat, lon float64) (domain.DischargeForecast, error) {
	return c.discharge.Get(ctx, coordKey(lat, lon), func(ctx context.Context) (domain.DischargeForecast, error) {
		return c.inner.FetchRiverDischarge(ctx, lat, lon)
	})
}

// FetchPrecipitation serves the precipitation forecast for a point, cached
// per coordinate pair.
func (c *CachedClient) FetchPrecipitation(ctx context.Context, lat, lon float64) (domain.Precipitation, error) {
	return c.precipitation.Get(ctx, coordKey(lat, lon), func(ctx context.Context) (domain.Precipitation, error) {
		return c.inner.FetchPrecipitation(ctx, lat, lon)
	})
}

func coordKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}
