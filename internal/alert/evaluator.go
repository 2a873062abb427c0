// Package alert evaluates watched gauges on a schedule and publishes an
// event whenever one escalates to a higher risk level.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/floodwatch-io/floodwatch/internal/domain"
	"github.com/floodwatch-io/floodwatch/internal/observability"
)

// GaugeFetcher resolves current gauge records for explicit site IDs.
type GaugeFetcher interface {
	FetchSites(ctx context.Context, siteIDs []string) ([]domain.Gauge, error)
}

// Watchlist lists the gauges under watch.
type Watchlist interface {
	List(ctx context.Context) ([]domain.WatchlistEntry, error)
}

// Notifier delivers alert events downstream.
type Notifier interface {
	PublishAlerts(ctx context.Context, events []domain.AlertEvent) error
}

// StageResolver supplies base stage thresholds per gauge.
type StageResolver func(gaugeID string) domain.StageThresholds

// Evaluator runs watchlist checks. Alerts fire only on escalation: a gauge
// moving to a higher risk level than its last evaluated one. De-escalations
// and repeats stay silent.
type Evaluator struct {
	gauges    GaugeFetcher
	watchlist Watchlist
	notifier  Notifier
	stages    StageResolver
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu        sync.Mutex
	lastLevel map[string]domain.RiskLevel
}

// NewEvaluator creates an evaluator. A nil resolver applies default stages.
func NewEvaluator(gauges GaugeFetcher, watchlist Watchlist, notifier Notifier, stages StageResolver, logger *slog.Logger, metrics *observability.Metrics) *Evaluator {
	if stages == nil {
		stages = func(string) domain.StageThresholds { return domain.DefaultStages() }
	}
	return &Evaluator{
		gauges:    gauges,
		watchlist: watchlist,
		notifier:  notifier,
		stages:    stages,
		logger:    logger,
		metrics:   metrics,
		lastLevel: make(map[string]domain.RiskLevel),
	}
}

// RunOnce performs one evaluation pass: list the watchlist, fetch current
// records for alert-enabled entries, reclassify against per-entry threshold
// overrides, and publish escalations.
func (e *Evaluator) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		e.metrics.AlertCheckDuration.Observe(time.Since(start).Seconds())
	}()

	entries, err := e.watchlist.List(ctx)
	if err != nil {
		return fmt.Errorf("list watchlist: %w", err)
	}
	e.metrics.WatchlistSize.Set(float64(len(entries)))

	enabled := make(map[string]domain.WatchlistEntry)
	var siteIDs []string
	for _, entry := range entries {
		if !entry.AlertsEnabled {
			continue
		}
		enabled[entry.GaugeID] = entry
		siteIDs = append(siteIDs, entry.GaugeID)
	}
	if len(siteIDs) == 0 {
		return nil
	}

	gauges, err := e.gauges.FetchSites(ctx, siteIDs)
	if err != nil {
		return fmt.Errorf("fetch watched gauges: %w", err)
	}

	var events []domain.AlertEvent
	now := domain.Now().UTC()

	e.mu.Lock()
	for _, g := range gauges {
		entry, ok := enabled[g.ID]
		if !ok || g.CurrentLevel == nil {
			continue
		}

		level, score := domain.ClassifyRisk(g.CurrentLevel, e.entryStages(entry))
		previous, seen := e.lastLevel[g.ID]
		if !seen {
			previous = domain.RiskNormal
		}
		e.lastLevel[g.ID] = level

		if level.Rank() <= previous.Rank() {
			continue
		}
		events = append(events, domain.AlertEvent{
			GaugeID:     g.ID,
			GaugeName:   g.Name,
			Level:       *g.CurrentLevel,
			Previous:    previous,
			Current:     level,
			Score:       score,
			ObservedAt:  g.LastUpdated,
			PublishedAt: now,
		})
	}
	e.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	if err := e.notifier.PublishAlerts(ctx, events); err != nil {
		return fmt.Errorf("publish alerts: %w", err)
	}
	e.metrics.AlertsPublished.Add(float64(len(events)))
	e.logger.Info("published alerts", "count", len(events))
	return nil
}

// entryStages applies the entry's watch and warning overrides on top of the
// base stages. An override set that breaks the stage ordering is logged and
// discarded rather than silently misclassifying.
func (e *Evaluator) entryStages(entry domain.WatchlistEntry) domain.StageThresholds {
	base := e.stages(entry.GaugeID)
	if entry.WatchLevel == nil && entry.WarningLevel == nil {
		return base
	}

	stages := base
	if entry.WatchLevel != nil {
		stages.Action = *entry.WatchLevel
	}
	if entry.WarningLevel != nil {
		stages.Flood = *entry.WarningLevel
	}
	if stages.Major <= stages.Flood {
		stages.Major = stages.Flood * 2
	}
	if err := stages.Validate(); err != nil {
		e.logger.Warn("ignoring invalid threshold overrides", "gauge_id", entry.GaugeID, "error", err)
		return base
	}
	return stages
}
