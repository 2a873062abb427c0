package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floodwatch-io/floodwatch/internal/domain"
	"github.com/floodwatch-io/floodwatch/internal/observability"
)

type fakeGauges struct {
	gauges    []domain.Gauge
	err       error
	requested [][]string
}

func (f *fakeGauges) FetchSites(ctx context.Context, siteIDs []string) ([]domain.Gauge, error) {
	f.requested = append(f.requested, siteIDs)
	return f.gauges, f.err
}

type fakeWatchlist struct {
	entries []domain.WatchlistEntry
}

func (f *fakeWatchlist) List(ctx context.Context) ([]domain.WatchlistEntry, error) {
	return f.entries, nil
}

type fakeNotifier struct {
	published [][]domain.AlertEvent
	err       error
}

func (f *fakeNotifier) PublishAlerts(ctx context.Context, events []domain.AlertEvent) error {
	f.published = append(f.published, events)
	return f.err
}

func levelPtr(v float64) *float64 { return &v }

func watchedGauge(id string, level float64) domain.Gauge {
	return domain.Gauge{
		ID:           id,
		Name:         "Gauge " + id,
		Source:       domain.SourceUSGS,
		CurrentLevel: levelPtr(level),
		LastUpdated:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestEvaluator(gauges *fakeGauges, wl *fakeWatchlist, notifier *fakeNotifier) *Evaluator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEvaluator(gauges, wl, notifier, nil, logger, observability.NewMetricsForTesting())
}

func TestRunOnceSkipsDisabledEntries(t *testing.T) {
	gauges := &fakeGauges{}
	wl := &fakeWatchlist{entries: []domain.WatchlistEntry{
		{GaugeID: "a", AlertsEnabled: false},
	}}
	notifier := &fakeNotifier{}

	err := newTestEvaluator(gauges, wl, notifier).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gauges.requested, "nothing to evaluate, nothing fetched")
	assert.Empty(t, notifier.published)
}

func TestRunOncePublishesEscalation(t *testing.T) {
	gauges := &fakeGauges{gauges: []domain.Gauge{watchedGauge("a", 2.5)}}
	wl := &fakeWatchlist{entries: []domain.WatchlistEntry{
		{GaugeID: "a", AlertsEnabled: true},
	}}
	notifier := &fakeNotifier{}

	err := newTestEvaluator(gauges, wl, notifier).RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.published, 1)
	require.Len(t, notifier.published[0], 1)
	event := notifier.published[0][0]
	assert.Equal(t, "a", event.GaugeID)
	assert.Equal(t, "Gauge a", event.GaugeName)
	assert.Equal(t, 2.5, event.Level)
	assert.Equal(t, domain.RiskNormal, event.Previous)
	assert.Equal(t, domain.RiskWatch, event.Current)
	assert.Equal(t, 37.5, event.Score)
	assert.False(t, event.PublishedAt.IsZero())
}

func TestRunOnceSilentOnRepeatAndDeescalation(t *testing.T) {
	gauges := &fakeGauges{gauges: []domain.Gauge{watchedGauge("a", 2.5)}}
	wl := &fakeWatchlist{entries: []domain.WatchlistEntry{
		{GaugeID: "a", AlertsEnabled: true},
	}}
	notifier := &fakeNotifier{}
	evaluator := newTestEvaluator(gauges, wl, notifier)

	require.NoError(t, evaluator.RunOnce(context.Background()))
	require.Len(t, notifier.published, 1)

	// Same level again: no new alert.
	require.NoError(t, evaluator.RunOnce(context.Background()))
	assert.Len(t, notifier.published, 1)

	// Falling back to normal stays silent.
	gauges.gauges = []domain.Gauge{watchedGauge("a", 1.0)}
	require.NoError(t, evaluator.RunOnce(context.Background()))
	assert.Len(t, notifier.published, 1)

	// Climbing again from the updated baseline fires.
	gauges.gauges = []domain.Gauge{watchedGauge("a", 3.5)}
	require.NoError(t, evaluator.RunOnce(context.Background()))
	require.Len(t, notifier.published, 2)
	assert.Equal(t, domain.RiskNormal, notifier.published[1][0].Previous)
	assert.Equal(t, domain.RiskWarning, notifier.published[1][0].Current)
}

func TestRunOnceAppliesThresholdOverrides(t *testing.T) {
	gauges := &fakeGauges{gauges: []domain.Gauge{watchedGauge("a", 1.5)}}
	wl := &fakeWatchlist{entries: []domain.WatchlistEntry{
		{GaugeID: "a", AlertsEnabled: true, WatchLevel: levelPtr(1.0)},
	}}
	notifier := &fakeNotifier{}

	err := newTestEvaluator(gauges, wl, notifier).RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.published, 1)
	assert.Equal(t, domain.RiskWatch, notifier.published[0][0].Current,
		"1.5m crosses the overridden 1.0m watch stage")
}

func TestRunOnceIgnoresInvalidOverrides(t *testing.T) {
	// Overrides that invert the stage ordering fall back to the defaults,
	// under which 1.5m is still normal.
	gauges := &fakeGauges{gauges: []domain.Gauge{watchedGauge("a", 1.5)}}
	wl := &fakeWatchlist{entries: []domain.WatchlistEntry{
		{GaugeID: "a", AlertsEnabled: true, WatchLevel: levelPtr(5.0), WarningLevel: levelPtr(2.0)},
	}}
	notifier := &fakeNotifier{}

	err := newTestEvaluator(gauges, wl, notifier).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notifier.published)
}

func TestRunOnceSkipsGaugesWithoutLevel(t *testing.T) {
	gauge := watchedGauge("a", 0)
	gauge.CurrentLevel = nil
	gauges := &fakeGauges{gauges: []domain.Gauge{gauge}}
	wl := &fakeWatchlist{entries: []domain.WatchlistEntry{
		{GaugeID: "a", AlertsEnabled: true},
	}}
	notifier := &fakeNotifier{}

	err := newTestEvaluator(gauges, wl, notifier).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notifier.published)
}

func TestRunOncePropagatesFetchError(t *testing.T) {
	gauges := &fakeGauges{err: errors.New("upstream down")}
	wl := &fakeWatchlist{entries: []domain.WatchlistEntry{
		{GaugeID: "a", AlertsEnabled: true},
	}}
	notifier := &fakeNotifier{}

	err := newTestEvaluator(gauges, wl, notifier).RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, notifier.published)
}
