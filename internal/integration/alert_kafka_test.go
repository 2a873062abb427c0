//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkaadapter "github.com/floodwatch-io/floodwatch/internal/adapter/kafka"
	"github.com/floodwatch-io/floodwatch/internal/alert"
	"github.com/floodwatch-io/floodwatch/internal/domain"
	"github.com/floodwatch-io/floodwatch/internal/observability"
)

const testAlertTopic = "test-flood-alerts"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka launches a single-node Kafka broker in a container and returns
// its bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("floodwatch-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

type staticGauges struct {
	gauges []domain.Gauge
}

func (s *staticGauges) FetchSites(ctx context.Context, siteIDs []string) ([]domain.Gauge, error) {
	return s.gauges, nil
}

type staticWatchlist struct {
	entries []domain.WatchlistEntry
}

func (s *staticWatchlist) List(ctx context.Context) ([]domain.WatchlistEntry, error) {
	return s.entries, nil
}

// TestAlertEvaluationToKafka runs one evaluation pass against a real broker
// and verifies the published alert round-trips with key, headers, and body
// intact.
func TestAlertEvaluationToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testAlertTopic)

	writer := kafkaadapter.NewWriter([]string{broker}, testAlertTopic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	level := 3.2
	gauges := &staticGauges{gauges: []domain.Gauge{{
		ID:           "08156800",
		Name:         "Shoal Ck at Austin, TX",
		Source:       domain.SourceUSGS,
		CurrentLevel: &level,
		LastUpdated:  time.Now().UTC().Truncate(time.Second),
	}}}
	watchlist := &staticWatchlist{entries: []domain.WatchlistEntry{{
		GaugeID:       "08156800",
		AlertsEnabled: true,
	}}}

	evaluator := alert.NewEvaluator(gauges, watchlist, writer, nil,
		discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, evaluator.RunOnce(ctx))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testAlertTopic,
		GroupID:     fmt.Sprintf("test-alerts-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read alert from topic")

	assert.Equal(t, "08156800", string(msg.Key))

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "warning", headers["risk_level"])
	_, err = time.Parse(time.RFC3339, headers["published_at"])
	assert.NoError(t, err, "published_at should be valid RFC3339")

	var event domain.AlertEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "Shoal Ck at Austin, TX", event.GaugeName)
	assert.Equal(t, 3.2, event.Level)
	assert.Equal(t, domain.RiskNormal, event.Previous)
	assert.Equal(t, domain.RiskWarning, event.Current)
	assert.Equal(t, 55.0, event.Score)

	// A second pass at the same level must stay silent.
	require.NoError(t, evaluator.RunOnce(ctx))
	silentCtx, silentCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(silentCtx)
	silentCancel()
	assert.Error(t, err, "expected no second alert")
}
