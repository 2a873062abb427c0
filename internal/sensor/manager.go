package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/floodwatch-io/floodwatch/internal/domain"
	"github.com/floodwatch-io/floodwatch/internal/observability"
)

const (
	maxReconnectAttempts = 5
	baseReconnectDelay   = time.Second
	maxReconnectDelay    = 30 * time.Second
	locateTimeout        = 5 * time.Second
	reconnectTimeout     = 20 * time.Second
)

// Config carries the BLE service contract: one primary service UUID and
// four optional characteristic UUIDs, plus the stage thresholds applied to
// decoded readings.
type Config struct {
	ServiceUUID    string
	WaterLevelUUID string
	RiseRateUUID   string
	BatteryUUID    string
	StatusUUID     string
	NamePrefix     string

	Stages domain.StageThresholds
}

// Manager owns the connection lifecycle to one physical sensor at a time:
// discovery, GATT connection, characteristic subscription, payload decoding,
// disconnection detection, and exponential-backoff reconnection. All decode
// and battery parse failures are contained here and never surface to callers.
type Manager struct {
	cfg       Config
	transport Transport
	store     *Store
	locator   Locator
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock

	mu                sync.Mutex
	device            Device
	conn              Conn
	chars             map[string]Characteristic
	reconnectTimer    clockwork.Timer
	reconnectAttempts int
}

// NewManager wires a device manager over the given transport. The store is
// the single shared sensor state; the manager is its only writer.
func NewManager(cfg Config, transport Transport, store *Store, locator Locator, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Manager {
	return &Manager{
		cfg:       cfg,
		transport: transport,
		store:     store,
		locator:   locator,
		logger:    logger,
		metrics:   metrics,
		clock:     clock,
	}
}

// Discover finds a sensor advertising the configured name prefix.
func (m *Manager) Discover(ctx context.Context) (Device, error) {
	return m.transport.Discover(ctx)
}

// DiscoverAndConnect runs discovery and connects to the selected device.
// A cancelled discovery (ErrNoDevice) resolves silently without error.
func (m *Manager) DiscoverAndConnect(ctx context.Context) error {
	dev, err := m.transport.Discover(ctx)
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			m.logger.Debug("discovery cancelled, no device selected")
			return nil
		}
		return err
	}
	return m.Connect(ctx, dev)
}

// Connect opens a GATT session, resolves the flood-sensor characteristics
// independently (missing ones are logged and skipped), registers the sensor
// record, and starts notification streams. The disconnect observer is
// attached by the transport before the connection attempt completes.
func (m *Manager) Connect(ctx context.Context, dev Device) error {
	m.mu.Lock()
	// A fresh connect supersedes any pending reconnect timer.
	m.cancelReconnectLocked()
	m.device = dev
	m.mu.Unlock()

	deviceID := dev.ID()
	conn, err := m.transport.Connect(ctx, dev, func() { m.handleDisconnect(deviceID) })
	if err != nil {
		return fmt.Errorf("connect %s: %w", deviceID, err)
	}

	chars := m.resolveCharacteristics(ctx, conn)

	lat, lon := m.locate(ctx)

	name := dev.Name()
	if name == "" {
		name = "FloodWatch Sensor"
	}

	now := m.clock.Now()
	record := domain.Sensor{
		Gauge: domain.Gauge{
			ID:          deviceID,
			Name:        name,
			Latitude:    lat,
			Longitude:   lon,
			Source:      domain.SourceSensor,
			RiskLevel:   domain.RiskNormal,
			RiskScore:   0,
			Trend:       domain.TrendStable,
			LastUpdated: now,
		},
		DeviceID: deviceID,
		// Placeholder until the first battery notification arrives.
		BatteryPercent:  100,
		RiseRate:        0,
		ConnectionState: domain.StateConnected,
	}

	m.mu.Lock()
	m.conn = conn
	m.chars = chars
	m.reconnectAttempts = 0
	m.mu.Unlock()

	m.store.Put(record)
	m.metrics.SensorConnected.Set(1)
	m.logger.Info("sensor connected", "device_id", deviceID, "name", name, "characteristics", len(chars))

	m.subscribe(deviceID)
	return nil
}

// resolveCharacteristics resolves each known characteristic independently.
// Firmware variants may omit optional channels; a missing characteristic is
// logged and skipped, not fatal.
func (m *Manager) resolveCharacteristics(ctx context.Context, conn Conn) map[string]Characteristic {
	wanted := []struct {
		name string
		uuid string
	}{
		{"water_level", m.cfg.WaterLevelUUID},
		{"rise_rate", m.cfg.RiseRateUUID},
		{"battery", m.cfg.BatteryUUID},
		{"status", m.cfg.StatusUUID},
	}

	chars := make(map[string]Characteristic)
	for _, w := range wanted {
		if w.uuid == "" {
			continue
		}
		c, err := conn.ResolveCharacteristic(ctx, w.uuid)
		if err != nil {
			m.logger.Warn("characteristic not found, skipping", "characteristic", w.name, "uuid", w.uuid, "error", err)
			continue
		}
		chars[w.uuid] = c
	}
	return chars
}

// locate acquires the caller's position, falling back to (0,0) on timeout
// or denial within the 5 second bound.
func (m *Manager) locate(ctx context.Context) (float64, float64) {
	if m.locator == nil {
		return 0, 0
	}
	ctx, cancel := context.WithTimeout(ctx, locateTimeout)
	defer cancel()

	lat, lon, err := m.locator.Locate(ctx)
	if err != nil {
		m.logger.Debug("geolocation unavailable, using null island", "error", err)
		return 0, 0
	}
	return lat, lon
}

// subscribe starts notification streams on whichever of the water-level and
// battery characteristics were resolved. Absence of both is tolerated; the
// device stays connected with no live data.
func (m *Manager) subscribe(deviceID string) {
	m.mu.Lock()
	levelChar := m.chars[m.cfg.WaterLevelUUID]
	batteryChar := m.chars[m.cfg.BatteryUUID]
	m.mu.Unlock()

	if levelChar != nil {
		if err := levelChar.Subscribe(func(p []byte) { m.handleReading(deviceID, p) }); err != nil {
			m.logger.Warn("water-level subscription failed", "device_id", deviceID, "error", err)
		}
	}
	if batteryChar != nil {
		if err := batteryChar.Subscribe(func(p []byte) { m.handleBattery(deviceID, p) }); err != nil {
			m.logger.Warn("battery subscription failed", "device_id", deviceID, "error", err)
		}
	}
}

// handleReading decodes a water-level notification and folds it into the
// reading buffer and the sensor's live fields. Malformed payloads are
// dropped without mutating state.
func (m *Manager) handleReading(deviceID string, payload []byte) {
	level, riseRate, ok := decodeLevelPayload(payload)
	if !ok {
		m.metrics.SensorDecodeDrops.Inc()
		m.logger.Debug("dropping undersized water-level payload", "device_id", deviceID, "bytes", len(payload))
		return
	}

	now := m.clock.Now()
	buffer := m.store.AppendReading(deviceID, domain.Reading{Timestamp: now, Level: level})

	record, found := m.store.Get(deviceID)
	if !found {
		return
	}

	l := level
	record.CurrentLevel = &l
	record.RiseRate = riseRate
	record.LastUpdated = now
	record.RiskLevel, record.RiskScore = domain.ClassifyRisk(&l, m.cfg.Stages)
	record.Trend = domain.ClassifyTrend(buffer)
	m.store.Put(record)

	m.metrics.SensorReadings.Inc()
}

// handleBattery decodes a single-byte battery percent notification.
// The stored value is clamped to [0,100]; the raw byte is logged at debug
// so out-of-range firmware values stay diagnosable.
func (m *Manager) handleBattery(deviceID string, payload []byte) {
	if len(payload) < 1 {
		m.metrics.SensorDecodeDrops.Inc()
		return
	}

	raw := int(payload[0])
	percent := raw
	if percent > 100 {
		m.logger.Debug("battery percent out of range", "device_id", deviceID, "raw", raw)
		percent = 100
	}

	record, found := m.store.Get(deviceID)
	if !found {
		return
	}
	record.BatteryPercent = percent
	m.store.Put(record)
}

// handleDisconnect marks the sensor disconnected and either stops (budget
// exhausted) or schedules a reconnect with exponential backoff.
func (m *Manager) handleDisconnect(deviceID string) {
	m.mu.Lock()
	if m.device == nil || m.device.ID() != deviceID {
		// Stale callback after an explicit Disconnect.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.chars = nil
	attempts := m.reconnectAttempts
	m.mu.Unlock()

	m.store.SetConnectionState(deviceID, domain.StateDisconnected)
	m.metrics.SensorConnected.Set(0)

	if attempts >= maxReconnectAttempts {
		m.logger.Warn("reconnect budget exhausted, staying disconnected", "device_id", deviceID, "attempts", attempts)
		return
	}

	m.scheduleReconnect(deviceID)
}

// scheduleReconnect arms the backoff timer: min(1s·2^attempt, 30s), with the
// sensor shown as connecting during the wait.
func (m *Manager) scheduleReconnect(deviceID string) {
	m.mu.Lock()
	m.reconnectAttempts++
	attempt := m.reconnectAttempts
	delay := backoffDelay(attempt)
	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.reconnect(deviceID) })
	m.mu.Unlock()

	m.store.SetConnectionState(deviceID, domain.StateConnecting)
	m.logger.Info("reconnect scheduled", "device_id", deviceID, "attempt", attempt, "delay", delay)
}

// reconnect fires when the backoff timer elapses. It is a no-op if the
// device was explicitly disconnected while the timer was pending.
func (m *Manager) reconnect(deviceID string) {
	m.mu.Lock()
	dev := m.device
	m.reconnectTimer = nil
	m.mu.Unlock()

	if dev == nil || dev.ID() != deviceID {
		return
	}

	m.metrics.SensorReconnects.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
	defer cancel()

	if err := m.Connect(ctx, dev); err != nil {
		m.logger.Warn("reconnect attempt failed", "device_id", deviceID, "error", err)
		m.handleDisconnect(deviceID)
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := baseReconnectDelay << uint(attempt)
	if delay > maxReconnectDelay || delay <= 0 {
		return maxReconnectDelay
	}
	return delay
}

// Disconnect tears the session down on user request: cancels any pending
// reconnect, best-effort-stops notification streams (the device may already
// be gone), removes the sensor record, and closes a still-live transport.
// The manager always ends idle with no device reference.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.cancelReconnectLocked()
	dev := m.device
	conn := m.conn
	chars := m.chars
	m.device = nil
	m.conn = nil
	m.chars = nil
	m.reconnectAttempts = 0
	m.mu.Unlock()

	for _, c := range chars {
		_ = c.Unsubscribe()
	}

	if dev != nil {
		m.store.Remove(dev.ID())
		m.logger.Info("sensor disconnected", "device_id", dev.ID())
	}

	if conn != nil && conn.Connected() {
		_ = conn.Close()
	}

	m.metrics.SensorConnected.Set(0)
}

// IsConnected reports whether a live GATT session exists.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.conn.Connected()
}

// Sensors returns a snapshot of all sensor records.
func (m *Manager) Sensors() []domain.Sensor {
	return m.store.Sensors()
}

// Readings returns the rolling reading buffer for a device, oldest first.
func (m *Manager) Readings(deviceID string) []domain.Reading {
	return m.store.Readings(deviceID)
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// decodeLevelPayload decodes a water-level notification: little-endian
// float32 level in centimeters at offset 0 (converted to meters), and an
// optional little-endian float32 rise-rate at offset 4. Payloads shorter
// than 4 bytes are rejected; payloads shorter than 8 default rise-rate to 0.
func decodeLevelPayload(payload []byte) (level, riseRate float64, ok bool) {
	if len(payload) < 4 {
		return 0, 0, false
	}
	level = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[0:4]))) / 100
	if len(payload) >= 8 {
		riseRate = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[4:8])))
	}
	return level, riseRate, true
}
