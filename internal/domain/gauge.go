package domain

import "time"

// RiskLevel is the four-step flood risk classification derived from water level.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskWatch    RiskLevel = "watch"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
)

// riskRank orders levels for escalation comparisons.
var riskRank = map[RiskLevel]int{
	RiskNormal:   0,
	RiskWatch:    1,
	RiskWarning:  2,
	RiskCritical: 3,
}

// Rank returns the ordinal position of the risk level (normal=0 .. critical=3).
func (r RiskLevel) Rank() int {
	return riskRank[r]
}

// Trend is the short-term direction of a gauge's water level.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendStable  Trend = "stable"
	TrendFalling Trend = "falling"
)

// Source identifies where a gauge's readings originate.
type Source string

const (
	SourceUSGS      Source = "usgs"      // USGS instantaneous-values stream
	SourceOpenMeteo Source = "openmeteo" // Open-Meteo forecast stream
	SourceSensor    Source = "ble"       // personal BLE water-level sensor
)

// Gauge is the unified record of a water-level-observing entity, regardless
// of origin. Level is meters, discharge m³/s. CurrentLevel is nil until the
// first reading arrives; a gauge without a level is always normal/0.
type Gauge struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Source    Source  `json:"source"`

	// USGSCode is set for public gauges (same as ID for USGS sites).
	USGSCode string `json:"usgs_code,omitempty"`

	CurrentLevel     *float64  `json:"current_level,omitempty"`
	CurrentDischarge *float64  `json:"current_discharge,omitempty"`
	RiskLevel        RiskLevel `json:"risk_level"`
	RiskScore        float64   `json:"risk_score"`
	Trend            Trend     `json:"trend"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Reading is a single timestamped observation. Readings feed trend
// computation and charting only, never risk thresholding.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Level     float64   `json:"level"`
	Discharge *float64  `json:"discharge,omitempty"`
}

// ConnectionState tracks the BLE link to a personal sensor.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// Sensor is a Gauge backed by a personal BLE water-level sensor.
// DeviceID is the radio-layer identifier and doubles as the gauge ID.
type Sensor struct {
	Gauge

	DeviceID        string          `json:"device_id"`
	BatteryPercent  int             `json:"battery_percent"`
	RiseRate        float64         `json:"rise_rate"` // meters/hour, signed
	ConnectionState ConnectionState `json:"connection_state"`
}

// WatchlistEntry references a gauge by ID; the gauge itself may be
// transiently unresolvable when outside the current query radius.
// WatchLevel/WarningLevel override the action and flood stages for alerting.
type WatchlistEntry struct {
	GaugeID       string    `json:"gauge_id"`
	AddedAt       time.Time `json:"added_at"`
	AlertsEnabled bool      `json:"alerts_enabled"`
	WatchLevel    *float64  `json:"watch_level,omitempty"`
	WarningLevel  *float64  `json:"warning_level,omitempty"`
}

// AlertEvent records a watched gauge escalating to a higher risk level.
type AlertEvent struct {
	GaugeID     string    `json:"gauge_id"`
	GaugeName   string    `json:"gauge_name"`
	Level       float64   `json:"level"`
	Previous    RiskLevel `json:"previous_risk_level"`
	Current     RiskLevel `json:"risk_level"`
	Score       float64   `json:"risk_score"`
	ObservedAt  time.Time `json:"observed_at"`
	PublishedAt time.Time `json:"published_at"`
}
