package domain

import "fmt"

// StageThresholds are the regulatory water-level stages (meters) used for
// risk banding. They must be positive and strictly increasing.
type StageThresholds struct {
	Action float64 `yaml:"action" json:"action"`
	Flood  float64 `yaml:"flood" json:"flood"`
	Major  float64 `yaml:"major" json:"major"`
}

// DefaultStages returns the stage thresholds used when a site has no
// configured overrides.
func DefaultStages() StageThresholds {
	return StageThresholds{Action: 2.0, Flood: 3.0, Major: 4.0}
}

// Validate rejects thresholds that would break the piecewise-linear score
// map (zero or inverted stages divide by zero or invert the bands).
func (t StageThresholds) Validate() error {
	if t.Action <= 0 {
		return fmt.Errorf("action stage must be positive, got %g", t.Action)
	}
	if t.Flood <= t.Action {
		return fmt.Errorf("flood stage %g must exceed action stage %g", t.Flood, t.Action)
	}
	if t.Major <= t.Flood {
		return fmt.Errorf("major stage %g must exceed flood stage %g", t.Major, t.Flood)
	}
	return nil
}

// ClassifyRisk maps a water level in meters to a risk level and a score in
// [0,100]. The map is piecewise linear and monotone: stage boundaries land
// exactly on scores 25 (action), 50 (flood) and 100 (major). A nil level
// means no reading yet and classifies as normal/0.
func ClassifyRisk(level *float64, t StageThresholds) (RiskLevel, float64) {
	if level == nil {
		return RiskNormal, 0
	}
	l := *level

	switch {
	case l >= t.Major:
		return RiskCritical, 100
	case l >= t.Flood:
		ratio := (l - t.Flood) / (t.Major - t.Flood)
		return RiskWarning, 50 + ratio*25
	case l >= t.Action:
		ratio := (l - t.Action) / (t.Flood - t.Action)
		return RiskWatch, 25 + ratio*25
	default:
		return RiskNormal, l / t.Action * 25
	}
}

// trendWindow is the number of most-recent readings considered by ClassifyTrend.
const trendWindow = 24

// ClassifyTrend compares the average level of the first and last thirds of
// the trend window. A change above +5% is rising, below -5% falling.
// Windows too short to form non-empty thirds are stable.
func ClassifyTrend(readings []Reading) Trend {
	if len(readings) < 2 {
		return TrendStable
	}

	recent := readings
	if len(recent) > trendWindow {
		recent = recent[len(recent)-trendWindow:]
	}

	third := len(recent) / 3
	if third == 0 {
		return TrendStable
	}

	avgFirst := meanLevel(recent[:third])
	avgLast := meanLevel(recent[len(recent)-third:])

	if avgFirst == 0 {
		if avgLast > 0 {
			return TrendRising
		}
		return TrendStable
	}

	changePercent := (avgLast - avgFirst) / avgFirst * 100
	switch {
	case changePercent > 5:
		return TrendRising
	case changePercent < -5:
		return TrendFalling
	default:
		return TrendStable
	}
}

func meanLevel(readings []Reading) float64 {
	var sum float64
	for _, r := range readings {
		sum += r.Level
	}
	return sum / float64(len(readings))
}
