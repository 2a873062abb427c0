package domain

import "time"

// Forecast data is display-only: river discharge forecasts are not gauge
// stage levels and never feed risk classification.

// DischargeForecast is a date-indexed river discharge forecast for a point.
type DischargeForecast struct {
	Latitude  float64             `json:"latitude"`
	Longitude float64             `json:"longitude"`
	Forecasts []DischargeForecastDay `json:"forecasts"`
}

// DischargeForecastDay holds one day of forecast discharge. Discharge is nil
// when the model has no value for that day; upstream nulls pass through.
type DischargeForecastDay struct {
	Date      time.Time `json:"date"`
	Discharge *float64  `json:"discharge"`
}

// Precipitation bundles hourly and daily-sum precipitation forecasts.
type Precipitation struct {
	Hourly   []PrecipitationHour `json:"hourly"`
	DailySum []PrecipitationDay  `json:"daily_sum"`
}

// PrecipitationHour is one forecast hour of rainfall.
type PrecipitationHour struct {
	Time        time.Time `json:"time"`
	Amount      float64   `json:"amount"`      // mm
	Probability float64   `json:"probability"` // percent
}

// PrecipitationDay is a daily rainfall total.
type PrecipitationDay struct {
	Date  time.Time `json:"date"`
	Total float64   `json:"total"` // mm
}
