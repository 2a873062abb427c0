package usgs

import (
	"strconv"
	"time"

	"github.com/floodwatch-io/floodwatch/internal/domain"
)

// response mirrors the NWIS WaterML-JSON envelope. One timeSeries entry per
// site-parameter pair; values arrive as strings with explicit nulls.
type response struct {
	Value struct {
		TimeSeries []timeSeries `json:"timeSeries"`
	} `json:"value"`
}

type timeSeries struct {
	SourceInfo sourceInfo   `json:"sourceInfo"`
	Variable   variable     `json:"variable"`
	Values     []valueBlock `json:"values"`
}

type sourceInfo struct {
	SiteName    string      `json:"siteName"`
	SiteCode    []codeValue `json:"siteCode"`
	GeoLocation struct {
		GeogLocation struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"geogLocation"`
	} `json:"geoLocation"`
}

type variable struct {
	VariableCode []codeValue `json:"variableCode"`
	VariableName string      `json:"variableName"`
}

type codeValue struct {
	Value string `json:"value"`
}

type valueBlock struct {
	Value []timedValue `json:"value"`
}

type timedValue struct {
	Value    *string `json:"value"`
	DateTime string  `json:"dateTime"`
}

// latest returns the most recent value in the series, or nil when the series
// carries no data.
func (ts timeSeries) latest() *timedValue {
	if len(ts.Values) == 0 || len(ts.Values[0].Value) == 0 {
		return nil
	}
	return &ts.Values[0].Value[0]
}

func (ts timeSeries) parameterCode() string {
	if len(ts.Variable.VariableCode) == 0 {
		return ""
	}
	return ts.Variable.VariableCode[0].Value
}

// normalize folds the per-parameter series into one Gauge per site, in the
// order sites first appear in the response. Levels convert from feet to
// meters and discharge from cfs to m3/s before classification.
func (c *Client) normalize(resp response) []domain.Gauge {
	var order []string
	gauges := make(map[string]*domain.Gauge)

	for _, series := range resp.Value.TimeSeries {
		if len(series.SourceInfo.SiteCode) == 0 {
			continue
		}
		siteCode := series.SourceInfo.SiteCode[0].Value

		g, ok := gauges[siteCode]
		if !ok {
			g = &domain.Gauge{
				ID:          siteCode,
				Name:        series.SourceInfo.SiteName,
				Latitude:    series.SourceInfo.GeoLocation.GeogLocation.Latitude,
				Longitude:   series.SourceInfo.GeoLocation.GeogLocation.Longitude,
				Source:      domain.SourceUSGS,
				USGSCode:    siteCode,
				LastUpdated: domain.Now(),
			}
			gauges[siteCode] = g
			order = append(order, siteCode)
		}

		latest := series.latest()
		if latest == nil || latest.Value == nil {
			continue
		}
		raw, err := parseFloat(*latest.Value)
		if err != nil {
			c.logger.Debug("skipping unparseable value", "site", siteCode, "value", *latest.Value)
			continue
		}
		if ts, err := time.Parse(time.RFC3339, latest.DateTime); err == nil {
			g.LastUpdated = ts
		}

		switch series.parameterCode() {
		case paramGaugeHeight:
			m := domain.FeetToMeters(raw)
			g.CurrentLevel = &m
		case paramDischarge:
			d := domain.CfsToM3s(raw)
			g.CurrentDischarge = &d
		}
	}

	out := make([]domain.Gauge, 0, len(order))
	for _, siteCode := range order {
		g := gauges[siteCode]
		g.RiskLevel, g.RiskScore = domain.ClassifyRisk(g.CurrentLevel, c.stages(siteCode))
		g.Trend = domain.TrendStable
		out = append(out, *g)
	}
	return out
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
