// Package domain models water gauges and their flood-risk classification.
//
// # Gauge sources
//
// A Gauge unifies three reading origins: USGS instantaneous-values sites
// (public stream), Open-Meteo forecast points (forecast stream), and
// personal FloodWatch BLE sensors. Public gauges report in US customary
// units upstream and are converted on ingest:
//
//	gauge height:  feet × 0.3048    → meters
//	discharge:     cfs  × 0.0283168 → m³/s
//
// # Risk classification
//
// ClassifyRisk bands a level (meters) against regulatory stage thresholds
// (action, flood, major; default 2.0/3.0/4.0 m). The score in [0,100] is
// piecewise linear and strictly increasing in level, with stage boundaries
// producing scores 25, 50 and 100 exactly:
//
//	level < action          normal    score = 25·level/action
//	action ≤ level < flood  watch     score = 25 + 25·(level−action)/(flood−action)
//	flood ≤ level < major   warning   score = 50 + 25·(level−flood)/(major−flood)
//	level ≥ major           critical  score = 100
//
// A gauge with no reading yet (nil level) is always normal/0. Risk level and
// score are therefore mutually consistent by construction.
//
// # Trend
//
// ClassifyTrend looks at the most recent 24 readings, averages the first and
// last thirds, and compares the percent change against a ±5% band. Windows
// too short to form non-empty thirds report stable. Readings feed only trend
// and charting, never risk thresholding.
package domain
