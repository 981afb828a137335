// Package stats computes descriptive statistics and trend direction over
// price multisets. Pure computation, no I/O.
package stats

import (
	"errors"
	"math"
	"sort"
)

// ErrNoData is returned when a computation requires at least one sample.
var ErrNoData = errors.New("no price data")

// trendBandPct is the percentage change band within which two windows are
// considered stable.
const trendBandPct = 5.0

// --------------------------------------------------------------------------
// Summary
// --------------------------------------------------------------------------

// Summary holds descriptive statistics over a price multiset. Values are
// rounded to 2 decimal places for reporting; internal computation keeps
// full precision until the end.
type Summary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Count  int     `json:"count"`
}

// Summarize computes min, max, mean, median, and population standard
// deviation over prices. Order does not matter. Returns ErrNoData for an
// empty input — no data is distinct from a zero result.
func Summarize(prices []float64) (Summary, error) {
	if len(prices) == 0 {
		return Summary{}, ErrNoData
	}

	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	sum := 0.0
	for _, p := range sorted {
		sum += p
	}
	mean := sum / float64(len(sorted))

	// Population standard deviation: the full history is the population of
	// interest, so divide by N rather than N-1.
	variance := 0.0
	for _, p := range sorted {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(sorted))

	return Summary{
		Min:    Round2(sorted[0]),
		Max:    Round2(sorted[len(sorted)-1]),
		Mean:   Round2(mean),
		Median: Round2(median(sorted)),
		StdDev: Round2(math.Sqrt(variance)),
		Count:  len(sorted),
	}, nil
}

// median expects sorted input. Even length averages the two central
// elements; odd length takes the single central element.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Round2 rounds to 2 decimal places for reporting.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// --------------------------------------------------------------------------
// Trend
// --------------------------------------------------------------------------

// Trend is the directional movement between two comparison windows.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// ClassifyTrend compares the mean of a recent window against the mean of an
// older window. Movement beyond ±5% labels the trend up or down; anything
// inside the band is stable. Either window empty is stable — insufficient
// evidence, not an error, since callers commonly have no older window yet.
func ClassifyTrend(recent, older []float64) Trend {
	if len(recent) == 0 || len(older) == 0 {
		return TrendStable
	}

	recentMean := mean(recent)
	olderMean := mean(older)
	if olderMean == 0 {
		return TrendStable
	}

	changePct := (recentMean - olderMean) / olderMean * 100
	switch {
	case changePct > trendBandPct:
		return TrendUp
	case changePct < -trendBandPct:
		return TrendDown
	default:
		return TrendStable
	}
}

func mean(prices []float64) float64 {
	sum := 0.0
	for _, p := range prices {
		sum += p
	}
	return sum / float64(len(prices))
}
