// Package analytics maintains the per-route aggregate record. Every refresh
// recomputes from the full sample history rather than updating increments —
// recomputation is cheap at these history sizes and immune to drift from
// late-arriving or out-of-order samples.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/farewatch/farewatch/internal/stats"
	"github.com/farewatch/farewatch/internal/store"
)

const (
	window24h = 24 * time.Hour
	window7d  = 7 * 24 * time.Hour
	window14d = 14 * 24 * time.Hour
)

// Refresh loads the route's full sample history and rebuilds its analytics
// record. Returns the persisted record, including the monotonically merged
// all-time extrema and any carried-over alerting state.
func Refresh(ctx context.Context, st store.Store, key store.RouteKey, defaultThreshold float64, now time.Time) (*store.AnalyticsRecord, error) {
	samples, err := st.SamplesForRoute(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load samples for %s: %w", key, err)
	}
	return RefreshFromSamples(ctx, st, key, samples, defaultThreshold, now)
}

// RefreshFromSamples rebuilds the analytics record from an already-loaded
// sample set. The evaluator uses it to refresh against history-before-latest
// without re-querying. Fails with stats.ErrNoData when samples is empty —
// callers must not refresh a route with zero observations.
func RefreshFromSamples(ctx context.Context, st store.Store, key store.RouteKey, samples []store.PriceSample, defaultThreshold float64, now time.Time) (*store.AnalyticsRecord, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("refresh %s: %w", key, stats.ErrNoData)
	}

	prices := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.Price
	}

	summary, err := stats.Summarize(prices)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", key, err)
	}

	last24, last7, older7 := partition(samples, now)

	rec := store.AnalyticsRecord{
		Route:    key,
		Currency: samples[len(samples)-1].Currency,

		CurrentMin:    summary.Min,
		CurrentMax:    summary.Max,
		CurrentAvg:    summary.Mean,
		CurrentMedian: summary.Median,
		Volatility:    summary.StdDev,
		SampleCount:   summary.Count,

		// Store upsert merges these with any prior record via LEAST/GREATEST.
		AllTimeMin: summary.Min,
		AllTimeMax: summary.Max,

		Samples24h: len(last24),
		Samples7d:  len(last7),
		Trend24h:   trend24h(last24),
		Trend7d:    stats.ClassifyTrend(last7, older7),

		AlertThreshold: defaultThreshold,
	}

	if err := st.UpsertAnalytics(ctx, rec); err != nil {
		return nil, fmt.Errorf("refresh %s: %w", key, err)
	}

	// Read back so the caller sees merged extrema and preserved thresholds.
	persisted, err := st.Analytics(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: read back: %w", key, err)
	}
	if persisted == nil {
		return nil, fmt.Errorf("refresh %s: record missing after upsert", key)
	}
	return persisted, nil
}

// partition splits samples into the trend windows cut at now: last 24h,
// last 7d, and 7d-to-14d-ago. Windows are recomputed fresh on every call.
func partition(samples []store.PriceSample, now time.Time) (last24, last7, older7 []float64) {
	cut24 := now.Add(-window24h)
	cut7 := now.Add(-window7d)
	cut14 := now.Add(-window14d)

	for _, s := range samples {
		t := s.ObservedAt
		if t.After(cut24) {
			last24 = append(last24, s.Price)
		}
		if t.After(cut7) {
			last7 = append(last7, s.Price)
		} else if t.After(cut14) {
			older7 = append(older7, s.Price)
		}
	}
	return last24, last7, older7
}

// trend24h compares the second half of the 24h window against the first.
// Fewer than 2 samples is insufficient evidence, so stable. Prices arrive
// in observed_at order from the store.
func trend24h(last24 []float64) stats.Trend {
	if len(last24) < 2 {
		return stats.TrendStable
	}
	mid := len(last24) / 2
	return stats.ClassifyTrend(last24[mid:], last24[:mid])
}
