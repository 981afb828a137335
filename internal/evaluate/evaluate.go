// Package evaluate orchestrates a full evaluation run for one flight date:
// every route observed on the date goes through refresh → classify →
// throttle → dispatch. Routes are independent; a failure in one is logged
// and skipped, never aborting the run.
package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/farewatch/farewatch/internal/analytics"
	"github.com/farewatch/farewatch/internal/detect"
	"github.com/farewatch/farewatch/internal/notify"
	"github.com/farewatch/farewatch/internal/stats"
	"github.com/farewatch/farewatch/internal/store"
)

// Alert is one successfully delivered alert in a run summary.
type Alert struct {
	Route          store.RouteKey `json:"-"`
	RouteLabel     string         `json:"route"`
	FlightDate     string         `json:"flight_date"`
	Classification string         `json:"classification"`
	OldPrice       float64        `json:"old_price"`
	NewPrice       float64        `json:"new_price"`
	Drop           float64        `json:"drop"`
	DropPercent    float64        `json:"drop_percent"`
	Currency       store.Currency `json:"currency"`
	Reason         string         `json:"reason"`
}

// RunResult summarizes one evaluation run. AlertsSent counts successful
// deliveries, not merely alert-worthy classifications.
type RunResult struct {
	FlightDate     time.Time     `json:"flight_date"`
	RoutesAnalyzed int           `json:"routes_analyzed"`
	AlertsSent     int           `json:"alerts_sent"`
	Alerts         []Alert       `json:"alerts"`
	Errors         []string      `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Summary returns a human-readable summary.
func (r *RunResult) Summary() string {
	return fmt.Sprintf("date=%s routes=%d alerts=%d errors=%d dur=%s",
		r.FlightDate.Format("2006-01-02"), r.RoutesAnalyzed, r.AlertsSent,
		len(r.Errors), r.Duration.Round(time.Millisecond))
}

// Evaluator runs the per-date pipeline.
type Evaluator struct {
	store     store.Store
	notifier  *notify.Notifier
	threshold float64 // default alert threshold for first-seen routes
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Evaluator.
func New(st store.Store, notifier *notify.Notifier, defaultThreshold float64, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:     st,
		notifier:  notifier,
		threshold: defaultThreshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate runs the pipeline for every route observed on flightDate.
// Fails with stats.ErrNoData when the date has no samples at all; per-route
// failures are collected into the result instead.
func (e *Evaluator) Evaluate(ctx context.Context, flightDate time.Time) (RunResult, error) {
	start := e.now()
	flightDate = store.DateOnly(flightDate)
	result := RunResult{FlightDate: flightDate}

	samples, err := e.store.SamplesOnDate(ctx, flightDate)
	if err != nil {
		return result, fmt.Errorf("load samples for %s: %w", flightDate.Format("2006-01-02"), err)
	}
	if len(samples) == 0 {
		return result, fmt.Errorf("evaluate %s: %w", flightDate.Format("2006-01-02"), stats.ErrNoData)
	}

	// Group by route, preserving first-encounter order.
	groups := make(map[store.RouteKey][]store.PriceSample)
	var order []store.RouteKey
	for _, s := range samples {
		key := s.Route()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], s)
	}

	e.logger.Info("Evaluation started",
		"date", flightDate.Format("2006-01-02"), "routes", len(order), "samples", len(samples))

	for _, key := range order {
		result.RoutesAnalyzed++
		alert, err := e.evaluateRoute(ctx, key, groups[key])
		if err != nil {
			e.logger.Warn("Route evaluation failed", "route", key.String(), "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("route %s: %s", key, err))
			continue
		}
		if alert != nil {
			result.Alerts = append(result.Alerts, *alert)
			result.AlertsSent++
		}
	}

	result.Duration = e.now().Sub(start)
	e.logger.Info("Evaluation complete", "summary", result.Summary())
	return result, nil
}

// evaluateRoute runs the four pipeline stages for one route, strictly in
// sequence: each stage's input is the prior stage's committed output.
//
// The latest observation (strict greater-than on observed_at; equal
// timestamps keep the first encountered) is classified against analytics
// refreshed from all earlier samples, then a final refresh folds it in.
// The first-ever observation for a route only seeds the record — there is
// no history to classify against.
func (e *Evaluator) evaluateRoute(ctx context.Context, key store.RouteKey, samples []store.PriceSample) (*Alert, error) {
	latestIdx := 0
	for i, s := range samples {
		if s.ObservedAt.After(samples[latestIdx].ObservedAt) {
			latestIdx = i
		}
	}
	latest := samples[latestIdx]
	prior := make([]store.PriceSample, 0, len(samples)-1)
	prior = append(prior, samples[:latestIdx]...)
	prior = append(prior, samples[latestIdx+1:]...)

	now := e.now()

	if len(prior) == 0 {
		if _, err := analytics.RefreshFromSamples(ctx, e.store, key, samples, e.threshold, now); err != nil {
			return nil, err
		}
		return nil, nil
	}

	rec, err := analytics.RefreshFromSamples(ctx, e.store, key, prior, e.threshold, now)
	if err != nil {
		return nil, err
	}

	res, err := detect.Classify(rec, latest.Price)
	if err != nil {
		return nil, err
	}

	// Every evaluation is recorded, alert-worthy or not.
	if err := e.store.RecordChangeEvent(ctx, res.Event(key, rec.AllTimeMin, latest.Price)); err != nil {
		return nil, err
	}

	var alert *Alert
	if res.ShouldAlert {
		outcome, err := e.notifier.TryNotify(ctx, notify.Alert{
			Route:    key,
			OldPrice: rec.AllTimeMin,
			NewPrice: latest.Price,
			Currency: latest.Currency,
			Reason:   res.Reason,
		})
		if err != nil {
			return nil, err
		}
		if outcome.Delivered {
			alert = &Alert{
				Route:          key,
				RouteLabel:     key.Label(),
				FlightDate:     key.FlightDate.Format("2006-01-02"),
				Classification: string(res.Classification),
				OldPrice:       rec.AllTimeMin,
				NewPrice:       latest.Price,
				Drop:           stats.Round2(rec.AllTimeMin - latest.Price),
				DropPercent:    stats.Round2(-res.PercentChange),
				Currency:       latest.Currency,
				Reason:         res.Reason,
			}
		}
	}

	// Fold the latest observation into the analytics record.
	if _, err := analytics.RefreshFromSamples(ctx, e.store, key, samples, e.threshold, now); err != nil {
		return nil, err
	}
	return alert, nil
}
