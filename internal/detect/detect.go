// Package detect classifies a freshly observed price against a route's
// analytics record and decides whether the observation warrants an alert.
// The reference price for all change math is the all-time minimum.
package detect

import (
	"errors"
	"fmt"

	"github.com/farewatch/farewatch/internal/stats"
	"github.com/farewatch/farewatch/internal/store"
)

// ErrNoPriorAnalytics is returned when classification is attempted before
// any analytics exist for the route. The first observation for a route can
// never trigger an alert — there is nothing to compare against.
var ErrNoPriorAnalytics = errors.New("no prior analytics for route")

// spikeFactor flags prices far above the running average as spikes.
const spikeFactor = 1.5

// Classification is the discrete label assigned to a new observation
// relative to the route's history.
type Classification string

const (
	NewMinimum        Classification = "new_minimum"
	SignificantDrop   Classification = "significant_drop"
	PriceSpike        Classification = "price_spike"
	NormalFluctuation Classification = "normal_fluctuation"
)

// Result is one classification outcome.
type Result struct {
	Classification Classification
	ShouldAlert    bool
	Reason         string
	AbsoluteChange float64 // newPrice - all-time min
	PercentChange  float64
}

// Classify evaluates newPrice against the route's record. Precedence:
// new_minimum, significant_drop, price_spike, normal_fluctuation; the first
// match wins. Only the first two can alert, and only when the drop reaches
// the record's alert threshold.
func Classify(rec *store.AnalyticsRecord, newPrice float64) (Result, error) {
	if rec == nil || rec.SampleCount == 0 {
		return Result{}, ErrNoPriorAnalytics
	}

	change := newPrice - rec.AllTimeMin
	pct := 0.0
	if rec.AllTimeMin != 0 {
		pct = change / rec.AllTimeMin * 100
	}

	res := Result{AbsoluteChange: change, PercentChange: pct}
	drop := -change // positive when the price fell below the all-time min

	switch {
	case newPrice < rec.AllTimeMin:
		res.Classification = NewMinimum
		res.ShouldAlert = drop >= rec.AlertThreshold
		res.Reason = fmt.Sprintf("New all-time low, down %.2f (%.1f%%)",
			stats.Round2(drop), -pct)

	case drop >= rec.AlertThreshold:
		// Reachable only when the record's extrema were adjusted out of
		// band; a real drop this size must still surface.
		res.Classification = SignificantDrop
		res.ShouldAlert = true
		res.Reason = fmt.Sprintf("Price dropped %.2f (%.1f%%)",
			stats.Round2(drop), -pct)

	case newPrice > rec.CurrentAvg*spikeFactor:
		res.Classification = PriceSpike
		res.Reason = fmt.Sprintf("Price spike: %.2f is %.1f%% above the average %.2f",
			stats.Round2(newPrice), stats.Round2((newPrice-rec.CurrentAvg)/rec.CurrentAvg*100), rec.CurrentAvg)

	default:
		res.Classification = NormalFluctuation
		res.Reason = fmt.Sprintf("Normal fluctuation, %+.2f vs all-time low %.2f",
			stats.Round2(change), rec.AllTimeMin)
	}

	return res, nil
}

// Event builds the audit record for a classification. Written on every
// evaluation, alert-worthy or not.
func (r Result) Event(key store.RouteKey, referencePrice, newPrice float64) store.ChangeEvent {
	return store.ChangeEvent{
		Route:          key,
		OldPrice:       referencePrice,
		NewPrice:       newPrice,
		AbsoluteChange: r.AbsoluteChange,
		PercentChange:  r.PercentChange,
		Classification: string(r.Classification),
		AlertTriggered: r.ShouldAlert,
		Reason:         r.Reason,
	}
}
