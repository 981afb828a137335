// Package store owns the persisted shapes of the fare watcher — price
// samples, per-route analytics, change events, and notification records —
// and the Store interface every pipeline stage talks through. Postgres is
// the production implementation; Memory backs tests.
package store

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/farewatch/farewatch/internal/stats"
)

// routeKeySep joins the route key fields in canonical form. Not expected to
// occur in airport codes or city names.
const routeKeySep = "|"

// --------------------------------------------------------------------------
// Currency
// --------------------------------------------------------------------------

// Currency is an ISO 4217 code accepted by the ingress validator.
type Currency string

const (
	CurrencyMXN Currency = "MXN"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// Valid reports whether the currency is one of the accepted codes.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyMXN, CurrencyUSD, CurrencyEUR:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Route key
// --------------------------------------------------------------------------

// RouteKey identifies one monitored itinerary: an (origin, destination,
// flight date) triple. The flight date carries no time component.
type RouteKey struct {
	Origin      string
	Destination string
	FlightDate  time.Time
}

// String returns the canonical join-key form, e.g. "MEX|CUN|2026-12-01".
func (k RouteKey) String() string {
	return k.Origin + routeKeySep + k.Destination + routeKeySep + k.FlightDate.Format("2006-01-02")
}

// Label returns the human-facing route name used in notification titles.
func (k RouteKey) Label() string {
	return k.Origin + " → " + k.Destination
}

// DateOnly truncates a timestamp to a calendar date in UTC. All flight
// dates are normalized through it so map keys and DATE columns agree.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// --------------------------------------------------------------------------
// Price sample — append-only observation ledger
// --------------------------------------------------------------------------

// PriceSample is one observed price. Immutable once appended.
type PriceSample struct {
	ID          int64
	Origin      string
	Destination string
	FlightDate  time.Time
	Price       float64
	Currency    Currency
	SourceLink  string
	ObservedAt  time.Time
}

// Route returns the sample's route key.
func (s PriceSample) Route() RouteKey {
	return RouteKey{Origin: s.Origin, Destination: s.Destination, FlightDate: DateOnly(s.FlightDate)}
}

// --------------------------------------------------------------------------
// Observation — ingress shape, validated before storage
// --------------------------------------------------------------------------

// Observation is the raw ingress payload supplied by the scraping
// collaborator (or the CLI). It is validated and normalized before a
// PriceSample is appended; malformed input never reaches storage.
type Observation struct {
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	FlightDate  string   `json:"flight_date"` // YYYY-MM-DD
	Price       float64  `json:"price"`
	Currency    Currency `json:"currency"`
	SourceLink  string   `json:"source_link"`
}

// ValidationError reports a malformed observation field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid observation: %s %s", e.Field, e.Reason)
}

// Sample validates the observation and converts it into an appendable
// PriceSample. defaultCurrency fills an empty currency field.
func (o Observation) Sample(defaultCurrency Currency, observedAt time.Time) (PriceSample, error) {
	origin := strings.ToUpper(strings.TrimSpace(o.Origin))
	dest := strings.ToUpper(strings.TrimSpace(o.Destination))

	switch {
	case origin == "":
		return PriceSample{}, &ValidationError{"origin", "is required"}
	case strings.Contains(origin, routeKeySep):
		return PriceSample{}, &ValidationError{"origin", "contains reserved separator"}
	case dest == "":
		return PriceSample{}, &ValidationError{"destination", "is required"}
	case strings.Contains(dest, routeKeySep):
		return PriceSample{}, &ValidationError{"destination", "contains reserved separator"}
	case origin == dest:
		return PriceSample{}, &ValidationError{"destination", "must differ from origin"}
	}

	date, err := time.Parse("2006-01-02", o.FlightDate)
	if err != nil {
		return PriceSample{}, &ValidationError{"flight_date", "must be YYYY-MM-DD"}
	}

	if o.Price <= 0 || math.IsNaN(o.Price) || math.IsInf(o.Price, 0) {
		return PriceSample{}, &ValidationError{"price", "must be a positive number"}
	}

	currency := o.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	if !currency.Valid() {
		return PriceSample{}, &ValidationError{"currency", "must be MXN, USD, or EUR"}
	}

	if o.SourceLink != "" {
		u, err := url.Parse(o.SourceLink)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return PriceSample{}, &ValidationError{"source_link", "must be an https URL"}
		}
	}

	return PriceSample{
		Origin:      origin,
		Destination: dest,
		FlightDate:  DateOnly(date),
		Price:       o.Price,
		Currency:    currency,
		SourceLink:  o.SourceLink,
		ObservedAt:  observedAt.UTC(),
	}, nil
}

// --------------------------------------------------------------------------
// Route analytics record — mutable per-route aggregate
// --------------------------------------------------------------------------

// AnalyticsRecord is the per-route aggregate state, upserted after every
// new observation. Current-window stats cover the full history; the 24h/7d
// windows feed trend direction only. All-time min only decreases and
// all-time max only increases across updates.
type AnalyticsRecord struct {
	Route    RouteKey
	Currency Currency

	CurrentMin    float64
	CurrentMax    float64
	CurrentAvg    float64
	CurrentMedian float64
	Volatility    float64
	SampleCount   int

	AllTimeMin float64
	AllTimeMax float64

	Samples24h int
	Samples7d  int
	Trend24h   stats.Trend
	Trend7d    stats.Trend

	AlertThreshold  float64
	TotalAlertsSent int
	LastAlertAt     *time.Time

	CreatedAt   time.Time
	LastUpdated time.Time
}

// trendFrom maps a stored trend label back to its typed form. Unknown
// labels degrade to stable.
func trendFrom(s string) stats.Trend {
	switch stats.Trend(s) {
	case stats.TrendUp, stats.TrendDown, stats.TrendStable:
		return stats.Trend(s)
	}
	return stats.TrendStable
}

// --------------------------------------------------------------------------
// Audit trails — append-only
// --------------------------------------------------------------------------

// ChangeEvent records one change-detector evaluation, alert-worthy or not.
type ChangeEvent struct {
	ID             int64
	Route          RouteKey
	OldPrice       float64 // reference price: prior all-time min
	NewPrice       float64
	AbsoluteChange float64
	PercentChange  float64
	Classification string
	AlertTriggered bool
	Reason         string
	CreatedAt      time.Time
}

// NotificationRecord records one dispatch attempt that passed the throttle.
// Throttled suppressions are not recorded.
type NotificationRecord struct {
	ID              int64
	Route           RouteKey
	OldPrice        float64
	NewPrice        float64
	PriceDrop       float64
	DropPercent     float64
	Currency        Currency
	Reason          string
	Delivered       bool
	TransportDetail string
	SentAt          time.Time
}

// --------------------------------------------------------------------------
// Store interface
// --------------------------------------------------------------------------

// Store is the persistence boundary the pipeline depends on. Implementations
// must keep UpsertAnalytics monotonic on the all-time extrema under
// concurrent callers and must never mutate appended samples.
type Store interface {
	// Price samples
	AppendSample(ctx context.Context, s PriceSample) error
	SamplesForRoute(ctx context.Context, key RouteKey) ([]PriceSample, error)
	SamplesOnDate(ctx context.Context, flightDate time.Time) ([]PriceSample, error)

	// Route analytics
	Analytics(ctx context.Context, key RouteKey) (*AnalyticsRecord, error)
	AnalyticsOnDate(ctx context.Context, flightDate time.Time) ([]AnalyticsRecord, error)
	UpsertAnalytics(ctx context.Context, rec AnalyticsRecord) error
	BumpAlertCount(ctx context.Context, key RouteKey, at time.Time) error

	// Audit trails
	RecordChangeEvent(ctx context.Context, ev ChangeEvent) error
	ChangeEvents(ctx context.Context, key RouteKey, limit int) ([]ChangeEvent, error)
	RecordNotification(ctx context.Context, n NotificationRecord) error
	LatestNotification(ctx context.Context, key RouteKey) (*NotificationRecord, error)
	Notifications(ctx context.Context, key RouteKey, limit int) ([]NotificationRecord, error)

	// Retention
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
}
