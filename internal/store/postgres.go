package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool. All statements are
// registered as prepared statements in internal/db; methods refer to them
// by name. The analytics upsert merges the all-time extrema with
// LEAST/GREATEST inside a single statement, so concurrent evaluator runs
// cannot lose an update.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connected pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// --------------------------------------------------------------------------
// Price samples
// --------------------------------------------------------------------------

// AppendSample appends one observation to the price ledger.
func (p *Postgres) AppendSample(ctx context.Context, s PriceSample) error {
	_, err := p.pool.Exec(ctx, "insert_price_sample",
		s.Origin, s.Destination, s.FlightDate, s.Price, string(s.Currency), s.SourceLink, s.ObservedAt)
	if err != nil {
		return fmt.Errorf("append sample %s: %w", s.Route(), err)
	}
	return nil
}

// SamplesForRoute returns every sample for a route ordered by observed_at.
func (p *Postgres) SamplesForRoute(ctx context.Context, key RouteKey) ([]PriceSample, error) {
	rows, err := p.pool.Query(ctx, "samples_for_route", key.Origin, key.Destination, key.FlightDate)
	if err != nil {
		return nil, fmt.Errorf("samples for route %s: %w", key, err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

// SamplesOnDate returns every sample observed for any route flying on the
// given date, ordered by observed_at.
func (p *Postgres) SamplesOnDate(ctx context.Context, flightDate time.Time) ([]PriceSample, error) {
	rows, err := p.pool.Query(ctx, "samples_on_date", DateOnly(flightDate))
	if err != nil {
		return nil, fmt.Errorf("samples on date %s: %w", flightDate.Format("2006-01-02"), err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

func scanSamples(rows pgx.Rows) ([]PriceSample, error) {
	var samples []PriceSample
	for rows.Next() {
		var s PriceSample
		var currency string
		if err := rows.Scan(&s.ID, &s.Origin, &s.Destination, &s.FlightDate,
			&s.Price, &currency, &s.SourceLink, &s.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.Currency = Currency(currency)
		s.FlightDate = DateOnly(s.FlightDate)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// --------------------------------------------------------------------------
// Route analytics
// --------------------------------------------------------------------------

// Analytics returns the analytics record for a route, or nil when the route
// has never been refreshed.
func (p *Postgres) Analytics(ctx context.Context, key RouteKey) (*AnalyticsRecord, error) {
	row := p.pool.QueryRow(ctx, "route_analytics_get", key.Origin, key.Destination, key.FlightDate)
	rec, err := scanAnalytics(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analytics for %s: %w", key, err)
	}
	return rec, nil
}

// AnalyticsOnDate returns all analytics records for routes flying on a date.
func (p *Postgres) AnalyticsOnDate(ctx context.Context, flightDate time.Time) ([]AnalyticsRecord, error) {
	rows, err := p.pool.Query(ctx, "route_analytics_on_date", DateOnly(flightDate))
	if err != nil {
		return nil, fmt.Errorf("analytics on date: %w", err)
	}
	defer rows.Close()

	var records []AnalyticsRecord
	for rows.Next() {
		rec, err := scanAnalytics(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analytics: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalytics(row rowScanner) (*AnalyticsRecord, error) {
	var rec AnalyticsRecord
	var currency, trend24, trend7 string
	err := row.Scan(
		&rec.Route.Origin, &rec.Route.Destination, &rec.Route.FlightDate, &currency,
		&rec.CurrentMin, &rec.CurrentMax, &rec.CurrentAvg, &rec.CurrentMedian,
		&rec.Volatility, &rec.SampleCount,
		&rec.AllTimeMin, &rec.AllTimeMax,
		&rec.Samples24h, &rec.Samples7d, &trend24, &trend7,
		&rec.AlertThreshold, &rec.TotalAlertsSent, &rec.LastAlertAt,
		&rec.CreatedAt, &rec.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	rec.Currency = Currency(currency)
	rec.Trend24h = trendFrom(trend24)
	rec.Trend7d = trendFrom(trend7)
	rec.Route.FlightDate = DateOnly(rec.Route.FlightDate)
	return &rec, nil
}

// UpsertAnalytics creates or updates a route's analytics record. On update
// the all-time extrema merge monotonically and alert_threshold,
// total_alerts_sent, last_alert_sent_at, and created_at are preserved.
func (p *Postgres) UpsertAnalytics(ctx context.Context, rec AnalyticsRecord) error {
	_, err := p.pool.Exec(ctx, "route_analytics_upsert",
		rec.Route.Origin, rec.Route.Destination, rec.Route.FlightDate, string(rec.Currency),
		rec.CurrentMin, rec.CurrentMax, rec.CurrentAvg, rec.CurrentMedian,
		rec.Volatility, rec.SampleCount,
		rec.AllTimeMin, rec.AllTimeMax,
		rec.Samples24h, rec.Samples7d, string(rec.Trend24h), string(rec.Trend7d),
		rec.AlertThreshold,
	)
	if err != nil {
		return fmt.Errorf("upsert analytics %s: %w", rec.Route, err)
	}
	return nil
}

// BumpAlertCount increments total_alerts_sent and stamps the alert time.
// Additive on the server side, so a retried call never loses a count.
func (p *Postgres) BumpAlertCount(ctx context.Context, key RouteKey, at time.Time) error {
	_, err := p.pool.Exec(ctx, "bump_alert_count", key.Origin, key.Destination, key.FlightDate, at)
	if err != nil {
		return fmt.Errorf("bump alert count %s: %w", key, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Audit trails
// --------------------------------------------------------------------------

// RecordChangeEvent appends one change-detector evaluation to the audit log.
func (p *Postgres) RecordChangeEvent(ctx context.Context, ev ChangeEvent) error {
	_, err := p.pool.Exec(ctx, "insert_change_event",
		ev.Route.Origin, ev.Route.Destination, ev.Route.FlightDate,
		ev.OldPrice, ev.NewPrice, ev.AbsoluteChange, ev.PercentChange,
		ev.Classification, ev.AlertTriggered, ev.Reason)
	if err != nil {
		return fmt.Errorf("record change event %s: %w", ev.Route, err)
	}
	return nil
}

// ChangeEvents returns the most recent change events for a route.
func (p *Postgres) ChangeEvents(ctx context.Context, key RouteKey, limit int) ([]ChangeEvent, error) {
	rows, err := p.pool.Query(ctx, "change_events_for_route", key.Origin, key.Destination, key.FlightDate, limit)
	if err != nil {
		return nil, fmt.Errorf("change events %s: %w", key, err)
	}
	defer rows.Close()

	var events []ChangeEvent
	for rows.Next() {
		var ev ChangeEvent
		if err := rows.Scan(&ev.ID, &ev.Route.Origin, &ev.Route.Destination, &ev.Route.FlightDate,
			&ev.OldPrice, &ev.NewPrice, &ev.AbsoluteChange, &ev.PercentChange,
			&ev.Classification, &ev.AlertTriggered, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change event: %w", err)
		}
		ev.Route.FlightDate = DateOnly(ev.Route.FlightDate)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecordNotification appends one dispatch attempt, delivered or failed.
func (p *Postgres) RecordNotification(ctx context.Context, n NotificationRecord) error {
	_, err := p.pool.Exec(ctx, "insert_notification",
		n.Route.Origin, n.Route.Destination, n.Route.FlightDate,
		n.OldPrice, n.NewPrice, n.PriceDrop, n.DropPercent,
		string(n.Currency), n.Reason, n.Delivered, n.TransportDetail, n.SentAt)
	if err != nil {
		return fmt.Errorf("record notification %s: %w", n.Route, err)
	}
	return nil
}

// LatestNotification returns the most recent notification record for a
// route, or nil when none exists. The throttle derives its state from it.
func (p *Postgres) LatestNotification(ctx context.Context, key RouteKey) (*NotificationRecord, error) {
	rows, err := p.Notifications(ctx, key, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Notifications returns the most recent notification records for a route.
func (p *Postgres) Notifications(ctx context.Context, key RouteKey, limit int) ([]NotificationRecord, error) {
	rows, err := p.pool.Query(ctx, "notifications_for_route", key.Origin, key.Destination, key.FlightDate, limit)
	if err != nil {
		return nil, fmt.Errorf("notifications %s: %w", key, err)
	}
	defer rows.Close()

	var records []NotificationRecord
	for rows.Next() {
		var n NotificationRecord
		var currency string
		if err := rows.Scan(&n.ID, &n.Route.Origin, &n.Route.Destination, &n.Route.FlightDate,
			&n.OldPrice, &n.NewPrice, &n.PriceDrop, &n.DropPercent,
			&currency, &n.Reason, &n.Delivered, &n.TransportDetail, &n.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Currency = Currency(currency)
		n.Route.FlightDate = DateOnly(n.Route.FlightDate)
		records = append(records, n)
	}
	return records, rows.Err()
}

// --------------------------------------------------------------------------
// Retention
// --------------------------------------------------------------------------

// PruneAudit deletes change events and notification records older than the
// cutoff. The sample ledger is never pruned.
func (p *Postgres) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	tagEvents, err := p.pool.Exec(ctx,
		`DELETE FROM price_change_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune change events: %w", err)
	}
	tagNotifs, err := p.pool.Exec(ctx,
		`DELETE FROM notifications WHERE sent_at < $1`, before)
	if err != nil {
		return tagEvents.RowsAffected(), fmt.Errorf("prune notifications: %w", err)
	}
	return tagEvents.RowsAffected() + tagNotifs.RowsAffected(), nil
}
