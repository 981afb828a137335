// Package db provides a pgxpool-based connection pool with prepared
// statement registration, health checking, and schema bootstrap.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farewatch/farewatch/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the store and API
// layers use. Prepared statements eliminate parse overhead on every call.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Price ledger
		"insert_price_sample": `
			INSERT INTO price_samples
				(origin, destination, flight_date, price, currency, source_link, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		"samples_for_route": `
			SELECT id, origin, destination, flight_date, price, currency, source_link, observed_at
			FROM price_samples
			WHERE origin = $1 AND destination = $2 AND flight_date = $3
			ORDER BY observed_at`,
		"samples_on_date": `
			SELECT id, origin, destination, flight_date, price, currency, source_link, observed_at
			FROM price_samples
			WHERE flight_date = $1
			ORDER BY observed_at`,

		// Route analytics
		"route_analytics_get": `
			SELECT origin, destination, flight_date, currency,
			       current_min, current_max, current_avg, current_median,
			       volatility, sample_count, all_time_min, all_time_max,
			       samples_24h, samples_7d, trend_24h, trend_7d,
			       alert_threshold, total_alerts_sent, last_alert_sent_at,
			       created_at, last_updated
			FROM route_analytics
			WHERE origin = $1 AND destination = $2 AND flight_date = $3`,
		"route_analytics_on_date": `
			SELECT origin, destination, flight_date, currency,
			       current_min, current_max, current_avg, current_median,
			       volatility, sample_count, all_time_min, all_time_max,
			       samples_24h, samples_7d, trend_24h, trend_7d,
			       alert_threshold, total_alerts_sent, last_alert_sent_at,
			       created_at, last_updated
			FROM route_analytics
			WHERE flight_date = $1
			ORDER BY origin, destination`,

		// Upsert merges all-time extrema atomically so overlapping evaluator
		// runs cannot lose an update; alerting state and created_at survive.
		"route_analytics_upsert": `
			INSERT INTO route_analytics
				(origin, destination, flight_date, currency,
				 current_min, current_max, current_avg, current_median,
				 volatility, sample_count, all_time_min, all_time_max,
				 samples_24h, samples_7d, trend_24h, trend_7d,
				 alert_threshold, total_alerts_sent, created_at, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			        $13, $14, $15, $16, $17, 0, NOW(), NOW())
			ON CONFLICT (origin, destination, flight_date) DO UPDATE SET
				currency       = EXCLUDED.currency,
				current_min    = EXCLUDED.current_min,
				current_max    = EXCLUDED.current_max,
				current_avg    = EXCLUDED.current_avg,
				current_median = EXCLUDED.current_median,
				volatility     = EXCLUDED.volatility,
				sample_count   = EXCLUDED.sample_count,
				all_time_min   = LEAST(route_analytics.all_time_min, EXCLUDED.all_time_min),
				all_time_max   = GREATEST(route_analytics.all_time_max, EXCLUDED.all_time_max),
				samples_24h    = EXCLUDED.samples_24h,
				samples_7d     = EXCLUDED.samples_7d,
				trend_24h      = EXCLUDED.trend_24h,
				trend_7d       = EXCLUDED.trend_7d,
				last_updated   = NOW()`,
		"bump_alert_count": `
			UPDATE route_analytics
			SET total_alerts_sent = total_alerts_sent + 1,
			    last_alert_sent_at = $4
			WHERE origin = $1 AND destination = $2 AND flight_date = $3`,

		// Change event audit
		"insert_change_event": `
			INSERT INTO price_change_events
				(origin, destination, flight_date, old_price, new_price,
				 absolute_change, percent_change, classification,
				 alert_triggered, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		"change_events_for_route": `
			SELECT id, origin, destination, flight_date, old_price, new_price,
			       absolute_change, percent_change, classification,
			       alert_triggered, reason, created_at
			FROM price_change_events
			WHERE origin = $1 AND destination = $2 AND flight_date = $3
			ORDER BY created_at DESC
			LIMIT $4`,

		// Notification audit
		"insert_notification": `
			INSERT INTO notifications
				(origin, destination, flight_date, old_price, new_price,
				 price_drop, drop_percent, currency, reason,
				 delivered, transport_detail, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		"notifications_for_route": `
			SELECT id, origin, destination, flight_date, old_price, new_price,
			       price_drop, drop_percent, currency, reason,
			       delivered, transport_detail, sent_at
			FROM notifications
			WHERE origin = $1 AND destination = $2 AND flight_date = $3
			ORDER BY sent_at DESC
			LIMIT $4`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
