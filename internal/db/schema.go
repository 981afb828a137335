package db

import (
	"context"
	"fmt"
)

// schema holds the DDL for the four logical tables. Everything is
// IF NOT EXISTS so EnsureSchema is safe to run on every deploy.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS price_samples (
		id          BIGSERIAL PRIMARY KEY,
		origin      TEXT NOT NULL,
		destination TEXT NOT NULL,
		flight_date DATE NOT NULL,
		price       DOUBLE PRECISION NOT NULL CHECK (price > 0),
		currency    TEXT NOT NULL,
		source_link TEXT NOT NULL DEFAULT '',
		observed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_samples_route
		ON price_samples (origin, destination, flight_date, observed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_price_samples_date
		ON price_samples (flight_date)`,

	`CREATE TABLE IF NOT EXISTS route_analytics (
		origin             TEXT NOT NULL,
		destination        TEXT NOT NULL,
		flight_date        DATE NOT NULL,
		currency           TEXT NOT NULL,
		current_min        DOUBLE PRECISION NOT NULL,
		current_max        DOUBLE PRECISION NOT NULL,
		current_avg        DOUBLE PRECISION NOT NULL,
		current_median     DOUBLE PRECISION NOT NULL,
		volatility         DOUBLE PRECISION NOT NULL,
		sample_count       INTEGER NOT NULL,
		all_time_min       DOUBLE PRECISION NOT NULL,
		all_time_max       DOUBLE PRECISION NOT NULL,
		samples_24h        INTEGER NOT NULL DEFAULT 0,
		samples_7d         INTEGER NOT NULL DEFAULT 0,
		trend_24h          TEXT NOT NULL DEFAULT 'stable',
		trend_7d           TEXT NOT NULL DEFAULT 'stable',
		alert_threshold    DOUBLE PRECISION NOT NULL,
		total_alerts_sent  INTEGER NOT NULL DEFAULT 0,
		last_alert_sent_at TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_updated       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (origin, destination, flight_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_route_analytics_date
		ON route_analytics (flight_date)`,

	`CREATE TABLE IF NOT EXISTS price_change_events (
		id              BIGSERIAL PRIMARY KEY,
		origin          TEXT NOT NULL,
		destination     TEXT NOT NULL,
		flight_date     DATE NOT NULL,
		old_price       DOUBLE PRECISION NOT NULL,
		new_price       DOUBLE PRECISION NOT NULL,
		absolute_change DOUBLE PRECISION NOT NULL,
		percent_change  DOUBLE PRECISION NOT NULL,
		classification  TEXT NOT NULL,
		alert_triggered BOOLEAN NOT NULL,
		reason          TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_change_events_route
		ON price_change_events (origin, destination, flight_date, created_at)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id               BIGSERIAL PRIMARY KEY,
		origin           TEXT NOT NULL,
		destination      TEXT NOT NULL,
		flight_date      DATE NOT NULL,
		old_price        DOUBLE PRECISION NOT NULL,
		new_price        DOUBLE PRECISION NOT NULL,
		price_drop       DOUBLE PRECISION NOT NULL,
		drop_percent     DOUBLE PRECISION NOT NULL,
		currency         TEXT NOT NULL,
		reason           TEXT NOT NULL DEFAULT '',
		delivered        BOOLEAN NOT NULL,
		transport_detail TEXT NOT NULL DEFAULT '',
		sent_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_route
		ON notifications (origin, destination, flight_date, sent_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
// Runs on a plain connection acquired from the pool.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := p.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
