// Command farewatch is the fare monitoring CLI.
//
// Usage:
//
//	farewatch initdb
//	farewatch observe --origin MEX --dest CUN --date 2026-12-01 --price 4500
//	farewatch evaluate --date 2026-12-01
//	farewatch evaluate                       # configured watch-date fallback
//	farewatch report --date 2026-12-01
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/farewatch/farewatch/internal/config"
	"github.com/farewatch/farewatch/internal/db"
	"github.com/farewatch/farewatch/internal/evaluate"
	"github.com/farewatch/farewatch/internal/notify"
	"github.com/farewatch/farewatch/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "farewatch",
		Short: "Airfare price monitoring CLI",
	}

	root.AddCommand(initdbCmd())
	root.AddCommand(observeCmd())
	root.AddCommand(evaluateCmd())
	root.AddCommand(reportCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// run loads config, connects the pool, and hands control to fn.
func run(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		return err
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}

// buildEvaluator wires the store → notifier → evaluator pipeline.
func buildEvaluator(cfg *config.Config, pool *db.Pool) (*evaluate.Evaluator, store.Store) {
	st := store.NewPostgres(pool.Pool)

	var pusher notify.Pusher
	if sender := notify.NewNtfySender(cfg.NtfyServer, cfg.NtfyTopic, cfg.PushTimeout); sender != nil {
		pusher = sender
	} else {
		logger.Info("Push delivery disabled (no NTFY_TOPIC)")
	}

	notifier := notify.New(st, pusher, cfg.AlertCooldown, logger)
	return evaluate.New(st, notifier, cfg.AlertThreshold, logger), st
}

// --------------------------------------------------------------------------
// initdb command
// --------------------------------------------------------------------------

func initdbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create the farewatch tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				if err := pool.EnsureSchema(ctx); err != nil {
					return err
				}
				logger.Info("Schema ready")
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// observe command
// --------------------------------------------------------------------------

func observeCmd() *cobra.Command {
	var (
		origin   string
		dest     string
		date     string
		price    float64
		currency string
		link     string
	)
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Record one observed price for a route",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				st := store.NewPostgres(pool.Pool)

				obs := store.Observation{
					Origin:      origin,
					Destination: dest,
					FlightDate:  date,
					Price:       price,
					Currency:    store.Currency(currency),
					SourceLink:  link,
				}
				sample, err := obs.Sample(store.Currency(cfg.DefaultCurrency), time.Now())
				if err != nil {
					return err
				}
				if err := st.AppendSample(ctx, sample); err != nil {
					return err
				}
				logger.Info("Observation recorded",
					"route", sample.Route().String(),
					"price", sample.Price, "currency", sample.Currency)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "Origin (required)")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination (required)")
	cmd.Flags().StringVar(&date, "date", "", "Flight date YYYY-MM-DD (required)")
	cmd.Flags().Float64Var(&price, "price", 0, "Observed price (required)")
	cmd.Flags().StringVar(&currency, "currency", "", "Currency code (default from DEFAULT_CURRENCY)")
	cmd.Flags().StringVar(&link, "link", "", "Source link (https)")
	_ = cmd.MarkFlagRequired("origin")
	_ = cmd.MarkFlagRequired("dest")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

// --------------------------------------------------------------------------
// evaluate command
// --------------------------------------------------------------------------

func evaluateCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the analytics and alerting pipeline for a flight date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				flightDate, err := resolveDate(cfg, date)
				if err != nil {
					return err
				}

				evaluator, _ := buildEvaluator(cfg, pool)
				start := time.Now()
				result, err := evaluator.Evaluate(ctx, flightDate)
				if err != nil {
					return err
				}
				logger.Info("Evaluation finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"summary", result.Summary())
				for _, a := range result.Alerts {
					logger.Info("Alert sent",
						"route", a.RouteLabel, "new_price", a.NewPrice,
						"drop", a.Drop, "reason", a.Reason)
				}
				for _, e := range result.Errors {
					logger.Error("route error", "error", e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Flight date YYYY-MM-DD; empty = configured watch-date fallback")
	return cmd
}

// --------------------------------------------------------------------------
// report command
// --------------------------------------------------------------------------

func reportCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print route analytics for a flight date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				flightDate, err := resolveDate(cfg, date)
				if err != nil {
					return err
				}

				st := store.NewPostgres(pool.Pool)
				records, err := st.AnalyticsOnDate(ctx, flightDate)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Printf("No analytics for %s\n", flightDate.Format("2006-01-02"))
					return nil
				}

				fmt.Printf("Routes for %s\n", flightDate.Format("2006-01-02"))
				for _, rec := range records {
					fmt.Printf("  %-12s min=%.2f max=%.2f avg=%.2f median=%.2f vol=%.2f n=%d\n",
						rec.Route.Label(), rec.CurrentMin, rec.CurrentMax,
						rec.CurrentAvg, rec.CurrentMedian, rec.Volatility, rec.SampleCount)
					fmt.Printf("  %-12s all-time=[%.2f, %.2f] 24h=%d/%s 7d=%d/%s alerts=%d\n",
						"", rec.AllTimeMin, rec.AllTimeMax,
						rec.Samples24h, rec.Trend24h, rec.Samples7d, rec.Trend7d,
						rec.TotalAlertsSent)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Flight date YYYY-MM-DD; empty = configured watch-date fallback")
	return cmd
}

func resolveDate(cfg *config.Config, raw string) (time.Time, error) {
	if raw == "" {
		fallback := cfg.FallbackDate()
		if fallback.IsZero() {
			return time.Time{}, fmt.Errorf("--date is required when no WATCH_ROUTES are configured")
		}
		logger.Info("Using configured watch date", "date", fallback.Format("2006-01-02"))
		return fallback, nil
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --date: %w", err)
	}
	return date, nil
}
