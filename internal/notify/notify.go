// Package notify enforces the notification cool-down policy and dispatches
// push alerts through an external transport. Every attempt that passes the
// throttle is recorded, delivered or not; delivery is never retried here.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/farewatch/farewatch/internal/store"
)

// ErrNotConfigured is reported as the delivery failure when no push
// transport is configured. The attempt is still recorded so the audit
// trail shows the undelivered alert.
var ErrNotConfigured = errors.New("push transport not configured")

// Pusher is the external push-delivery collaborator. Implementations must
// bound the call with a timeout; a timeout is a delivery failure, not a
// crash. Detail carries the transport status for the audit record.
type Pusher interface {
	Push(ctx context.Context, title, body string) (detail string, err error)
}

// Alert is one alert-worthy observation ready for dispatch.
type Alert struct {
	Route    store.RouteKey
	OldPrice float64 // prior all-time minimum
	NewPrice float64
	Currency store.Currency
	Reason   string
}

// Outcome reports what happened to a TryNotify call.
type Outcome struct {
	Delivered bool
	Throttled bool
	Detail    string
}

// Notifier gates alerts through the cool-down policy and dispatches them.
type Notifier struct {
	store    store.Store
	pusher   Pusher
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Notifier. pusher may be nil when push delivery is not
// configured; alerts are then recorded as failed rather than dropped.
func New(st store.Store, pusher Pusher, cooldown time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:    st,
		pusher:   pusher,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
	}
}

// TryNotify applies the throttle and, if allowed, pushes the alert and
// records the attempt. Throttle states, derived from the route's most
// recent notification record:
//
//   - no prior record → allowed
//   - prior record age ≥ cooldown → allowed
//   - inside cooldown, same price → blocked (duplicate spam suppression)
//   - inside cooldown, different price → allowed (a further movement is
//     always worth surfacing)
//
// Blocked attempts write nothing and return Throttled. The returned error
// covers store failures only; delivery failures come back as
// Delivered=false with the transport detail.
func (n *Notifier) TryNotify(ctx context.Context, a Alert) (Outcome, error) {
	last, err := n.store.LatestNotification(ctx, a.Route)
	if err != nil {
		return Outcome{}, fmt.Errorf("throttle lookup %s: %w", a.Route, err)
	}

	now := n.now().UTC()
	if last != nil && now.Sub(last.SentAt) < n.cooldown && last.NewPrice == a.NewPrice {
		n.logger.Info("Notification throttled",
			"route", a.Route.String(), "price", a.NewPrice,
			"last_sent", last.SentAt)
		return Outcome{Throttled: true, Detail: "throttled"}, nil
	}

	title := a.Route.Label()
	body := fmt.Sprintf("%s: %s %.2f for %s",
		a.Reason, a.Currency, a.NewPrice, a.Route.FlightDate.Format("2006-01-02"))

	var detail string
	var pushErr error
	if n.pusher == nil {
		pushErr = ErrNotConfigured
	} else {
		detail, pushErr = n.pusher.Push(ctx, title, body)
	}

	drop := a.OldPrice - a.NewPrice
	dropPct := 0.0
	if a.OldPrice != 0 {
		dropPct = drop / a.OldPrice * 100
	}

	rec := store.NotificationRecord{
		Route:       a.Route,
		OldPrice:    a.OldPrice,
		NewPrice:    a.NewPrice,
		PriceDrop:   drop,
		DropPercent: dropPct,
		Currency:    a.Currency,
		Reason:      a.Reason,
		Delivered:   pushErr == nil,
		SentAt:      now,
	}
	if pushErr != nil {
		rec.TransportDetail = pushErr.Error()
	} else {
		rec.TransportDetail = detail
	}

	// Recorded unconditionally once past the throttle — a failed delivery
	// must stay discoverable in the audit trail.
	if err := n.store.RecordNotification(ctx, rec); err != nil {
		return Outcome{}, fmt.Errorf("record notification %s: %w", a.Route, err)
	}

	if pushErr != nil {
		n.logger.Warn("Push delivery failed",
			"route", a.Route.String(), "error", pushErr)
		return Outcome{Detail: pushErr.Error()}, nil
	}

	if err := n.store.BumpAlertCount(ctx, a.Route, now); err != nil {
		return Outcome{}, fmt.Errorf("bump alert count %s: %w", a.Route, err)
	}

	n.logger.Info("Alert delivered",
		"route", a.Route.String(), "price", a.NewPrice, "detail", detail)
	return Outcome{Delivered: true, Detail: detail}, nil
}
