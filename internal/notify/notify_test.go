package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/farewatch/farewatch/internal/store"
)

var t0 = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

type fakePusher struct {
	calls  int
	bodies []string
	err    error
}

func (f *fakePusher) Push(_ context.Context, _, body string) (string, error) {
	f.calls++
	f.bodies = append(f.bodies, body)
	if f.err != nil {
		return "", f.err
	}
	return "202 Accepted", nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func alert(price float64) Alert {
	return Alert{
		Route: store.RouteKey{
			Origin: "MEX", Destination: "CUN",
			FlightDate: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		},
		OldPrice: 5000,
		NewPrice: price,
		Currency: store.CurrencyMXN,
		Reason:   "New all-time low",
	}
}

func TestTryNotifyCooldown(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	pusher := &fakePusher{}

	clock := t0
	n := New(st, pusher, 12*time.Hour, discard())
	n.now = func() time.Time { return clock }

	// First alert goes out.
	out, err := n.TryNotify(ctx, alert(4500))
	if err != nil {
		t.Fatalf("TryNotify() error = %v", err)
	}
	if !out.Delivered || out.Throttled {
		t.Fatalf("first alert outcome = %+v, want delivered", out)
	}

	// Same price 6h later is suppressed, and leaves no record.
	clock = t0.Add(6 * time.Hour)
	out, err = n.TryNotify(ctx, alert(4500))
	if err != nil {
		t.Fatalf("TryNotify() error = %v", err)
	}
	if !out.Throttled || out.Delivered {
		t.Fatalf("repeat outcome = %+v, want throttled", out)
	}
	if pusher.calls != 1 {
		t.Errorf("pusher calls = %d, want 1", pusher.calls)
	}
	if recs, _ := st.Notifications(ctx, alert(4500).Route, 10); len(recs) != 1 {
		t.Errorf("notification records = %d, want 1 (throttled attempt not recorded)", len(recs))
	}

	// A different price inside the cooldown still goes out.
	out, err = n.TryNotify(ctx, alert(4200))
	if err != nil {
		t.Fatalf("TryNotify() error = %v", err)
	}
	if !out.Delivered {
		t.Fatalf("moved-price outcome = %+v, want delivered", out)
	}

	// Same price again after the cooldown expires goes out.
	clock = t0.Add(6*time.Hour + 13*time.Hour)
	out, err = n.TryNotify(ctx, alert(4200))
	if err != nil {
		t.Fatalf("TryNotify() error = %v", err)
	}
	if !out.Delivered {
		t.Fatalf("post-cooldown outcome = %+v, want delivered", out)
	}
	if pusher.calls != 3 {
		t.Errorf("pusher calls = %d, want 3", pusher.calls)
	}
}

func TestTryNotifyBody(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	pusher := &fakePusher{}
	n := New(st, pusher, 12*time.Hour, discard())

	if _, err := n.TryNotify(ctx, alert(4500)); err != nil {
		t.Fatalf("TryNotify() error = %v", err)
	}
	if len(pusher.bodies) != 1 {
		t.Fatalf("bodies = %d, want 1", len(pusher.bodies))
	}
	body := pusher.bodies[0]
	for _, part := range []string{"MXN 4500.00", "2026-12-01", "New all-time low"} {
		if !strings.Contains(body, part) {
			t.Errorf("body %q missing %q", body, part)
		}
	}
}

func TestTryNotifyRecordsAndBumps(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	a := alert(4500)

	if err := st.UpsertAnalytics(ctx, store.AnalyticsRecord{Route: a.Route, AlertThreshold: 400}); err != nil {
		t.Fatalf("UpsertAnalytics() error = %v", err)
	}

	n := New(st, &fakePusher{}, 12*time.Hour, discard())
	if _, err := n.TryNotify(ctx, a); err != nil {
		t.Fatalf("TryNotify() error = %v", err)
	}

	rec, err := st.LatestNotification(ctx, a.Route)
	if err != nil {
		t.Fatalf("LatestNotification() error = %v", err)
	}
	if rec == nil {
		t.Fatal("no notification record written")
	}
	if !rec.Delivered {
		t.Error("Delivered = false, want true")
	}
	if rec.PriceDrop != 500 || rec.DropPercent != 10 {
		t.Errorf("drop = %v (%v%%), want 500 (10%%)", rec.PriceDrop, rec.DropPercent)
	}
	if rec.TransportDetail != "202 Accepted" {
		t.Errorf("TransportDetail = %q", rec.TransportDetail)
	}

	analytics, _ := st.Analytics(ctx, a.Route)
	if analytics.TotalAlertsSent != 1 {
		t.Errorf("TotalAlertsSent = %d, want 1", analytics.TotalAlertsSent)
	}
	if analytics.LastAlertAt == nil {
		t.Error("LastAlertAt not set")
	}
}

func TestTryNotifyDeliveryFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	a := alert(4500)

	if err := st.UpsertAnalytics(ctx, store.AnalyticsRecord{Route: a.Route}); err != nil {
		t.Fatalf("UpsertAnalytics() error = %v", err)
	}

	pusher := &fakePusher{err: errors.New("ntfy: 503 Service Unavailable")}
	n := New(st, pusher, 12*time.Hour, discard())

	out, err := n.TryNotify(ctx, a)
	if err != nil {
		t.Fatalf("TryNotify() error = %v, delivery failure must not be a call error", err)
	}
	if out.Delivered || out.Throttled {
		t.Errorf("outcome = %+v, want failed delivery", out)
	}

	rec, _ := st.LatestNotification(ctx, a.Route)
	if rec == nil {
		t.Fatal("failed delivery left no record")
	}
	if rec.Delivered {
		t.Error("Delivered = true, want false")
	}
	if !strings.Contains(rec.TransportDetail, "503") {
		t.Errorf("TransportDetail = %q, want transport error", rec.TransportDetail)
	}

	analytics, _ := st.Analytics(ctx, a.Route)
	if analytics.TotalAlertsSent != 0 {
		t.Errorf("TotalAlertsSent = %d, want 0 after failed delivery", analytics.TotalAlertsSent)
	}
}

func TestTryNotifyWithoutPusher(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	n := New(st, nil, 12*time.Hour, discard())

	out, err := n.TryNotify(ctx, alert(4500))
	if err != nil {
		t.Fatalf("TryNotify() error = %v", err)
	}
	if out.Delivered {
		t.Error("Delivered = true with no transport configured")
	}

	rec, _ := st.LatestNotification(ctx, alert(4500).Route)
	if rec == nil {
		t.Fatal("unconfigured dispatch left no record")
	}
	if rec.Delivered || !strings.Contains(rec.TransportDetail, ErrNotConfigured.Error()) {
		t.Errorf("record = %+v, want failed with not-configured detail", rec)
	}
}
