package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

var observedAt = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func TestObservationSample(t *testing.T) {
	valid := Observation{
		Origin:      "MEX",
		Destination: "CUN",
		FlightDate:  "2026-12-01",
		Price:       4500,
		Currency:    CurrencyMXN,
		SourceLink:  "https://example.com/fare/123",
	}

	t.Run("valid observation", func(t *testing.T) {
		s, err := valid.Sample(CurrencyMXN, observedAt)
		if err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
		if s.Origin != "MEX" || s.Destination != "CUN" {
			t.Errorf("route = %s-%s, want MEX-CUN", s.Origin, s.Destination)
		}
		want := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
		if !s.FlightDate.Equal(want) {
			t.Errorf("FlightDate = %v, want %v", s.FlightDate, want)
		}
		if !s.ObservedAt.Equal(observedAt) {
			t.Errorf("ObservedAt = %v, want %v", s.ObservedAt, observedAt)
		}
	})

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		o := valid
		o.Origin = " mex "
		o.Destination = "cun"
		s, err := o.Sample(CurrencyMXN, observedAt)
		if err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
		if s.Origin != "MEX" || s.Destination != "CUN" {
			t.Errorf("route = %s-%s, want MEX-CUN", s.Origin, s.Destination)
		}
	})

	t.Run("empty currency takes the default", func(t *testing.T) {
		o := valid
		o.Currency = ""
		s, err := o.Sample(CurrencyUSD, observedAt)
		if err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
		if s.Currency != CurrencyUSD {
			t.Errorf("Currency = %s, want USD", s.Currency)
		}
	})

	rejects := []struct {
		name   string
		mutate func(*Observation)
		field  string
	}{
		{"missing origin", func(o *Observation) { o.Origin = "  " }, "origin"},
		{"origin with separator", func(o *Observation) { o.Origin = "ME|X" }, "origin"},
		{"missing destination", func(o *Observation) { o.Destination = "" }, "destination"},
		{"same origin and destination", func(o *Observation) { o.Destination = "mex" }, "destination"},
		{"malformed date", func(o *Observation) { o.FlightDate = "01/12/2026" }, "flight_date"},
		{"zero price", func(o *Observation) { o.Price = 0 }, "price"},
		{"negative price", func(o *Observation) { o.Price = -100 }, "price"},
		{"unknown currency", func(o *Observation) { o.Currency = "GBP" }, "currency"},
		{"plain http source link", func(o *Observation) { o.SourceLink = "http://example.com/x" }, "source_link"},
		{"relative source link", func(o *Observation) { o.SourceLink = "https://" }, "source_link"},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			_, err := o.Sample(CurrencyMXN, observedAt)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Sample() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestRouteKey(t *testing.T) {
	key := RouteKey{Origin: "MEX", Destination: "CUN", FlightDate: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)}
	if got := key.String(); got != "MEX|CUN|2026-12-01" {
		t.Errorf("String() = %q", got)
	}
	if got := key.Label(); got != "MEX → CUN" {
		t.Errorf("Label() = %q", got)
	}
}

func TestDateOnly(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	in := time.Date(2026, 12, 1, 22, 30, 0, 0, loc) // 2026-12-02 04:30 UTC
	want := time.Date(2026, 12, 2, 0, 0, 0, 0, time.UTC)
	if got := DateOnly(in); !got.Equal(want) {
		t.Errorf("DateOnly() = %v, want %v", got, want)
	}
}

// --------------------------------------------------------------------------
// Memory store
// --------------------------------------------------------------------------

func testKey() RouteKey {
	return RouteKey{Origin: "MEX", Destination: "CUN", FlightDate: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemorySamples(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := testKey()

	// Appended out of observation order on purpose.
	for i, p := range []float64{5400, 5000, 4500} {
		err := m.AppendSample(ctx, PriceSample{
			Origin: "MEX", Destination: "CUN", FlightDate: key.FlightDate,
			Price: p, Currency: CurrencyMXN,
			ObservedAt: observedAt.Add(time.Duration(2-i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("AppendSample() error = %v", err)
		}
	}

	samples, err := m.SamplesForRoute(ctx, key)
	if err != nil {
		t.Fatalf("SamplesForRoute() error = %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].ObservedAt.Before(samples[i-1].ObservedAt) {
			t.Errorf("samples not sorted by observed_at: %v", samples)
		}
	}

	other := key
	other.Destination = "TIJ"
	samples, err = m.SamplesForRoute(ctx, other)
	if err != nil {
		t.Fatalf("SamplesForRoute() error = %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("got %d samples for unrelated route, want 0", len(samples))
	}

	byDate, err := m.SamplesOnDate(ctx, key.FlightDate)
	if err != nil {
		t.Fatalf("SamplesOnDate() error = %v", err)
	}
	if len(byDate) != 3 {
		t.Errorf("got %d samples on date, want 3", len(byDate))
	}
}

func TestMemoryUpsertAnalyticsMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := testKey()

	first := AnalyticsRecord{
		Route: key, Currency: CurrencyMXN,
		CurrentMin: 4500, CurrentMax: 5400,
		AllTimeMin: 4500, AllTimeMax: 5400,
		SampleCount: 3, AlertThreshold: 400,
	}
	if err := m.UpsertAnalytics(ctx, first); err != nil {
		t.Fatalf("UpsertAnalytics() error = %v", err)
	}

	// A narrower recompute must not shrink the all-time window, and must not
	// reset the alerting state.
	second := AnalyticsRecord{
		Route: key, Currency: CurrencyMXN,
		CurrentMin: 5000, CurrentMax: 5200,
		AllTimeMin: 5000, AllTimeMax: 5200,
		SampleCount: 2, AlertThreshold: 999,
	}
	if err := m.UpsertAnalytics(ctx, second); err != nil {
		t.Fatalf("UpsertAnalytics() error = %v", err)
	}

	rec, err := m.Analytics(ctx, key)
	if err != nil {
		t.Fatalf("Analytics() error = %v", err)
	}
	if rec == nil {
		t.Fatal("Analytics() = nil, want record")
	}
	if rec.AllTimeMin != 4500 || rec.AllTimeMax != 5400 {
		t.Errorf("all-time window = [%v, %v], want [4500, 5400]", rec.AllTimeMin, rec.AllTimeMax)
	}
	if rec.CurrentMin != 5000 || rec.CurrentMax != 5200 {
		t.Errorf("current window = [%v, %v], want [5000, 5200]", rec.CurrentMin, rec.CurrentMax)
	}
	if rec.AlertThreshold != 400 {
		t.Errorf("AlertThreshold = %v, want preserved 400", rec.AlertThreshold)
	}

	// A wider recompute extends it.
	third := second
	third.AllTimeMin = 4000
	third.AllTimeMax = 6000
	if err := m.UpsertAnalytics(ctx, third); err != nil {
		t.Fatalf("UpsertAnalytics() error = %v", err)
	}
	rec, _ = m.Analytics(ctx, key)
	if rec.AllTimeMin != 4000 || rec.AllTimeMax != 6000 {
		t.Errorf("all-time window = [%v, %v], want [4000, 6000]", rec.AllTimeMin, rec.AllTimeMax)
	}
}

func TestMemoryAnalyticsMissing(t *testing.T) {
	rec, err := NewMemory().Analytics(context.Background(), testKey())
	if err != nil {
		t.Fatalf("Analytics() error = %v", err)
	}
	if rec != nil {
		t.Errorf("Analytics() = %+v, want nil for unknown route", rec)
	}
}

func TestMemoryBumpAlertCount(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := testKey()

	if err := m.UpsertAnalytics(ctx, AnalyticsRecord{Route: key, AlertThreshold: 400}); err != nil {
		t.Fatalf("UpsertAnalytics() error = %v", err)
	}
	at := observedAt.Add(time.Hour)
	if err := m.BumpAlertCount(ctx, key, at); err != nil {
		t.Fatalf("BumpAlertCount() error = %v", err)
	}
	if err := m.BumpAlertCount(ctx, key, at.Add(time.Hour)); err != nil {
		t.Fatalf("BumpAlertCount() error = %v", err)
	}

	rec, _ := m.Analytics(ctx, key)
	if rec.TotalAlertsSent != 2 {
		t.Errorf("TotalAlertsSent = %d, want 2", rec.TotalAlertsSent)
	}
	if rec.LastAlertAt == nil || !rec.LastAlertAt.Equal(at.Add(time.Hour)) {
		t.Errorf("LastAlertAt = %v, want %v", rec.LastAlertAt, at.Add(time.Hour))
	}
}

func TestMemoryNotifications(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := testKey()

	latest, err := m.LatestNotification(ctx, key)
	if err != nil {
		t.Fatalf("LatestNotification() error = %v", err)
	}
	if latest != nil {
		t.Fatalf("LatestNotification() = %+v, want nil on empty store", latest)
	}

	for i, price := range []float64{4500, 4300, 4100} {
		err := m.RecordNotification(ctx, NotificationRecord{
			Route: key, NewPrice: price, Delivered: true,
			SentAt: observedAt.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("RecordNotification() error = %v", err)
		}
	}

	latest, err = m.LatestNotification(ctx, key)
	if err != nil {
		t.Fatalf("LatestNotification() error = %v", err)
	}
	if latest == nil || latest.NewPrice != 4100 {
		t.Fatalf("LatestNotification() = %+v, want the 4100 record", latest)
	}

	recent, err := m.Notifications(ctx, key, 2)
	if err != nil {
		t.Fatalf("Notifications() error = %v", err)
	}
	if len(recent) != 2 || recent[0].NewPrice != 4100 || recent[1].NewPrice != 4300 {
		t.Errorf("Notifications() = %+v, want newest-first [4100 4300]", recent)
	}
}

func TestMemoryPruneAudit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := testKey()

	old := observedAt.Add(-100 * 24 * time.Hour)
	if err := m.RecordChangeEvent(ctx, ChangeEvent{Route: key, NewPrice: 5000, CreatedAt: old}); err != nil {
		t.Fatalf("RecordChangeEvent() error = %v", err)
	}
	if err := m.RecordChangeEvent(ctx, ChangeEvent{Route: key, NewPrice: 4500, CreatedAt: observedAt}); err != nil {
		t.Fatalf("RecordChangeEvent() error = %v", err)
	}
	if err := m.RecordNotification(ctx, NotificationRecord{Route: key, SentAt: old}); err != nil {
		t.Fatalf("RecordNotification() error = %v", err)
	}

	pruned, err := m.PruneAudit(ctx, observedAt.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneAudit() error = %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}

	events, _ := m.ChangeEvents(ctx, key, 10)
	if len(events) != 1 || events[0].NewPrice != 4500 {
		t.Errorf("ChangeEvents() = %+v, want only the recent event", events)
	}
}
