package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/farewatch/farewatch/internal/stats"
	"github.com/farewatch/farewatch/internal/store"
)

var now = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func key() store.RouteKey {
	return store.RouteKey{
		Origin: "MEX", Destination: "CUN",
		FlightDate: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	}
}

func sample(price float64, age time.Duration) store.PriceSample {
	k := key()
	return store.PriceSample{
		Origin: k.Origin, Destination: k.Destination, FlightDate: k.FlightDate,
		Price: price, Currency: store.CurrencyMXN,
		ObservedAt: now.Add(-age),
	}
}

func seed(t *testing.T, st *store.Memory, samples ...store.PriceSample) {
	t.Helper()
	for _, s := range samples {
		if err := st.AppendSample(context.Background(), s); err != nil {
			t.Fatalf("AppendSample() error = %v", err)
		}
	}
}

func TestRefreshComputesSummary(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st,
		sample(5000, 3*time.Hour),
		sample(5400, 2*time.Hour),
		sample(4500, 1*time.Hour),
	)

	rec, err := Refresh(ctx, st, key(), 400, now)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if rec.CurrentMin != 4500 || rec.CurrentMax != 5400 {
		t.Errorf("current window = [%v, %v], want [4500, 5400]", rec.CurrentMin, rec.CurrentMax)
	}
	if rec.CurrentAvg != 4966.67 {
		t.Errorf("CurrentAvg = %v, want 4966.67", rec.CurrentAvg)
	}
	if rec.CurrentMedian != 5000 {
		t.Errorf("CurrentMedian = %v, want 5000", rec.CurrentMedian)
	}
	if rec.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", rec.SampleCount)
	}
	if rec.AllTimeMin != 4500 || rec.AllTimeMax != 5400 {
		t.Errorf("all-time window = [%v, %v], want [4500, 5400]", rec.AllTimeMin, rec.AllTimeMax)
	}
	if rec.Currency != store.CurrencyMXN {
		t.Errorf("Currency = %s, want MXN", rec.Currency)
	}
	if rec.AlertThreshold != 400 {
		t.Errorf("AlertThreshold = %v, want 400", rec.AlertThreshold)
	}
	if rec.Samples24h != 3 {
		t.Errorf("Samples24h = %d, want 3", rec.Samples24h)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, sample(5000, 3*time.Hour), sample(4500, 1*time.Hour))

	first, err := Refresh(ctx, st, key(), 400, now)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	second, err := Refresh(ctx, st, key(), 400, now)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	first.CreatedAt, second.CreatedAt = time.Time{}, time.Time{}
	first.LastUpdated, second.LastUpdated = time.Time{}, time.Time{}
	if *first != *second {
		t.Errorf("second refresh changed the record:\n  first  %+v\n  second %+v", first, second)
	}
}

func TestRefreshKeepsAllTimeExtrema(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st,
		sample(5000, 3*time.Hour),
		sample(5400, 2*time.Hour),
		sample(4500, 1*time.Hour),
	)

	if _, err := Refresh(ctx, st, key(), 400, now); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Refreshing from a narrower subset recomputes the current window but
	// must not shrink the all-time extrema, nor reset the threshold.
	subset := []store.PriceSample{sample(5000, 3*time.Hour)}
	rec, err := RefreshFromSamples(ctx, st, key(), subset, 999, now)
	if err != nil {
		t.Fatalf("RefreshFromSamples() error = %v", err)
	}
	if rec.CurrentMin != 5000 || rec.CurrentMax != 5000 {
		t.Errorf("current window = [%v, %v], want [5000, 5000]", rec.CurrentMin, rec.CurrentMax)
	}
	if rec.AllTimeMin != 4500 || rec.AllTimeMax != 5400 {
		t.Errorf("all-time window = [%v, %v], want [4500, 5400]", rec.AllTimeMin, rec.AllTimeMax)
	}
	if rec.AlertThreshold != 400 {
		t.Errorf("AlertThreshold = %v, want preserved 400", rec.AlertThreshold)
	}
}

func TestRefreshTrendWindows(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st,
		// 7d-to-14d window: steady around 5500
		sample(5500, 10*24*time.Hour),
		sample(5500, 9*24*time.Hour),
		// last 7d (outside 24h): clearly lower
		sample(4800, 3*24*time.Hour),
		// last 24h: falling within the day
		sample(4800, 5*time.Hour),
		sample(4300, 1*time.Hour),
	)

	rec, err := Refresh(ctx, st, key(), 400, now)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if rec.Samples24h != 2 {
		t.Errorf("Samples24h = %d, want 2", rec.Samples24h)
	}
	if rec.Samples7d != 3 {
		t.Errorf("Samples7d = %d, want 3", rec.Samples7d)
	}
	// 24h: [4300] vs [4800] is a drop past the band.
	if rec.Trend24h != stats.TrendDown {
		t.Errorf("Trend24h = %q, want down", rec.Trend24h)
	}
	// 7d mean (4800+4800+4300)/3 ≈ 4633 vs prior-week mean 5500.
	if rec.Trend7d != stats.TrendDown {
		t.Errorf("Trend7d = %q, want down", rec.Trend7d)
	}
}

func TestRefreshSingle24hSampleIsStable(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, sample(5000, 2*time.Hour))

	rec, err := Refresh(ctx, st, key(), 400, now)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if rec.Trend24h != stats.TrendStable {
		t.Errorf("Trend24h = %q, want stable with one sample", rec.Trend24h)
	}
	if rec.Trend7d != stats.TrendStable {
		t.Errorf("Trend7d = %q, want stable with no prior week", rec.Trend7d)
	}
}

func TestRefreshNoSamples(t *testing.T) {
	_, err := Refresh(context.Background(), store.NewMemory(), key(), 400, now)
	if !errors.Is(err, stats.ErrNoData) {
		t.Errorf("Refresh() error = %v, want ErrNoData", err)
	}
}
