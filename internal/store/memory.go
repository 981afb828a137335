package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-memory Store. It backs unit tests and local
// dry runs; semantics mirror Postgres, including the monotonic all-time
// merge on upsert.
type Memory struct {
	mu            sync.RWMutex
	samples       []PriceSample
	analytics     map[string]AnalyticsRecord
	events        []ChangeEvent
	notifications []NotificationRecord
	nextID        int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{analytics: make(map[string]AnalyticsRecord)}
}

// --------------------------------------------------------------------------
// Price samples
// --------------------------------------------------------------------------

func (m *Memory) AppendSample(_ context.Context, s PriceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	s.FlightDate = DateOnly(s.FlightDate)
	m.samples = append(m.samples, s)
	return nil
}

func (m *Memory) SamplesForRoute(_ context.Context, key RouteKey) ([]PriceSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key.FlightDate = DateOnly(key.FlightDate)
	var out []PriceSample
	for _, s := range m.samples {
		if s.Route() == key {
			out = append(out, s)
		}
	}
	sortByObservedAt(out)
	return out, nil
}

func (m *Memory) SamplesOnDate(_ context.Context, flightDate time.Time) ([]PriceSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date := DateOnly(flightDate)
	var out []PriceSample
	for _, s := range m.samples {
		if s.FlightDate.Equal(date) {
			out = append(out, s)
		}
	}
	sortByObservedAt(out)
	return out, nil
}

func sortByObservedAt(samples []PriceSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].ObservedAt.Before(samples[j].ObservedAt)
	})
}

// --------------------------------------------------------------------------
// Route analytics
// --------------------------------------------------------------------------

func (m *Memory) Analytics(_ context.Context, key RouteKey) (*AnalyticsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key.FlightDate = DateOnly(key.FlightDate)
	rec, ok := m.analytics[key.String()]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) AnalyticsOnDate(_ context.Context, flightDate time.Time) ([]AnalyticsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date := DateOnly(flightDate)
	var out []AnalyticsRecord
	for _, rec := range m.analytics {
		if rec.Route.FlightDate.Equal(date) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Route.String() < out[j].Route.String()
	})
	return out, nil
}

func (m *Memory) UpsertAnalytics(_ context.Context, rec AnalyticsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Route.FlightDate = DateOnly(rec.Route.FlightDate)
	key := rec.Route.String()
	now := time.Now().UTC()

	prior, exists := m.analytics[key]
	if !exists {
		rec.CreatedAt = now
		rec.LastUpdated = now
		m.analytics[key] = rec
		return nil
	}

	// Monotonic merge + carried-over alerting state, as the Postgres
	// ON CONFLICT clause does.
	if prior.AllTimeMin < rec.AllTimeMin {
		rec.AllTimeMin = prior.AllTimeMin
	}
	if prior.AllTimeMax > rec.AllTimeMax {
		rec.AllTimeMax = prior.AllTimeMax
	}
	rec.AlertThreshold = prior.AlertThreshold
	rec.TotalAlertsSent = prior.TotalAlertsSent
	rec.LastAlertAt = prior.LastAlertAt
	rec.CreatedAt = prior.CreatedAt
	rec.LastUpdated = now
	m.analytics[key] = rec
	return nil
}

func (m *Memory) BumpAlertCount(_ context.Context, key RouteKey, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key.FlightDate = DateOnly(key.FlightDate)
	rec, ok := m.analytics[key.String()]
	if !ok {
		return nil
	}
	rec.TotalAlertsSent++
	t := at.UTC()
	rec.LastAlertAt = &t
	m.analytics[key.String()] = rec
	return nil
}

// --------------------------------------------------------------------------
// Audit trails
// --------------------------------------------------------------------------

func (m *Memory) RecordChangeEvent(_ context.Context, ev ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.Route.FlightDate = DateOnly(ev.Route.FlightDate)
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) ChangeEvents(_ context.Context, key RouteKey, limit int) ([]ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key.FlightDate = DateOnly(key.FlightDate)
	var out []ChangeEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].Route == key {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *Memory) RecordNotification(_ context.Context, n NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	n.Route.FlightDate = DateOnly(n.Route.FlightDate)
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *Memory) LatestNotification(_ context.Context, key RouteKey) (*NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key.FlightDate = DateOnly(key.FlightDate)
	var latest *NotificationRecord
	for i := range m.notifications {
		n := m.notifications[i]
		if n.Route != key {
			continue
		}
		if latest == nil || n.SentAt.After(latest.SentAt) {
			latest = &n
		}
	}
	return latest, nil
}

func (m *Memory) Notifications(_ context.Context, key RouteKey, limit int) ([]NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key.FlightDate = DateOnly(key.FlightDate)
	var out []NotificationRecord
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if m.notifications[i].Route == key {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Retention
// --------------------------------------------------------------------------

func (m *Memory) PruneAudit(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64

	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.CreatedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept

	keptN := m.notifications[:0]
	for _, n := range m.notifications {
		if n.SentAt.Before(before) {
			pruned++
			continue
		}
		keptN = append(keptN, n)
	}
	m.notifications = keptN
	return pruned, nil
}
