// Package handler provides HTTP handlers for all API endpoints: observation
// ingest, on-demand evaluation, and read-only route reports served from the
// analytics and audit tables.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/farewatch/farewatch/internal/api/respond"
	"github.com/farewatch/farewatch/internal/cache"
	"github.com/farewatch/farewatch/internal/config"
	"github.com/farewatch/farewatch/internal/db"
	"github.com/farewatch/farewatch/internal/evaluate"
	"github.com/farewatch/farewatch/internal/stats"
	"github.com/farewatch/farewatch/internal/store"
)

const auditLimit = 50

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	store     store.Store
	pool      *db.Pool
	cache     *cache.Cache
	cfg       *config.Config
	evaluator *evaluate.Evaluator
	logger    *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(st store.Store, pool *db.Pool, c *cache.Cache, cfg *config.Config, ev *evaluate.Evaluator, logger *slog.Logger) *Handler {
	return &Handler{
		store:     st,
		pool:      pool,
		cache:     c,
		cfg:       cfg,
		evaluator: ev,
		logger:    logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Farewatch API",
		"version": "1.0.0",
		"status":  "running",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateObservation validates and appends one observed price.
// @Summary Ingest a price observation
// @Tags observations
// @Accept json
// @Produce json
// @Param observation body store.Observation true "Observed price"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /observations [post]
func (h *Handler) CreateObservation(w http.ResponseWriter, r *http.Request) {
	var obs store.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON")
		return
	}

	sample, err := obs.Sample(store.Currency(h.cfg.DefaultCurrency), time.Now())
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			respond.WriteErrorDetail(w, http.StatusBadRequest, "VALIDATION_FAILED", "Malformed observation", verr.Error())
			return
		}
		respond.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Malformed observation")
		return
	}

	if err := h.store.AppendSample(r.Context(), sample); err != nil {
		h.logger.Error("Append sample failed", "route", sample.Route().String(), "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Could not persist observation")
		return
	}

	respond.WriteJSONObject(w, http.StatusCreated, map[string]interface{}{
		"route":       sample.Route().String(),
		"price":       sample.Price,
		"currency":    sample.Currency,
		"observed_at": sample.ObservedAt.Format(time.RFC3339),
	})
}

// RunEvaluation triggers an evaluation run for a flight date.
// @Summary Run price evaluation for a date
// @Tags evaluation
// @Produce json
// @Param date query string false "Flight date (YYYY-MM-DD); defaults to the configured watch date"
// @Success 200 {object} evaluate.RunResult
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /evaluate [post]
func (h *Handler) RunEvaluation(w http.ResponseWriter, r *http.Request) {
	date, ok := h.resolveDate(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}

	result, err := h.evaluator.Evaluate(r.Context(), date)
	if err != nil {
		if errors.Is(err, stats.ErrNoData) {
			respond.WriteError(w, http.StatusNotFound, "NO_DATA", "No samples observed for that date")
			return
		}
		h.logger.Error("Evaluation failed", "date", date.Format("2006-01-02"), "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "EVALUATION_FAILED", "Evaluation run failed")
		return
	}

	// Reports must reflect the fresh analytics immediately.
	h.cache.Invalidate()
	respond.WriteJSONObject(w, http.StatusOK, result)
}

// GetDateReport returns analytics for every route flying on a date.
// @Summary Route analytics for a flight date
// @Tags reports
// @Produce json
// @Param date path string true "Flight date (YYYY-MM-DD)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /routes/{date} [get]
func (h *Handler) GetDateReport(w http.ResponseWriter, r *http.Request) {
	date, ok := h.resolveDate(w, chi.URLParam(r, "date"))
	if !ok {
		return
	}

	cacheKey := "report:date:" + date.Format("2006-01-02")
	if h.serveCached(w, r, cacheKey) {
		return
	}

	records, err := h.store.AnalyticsOnDate(r.Context(), date)
	if err != nil {
		h.logger.Error("Date report failed", "date", date.Format("2006-01-02"), "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Could not load analytics")
		return
	}

	views := make([]routeView, 0, len(records))
	for _, rec := range records {
		views = append(views, newRouteView(rec))
	}
	h.writeCached(w, cacheKey, cache.TTLRouteReport, map[string]interface{}{
		"flight_date": date.Format("2006-01-02"),
		"routes":      views,
	})
}

// GetRouteReport returns one route's analytics with recent audit history.
// @Summary Single route report
// @Tags reports
// @Produce json
// @Param date path string true "Flight date (YYYY-MM-DD)"
// @Param origin path string true "Origin"
// @Param destination path string true "Destination"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} respond.ErrorResponse
// @Router /routes/{date}/{origin}/{destination} [get]
func (h *Handler) GetRouteReport(w http.ResponseWriter, r *http.Request) {
	date, ok := h.resolveDate(w, chi.URLParam(r, "date"))
	if !ok {
		return
	}
	key := store.RouteKey{
		Origin:      strings.ToUpper(chi.URLParam(r, "origin")),
		Destination: strings.ToUpper(chi.URLParam(r, "destination")),
		FlightDate:  date,
	}

	cacheKey := "report:route:" + key.String()
	if h.serveCached(w, r, cacheKey) {
		return
	}

	rec, err := h.store.Analytics(r.Context(), key)
	if err != nil {
		h.logger.Error("Route report failed", "route", key.String(), "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Could not load analytics")
		return
	}
	if rec == nil {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No analytics for "+key.Label())
		return
	}

	events, err := h.store.ChangeEvents(r.Context(), key, auditLimit)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Could not load change events")
		return
	}
	notifications, err := h.store.Notifications(r.Context(), key, auditLimit)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Could not load notifications")
		return
	}

	h.writeCached(w, cacheKey, cache.TTLAuditTrail, map[string]interface{}{
		"route":         newRouteView(*rec),
		"change_events": eventViews(events),
		"notifications": notificationViews(notifications),
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// resolveDate parses a YYYY-MM-DD parameter, falling back to the configured
// watch date when empty. Writes the error response itself on failure.
func (h *Handler) resolveDate(w http.ResponseWriter, raw string) (time.Time, bool) {
	if raw == "" {
		fallback := h.cfg.FallbackDate()
		if fallback.IsZero() {
			respond.WriteError(w, http.StatusBadRequest, "MISSING_DATE", "date is required and no watch routes are configured")
			return time.Time{}, false
		}
		return fallback, true
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	data, etag, ok := h.cache.Get(key)
	if !ok {
		return false
	}
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return true
	}
	respond.WriteJSON(w, data, etag, cache.TTLRouteReport, true)
	return true
}

func (h *Handler) writeCached(w http.ResponseWriter, key string, ttl time.Duration, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODING_ERROR", "Could not encode report")
		return
	}
	etag := h.cache.Set(key, data, ttl)
	respond.WriteJSON(w, data, etag, ttl, false)
}

// --------------------------------------------------------------------------
// Views — JSON shapes for the report endpoints
// --------------------------------------------------------------------------

type routeView struct {
	Route           string     `json:"route"`
	Origin          string     `json:"origin"`
	Destination     string     `json:"destination"`
	FlightDate      string     `json:"flight_date"`
	Currency        string     `json:"currency"`
	CurrentMin      float64    `json:"current_min"`
	CurrentMax      float64    `json:"current_max"`
	CurrentAvg      float64    `json:"current_avg"`
	CurrentMedian   float64    `json:"current_median"`
	Volatility      float64    `json:"volatility"`
	SampleCount     int        `json:"sample_count"`
	AllTimeMin      float64    `json:"all_time_min"`
	AllTimeMax      float64    `json:"all_time_max"`
	Samples24h      int        `json:"samples_24h"`
	Samples7d       int        `json:"samples_7d"`
	Trend24h        string     `json:"trend_24h"`
	Trend7d         string     `json:"trend_7d"`
	AlertThreshold  float64    `json:"alert_threshold"`
	TotalAlertsSent int        `json:"total_alerts_sent"`
	LastAlertAt     *time.Time `json:"last_alert_sent_at,omitempty"`
	LastUpdated     time.Time  `json:"last_updated"`
}

func newRouteView(rec store.AnalyticsRecord) routeView {
	return routeView{
		Route:           rec.Route.String(),
		Origin:          rec.Route.Origin,
		Destination:     rec.Route.Destination,
		FlightDate:      rec.Route.FlightDate.Format("2006-01-02"),
		Currency:        string(rec.Currency),
		CurrentMin:      rec.CurrentMin,
		CurrentMax:      rec.CurrentMax,
		CurrentAvg:      rec.CurrentAvg,
		CurrentMedian:   rec.CurrentMedian,
		Volatility:      rec.Volatility,
		SampleCount:     rec.SampleCount,
		AllTimeMin:      rec.AllTimeMin,
		AllTimeMax:      rec.AllTimeMax,
		Samples24h:      rec.Samples24h,
		Samples7d:       rec.Samples7d,
		Trend24h:        string(rec.Trend24h),
		Trend7d:         string(rec.Trend7d),
		AlertThreshold:  rec.AlertThreshold,
		TotalAlertsSent: rec.TotalAlertsSent,
		LastAlertAt:     rec.LastAlertAt,
		LastUpdated:     rec.LastUpdated,
	}
}

type eventView struct {
	OldPrice       float64   `json:"old_price"`
	NewPrice       float64   `json:"new_price"`
	AbsoluteChange float64   `json:"absolute_change"`
	PercentChange  float64   `json:"percent_change"`
	Classification string    `json:"classification"`
	AlertTriggered bool      `json:"alert_triggered"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

func eventViews(events []store.ChangeEvent) []eventView {
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, eventView{
			OldPrice:       ev.OldPrice,
			NewPrice:       ev.NewPrice,
			AbsoluteChange: ev.AbsoluteChange,
			PercentChange:  ev.PercentChange,
			Classification: ev.Classification,
			AlertTriggered: ev.AlertTriggered,
			Reason:         ev.Reason,
			CreatedAt:      ev.CreatedAt,
		})
	}
	return out
}

type notificationView struct {
	OldPrice        float64   `json:"old_price"`
	NewPrice        float64   `json:"new_price"`
	PriceDrop       float64   `json:"price_drop"`
	DropPercent     float64   `json:"drop_percent"`
	Currency        string    `json:"currency"`
	Reason          string    `json:"reason"`
	Delivered       bool      `json:"delivered"`
	TransportDetail string    `json:"transport_detail"`
	SentAt          time.Time `json:"sent_at"`
}

func notificationViews(records []store.NotificationRecord) []notificationView {
	out := make([]notificationView, 0, len(records))
	for _, n := range records {
		out = append(out, notificationView{
			OldPrice:        n.OldPrice,
			NewPrice:        n.NewPrice,
			PriceDrop:       n.PriceDrop,
			DropPercent:     n.DropPercent,
			Currency:        string(n.Currency),
			Reason:          n.Reason,
			Delivered:       n.Delivered,
			TransportDetail: n.TransportDetail,
			SentAt:          n.SentAt,
		})
	}
	return out
}
