package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotengine/libs/httpx"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/engine"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/metrics"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// Service is the engine surface the HTTP layer needs.
type Service interface {
	GetAvailabilityPreview(ctx context.Context, providerID string, r tz.DateRange, durations []int) ([]engine.DayPreview, error)
	GetBatchSlotCounts(ctx context.Context, providerID string, dates []tz.Date, durations []int) ([]engine.DateCounts, error)
	GetSlotsOnDemand(ctx context.Context, providerID string, date tz.Date, durationMinutes int) ([]model.Slot, error)
	EffectiveWindows(ctx context.Context, providerID string, date tz.Date) (engine.Windows, error)
	ValidateAndReserveSlot(ctx context.Context, req engine.ReserveRequest) (reservation.Outcome, error)
}

type AvailabilityHandler struct {
	svc    Service
	logger *slog.Logger
}

func NewAvailabilityHandler(svc Service, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc, logger: logger}
}

// Register mounts the availability routes on mux.
func (h *AvailabilityHandler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/availability/preview", instrument("preview", h.Preview))
	mux.Handle("/api/v1/availability/counts", instrument("counts", h.Counts))
	mux.Handle("/api/v1/availability/slots", instrument("slots", h.Slots))
	mux.Handle("/api/v1/availability/windows", instrument("windows", h.Windows))
	mux.Handle("/api/v1/availability/reserve", instrument("reserve", h.Reserve))
}

type windowItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type previewItem struct {
	Date               string       `json:"date"`
	Timezone           string       `json:"timezone"`
	SourceScheduleID   string       `json:"source_schedule_id,omitempty"`
	HasAvailability    bool         `json:"has_availability"`
	AvailableDurations []int        `json:"available_durations"`
	Windows            []windowItem `json:"windows"`
}

type countsItem struct {
	Date   string      `json:"date"`
	Counts map[int]int `json:"counts"`
}

type slotItem struct {
	Date              string `json:"date"`
	LocalStartTime    string `json:"local_start_time"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	DurationMinutes   int    `json:"duration_minutes"`
	RemainingCapacity int    `json:"remaining_capacity"`
	EventID           string `json:"event_id,omitempty"`
}

type timeSlotItem struct {
	DayOfWeek  int    `json:"day_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	WeekNumber *int   `json:"week_number,omitempty"`
}

type windowsResponse struct {
	Date             string         `json:"date"`
	Timezone         string         `json:"timezone"`
	TemplateID       string         `json:"template_id,omitempty"`
	SourceScheduleID string         `json:"source_schedule_id,omitempty"`
	TimeSlots        []timeSlotItem `json:"time_slots"`
}

type reserveRequest struct {
	ProviderID      string `json:"provider_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	EventID         string `json:"event_id"`
}

type reserveResponse struct {
	BookingID       string `json:"booking_id"`
	ProviderID      string `json:"provider_id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	EventID         string `json:"event_id,omitempty"`
	Replayed        bool   `json:"replayed"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Field  string `json:"field,omitempty"`
}

func (h *AvailabilityHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid from", Field: "from"})
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid to", Field: "to"})
		return
	}
	durations, err := parseInts(q.Get("durations"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid durations", Field: "durations"})
		return
	}

	days, err := h.svc.GetAvailabilityPreview(r.Context(), providerID(r), tz.DateRange{From: from, To: to}, durations)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]previewItem, 0, len(days))
	for _, d := range days {
		item := previewItem{
			Date:               d.Date.String(),
			Timezone:           d.Timezone,
			SourceScheduleID:   d.SourceScheduleID,
			HasAvailability:    d.HasAvailability,
			AvailableDurations: d.AvailableDurations,
			Windows:            make([]windowItem, 0, len(d.Windows)),
		}
		if item.AvailableDurations == nil {
			item.AvailableDurations = []int{}
		}
		for _, win := range d.Windows {
			item.Windows = append(item.Windows, windowItem{Start: win.Start.String(), End: win.End.String()})
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AvailabilityHandler) Counts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var dates []tz.Date
	for _, part := range strings.Split(q.Get("dates"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := tz.ParseDate(part)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid dates", Field: "dates"})
			return
		}
		dates = append(dates, d)
	}
	durations, err := parseInts(q.Get("durations"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid durations", Field: "durations"})
		return
	}

	counts, err := h.svc.GetBatchSlotCounts(r.Context(), providerID(r), dates, durations)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]countsItem, 0, len(counts))
	for _, c := range counts {
		resp = append(resp, countsItem{Date: c.Date.String(), Counts: c.Counts})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	date, err := parseDate(q.Get("date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid date", Field: "date"})
		return
	}
	duration, err := strconv.Atoi(strings.TrimSpace(q.Get("duration")))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid duration", Field: "duration"})
		return
	}

	slots, err := h.svc.GetSlotsOnDemand(r.Context(), providerID(r), date, duration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotItem{
			Date:              s.Date.String(),
			LocalStartTime:    s.LocalStartTime.String(),
			StartTime:         s.StartInstant.UTC().Format(time.RFC3339),
			EndTime:           s.EndInstant.UTC().Format(time.RFC3339),
			DurationMinutes:   s.DurationMinutes,
			RemainingCapacity: s.RemainingCapacity,
			EventID:           s.EventID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AvailabilityHandler) Windows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid date", Field: "date"})
		return
	}

	res, err := h.svc.EffectiveWindows(r.Context(), providerID(r), date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := windowsResponse{
		Date:             res.Date.String(),
		Timezone:         res.Timezone,
		TemplateID:       res.TemplateID,
		SourceScheduleID: res.SourceScheduleID,
		TimeSlots:        make([]timeSlotItem, 0, len(res.Slots)),
	}
	for _, s := range res.Slots {
		resp.TimeSlots = append(resp.TimeSlots, timeSlotItem{
			DayOfWeek:  int(s.DayOfWeek),
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			WeekNumber: s.WeekNumber,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AvailabilityHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid start_time", Field: "start_time"})
		return
	}

	out, err := h.svc.ValidateAndReserveSlot(r.Context(), engine.ReserveRequest{
		ProviderID:      strings.TrimSpace(req.ProviderID),
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		EventID:         strings.TrimSpace(req.EventID),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	b := out.Booking
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, reserveResponse{
		BookingID:       b.ID,
		ProviderID:      b.ProviderID,
		StartTime:       b.ScheduledAt.UTC().Format(time.RFC3339),
		EndTime:         b.EndsAt().UTC().Format(time.RFC3339),
		DurationMinutes: b.DurationMinutes,
		Status:          string(b.Status),
		EventID:         b.CalendarEventID,
		Replayed:        out.Replayed,
	})
}

// writeError maps engine errors onto status codes: bad input is 400, a lost
// or invalid slot is 409 and unreachable data is 503.
func (h *AvailabilityHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *engine.ValidationError
		conflict *reservation.ConflictError
	)
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: reservation.ErrConflict.Error(), Reason: string(conflict.Reason)})
	case errors.Is(err, reservation.ErrIdempotencyMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, engine.ErrProviderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "provider not found"})
	case errors.Is(err, engine.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrStoreUnavailable):
		h.logger.Warn("availability data unavailable", "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "availability data unavailable"})
	default:
		h.logger.Error("request failed", "request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func providerID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Provider-Id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("provider_id"))
}

func parseDate(raw string) (tz.Date, error) {
	return tz.ParseDate(strings.TrimSpace(raw))
}

func parseInts(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency under a fixed route label.
func instrument(route string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}
