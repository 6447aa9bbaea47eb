package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/metrics"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

type ReserveRequest struct {
	ProviderID      string
	Start           time.Time
	DurationMinutes int
	// EventID books a seat in a manual calendar event instead of a
	// schedule-generated slot.
	EventID        string
	IdempotencyKey string
}

// ValidateAndReserveSlot checks that the requested time is still offered and
// commits the booking. Conflicts surface as *reservation.ConflictError.
func (e *Engine) ValidateAndReserveSlot(ctx context.Context, req ReserveRequest) (out reservation.Outcome, err error) {
	ctx, span := e.startSpan(ctx, "engine.ValidateAndReserveSlot", req.ProviderID,
		attribute.String("start", req.Start.UTC().Format(time.RFC3339)),
		attribute.Int("duration_minutes", req.DurationMinutes),
		attribute.String("event.id", req.EventID),
	)
	defer func() {
		recordReservation(out, err)
		endSpan(span, err)
	}()
	defer metrics.ObserveOperation("reserve", time.Now())

	if err := requireProvider(req.ProviderID); err != nil {
		return reservation.Outcome{}, err
	}
	if req.Start.IsZero() {
		return reservation.Outcome{}, invalid("start_time", "is required")
	}
	req.EventID = strings.TrimSpace(req.EventID)

	guess := tz.DateOf(req.Start.UTC())
	s, err := e.loadSnapshot(ctx, req.ProviderID, tz.DateRange{From: guess.AddDays(-1), To: guess.AddDays(1)}, false)
	if err != nil {
		return reservation.Outcome{}, err
	}
	if err := e.checkDuration(s.settings, req.DurationMinutes); err != nil {
		return reservation.Outcome{}, err
	}

	_, p, err := e.localPlan(s, req.Start, guess)
	if err != nil {
		e.logger.Warn("timezone unusable; rejecting reservation",
			"provider_id", req.ProviderID, "zone", p.zone, "err", err)
		return reservation.Outcome{}, &reservation.ConflictError{Reason: availability.ReasonOutsideSchedule}
	}
	if p.closed {
		return reservation.Outcome{}, &reservation.ConflictError{Reason: availability.ReasonOutsideSchedule}
	}
	slot := availability.Interval{Start: req.Start, End: req.Start.Add(time.Duration(req.DurationMinutes) * time.Minute)}
	if req.EventID == "" && !availability.WithinAny(slot, e.windowIntervals(p)) {
		return reservation.Outcome{}, &reservation.ConflictError{Reason: availability.ReasonOutsideSchedule}
	}

	return e.validator.Reserve(ctx, reservation.Request{
		ProviderID:      req.ProviderID,
		Start:           req.Start.UTC(),
		DurationMinutes: req.DurationMinutes,
		EventID:         req.EventID,
		Buffer:          s.buffer,
		LeadTime:        s.leadTime,
		IdempotencyKey:  req.IdempotencyKey,
	})
}

// localPlan finds the local date of instant in the zone that governs that
// date. The zone depends on the date, so the UTC date seeds a first guess.
func (e *Engine) localPlan(s *snapshot, instant time.Time, guess tz.Date) (tz.Local, dayPlan, error) {
	tmpl, _ := s.templateFor(guess)
	zone := s.zoneFor(guess, tmpl, e.cfg.DefaultTimezone)
	first, err := e.conv.ToLocal(instant, zone)
	if err != nil {
		return tz.Local{}, dayPlan{zone: zone}, err
	}
	p, err := e.plan(s, first.Date)
	if err != nil {
		return tz.Local{}, p, err
	}
	local, err := e.conv.ToLocal(instant, p.zone)
	if err != nil {
		return tz.Local{}, p, err
	}
	if local.Date != p.date {
		if p, err = e.plan(s, local.Date); err != nil {
			return tz.Local{}, p, err
		}
	}
	return local, p, nil
}

func recordReservation(out reservation.Outcome, err error) {
	switch {
	case err == nil && out.Replayed:
		metrics.RecordReservation(metrics.ReservationReplayed)
	case err == nil:
		metrics.RecordReservation(metrics.ReservationCreated)
	case errors.Is(err, reservation.ErrConflict):
		metrics.RecordReservation(metrics.ReservationConflict)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, reservation.ErrIdempotencyMismatch):
		metrics.RecordReservation(metrics.ReservationRejected)
	default:
		metrics.RecordReservation(metrics.ReservationError)
	}
}
