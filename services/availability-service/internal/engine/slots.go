package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/metrics"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// Windows is the resolved schedule for one date.
type Windows struct {
	Date             tz.Date
	Timezone         string
	TemplateID       string
	SourceScheduleID string
	Slots            []model.TimeSlotDefinition
}

// EffectiveWindows reports which schedule governs date and its windows.
func (e *Engine) EffectiveWindows(ctx context.Context, providerID string, date tz.Date) (_ Windows, err error) {
	ctx, span := e.startSpan(ctx, "engine.EffectiveWindows", providerID, attribute.String("date", date.String()))
	defer func() { endSpan(span, err) }()
	defer metrics.ObserveOperation("windows", time.Now())

	if err := requireProvider(providerID); err != nil {
		return Windows{}, err
	}
	if date.IsZero() {
		return Windows{}, invalid("date", "is required")
	}
	s, err := e.loadSnapshot(ctx, providerID, tz.DateRange{From: date, To: date}, false)
	if err != nil {
		return Windows{}, err
	}
	p := e.planOrClose(s, date)
	return Windows{
		Date:             date,
		Timezone:         p.zone,
		TemplateID:       p.templateID,
		SourceScheduleID: p.sourceScheduleID,
		Slots:            p.slots,
	}, nil
}

// GetSlotsOnDemand returns the bookable slots of durationMinutes on date,
// ordered by start instant.
func (e *Engine) GetSlotsOnDemand(ctx context.Context, providerID string, date tz.Date, durationMinutes int) (_ []model.Slot, err error) {
	ctx, span := e.startSpan(ctx, "engine.GetSlotsOnDemand", providerID,
		attribute.String("date", date.String()),
		attribute.Int("duration_minutes", durationMinutes),
	)
	defer func() { endSpan(span, err) }()
	defer metrics.ObserveOperation("slots", time.Now())

	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	if date.IsZero() {
		return nil, invalid("date", "is required")
	}
	s, err := e.loadSnapshot(ctx, providerID, tz.DateRange{From: date, To: date}, true)
	if err != nil {
		return nil, err
	}
	if err := e.checkDuration(s.settings, durationMinutes); err != nil {
		return nil, err
	}

	p := e.planOrClose(s, date)
	slots, err := e.slotsFor(s, p, durationMinutes)
	if err != nil {
		// Conversion failures past zone loading are not expected; fail closed.
		e.logger.Warn("slot generation failed; date has no availability",
			"provider_id", providerID, "date", date.String(), "err", err)
		return []model.Slot{}, nil
	}
	metrics.RecordSlots(len(slots))
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}

// slotsFor enumerates candidate starts on the plan and keeps those the
// conflict detector accepts. Starts inside a DST gap are skipped, and a slot
// must end by the window's real end, which differs from its wall-clock end on
// transition days.
func (e *Engine) slotsFor(s *snapshot, p dayPlan, durationMinutes int) ([]model.Slot, error) {
	out := []model.Slot{}
	if p.closed {
		return out, nil
	}
	dur := time.Duration(durationMinutes) * time.Minute
	windows := e.windowIntervals(p)

	for _, c := range availability.StartTimes(p.windows, durationMinutes, e.cfg.StepMinutes) {
		start, err := e.conv.ToInstant(p.date, c, p.zone)
		if errors.Is(err, tz.ErrNonexistentTime) {
			continue
		}
		if err != nil {
			return nil, err
		}
		slot := availability.Interval{Start: start, End: start.Add(dur)}
		if !availability.WithinAny(slot, windows) {
			continue
		}
		res := e.detector.Evaluate(s.busy, availability.Check{
			Slot:     slot,
			Buffer:   s.buffer,
			LeadTime: s.leadTime,
		})
		if !res.Available {
			continue
		}
		out = append(out, model.Slot{
			Date:              p.date,
			LocalStartTime:    c,
			StartInstant:      start,
			EndInstant:        start.Add(dur),
			DurationMinutes:   durationMinutes,
			RemainingCapacity: res.RemainingCapacity,
		})
	}

	step := time.Duration(e.cfg.StepMinutes) * time.Minute
	earliest := s.now.Add(s.leadTime)
	for _, ev := range e.bookableEvents(s, p) {
		window := availability.Interval{Start: ev.StartTime, End: ev.EndTime}
		for _, start := range availability.StepStarts(window, dur, step, earliest) {
			res := e.detector.Evaluate(s.busy, availability.Check{
				Slot:     availability.Interval{Start: start, End: start.Add(dur)},
				Buffer:   s.buffer,
				LeadTime: s.leadTime,
				Event:    &ev,
			})
			if !res.Available {
				continue
			}
			local, err := e.conv.ToLocal(start, p.zone)
			if err != nil {
				return nil, err
			}
			out = append(out, model.Slot{
				Date:              local.Date,
				LocalStartTime:    local.Clock,
				StartInstant:      start,
				EndInstant:        start.Add(dur),
				DurationMinutes:   durationMinutes,
				RemainingCapacity: res.RemainingCapacity,
				EventID:           ev.ID,
			})
		}
	}

	slices.SortStableFunc(out, func(a, b model.Slot) int {
		if c := a.StartInstant.Compare(b.StartInstant); c != 0 {
			return c
		}
		return strings.Compare(a.EventID, b.EventID)
	})
	return out, nil
}

func (e *Engine) countSlots(s *snapshot, p dayPlan, durationMinutes int) (int, error) {
	slots, err := e.slotsFor(s, p, durationMinutes)
	if err != nil {
		return 0, err
	}
	return len(slots), nil
}

func requireProvider(providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return invalid("provider_id", "is required")
	}
	return nil
}

func checkRange(r tz.DateRange, maxDays int) error {
	if r.From.IsZero() || r.To.IsZero() {
		return invalid("range", "from and to are required")
	}
	if r.To.Before(r.From) {
		return invalid("range", "to %s is before from %s", r.To, r.From)
	}
	if n := r.To.DaysSince(r.From) + 1; n > maxDays {
		return invalid("range", "spans %d days, at most %d allowed", n, maxDays)
	}
	return nil
}
