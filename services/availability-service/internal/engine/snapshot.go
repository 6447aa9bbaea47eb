package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/metrics"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/recurrence"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// snapshot is everything one request needs about a provider. It is never
// mutated after load and is shared by concurrent units.
type snapshot struct {
	providerID  string
	settings    model.ProviderSettings
	templates   []model.AvailabilityTemplate
	schedules   map[string][]model.AdvancedSchedule
	assignments []model.TemplateAssignment
	locations   []model.ProviderLocation
	busy        availability.Busy

	buffer   time.Duration
	leadTime time.Duration
	now      time.Time
}

// loadSnapshot fetches the provider's data once. When withBusy is set the
// bookings and calendar events overlapping span are loaded as well; the range
// is padded by a day on each side so every zone's local day is covered.
func (e *Engine) loadSnapshot(ctx context.Context, providerID string, span tz.DateRange, withBusy bool) (*snapshot, error) {
	s := &snapshot{providerID: providerID, now: e.cfg.Now().UTC()}

	var settingsMissing bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		settings, err := e.store.FetchProviderSettings(gctx, providerID)
		if errors.Is(err, model.ErrNotFound) {
			settingsMissing = true
			s.settings = model.ProviderSettings{ProviderID: providerID, BufferMinutes: e.cfg.DefaultBufferMinutes}
			return nil
		}
		if err != nil {
			return unavailable("fetch provider settings", err)
		}
		s.settings = settings
		return nil
	})
	g.Go(func() error {
		templates, err := e.store.FetchTemplates(gctx, providerID)
		if err != nil {
			return unavailable("fetch templates", err)
		}
		slices.SortFunc(templates, func(a, b model.AvailabilityTemplate) int { return strings.Compare(a.ID, b.ID) })
		s.templates = templates
		return nil
	})
	g.Go(func() error {
		assignments, err := e.store.FetchAssignments(gctx, providerID)
		if err != nil {
			return unavailable("fetch assignments", err)
		}
		s.assignments = assignments
		return nil
	})
	g.Go(func() error {
		locations, err := e.store.FetchLocations(gctx, providerID)
		if err != nil {
			return unavailable("fetch locations", err)
		}
		s.locations = locations
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if settingsMissing && len(s.templates) == 0 {
		return nil, ErrProviderNotFound
	}

	s.buffer = time.Duration(max(s.settings.BufferMinutes, 0)) * time.Minute
	s.leadTime = e.cfg.LeadTime
	if lt := s.settings.LeadTimeMinutes; lt != nil && *lt >= 0 {
		s.leadTime = time.Duration(*lt) * time.Minute
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		s.schedules = make(map[string][]model.AdvancedSchedule, len(s.templates))
		if len(s.templates) == 0 {
			return nil
		}
		ids := make([]string, 0, len(s.templates))
		for _, t := range s.templates {
			ids = append(ids, t.ID)
		}
		schedules, err := e.store.FetchAdvancedSchedules(gctx, ids)
		if err != nil {
			return unavailable("fetch advanced schedules", err)
		}
		for _, sc := range schedules {
			s.schedules[sc.TemplateID] = append(s.schedules[sc.TemplateID], sc)
		}
		return nil
	})
	if withBusy {
		from, to := e.busyRange(span, s.buffer)
		g.Go(func() error {
			bookings, err := e.store.FetchBookings(gctx, providerID, from, to, model.BlockingStatuses)
			if err != nil {
				return unavailable("fetch bookings", err)
			}
			s.busy.Bookings = bookings
			return nil
		})
		g.Go(func() error {
			events, err := e.store.FetchCalendarEvents(gctx, providerID, from, to)
			if err != nil {
				return unavailable("fetch calendar events", err)
			}
			s.busy.Events = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) busyRange(span tz.DateRange, buffer time.Duration) (time.Time, time.Time) {
	from, _, _ := e.conv.DayBounds(span.From.AddDays(-1), "UTC")
	_, to, _ := e.conv.DayBounds(span.To.AddDays(1), "UTC")
	return from.Add(-buffer), to.Add(buffer)
}

func (s *snapshot) template(id string) (model.AvailabilityTemplate, bool) {
	for _, t := range s.templates {
		if t.ID == id {
			return t, true
		}
	}
	return model.AvailabilityTemplate{}, false
}

// templateFor picks the template in force on date: the covering assignment
// with the latest start, else the default template, else the first by id.
func (s *snapshot) templateFor(date tz.Date) (model.AvailabilityTemplate, bool) {
	var best *model.TemplateAssignment
	for i := range s.assignments {
		a := &s.assignments[i]
		if !a.Covers(date) {
			continue
		}
		if _, ok := s.template(a.TemplateID); !ok {
			continue
		}
		if best == nil || a.StartDate.After(best.StartDate) {
			best = a
		}
	}
	if best != nil {
		return s.template(best.TemplateID)
	}
	for _, t := range s.templates {
		if t.IsDefault {
			return t, true
		}
	}
	if len(s.templates) > 0 {
		return s.templates[0], true
	}
	return model.AvailabilityTemplate{}, false
}

// zoneFor resolves the zone for wall-clock math on date. A date-bounded
// location beats the default location, which beats any other open-ended one.
func (s *snapshot) zoneFor(date tz.Date, tmpl model.AvailabilityTemplate, fallback string) string {
	var def, other string
	for _, l := range s.locations {
		if !l.ValidOn(date) || strings.TrimSpace(l.Timezone) == "" {
			continue
		}
		switch {
		case l.StartDate != nil || l.EndDate != nil:
			return l.Timezone
		case l.IsDefault:
			def = l.Timezone
		case other == "":
			other = l.Timezone
		}
	}
	switch {
	case def != "":
		return def
	case other != "":
		return other
	case tmpl.Timezone != "":
		return tmpl.Timezone
	default:
		return fallback
	}
}

// dayPlan is the resolved schedule for one local date.
type dayPlan struct {
	date             tz.Date
	zone             string
	templateID       string
	sourceScheduleID string
	slots            []model.TimeSlotDefinition
	windows          []availability.Window
	// closed is set when the date lies past the provider's advance window.
	closed bool
}

// plan resolves date. A zone that cannot be loaded returns an error; callers
// treat the date as having no availability.
func (e *Engine) plan(s *snapshot, date tz.Date) (dayPlan, error) {
	tmpl, ok := s.templateFor(date)
	p := dayPlan{date: date, zone: s.zoneFor(date, tmpl, e.cfg.DefaultTimezone)}
	if _, err := e.conv.Location(p.zone); err != nil {
		return p, err
	}
	if s.settings.MaxAdvanceDays > 0 {
		today, err := e.conv.ToLocal(s.now, p.zone)
		if err != nil {
			return p, err
		}
		if date.After(today.Date.AddDays(s.settings.MaxAdvanceDays)) {
			p.closed = true
			return p, nil
		}
	}
	if !ok {
		return p, nil
	}
	res := recurrence.Resolve(tmpl, s.schedules[tmpl.ID], date)
	p.templateID = res.TemplateID
	p.sourceScheduleID = res.SourceScheduleID
	p.slots = res.Slots
	p.windows = availability.WindowsFromSlots(res.Slots)
	return p, nil
}

// planOrClose is plan with the fail-closed policy applied: an unusable zone
// is logged and the date yields nothing.
func (e *Engine) planOrClose(s *snapshot, date tz.Date) dayPlan {
	p, err := e.plan(s, date)
	if err != nil {
		metrics.RecordTimezoneFailure()
		e.logger.Warn("timezone unusable; date has no availability",
			"provider_id", s.providerID, "zone", p.zone, "date", date.String(), "err", err)
		return dayPlan{date: date, zone: p.zone, closed: true}
	}
	return p
}

// bookableEvents returns manual events that accept bookings and start on
// the plan's local date.
func (e *Engine) bookableEvents(s *snapshot, p dayPlan) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, ev := range s.busy.Events {
		if !ev.Bookable() {
			continue
		}
		local, err := e.conv.ToLocal(ev.StartTime, p.zone)
		if err != nil || local.Date != p.date {
			continue
		}
		out = append(out, ev)
	}
	return out
}
