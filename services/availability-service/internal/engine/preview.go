package engine

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/metrics"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// DayPreview summarizes one date. AvailableDurations is the subset of the
// requested durations that pass the fit test.
type DayPreview struct {
	Date               tz.Date
	Timezone           string
	SourceScheduleID   string
	HasAvailability    bool
	AvailableDurations []int
	Windows            []availability.Window
}

// DateCounts maps each requested duration to its exact slot count.
type DateCounts struct {
	Date   tz.Date
	Counts map[int]int
}

// GetAvailabilityPreview runs the coarse fit test for every date in r. A date
// reported unavailable has no bookable slot of any requested duration; a date
// reported available usually has one, but the grid alignment of real slots is
// not checked.
func (e *Engine) GetAvailabilityPreview(ctx context.Context, providerID string, r tz.DateRange, durations []int) (_ []DayPreview, err error) {
	ctx, span := e.startSpan(ctx, "engine.GetAvailabilityPreview", providerID,
		attribute.String("from", r.From.String()),
		attribute.String("to", r.To.String()),
	)
	defer func() { endSpan(span, err) }()
	defer metrics.ObserveOperation("preview", time.Now())

	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	if err := checkRange(r, e.cfg.MaxRangeDays); err != nil {
		return nil, err
	}
	s, err := e.loadSnapshot(ctx, providerID, r, true)
	if err != nil {
		return nil, err
	}
	if len(durations) == 0 {
		durations = s.settings.AllowedDurations
	}
	if len(durations) == 0 {
		durations = DefaultPreviewDurations
	}
	durations, err = e.checkDurations(s.settings, durations)
	if err != nil {
		return nil, err
	}

	blocks := availability.BusyIntervals(s.busy, s.buffer)
	earliest := s.now.Add(s.leadTime)

	days := r.Days()
	out := make([]DayPreview, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, date := range days {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = e.previewDay(s, date, durations, blocks, earliest)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) previewDay(s *snapshot, date tz.Date, durations []int, blocks []availability.Interval, earliest time.Time) DayPreview {
	p := e.planOrClose(s, date)
	day := DayPreview{
		Date:               date,
		Timezone:           p.zone,
		SourceScheduleID:   p.sourceScheduleID,
		AvailableDurations: []int{},
		Windows:            p.windows,
	}
	if p.closed {
		day.Windows = nil
		return day
	}

	windows := e.windowIntervals(p)
	events := e.bookableEvents(s, p)

	for _, d := range durations {
		dur := time.Duration(d) * time.Minute
		fits := availability.Fits(windows, dur, blocks, earliest)
		for i := 0; !fits && i < len(events); i++ {
			fits = availability.EventFits(events[i], s.busy.Bookings, s.buffer, dur, earliest)
		}
		if fits {
			day.AvailableDurations = append(day.AvailableDurations, d)
		}
	}
	day.HasAvailability = len(day.AvailableDurations) > 0
	return day
}

// GetBatchSlotCounts returns exact slot counts for every date and duration.
// Units run on a bounded pool; a unit that fails reports zero without
// affecting the others.
func (e *Engine) GetBatchSlotCounts(ctx context.Context, providerID string, dates []tz.Date, durations []int) (_ []DateCounts, err error) {
	ctx, span := e.startSpan(ctx, "engine.GetBatchSlotCounts", providerID,
		attribute.Int("dates", len(dates)),
		attribute.Int("durations", len(durations)),
	)
	defer func() { endSpan(span, err) }()
	defer metrics.ObserveOperation("counts", time.Now())

	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	dates, err = normalizeDates(dates, e.cfg.MaxRangeDays)
	if err != nil {
		return nil, err
	}
	s, err := e.loadSnapshot(ctx, providerID, tz.DateRange{From: dates[0], To: dates[len(dates)-1]}, true)
	if err != nil {
		return nil, err
	}
	durations, err = e.checkDurations(s.settings, durations)
	if err != nil {
		return nil, err
	}

	plans := make([]dayPlan, len(dates))
	for i, d := range dates {
		plans[i] = e.planOrClose(s, d)
	}

	counts := make([][]int, len(dates))
	for i := range counts {
		counts[i] = make([]int, len(durations))
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range dates {
		for j, d := range durations {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				n, err := e.countUnit(s, plans[i], d)
				if err != nil {
					metrics.RecordBatchUnitFailure()
					e.logger.Warn("slot count failed; reporting zero",
						"provider_id", providerID, "date", dates[i].String(), "duration_minutes", d, "err", err)
					n = 0
				}
				counts[i][j] = n
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]DateCounts, len(dates))
	for i, date := range dates {
		m := make(map[int]int, len(durations))
		for j, d := range durations {
			m[d] = counts[i][j]
		}
		out[i] = DateCounts{Date: date, Counts: m}
	}
	return out, nil
}

func normalizeDates(dates []tz.Date, maxDays int) ([]tz.Date, error) {
	if len(dates) == 0 {
		return nil, invalid("dates", "at least one date is required")
	}
	out := make([]tz.Date, 0, len(dates))
	for _, d := range dates {
		if d.IsZero() {
			return nil, invalid("dates", "contains an empty date")
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	if len(out) > maxDays {
		return nil, invalid("dates", "%d dates requested, at most %d allowed", len(out), maxDays)
	}
	slices.SortFunc(out, func(a, b tz.Date) int { return a.DaysSince(b) })
	return out, nil
}

// windowIntervals converts the plan's wall-clock windows to instants. A window
// edge inside a DST gap moves to the first instant after it, so a window keeps
// its real length on transition days.
func (e *Engine) windowIntervals(p dayPlan) []availability.Interval {
	windows := make([]availability.Interval, 0, len(p.windows))
	for _, w := range p.windows {
		start, err := e.conv.ToInstantOnOrAfter(p.date, w.Start, p.zone)
		if err != nil {
			continue
		}
		end, err := e.conv.ToInstantOnOrAfter(p.date, w.End, p.zone)
		if err != nil {
			continue
		}
		windows = append(windows, availability.Interval{Start: start, End: end})
	}
	return windows
}
