package availability

import (
	"time"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
)

// BusyIntervals flattens bookings (widened by buffer) and calendar events
// into blocking intervals for a coarse fit test.
func BusyIntervals(busy Busy, buffer time.Duration) []Interval {
	out := make([]Interval, 0, len(busy.Bookings)+len(busy.Events))
	for _, b := range busy.Bookings {
		if !b.Status.Blocks() {
			continue
		}
		out = append(out, Interval{Start: b.ScheduledAt, End: b.EndsAt()}.Grow(buffer))
	}
	for _, ev := range busy.Events {
		out = append(out, Interval{Start: ev.StartTime, End: ev.EndTime})
	}
	return out
}

// Fits is the coarse availability test: it reports whether some window,
// after trimming everything before earliest and removing busy time, still
// has a free gap at least duration long.
//
// A false result is exact (no slot of that length can exist). A true result
// may be optimistic because slot starts are aligned to the step grid.
func Fits(windows []Interval, duration time.Duration, busy []Interval, earliest time.Time) bool {
	if duration <= 0 {
		return false
	}
	for _, w := range windows {
		if w.Start.Before(earliest) {
			w.Start = earliest
		}
		if w.Duration() < duration {
			continue
		}
		for _, gap := range Subtract(w, busy) {
			if gap.Duration() >= duration {
				return true
			}
		}
	}
	return false
}

// EventFits is the coarse test for a bookable manual event: a free seat and a
// gap inside the event, ignoring seats already taken in the same event.
func EventFits(ev model.CalendarEvent, bookings []model.Booking, buffer, duration time.Duration, earliest time.Time) bool {
	if !ev.Bookable() || ev.MaxBookings-EventBookingCount(bookings, ev.ID) <= 0 {
		return false
	}
	var blocks []Interval
	for _, b := range bookings {
		if !b.Status.Blocks() || b.CalendarEventID == ev.ID {
			continue
		}
		blocks = append(blocks, Interval{Start: b.ScheduledAt, End: b.EndsAt()}.Grow(buffer))
	}
	return Fits([]Interval{{Start: ev.StartTime, End: ev.EndTime}}, duration, blocks, earliest)
}
