package availability

import (
	"time"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
)

// DefaultLeadTime is the minimum gap between now and a bookable start.
const DefaultLeadTime = 15 * time.Minute

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonBookingConflict  Reason = "overlaps an existing booking"
	ReasonCalendarBusy     Reason = "overlaps a calendar event"
	ReasonOutsideEvent     Reason = "requested time is outside the event window"
	ReasonEventNotBookable Reason = "event does not accept bookings"
	ReasonEventFull        Reason = "event is fully booked"
	ReasonTooSoon          Reason = "slot starts too soon"
	ReasonInvalidWindow    Reason = "slot end must be after its start"
	// ReasonOutsideSchedule is reported by callers that check the slot against
	// the provider's effective windows before running the detector.
	ReasonOutsideSchedule Reason = "requested time is outside provider availability"
)

// Result is the outcome of a conflict check. Reason names the first check
// that failed.
type Result struct {
	Available         bool
	Reason            Reason
	RemainingCapacity int
}

// Busy is the booking and calendar state a conflict check runs against.
type Busy struct {
	Bookings []model.Booking
	Events   []model.CalendarEvent
}

// Check describes one candidate reservation.
type Check struct {
	Slot     Interval
	Buffer   time.Duration
	LeadTime time.Duration
	// Event is set when the client books into a manual calendar event.
	Event *model.CalendarEvent
}

// Detector validates candidate slots. It holds no state besides the clock.
type Detector struct {
	now func() time.Time
}

func NewDetector(now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{now: now}
}

func (d *Detector) Now() time.Time { return d.now() }

// Evaluate runs the checks in order: buffered bookings, calendar busy
// blocks, event window and capacity, lead time.
func (d *Detector) Evaluate(busy Busy, c Check) Result {
	if !c.Slot.Valid() {
		return Result{Reason: ReasonInvalidWindow}
	}

	for _, b := range busy.Bookings {
		if !b.Status.Blocks() {
			continue
		}
		// Seats in the same event are governed by its capacity.
		if c.Event != nil && b.CalendarEventID != "" && b.CalendarEventID == c.Event.ID {
			continue
		}
		occupied := Interval{Start: b.ScheduledAt, End: b.EndsAt()}.Grow(c.Buffer)
		if occupied.Overlaps(c.Slot) {
			return Result{Reason: ReasonBookingConflict}
		}
	}

	remaining := 1
	if c.Event == nil {
		for _, ev := range busy.Events {
			if (Interval{Start: ev.StartTime, End: ev.EndTime}).Overlaps(c.Slot) {
				return Result{Reason: ReasonCalendarBusy}
			}
		}
	} else {
		ev := *c.Event
		if !ev.Bookable() {
			return Result{Reason: ReasonEventNotBookable}
		}
		if !(Interval{Start: ev.StartTime, End: ev.EndTime}).Contains(c.Slot) {
			return Result{Reason: ReasonOutsideEvent}
		}
		remaining = ev.MaxBookings - EventBookingCount(busy.Bookings, ev.ID)
		if remaining <= 0 {
			return Result{Reason: ReasonEventFull}
		}
	}

	lead := c.LeadTime
	if lead < 0 {
		lead = 0
	}
	if c.Slot.Start.Before(d.now().Add(lead)) {
		return Result{Reason: ReasonTooSoon}
	}
	return Result{Available: true, RemainingCapacity: remaining}
}

// EventBookingCount counts active bookings made against eventID.
func EventBookingCount(bookings []model.Booking, eventID string) int {
	n := 0
	for _, b := range bookings {
		if b.CalendarEventID == eventID && b.Status.Blocks() {
			n++
		}
	}
	return n
}
