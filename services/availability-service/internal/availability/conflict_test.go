package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
)

var day = time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func slot(h, m, minutes int) Interval {
	return Interval{Start: at(h, m), End: at(h, m).Add(time.Duration(minutes) * time.Minute)}
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestDetector_BufferedBooking(t *testing.T) {
	d := NewDetector(fixedNow(day.Add(-24 * time.Hour)))
	busy := Busy{Bookings: []model.Booking{{
		ID: "b1", ScheduledAt: at(10, 0), DurationMinutes: 60, Status: model.BookingConfirmed,
	}}}

	cases := []struct {
		name string
		slot Interval
		want bool
	}{
		{"ends at buffer start", slot(9, 15, 30), true},
		{"runs into buffer", slot(9, 30, 30), false},
		{"starts inside booking", slot(10, 30, 30), false},
		{"starts inside trailing buffer", slot(11, 0, 30), false},
		{"starts at buffer end", slot(11, 15, 30), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := d.Evaluate(busy, Check{Slot: tc.slot, Buffer: 15 * time.Minute})
			assert.Equal(t, tc.want, res.Available)
			if !tc.want {
				assert.Equal(t, ReasonBookingConflict, res.Reason)
			}
		})
	}
}

func TestDetector_IgnoresInactiveBookings(t *testing.T) {
	d := NewDetector(fixedNow(day.Add(-24 * time.Hour)))
	busy := Busy{Bookings: []model.Booking{
		{ID: "b1", ScheduledAt: at(10, 0), DurationMinutes: 60, Status: model.BookingCancelled},
		{ID: "b2", ScheduledAt: at(10, 0), DurationMinutes: 60, Status: model.BookingCompleted},
	}}
	res := d.Evaluate(busy, Check{Slot: slot(10, 0, 60)})
	assert.True(t, res.Available)
	assert.Equal(t, 1, res.RemainingCapacity)
}

func TestDetector_CalendarBusyHasNoBuffer(t *testing.T) {
	d := NewDetector(fixedNow(day.Add(-24 * time.Hour)))
	busy := Busy{Events: []model.CalendarEvent{{ID: "e1", StartTime: at(12, 0), EndTime: at(13, 0), Synced: true}}}

	res := d.Evaluate(busy, Check{Slot: slot(11, 30, 30), Buffer: 30 * time.Minute})
	assert.True(t, res.Available)

	res = d.Evaluate(busy, Check{Slot: slot(12, 45, 30)})
	assert.False(t, res.Available)
	assert.Equal(t, ReasonCalendarBusy, res.Reason)
}

func TestDetector_EventCapacity(t *testing.T) {
	d := NewDetector(fixedNow(day.Add(-24 * time.Hour)))
	ev := model.CalendarEvent{ID: "class", StartTime: at(14, 0), EndTime: at(16, 0), AllowBookings: true, MaxBookings: 2}
	busy := Busy{
		Events: []model.CalendarEvent{ev},
		Bookings: []model.Booking{
			{ID: "b1", ScheduledAt: at(14, 0), DurationMinutes: 60, Status: model.BookingConfirmed, CalendarEventID: "class"},
		},
	}

	res := d.Evaluate(busy, Check{Slot: slot(14, 0, 60), Event: &ev})
	assert.True(t, res.Available)
	assert.Equal(t, 1, res.RemainingCapacity)

	busy.Bookings = append(busy.Bookings, model.Booking{
		ID: "b2", ScheduledAt: at(15, 0), DurationMinutes: 60, Status: model.BookingPending, CalendarEventID: "class",
	})
	res = d.Evaluate(busy, Check{Slot: slot(14, 0, 60), Event: &ev})
	assert.False(t, res.Available)
	assert.Equal(t, ReasonEventFull, res.Reason)
}

func TestDetector_EventWindowAndFlags(t *testing.T) {
	d := NewDetector(fixedNow(day.Add(-24 * time.Hour)))
	ev := model.CalendarEvent{ID: "class", StartTime: at(14, 0), EndTime: at(15, 0), AllowBookings: true, MaxBookings: 3}

	res := d.Evaluate(Busy{}, Check{Slot: slot(14, 30, 60), Event: &ev})
	assert.Equal(t, ReasonOutsideEvent, res.Reason)

	synced := ev
	synced.Synced = true
	res = d.Evaluate(Busy{}, Check{Slot: slot(14, 0, 30), Event: &synced})
	assert.Equal(t, ReasonEventNotBookable, res.Reason)

	closed := ev
	closed.AllowBookings = false
	res = d.Evaluate(Busy{}, Check{Slot: slot(14, 0, 30), Event: &closed})
	assert.Equal(t, ReasonEventNotBookable, res.Reason)
}

func TestDetector_LeadTime(t *testing.T) {
	d := NewDetector(fixedNow(at(9, 0)))

	res := d.Evaluate(Busy{}, Check{Slot: slot(9, 10, 30), LeadTime: DefaultLeadTime})
	assert.False(t, res.Available)
	assert.Equal(t, ReasonTooSoon, res.Reason)

	res = d.Evaluate(Busy{}, Check{Slot: slot(9, 15, 30), LeadTime: DefaultLeadTime})
	assert.True(t, res.Available)
}

func TestDetector_FirstFailingReasonWins(t *testing.T) {
	d := NewDetector(fixedNow(at(9, 0)))
	busy := Busy{
		Bookings: []model.Booking{{ID: "b1", ScheduledAt: at(9, 0), DurationMinutes: 30, Status: model.BookingConfirmed}},
		Events:   []model.CalendarEvent{{ID: "e1", StartTime: at(9, 0), EndTime: at(10, 0), Synced: true}},
	}
	res := d.Evaluate(busy, Check{Slot: slot(9, 0, 30), LeadTime: DefaultLeadTime})
	assert.Equal(t, ReasonBookingConflict, res.Reason)
}

func TestDetector_InvalidWindow(t *testing.T) {
	d := NewDetector(nil)
	res := d.Evaluate(Busy{}, Check{Slot: Interval{Start: at(10, 0), End: at(10, 0)}})
	assert.Equal(t, ReasonInvalidWindow, res.Reason)
}
