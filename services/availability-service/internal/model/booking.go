package model

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

// BlockingStatuses are the booking states that occupy provider time.
var BlockingStatuses = []BookingStatus{BookingPending, BookingConfirmed}

func (s BookingStatus) Blocks() bool {
	return s == BookingPending || s == BookingConfirmed
}

type Booking struct {
	ID              string
	ProviderID      string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          BookingStatus
	CalendarEventID string
	CreatedAt       time.Time
}

func (b Booking) EndsAt() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// CalendarEvent is either a manual bookable block (AllowBookings with a
// capacity) or a busy block synced from an external calendar.
type CalendarEvent struct {
	ID            string
	ProviderID    string
	Title         string
	StartTime     time.Time
	EndTime       time.Time
	MaxBookings   int
	AllowBookings bool
	Synced        bool
}

// Bookable reports whether clients can reserve time inside the event.
func (e CalendarEvent) Bookable() bool {
	return e.AllowBookings && !e.Synced && e.MaxBookings > 0
}
