package model

import (
	"time"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// Slot is a bookable start time. It is computed per request and never stored.
type Slot struct {
	Date              tz.Date
	LocalStartTime    tz.Clock
	StartInstant      time.Time
	EndInstant        time.Time
	DurationMinutes   int
	RemainingCapacity int
	EventID           string
}
