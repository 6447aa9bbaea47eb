package model

import (
	"time"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// TimeSlotDefinition is a wall-clock window on a weekday. WeekNumber, when
// set, pins the window to one week of a multi-week cycle (0-indexed).
type TimeSlotDefinition struct {
	DayOfWeek  time.Weekday
	StartTime  string
	EndTime    string
	IsEnabled  bool
	WeekNumber *int
}

type AvailabilityTemplate struct {
	ID         string
	ProviderID string
	Timezone   string
	IsDefault  bool
	TimeSlots  []TimeSlotDefinition
}

type RecurrenceType string

const (
	RecurrenceDaily    RecurrenceType = "DAILY"
	RecurrenceWeekly   RecurrenceType = "WEEKLY"
	RecurrenceBiweekly RecurrenceType = "BIWEEKLY"
	RecurrenceMonthly  RecurrenceType = "MONTHLY"
)

// AdvancedSchedule overrides the base template on the dates it matches.
type AdvancedSchedule struct {
	ID                 string
	TemplateID         string
	Name               string
	StartDate          tz.Date
	EndDate            *tz.Date
	IsRecurring        bool
	RecurrenceType     RecurrenceType
	RecurrenceInterval int
	DaysOfWeek         []time.Weekday
	// WeekOfMonth is 1-5, or -1 for the last occurrence in the month.
	WeekOfMonth *int
	MonthOfYear *int
	Priority    int
	IsActive    bool
	TimeSlots   []TimeSlotDefinition
	CreatedAt   time.Time
}

// TemplateAssignment binds a template to a provider for [StartDate, EndDate).
type TemplateAssignment struct {
	ProviderID string
	TemplateID string
	StartDate  tz.Date
	EndDate    *tz.Date
}

func (a TemplateAssignment) Covers(d tz.Date) bool {
	if d.Before(a.StartDate) {
		return false
	}
	return a.EndDate == nil || d.Before(*a.EndDate)
}

type ProviderLocation struct {
	ID         string
	ProviderID string
	Name       string
	Timezone   string
	StartDate  *tz.Date
	EndDate    *tz.Date
	IsDefault  bool
	IsActive   bool
}

// ValidOn reports whether the location applies on d; its window is half-open.
func (l ProviderLocation) ValidOn(d tz.Date) bool {
	if !l.IsActive {
		return false
	}
	if l.StartDate != nil && d.Before(*l.StartDate) {
		return false
	}
	if l.EndDate != nil && !d.Before(*l.EndDate) {
		return false
	}
	return true
}

// ProviderSettings carries booking policy knobs owned by the provider.
type ProviderSettings struct {
	ProviderID       string
	BufferMinutes    int
	// LeadTimeMinutes overrides the engine lead time when set; 0 means starts
	// may be booked right up to now.
	LeadTimeMinutes  *int
	AllowedDurations []int
	MaxAdvanceDays   int
}
