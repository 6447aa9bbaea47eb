package recurrence

import (
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// Resolution is the set of wall-clock windows in force on one date.
// SourceScheduleID is empty when the base template supplied the windows.
type Resolution struct {
	Date             tz.Date
	TemplateID       string
	SourceScheduleID string
	Slots            []model.TimeSlotDefinition
}

func (r Resolution) FromTemplate() bool { return r.SourceScheduleID == "" }

// IsActiveOnDate reports whether s applies on date, ignoring slot tagging.
// Inconsistent schedules never match.
func IsActiveOnDate(s model.AdvancedSchedule, date tz.Date) bool {
	if !s.IsActive || s.StartDate.IsZero() {
		return false
	}
	if date.Before(s.StartDate) {
		return false
	}
	if s.EndDate != nil {
		if s.EndDate.Before(s.StartDate) || date.After(*s.EndDate) {
			return false
		}
	}
	if !s.IsRecurring {
		return true
	}
	m, ok := MatcherFor(s.RecurrenceType)
	if !ok {
		return false
	}
	return m.Matches(s, date)
}

// CycleLength is the number of weeks in s's multi-week cycle. DAILY
// intervals count days, so daily schedules never cycle by week.
func CycleLength(s model.AdvancedSchedule) int {
	switch {
	case s.IsRecurring && s.RecurrenceType == model.RecurrenceDaily:
		return 1
	case s.RecurrenceType == model.RecurrenceBiweekly:
		return max(s.RecurrenceInterval, 2)
	default:
		return max(s.RecurrenceInterval, 1)
	}
}

// WeekInCycle returns the 0-indexed week of s's cycle that date falls in.
func WeekInCycle(s model.AdvancedSchedule, date tz.Date) int {
	n := CycleLength(s)
	if n <= 1 {
		return 0
	}
	weeks := date.DaysSince(s.StartDate) / 7
	return ((weeks % n) + n) % n
}

// EligibleSlots returns the enabled, well-formed slots of s that apply on
// date: same weekday and, for multi-week cycles, the current cycle week.
// Untagged slots apply in every week.
func EligibleSlots(s model.AdvancedSchedule, date tz.Date) []model.TimeSlotDefinition {
	cycle := CycleLength(s)
	week := WeekInCycle(s, date)
	var out []model.TimeSlotDefinition
	for _, slot := range s.TimeSlots {
		if !usable(slot, date) {
			continue
		}
		if cycle > 1 && slot.WeekNumber != nil && *slot.WeekNumber != week {
			continue
		}
		out = append(out, slot)
	}
	return out
}

// TemplateSlots returns the template's enabled windows for date's weekday.
// Week tags are meaningless on a template and are ignored.
func TemplateSlots(t model.AvailabilityTemplate, date tz.Date) []model.TimeSlotDefinition {
	var out []model.TimeSlotDefinition
	for _, slot := range t.TimeSlots {
		if usable(slot, date) {
			out = append(out, slot)
		}
	}
	return out
}

func usable(slot model.TimeSlotDefinition, date tz.Date) bool {
	if !slot.IsEnabled || slot.DayOfWeek != date.Weekday() {
		return false
	}
	start, err := tz.ParseClock(slot.StartTime)
	if err != nil {
		return false
	}
	end, err := tz.ParseClock(slot.EndTime)
	if err != nil {
		return false
	}
	return start < end
}

// Resolve picks the windows for date: the highest-priority active schedule
// with at least one eligible slot, or the template's own windows. Priority
// ties go to the earliest-created schedule, then the lowest id.
func Resolve(template model.AvailabilityTemplate, schedules []model.AdvancedSchedule, date tz.Date) Resolution {
	var (
		best      *model.AdvancedSchedule
		bestSlots []model.TimeSlotDefinition
	)
	for i := range schedules {
		s := &schedules[i]
		if s.TemplateID != "" && template.ID != "" && s.TemplateID != template.ID {
			continue
		}
		if !IsActiveOnDate(*s, date) {
			continue
		}
		slots := EligibleSlots(*s, date)
		if len(slots) == 0 {
			continue
		}
		if best == nil || outranks(*s, *best) {
			best = s
			bestSlots = slots
		}
	}
	if best != nil {
		return Resolution{Date: date, TemplateID: template.ID, SourceScheduleID: best.ID, Slots: bestSlots}
	}
	return Resolution{Date: date, TemplateID: template.ID, Slots: TemplateSlots(template, date)}
}

func outranks(a, b model.AdvancedSchedule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
