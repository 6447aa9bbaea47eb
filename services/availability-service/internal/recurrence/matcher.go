package recurrence

import (
	"slices"
	"time"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// Matcher decides whether a recurring schedule fires on a date. Range checks
// against StartDate/EndDate happen before a matcher is consulted.
type Matcher interface {
	Matches(s model.AdvancedSchedule, date tz.Date) bool
}

var matchers = map[model.RecurrenceType]Matcher{
	model.RecurrenceDaily:    dailyMatcher{},
	model.RecurrenceWeekly:   weekdayMatcher{},
	model.RecurrenceBiweekly: weekdayMatcher{},
	model.RecurrenceMonthly:  monthlyMatcher{},
}

// MatcherFor returns the matcher registered for t.
func MatcherFor(t model.RecurrenceType) (Matcher, bool) {
	m, ok := matchers[t]
	return m, ok
}

// dailyMatcher fires every Nth day counted from the schedule start.
type dailyMatcher struct{}

func (dailyMatcher) Matches(s model.AdvancedSchedule, date tz.Date) bool {
	interval := s.RecurrenceInterval
	if interval <= 0 {
		interval = 1
	}
	return date.DaysSince(s.StartDate)%interval == 0
}

// weekdayMatcher only checks weekday membership. Which week of a multi-week
// cycle applies is decided by slot WeekNumber tags, see EligibleSlots.
type weekdayMatcher struct{}

func (weekdayMatcher) Matches(s model.AdvancedSchedule, date tz.Date) bool {
	return inDays(s.DaysOfWeek, date.Weekday())
}

type monthlyMatcher struct{}

func (monthlyMatcher) Matches(s model.AdvancedSchedule, date tz.Date) bool {
	if s.MonthOfYear != nil {
		m := *s.MonthOfYear
		if m < 1 || m > 12 || time.Month(m) != date.Month {
			return false
		}
	}
	if s.WeekOfMonth != nil {
		switch w := *s.WeekOfMonth; {
		case w == -1:
			if date.Day+7 <= date.DaysInMonth() {
				return false
			}
		case w >= 1 && w <= 5:
			if (date.Day+6)/7 != w {
				return false
			}
		default:
			return false
		}
	}
	return inDays(s.DaysOfWeek, date.Weekday())
}

// inDays treats an empty set as "every day"; the slot weekday filter then
// decides which days carry windows.
func inDays(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	return slices.Contains(days, d)
}
