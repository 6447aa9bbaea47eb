package memstore

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// Fixture is the JSON document accepted by Load. Dates are "YYYY-MM-DD",
// instants RFC 3339 and weekdays 0 (Sunday) through 6.
type Fixture struct {
	Settings    []settingsJSON   `json:"settings"`
	Templates   []templateJSON   `json:"templates"`
	Schedules   []scheduleJSON   `json:"schedules"`
	Assignments []assignmentJSON `json:"assignments"`
	Locations   []locationJSON   `json:"locations"`
	Bookings    []bookingJSON    `json:"bookings"`
	Events      []eventJSON      `json:"events"`
}

type settingsJSON struct {
	ProviderID       string `json:"provider_id"`
	BufferMinutes    int    `json:"buffer_minutes"`
	LeadTimeMinutes  *int   `json:"lead_time_minutes"`
	AllowedDurations []int  `json:"allowed_durations"`
	MaxAdvanceDays   int    `json:"max_advance_days"`
}

type slotJSON struct {
	DayOfWeek  int    `json:"day_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	IsEnabled  *bool  `json:"is_enabled"`
	WeekNumber *int   `json:"week_number"`
}

type templateJSON struct {
	ID         string     `json:"id"`
	ProviderID string     `json:"provider_id"`
	Timezone   string     `json:"timezone"`
	IsDefault  bool       `json:"is_default"`
	TimeSlots  []slotJSON `json:"time_slots"`
}

type scheduleJSON struct {
	ID                 string     `json:"id"`
	TemplateID         string     `json:"template_id"`
	Name               string     `json:"name"`
	StartDate          tz.Date    `json:"start_date"`
	EndDate            *tz.Date   `json:"end_date"`
	IsRecurring        bool       `json:"is_recurring"`
	RecurrenceType     string     `json:"recurrence_type"`
	RecurrenceInterval int        `json:"recurrence_interval"`
	DaysOfWeek         []int      `json:"days_of_week"`
	WeekOfMonth        *int       `json:"week_of_month"`
	MonthOfYear        *int       `json:"month_of_year"`
	Priority           int        `json:"priority"`
	IsActive           *bool      `json:"is_active"`
	TimeSlots          []slotJSON `json:"time_slots"`
	CreatedAt          time.Time  `json:"created_at"`
}

type assignmentJSON struct {
	ProviderID string   `json:"provider_id"`
	TemplateID string   `json:"template_id"`
	StartDate  tz.Date  `json:"start_date"`
	EndDate    *tz.Date `json:"end_date"`
}

type locationJSON struct {
	ID         string   `json:"id"`
	ProviderID string   `json:"provider_id"`
	Name       string   `json:"name"`
	Timezone   string   `json:"timezone"`
	StartDate  *tz.Date `json:"start_date"`
	EndDate    *tz.Date `json:"end_date"`
	IsDefault  bool     `json:"is_default"`
	IsActive   *bool    `json:"is_active"`
}

type bookingJSON struct {
	ID              string    `json:"id"`
	ProviderID      string    `json:"provider_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	CalendarEventID string    `json:"calendar_event_id"`
}

type eventJSON struct {
	ID            string    `json:"id"`
	ProviderID    string    `json:"provider_id"`
	Title         string    `json:"title"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	MaxBookings   int       `json:"max_bookings"`
	AllowBookings bool      `json:"allow_bookings"`
	Synced        bool      `json:"synced"`
}

// Load decodes a fixture from r into a new Store.
func Load(r io.Reader) (*Store, error) {
	var f Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}

	s := New()
	for _, v := range f.Settings {
		s.PutSettings(model.ProviderSettings(v))
	}
	for _, v := range f.Templates {
		slots, err := convertSlots(v.TimeSlots)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", v.ID, err)
		}
		s.AddTemplate(model.AvailabilityTemplate{
			ID:         v.ID,
			ProviderID: v.ProviderID,
			Timezone:   v.Timezone,
			IsDefault:  v.IsDefault,
			TimeSlots:  slots,
		})
	}
	for _, v := range f.Schedules {
		slots, err := convertSlots(v.TimeSlots)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", v.ID, err)
		}
		days := make([]time.Weekday, 0, len(v.DaysOfWeek))
		for _, d := range v.DaysOfWeek {
			wd, err := weekday(d)
			if err != nil {
				return nil, fmt.Errorf("schedule %s: %w", v.ID, err)
			}
			days = append(days, wd)
		}
		s.AddSchedule(model.AdvancedSchedule{
			ID:                 v.ID,
			TemplateID:         v.TemplateID,
			Name:               v.Name,
			StartDate:          v.StartDate,
			EndDate:            v.EndDate,
			IsRecurring:        v.IsRecurring,
			RecurrenceType:     model.RecurrenceType(v.RecurrenceType),
			RecurrenceInterval: v.RecurrenceInterval,
			DaysOfWeek:         days,
			WeekOfMonth:        v.WeekOfMonth,
			MonthOfYear:        v.MonthOfYear,
			Priority:           v.Priority,
			IsActive:           boolOr(v.IsActive, true),
			TimeSlots:          slots,
			CreatedAt:          v.CreatedAt,
		})
	}
	for _, v := range f.Assignments {
		s.AddAssignment(model.TemplateAssignment(v))
	}
	for _, v := range f.Locations {
		s.AddLocation(model.ProviderLocation{
			ID:         v.ID,
			ProviderID: v.ProviderID,
			Name:       v.Name,
			Timezone:   v.Timezone,
			StartDate:  v.StartDate,
			EndDate:    v.EndDate,
			IsDefault:  v.IsDefault,
			IsActive:   boolOr(v.IsActive, true),
		})
	}
	for _, v := range f.Bookings {
		status := model.BookingStatus(v.Status)
		if status == "" {
			status = model.BookingConfirmed
		}
		s.AddBooking(model.Booking{
			ID:              v.ID,
			ProviderID:      v.ProviderID,
			ScheduledAt:     v.ScheduledAt.UTC(),
			DurationMinutes: v.DurationMinutes,
			Status:          status,
			CalendarEventID: v.CalendarEventID,
		})
	}
	for _, v := range f.Events {
		s.AddCalendarEvent(model.CalendarEvent{
			ID:            v.ID,
			ProviderID:    v.ProviderID,
			Title:         v.Title,
			StartTime:     v.StartTime.UTC(),
			EndTime:       v.EndTime.UTC(),
			MaxBookings:   v.MaxBookings,
			AllowBookings: v.AllowBookings,
			Synced:        v.Synced,
		})
	}
	return s, nil
}

func convertSlots(in []slotJSON) ([]model.TimeSlotDefinition, error) {
	out := make([]model.TimeSlotDefinition, 0, len(in))
	for _, v := range in {
		wd, err := weekday(v.DayOfWeek)
		if err != nil {
			return nil, err
		}
		out = append(out, model.TimeSlotDefinition{
			DayOfWeek:  wd,
			StartTime:  v.StartTime,
			EndTime:    v.EndTime,
			IsEnabled:  boolOr(v.IsEnabled, true),
			WeekNumber: v.WeekNumber,
		})
	}
	return out, nil
}

func weekday(d int) (time.Weekday, error) {
	if d < 0 || d > 6 {
		return 0, fmt.Errorf("day_of_week %d out of range 0-6", d)
	}
	return time.Weekday(d), nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
