package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/slotengine/libs/db"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// Repository is the Postgres read model and reservation transactor.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// slotRow is the JSON shape of one entry in a time_slots column.
type slotRow struct {
	DayOfWeek  int    `json:"day_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	IsEnabled  *bool  `json:"is_enabled"`
	WeekNumber *int   `json:"week_number"`
}

func decodeSlots(raw []byte) ([]model.TimeSlotDefinition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []slotRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode time_slots: %w", err)
	}
	out := make([]model.TimeSlotDefinition, 0, len(rows))
	for _, r := range rows {
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			continue
		}
		enabled := true
		if r.IsEnabled != nil {
			enabled = *r.IsEnabled
		}
		out = append(out, model.TimeSlotDefinition{
			DayOfWeek:  time.Weekday(r.DayOfWeek),
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			IsEnabled:  enabled,
			WeekNumber: r.WeekNumber,
		})
	}
	return out, nil
}

func optionalDate(t *time.Time) *tz.Date {
	if t == nil {
		return nil
	}
	d := tz.DateOf(*t)
	return &d
}

func ints(in []int32) []int {
	out := make([]int, 0, len(in))
	for _, v := range in {
		out = append(out, int(v))
	}
	return out
}

func (r *Repository) FetchProviderSettings(ctx context.Context, providerID string) (model.ProviderSettings, error) {
	var (
		s       model.ProviderSettings
		allowed []int32
	)
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id, buffer_minutes, lead_time_minutes, allowed_durations, max_advance_days
		FROM provider_settings
		WHERE provider_id = $1
	`, providerID).Scan(&s.ProviderID, &s.BufferMinutes, &s.LeadTimeMinutes, &allowed, &s.MaxAdvanceDays)
	if IsNotFound(err) {
		return model.ProviderSettings{}, model.ErrNotFound
	}
	if err != nil {
		return model.ProviderSettings{}, err
	}
	if len(allowed) > 0 {
		s.AllowedDurations = ints(allowed)
	}
	return s, nil
}

func (r *Repository) FetchTemplates(ctx context.Context, providerID string) ([]model.AvailabilityTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, timezone, is_default, time_slots
		FROM availability_templates
		WHERE provider_id = $1
		ORDER BY id ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityTemplate
	for rows.Next() {
		var (
			t   model.AvailabilityTemplate
			raw []byte
		)
		if err := rows.Scan(&t.ID, &t.ProviderID, &t.Timezone, &t.IsDefault, &raw); err != nil {
			return nil, err
		}
		if t.TimeSlots, err = decodeSlots(raw); err != nil {
			return nil, fmt.Errorf("template %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) FetchAdvancedSchedules(ctx context.Context, templateIDs []string) ([]model.AdvancedSchedule, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, template_id, name, start_date, end_date, is_recurring, recurrence_type,
			recurrence_interval, days_of_week, week_of_month, month_of_year, priority, is_active,
			time_slots, created_at
		FROM advanced_schedules
		WHERE template_id = ANY($1)
		ORDER BY priority DESC, created_at ASC, id ASC
	`, templateIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AdvancedSchedule
	for rows.Next() {
		var (
			s          model.AdvancedSchedule
			start      time.Time
			end        *time.Time
			recurrence string
			days       []int32
			raw        []byte
		)
		if err := rows.Scan(
			&s.ID,
			&s.TemplateID,
			&s.Name,
			&start,
			&end,
			&s.IsRecurring,
			&recurrence,
			&s.RecurrenceInterval,
			&days,
			&s.WeekOfMonth,
			&s.MonthOfYear,
			&s.Priority,
			&s.IsActive,
			&raw,
			&s.CreatedAt,
		); err != nil {
			return nil, err
		}
		s.StartDate = tz.DateOf(start)
		s.EndDate = optionalDate(end)
		s.RecurrenceType = model.RecurrenceType(recurrence)
		for _, d := range days {
			if d >= 0 && d <= 6 {
				s.DaysOfWeek = append(s.DaysOfWeek, time.Weekday(d))
			}
		}
		if s.TimeSlots, err = decodeSlots(raw); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) FetchAssignments(ctx context.Context, providerID string) ([]model.TemplateAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, template_id, start_date, end_date
		FROM template_assignments
		WHERE provider_id = $1
		ORDER BY start_date ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TemplateAssignment
	for rows.Next() {
		var (
			a     model.TemplateAssignment
			start time.Time
			end   *time.Time
		)
		if err := rows.Scan(&a.ProviderID, &a.TemplateID, &start, &end); err != nil {
			return nil, err
		}
		a.StartDate = tz.DateOf(start)
		a.EndDate = optionalDate(end)
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) FetchLocations(ctx context.Context, providerID string) ([]model.ProviderLocation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, name, timezone, start_date, end_date, is_default, is_active
		FROM provider_locations
		WHERE provider_id = $1
		ORDER BY id ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProviderLocation
	for rows.Next() {
		var (
			l          model.ProviderLocation
			start, end *time.Time
		)
		if err := rows.Scan(&l.ID, &l.ProviderID, &l.Name, &l.Timezone, &start, &end, &l.IsDefault, &l.IsActive); err != nil {
			return nil, err
		}
		l.StartDate = optionalDate(start)
		l.EndDate = optionalDate(end)
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) FetchBookings(ctx context.Context, providerID string, from, to time.Time, statuses []model.BookingStatus) ([]model.Booking, error) {
	return listBookings(ctx, r.pool, providerID, from, to, statuses)
}

func (r *Repository) FetchCalendarEvents(ctx context.Context, providerID string, from, to time.Time) ([]model.CalendarEvent, error) {
	return listEvents(ctx, r.pool, providerID, from, to)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func statusStrings(statuses []model.BookingStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

const bookingColumns = `id::text, provider_id, scheduled_at, duration_minutes, status,
	COALESCE(calendar_event_id, ''), created_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var (
		b      model.Booking
		status string
	)
	if err := row.Scan(&b.ID, &b.ProviderID, &b.ScheduledAt, &b.DurationMinutes, &status, &b.CalendarEventID, &b.CreatedAt); err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)
	b.ScheduledAt = b.ScheduledAt.UTC()
	return b, nil
}

func listBookings(ctx context.Context, q querier, providerID string, from, to time.Time, statuses []model.BookingStatus) ([]model.Booking, error) {
	rows, err := q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1
			AND status = ANY($2)
			AND scheduled_at < $4
			AND ends_at > $3
		ORDER BY scheduled_at ASC
	`, providerID, statusStrings(statuses), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

const eventColumns = `id, provider_id, title, start_time, end_time, max_bookings, allow_bookings, synced`

func scanEvent(row pgx.Row) (model.CalendarEvent, error) {
	var ev model.CalendarEvent
	if err := row.Scan(&ev.ID, &ev.ProviderID, &ev.Title, &ev.StartTime, &ev.EndTime, &ev.MaxBookings, &ev.AllowBookings, &ev.Synced); err != nil {
		return model.CalendarEvent{}, err
	}
	ev.StartTime = ev.StartTime.UTC()
	ev.EndTime = ev.EndTime.UTC()
	return ev, nil
}

func listEvents(ctx context.Context, q querier, providerID string, from, to time.Time) ([]model.CalendarEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM calendar_events
		WHERE provider_id = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CalendarEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
