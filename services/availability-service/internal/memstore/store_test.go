package memstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
)

const fixture = `{
  "settings": [{"provider_id": "p1", "buffer_minutes": 10, "allowed_durations": [30, 60]}],
  "templates": [{
    "id": "t1", "provider_id": "p1", "timezone": "America/New_York", "is_default": true,
    "time_slots": [{"day_of_week": 2, "start_time": "09:00", "end_time": "17:00"}]
  }],
  "schedules": [{
    "id": "s1", "template_id": "t1", "start_date": "2026-02-01", "end_date": "2026-02-28",
    "is_recurring": true, "recurrence_type": "WEEKLY", "recurrence_interval": 1,
    "days_of_week": [1, 3], "priority": 5,
    "time_slots": [{"day_of_week": 1, "start_time": "10:00", "end_time": "12:00", "is_enabled": false}]
  }],
  "locations": [{"id": "l1", "provider_id": "p1", "timezone": "Europe/Berlin", "start_date": "2026-03-01"}],
  "bookings": [{"id": "b1", "provider_id": "p1", "scheduled_at": "2026-01-13T15:00:00Z", "duration_minutes": 60}],
  "events": [{"id": "e1", "provider_id": "p1", "start_time": "2026-01-13T18:00:00Z", "end_time": "2026-01-13T19:00:00Z", "synced": true}]
}`

func TestLoad_Fixture(t *testing.T) {
	s, err := Load(strings.NewReader(fixture))
	require.NoError(t, err)
	ctx := context.Background()

	settings, err := s.FetchProviderSettings(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, settings.BufferMinutes)
	assert.Equal(t, []int{30, 60}, settings.AllowedDurations)

	templates, err := s.FetchTemplates(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, time.Tuesday, templates[0].TimeSlots[0].DayOfWeek)
	assert.True(t, templates[0].TimeSlots[0].IsEnabled)

	schedules, err := s.FetchAdvancedSchedules(ctx, []string{"t1"})
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.True(t, schedules[0].IsActive)
	assert.False(t, schedules[0].TimeSlots[0].IsEnabled)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, schedules[0].DaysOfWeek)
	assert.Equal(t, "2026-02-28", schedules[0].EndDate.String())

	locations, err := s.FetchLocations(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.True(t, locations[0].IsActive)

	from := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)
	bookings, err := s.FetchBookings(ctx, "p1", from, from.Add(24*time.Hour), model.BlockingStatuses)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, model.BookingConfirmed, bookings[0].Status)

	events, err := s.FetchCalendarEvents(ctx, "p1", from, from.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestLoad_RejectsBadWeekday(t *testing.T) {
	_, err := Load(strings.NewReader(`{"templates": [{"id": "t", "time_slots": [{"day_of_week": 7}]}]}`))
	require.Error(t, err)
}

func TestFetchProviderSettings_NotFound(t *testing.T) {
	_, err := New().FetchProviderSettings(context.Background(), "nobody")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestWithinTx_CommitsOnlyOnSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2026, 1, 13, 15, 0, 0, 0, time.UTC)
	b := model.Booking{ID: "b1", ProviderID: "p1", ScheduledAt: start, DurationMinutes: 30, Status: model.BookingConfirmed}

	err := s.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		require.NoError(t, tx.InsertBooking(ctx, b))
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Empty(t, s.Bookings("p1"))

	err = s.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, outbox.Event{EventType: "x", AggregateID: b.ID})
	})
	require.NoError(t, err)
	assert.Len(t, s.Bookings("p1"), 1)
	assert.Len(t, s.OutboxEvents(), 1)
}

func TestInsertBooking_EnforcesNonOverlap(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2026, 1, 13, 15, 0, 0, 0, time.UTC)
	s.AddBooking(model.Booking{ID: "b1", ProviderID: "p1", ScheduledAt: start, DurationMinutes: 60, Status: model.BookingConfirmed})

	err := s.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		return tx.InsertBooking(ctx, model.Booking{
			ID: "b2", ProviderID: "p1", ScheduledAt: start.Add(30 * time.Minute), DurationMinutes: 60, Status: model.BookingConfirmed,
		})
	})
	assert.True(t, errors.Is(err, model.ErrOverlap))

	err = s.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		return tx.InsertBooking(ctx, model.Booking{
			ID: "b3", ProviderID: "p1", ScheduledAt: start.Add(time.Hour), DurationMinutes: 60, Status: model.BookingConfirmed,
		})
	})
	assert.NoError(t, err)
}

func TestIdempotencyKeys_ArePerProvider(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		return tx.FinalizeIdempotency(ctx, "p1", reservation.IdempotencyRecord{Key: "k", Fingerprint: "fp", BookingID: "b1"})
	})
	require.NoError(t, err)

	_ = s.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		rec, ok, err := tx.LockIdempotencyKey(ctx, "p1", "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "b1", rec.BookingID)
		assert.Equal(t, "fp", rec.Fingerprint)

		_, ok, err = tx.LockIdempotencyKey(ctx, "p2", "k")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
}
