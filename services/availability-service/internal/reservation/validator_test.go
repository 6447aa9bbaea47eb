package reservation_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/memstore"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
)

var (
	now   = time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC)
	start = time.Date(2026, 1, 13, 15, 0, 0, 0, time.UTC)
)

func newValidator(store *memstore.Store) *reservation.Validator {
	return reservation.NewValidator(store, availability.NewDetector(func() time.Time { return now }))
}

func request(at time.Time, minutes int) reservation.Request {
	return reservation.Request{ProviderID: "p1", Start: at, DurationMinutes: minutes, LeadTime: 15 * time.Minute}
}

func TestReserve_CommitsBookingAndOutboxEvent(t *testing.T) {
	store := memstore.New()
	v := newValidator(store)

	out, err := v.Reserve(context.Background(), request(start, 30))
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.NotEmpty(t, out.Booking.ID)
	assert.Equal(t, model.BookingConfirmed, out.Booking.Status)
	assert.Equal(t, start, out.Booking.ScheduledAt)

	require.Len(t, store.Bookings("p1"), 1)
	events := store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, reservation.EventTypeBookingReserved, events[0].EventType)
	assert.Equal(t, out.Booking.ID, events[0].AggregateID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "2026-01-13T15:30:00Z", payload["end_time"])
}

func TestReserve_ThenOverlappingRequestConflicts(t *testing.T) {
	store := memstore.New()
	v := newValidator(store)
	ctx := context.Background()

	_, err := v.Reserve(ctx, request(start, 60))
	require.NoError(t, err)

	req := request(start.Add(70*time.Minute), 30)
	req.Buffer = 15 * time.Minute
	_, err = v.Reserve(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reservation.ErrConflict))

	var conflict *reservation.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, availability.ReasonBookingConflict, conflict.Reason)
	assert.Len(t, store.Bookings("p1"), 1)
}

func TestReserve_ConcurrentOverlapOnlyOneWins(t *testing.T) {
	store := memstore.New()
	v := newValidator(store)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			_, err := v.Reserve(context.Background(), request(start.Add(time.Duration(offset)*5*time.Minute), 60))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, reservation.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
	assert.Len(t, store.Bookings("p1"), 1)
}

func TestReserve_TooSoon(t *testing.T) {
	v := newValidator(memstore.New())
	_, err := v.Reserve(context.Background(), request(now.Add(10*time.Minute), 30))

	var conflict *reservation.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, availability.ReasonTooSoon, conflict.Reason)
}

func TestReserve_IdempotentReplay(t *testing.T) {
	store := memstore.New()
	v := newValidator(store)
	ctx := context.Background()

	req := request(start, 30)
	req.IdempotencyKey = "key-1"
	first, err := v.Reserve(ctx, req)
	require.NoError(t, err)

	second, err := v.Reserve(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.Len(t, store.Bookings("p1"), 1)
	assert.Len(t, store.OutboxEvents(), 1)
}

func TestReserve_IdempotentConflictReplay(t *testing.T) {
	store := memstore.New()
	store.AddBooking(model.Booking{ID: "b0", ProviderID: "p1", ScheduledAt: start, DurationMinutes: 60, Status: model.BookingConfirmed})
	v := newValidator(store)
	ctx := context.Background()

	req := request(start, 30)
	req.IdempotencyKey = "key-2"
	_, err := v.Reserve(ctx, req)
	require.True(t, errors.Is(err, reservation.ErrConflict))

	_, err = v.Reserve(ctx, req)
	var conflict *reservation.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, availability.ReasonBookingConflict, conflict.Reason)
}

func TestReserve_IdempotencyKeyReusedForDifferentRequest(t *testing.T) {
	store := memstore.New()
	v := newValidator(store)
	ctx := context.Background()

	req := request(start, 30)
	req.IdempotencyKey = "key-3"
	_, err := v.Reserve(ctx, req)
	require.NoError(t, err)

	other := request(start.Add(time.Hour), 30)
	other.IdempotencyKey = "key-3"
	_, err = v.Reserve(ctx, other)
	assert.True(t, errors.Is(err, reservation.ErrIdempotencyMismatch))
	assert.Len(t, store.Bookings("p1"), 1)

	longer := request(start, 60)
	longer.IdempotencyKey = "key-3"
	_, err = v.Reserve(ctx, longer)
	assert.True(t, errors.Is(err, reservation.ErrIdempotencyMismatch))
}

func TestReserve_LegacyKeyWithoutFingerprintReplays(t *testing.T) {
	store := memstore.New()
	v := newValidator(store)
	ctx := context.Background()

	first, err := v.Reserve(ctx, request(start, 30))
	require.NoError(t, err)
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		return tx.FinalizeIdempotency(ctx, "p1", reservation.IdempotencyRecord{Key: "old", BookingID: first.Booking.ID})
	}))

	req := request(start.Add(2*time.Hour), 30)
	req.IdempotencyKey = "old"
	out, err := v.Reserve(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, first.Booking.ID, out.Booking.ID)
}

func TestRequestFingerprint(t *testing.T) {
	a := request(start, 30)
	b := request(start.In(time.FixedZone("EST", -5*3600)), 30)
	b.Buffer = 10 * time.Minute
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := request(start, 30)
	c.EventID = "class"
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestReserve_EventSeats(t *testing.T) {
	store := memstore.New()
	store.AddCalendarEvent(model.CalendarEvent{
		ID: "class", ProviderID: "p1", StartTime: start, EndTime: start.Add(time.Hour), AllowBookings: true, MaxBookings: 2,
	})
	v := newValidator(store)
	ctx := context.Background()

	seat := request(start, 60)
	seat.EventID = "class"
	for i := 0; i < 2; i++ {
		out, err := v.Reserve(ctx, seat)
		require.NoError(t, err)
		assert.Equal(t, "class", out.Booking.CalendarEventID)
	}

	_, err := v.Reserve(ctx, seat)
	var conflict *reservation.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, availability.ReasonEventFull, conflict.Reason)

	missing := seat
	missing.EventID = "nope"
	_, err = v.Reserve(ctx, missing)
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, availability.ReasonEventNotBookable, conflict.Reason)
}

func TestReserve_RejectsNonPositiveDuration(t *testing.T) {
	_, err := newValidator(memstore.New()).Reserve(context.Background(), request(start, 0))
	assert.True(t, errors.Is(err, reservation.ErrConflict))
}

type failingTx struct{ memstoreTx reservation.Transactor }

func (f failingTx) WithinTx(ctx context.Context, fn func(ctx context.Context, tx reservation.Tx) error) error {
	return f.memstoreTx.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		return fn(ctx, lockFailure{Tx: tx})
	})
}

type lockFailure struct{ reservation.Tx }

func (lockFailure) LockProvider(context.Context, string) error { return errors.New("connection reset") }

func TestReserve_StoreFailureIsNotAConflict(t *testing.T) {
	store := memstore.New()
	v := reservation.NewValidator(failingTx{memstoreTx: store}, availability.NewDetector(func() time.Time { return now }))

	_, err := v.Reserve(context.Background(), request(start, 30))
	require.Error(t, err)
	assert.False(t, errors.Is(err, reservation.ErrConflict))
	assert.Empty(t, store.Bookings("p1"))
}
