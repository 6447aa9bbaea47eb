package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
)

var _ reservation.Transactor = (*Repository)(nil)

// WithinTx runs fn in one database transaction and commits if fn succeeds.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx reservation.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &reservationTx{tx: tx, outbox: r.outbox}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type reservationTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

var _ reservation.Tx = (*reservationTx)(nil)

// LockProvider takes a transaction-scoped advisory lock keyed on the
// provider, so concurrent reservations for one provider run one at a time.
func (t *reservationTx) LockProvider(ctx context.Context, providerID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, providerID)
	return err
}

func (t *reservationTx) LockIdempotencyKey(ctx context.Context, providerID, key string) (reservation.IdempotencyRecord, bool, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, providerID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return reservation.IdempotencyRecord{}, false, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO reservation_idempotency_keys (provider_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (provider_id, idempotency_key) DO NOTHING
	`, providerID, key)
	if err != nil {
		return reservation.IdempotencyRecord{}, false, err
	}

	rec, err = t.selectIdempotencyForUpdate(ctx, providerID, key)
	if err != nil {
		return reservation.IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (t *reservationTx) FinalizeIdempotency(ctx context.Context, providerID string, rec reservation.IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE reservation_idempotency_keys
		SET booking_id = NULLIF($3, '')::uuid,
			conflict_reason = NULLIF($4, ''),
			request_fingerprint = $5,
			updated_at = now()
		WHERE provider_id = $1 AND idempotency_key = $2
	`, providerID, rec.Key, rec.BookingID, rec.ConflictReason, rec.Fingerprint)
	return err
}

func (t *reservationTx) selectIdempotencyForUpdate(ctx context.Context, providerID, key string) (reservation.IdempotencyRecord, error) {
	var rec reservation.IdempotencyRecord
	err := t.tx.QueryRow(ctx, `
		SELECT idempotency_key,
			request_fingerprint,
			COALESCE(booking_id::text, ''),
			COALESCE(conflict_reason, '')
		FROM reservation_idempotency_keys
		WHERE provider_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, providerID, key).Scan(&rec.Key, &rec.Fingerprint, &rec.BookingID, &rec.ConflictReason)
	if err != nil {
		return reservation.IdempotencyRecord{}, err
	}
	return rec, nil
}

func (t *reservationTx) GetBooking(ctx context.Context, providerID, bookingID string) (model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1::uuid AND provider_id = $2
	`, bookingID, providerID))
	if IsNotFound(err) {
		return model.Booking{}, model.ErrNotFound
	}
	return b, err
}

func (t *reservationTx) ListBlockingBookings(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error) {
	return listBookings(ctx, t.tx, providerID, from, to, model.BlockingStatuses)
}

func (t *reservationTx) ListCalendarEvents(ctx context.Context, providerID string, from, to time.Time) ([]model.CalendarEvent, error) {
	return listEvents(ctx, t.tx, providerID, from, to)
}

func (t *reservationTx) GetCalendarEvent(ctx context.Context, providerID, eventID string) (model.CalendarEvent, error) {
	ev, err := scanEvent(t.tx.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM calendar_events
		WHERE id = $1 AND provider_id = $2
	`, eventID, providerID))
	if IsNotFound(err) {
		return model.CalendarEvent{}, model.ErrNotFound
	}
	return ev, err
}

// InsertBooking relies on the bookings exclusion constraint as the final
// guard against overlap; a violation maps to model.ErrOverlap.
func (t *reservationTx) InsertBooking(ctx context.Context, b model.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings
			(id, provider_id, scheduled_at, duration_minutes, ends_at, status, calendar_event_id, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, b.ID, b.ProviderID, b.ScheduledAt, b.DurationMinutes, b.EndsAt(), string(b.Status), b.CalendarEventID, b.CreatedAt)
	if IsConflict(err) {
		return model.ErrOverlap
	}
	return err
}

func (t *reservationTx) InsertOutbox(ctx context.Context, ev outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, ev)
}
