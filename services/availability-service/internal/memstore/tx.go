package memstore

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
)

// WithinTx runs fn with exclusive write access. Writes are staged and
// applied only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx reservation.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{store: s}
	if err := fn(ctx, t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = append(s.bookings, t.bookings...)
	s.outbox = append(s.outbox, t.outbox...)
	for k, rec := range t.keys {
		s.idempotency[k] = rec
	}
	return nil
}

type tx struct {
	store    *Store
	bookings []model.Booking
	outbox   []outbox.Event
	keys     map[string]reservation.IdempotencyRecord
}

var _ reservation.Tx = (*tx)(nil)

// LockProvider is a no-op: WithinTx already serializes every transaction.
func (t *tx) LockProvider(context.Context, string) error { return nil }

func idempotencyKey(providerID, key string) string { return providerID + "\x00" + key }

func (t *tx) LockIdempotencyKey(_ context.Context, providerID, key string) (reservation.IdempotencyRecord, bool, error) {
	k := idempotencyKey(providerID, key)
	if rec, ok := t.keys[k]; ok {
		return rec, true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.idempotency[k]
	if !ok {
		return reservation.IdempotencyRecord{Key: key}, false, nil
	}
	return rec, true, nil
}

func (t *tx) FinalizeIdempotency(_ context.Context, providerID string, rec reservation.IdempotencyRecord) error {
	if t.keys == nil {
		t.keys = make(map[string]reservation.IdempotencyRecord)
	}
	t.keys[idempotencyKey(providerID, rec.Key)] = rec
	return nil
}

func (t *tx) GetBooking(_ context.Context, providerID, bookingID string) (model.Booking, error) {
	for _, b := range t.bookings {
		if b.ID == bookingID && b.ProviderID == providerID {
			return b, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, b := range t.store.bookings {
		if b.ID == bookingID && b.ProviderID == providerID {
			return b, nil
		}
	}
	return model.Booking{}, model.ErrNotFound
}

func (t *tx) ListBlockingBookings(_ context.Context, providerID string, from, to time.Time) ([]model.Booking, error) {
	t.store.mu.RLock()
	out := t.store.bookingsLocked(providerID, from, to, model.BlockingStatuses)
	t.store.mu.RUnlock()
	for _, b := range t.bookings {
		if b.ProviderID == providerID && b.ScheduledAt.Before(to) && b.EndsAt().After(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *tx) ListCalendarEvents(_ context.Context, providerID string, from, to time.Time) ([]model.CalendarEvent, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.eventsLocked(providerID, from, to), nil
}

func (t *tx) GetCalendarEvent(_ context.Context, providerID, eventID string) (model.CalendarEvent, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, ev := range t.store.events {
		if ev.ID == eventID && ev.ProviderID == providerID {
			return ev, nil
		}
	}
	return model.CalendarEvent{}, model.ErrNotFound
}

// InsertBooking enforces the same non-overlap rule as the database
// constraint: generated bookings of one provider may not intersect.
func (t *tx) InsertBooking(ctx context.Context, b model.Booking) error {
	if b.CalendarEventID == "" {
		existing, _ := t.ListBlockingBookings(ctx, b.ProviderID, b.ScheduledAt, b.EndsAt())
		for _, other := range existing {
			if other.CalendarEventID == "" {
				return model.ErrOverlap
			}
		}
	}
	t.bookings = append(t.bookings, b)
	return nil
}

func (t *tx) InsertOutbox(_ context.Context, ev outbox.Event) error {
	t.outbox = append(t.outbox, ev)
	return nil
}
