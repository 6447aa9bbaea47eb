// Package reservation commits bookings. Every conflict check runs again inside
// the write transaction, after the provider lock is held, so two overlapping
// requests can never both succeed.
package reservation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/outbox"
)

const EventTypeBookingReserved = "availability.booking.reserved.v1"

var (
	ErrConflict = errors.New("slot is no longer available")

	// ErrIdempotencyMismatch is returned when a key is reused for a request
	// that differs from the one it was first used with.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")
)

// ConflictError tells the caller the slot was taken or became invalid and the
// client should query availability again.
type ConflictError struct {
	Reason availability.Reason
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s; re-query availability", ErrConflict, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type Request struct {
	ProviderID      string
	Start           time.Time
	DurationMinutes int
	EventID         string
	Buffer          time.Duration
	LeadTime        time.Duration
	IdempotencyKey  string
}

func (r Request) End() time.Time {
	return r.Start.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// Fingerprint identifies what the request books. Buffer and lead time come
// from provider settings and are left out.
func (r Request) Fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s",
		r.ProviderID, r.Start.UTC().Unix(), r.DurationMinutes, r.EventID)))
	return hex.EncodeToString(sum[:])
}

type Outcome struct {
	Booking  model.Booking
	Replayed bool
}

// IdempotencyRecord is the stored result of a keyed reservation. Exactly one
// of BookingID and ConflictReason is set once the key is finalized.
// Fingerprint is empty for records written before fingerprints were kept.
type IdempotencyRecord struct {
	Key            string
	Fingerprint    string
	BookingID      string
	ConflictReason string
}

func (r IdempotencyRecord) Finalized() bool {
	return r.BookingID != "" || r.ConflictReason != ""
}

// Tx is the unit of work the validator runs in. LockProvider must serialize
// all writers for one provider until the transaction ends.
type Tx interface {
	LockProvider(ctx context.Context, providerID string) error
	LockIdempotencyKey(ctx context.Context, providerID, key string) (IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, providerID string, rec IdempotencyRecord) error
	GetBooking(ctx context.Context, providerID, bookingID string) (model.Booking, error)
	ListBlockingBookings(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error)
	ListCalendarEvents(ctx context.Context, providerID string, from, to time.Time) ([]model.CalendarEvent, error)
	GetCalendarEvent(ctx context.Context, providerID, eventID string) (model.CalendarEvent, error)
	InsertBooking(ctx context.Context, b model.Booking) error
	InsertOutbox(ctx context.Context, ev outbox.Event) error
}

// Transactor commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Validator struct {
	tx       Transactor
	detector *availability.Detector
	newID    func() string
}

func NewValidator(tx Transactor, detector *availability.Detector) *Validator {
	return &Validator{tx: tx, detector: detector, newID: uuid.NewString}
}

// Reserve re-validates req against live data and inserts the booking plus its
// outbox event atomically. A lost race yields a *ConflictError.
func (v *Validator) Reserve(ctx context.Context, req Request) (Outcome, error) {
	if req.DurationMinutes <= 0 {
		return Outcome{}, &ConflictError{Reason: availability.ReasonInvalidWindow}
	}

	var (
		out      Outcome
		conflict *ConflictError
	)
	err := v.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		out, conflict = Outcome{}, nil

		if err := tx.LockProvider(ctx, req.ProviderID); err != nil {
			return fmt.Errorf("lock provider: %w", err)
		}

		if req.IdempotencyKey != "" {
			rec, exists, err := tx.LockIdempotencyKey(ctx, req.ProviderID, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if exists && rec.Finalized() {
				if rec.Fingerprint != "" && rec.Fingerprint != req.Fingerprint() {
					return ErrIdempotencyMismatch
				}
				if rec.ConflictReason != "" {
					conflict = &ConflictError{Reason: availability.Reason(rec.ConflictReason)}
					return nil
				}
				b, err := tx.GetBooking(ctx, req.ProviderID, rec.BookingID)
				if err != nil {
					return fmt.Errorf("load replayed booking: %w", err)
				}
				out = Outcome{Booking: b, Replayed: true}
				return nil
			}
		}

		res, err := v.check(ctx, tx, req)
		if err != nil {
			return err
		}
		if !res.Available {
			conflict = &ConflictError{Reason: res.Reason}
			if req.IdempotencyKey != "" {
				rec := IdempotencyRecord{Key: req.IdempotencyKey, Fingerprint: req.Fingerprint(), ConflictReason: string(res.Reason)}
				if err := tx.FinalizeIdempotency(ctx, req.ProviderID, rec); err != nil {
					return fmt.Errorf("finalize idempotency key: %w", err)
				}
			}
			return nil
		}

		b := model.Booking{
			ID:              v.newID(),
			ProviderID:      req.ProviderID,
			ScheduledAt:     req.Start.UTC(),
			DurationMinutes: req.DurationMinutes,
			Status:          model.BookingConfirmed,
			CalendarEventID: req.EventID,
			CreatedAt:       v.detector.Now().UTC(),
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			if errors.Is(err, model.ErrOverlap) {
				return &ConflictError{Reason: availability.ReasonBookingConflict}
			}
			return fmt.Errorf("insert booking: %w", err)
		}

		ev, err := reservedEvent(b)
		if err != nil {
			return err
		}
		if err := tx.InsertOutbox(ctx, ev); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}

		if req.IdempotencyKey != "" {
			rec := IdempotencyRecord{Key: req.IdempotencyKey, Fingerprint: req.Fingerprint(), BookingID: b.ID}
			if err := tx.FinalizeIdempotency(ctx, req.ProviderID, rec); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		out = Outcome{Booking: b}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if conflict != nil {
		return Outcome{}, conflict
	}
	return out, nil
}

func (v *Validator) check(ctx context.Context, tx Tx, req Request) (availability.Result, error) {
	slot := availability.Interval{Start: req.Start, End: req.End()}
	from, to := slot.Start.Add(-req.Buffer), slot.End.Add(req.Buffer)

	var event *model.CalendarEvent
	if req.EventID != "" {
		ev, err := tx.GetCalendarEvent(ctx, req.ProviderID, req.EventID)
		if errors.Is(err, model.ErrNotFound) {
			return availability.Result{Reason: availability.ReasonEventNotBookable}, nil
		}
		if err != nil {
			return availability.Result{}, fmt.Errorf("load calendar event: %w", err)
		}
		event = &ev
		// Capacity counts every seat in the event, not only nearby ones.
		if ev.StartTime.Before(from) {
			from = ev.StartTime
		}
		if ev.EndTime.After(to) {
			to = ev.EndTime
		}
	}

	bookings, err := tx.ListBlockingBookings(ctx, req.ProviderID, from, to)
	if err != nil {
		return availability.Result{}, fmt.Errorf("list bookings: %w", err)
	}
	var events []model.CalendarEvent
	if event == nil {
		events, err = tx.ListCalendarEvents(ctx, req.ProviderID, slot.Start, slot.End)
		if err != nil {
			return availability.Result{}, fmt.Errorf("list calendar events: %w", err)
		}
	}

	return v.detector.Evaluate(availability.Busy{Bookings: bookings, Events: events}, availability.Check{
		Slot:     slot,
		Buffer:   req.Buffer,
		LeadTime: req.LeadTime,
		Event:    event,
	}), nil
}

func reservedEvent(b model.Booking) (outbox.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"booking_id":        b.ID,
		"provider_id":       b.ProviderID,
		"calendar_event_id": b.CalendarEventID,
		"start_time":        b.ScheduledAt.UTC().Format(time.RFC3339),
		"end_time":          b.EndsAt().UTC().Format(time.RFC3339),
		"duration_minutes":  b.DurationMinutes,
		"status":            string(b.Status),
	})
	if err != nil {
		return outbox.Event{}, fmt.Errorf("build event payload: %w", err)
	}
	return outbox.Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     EventTypeBookingReserved,
		Payload:       payload,
	}, nil
}
