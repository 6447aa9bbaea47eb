package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/engine"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
)

type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32
}

// BreakerStore guards a read store with a circuit breaker. While open, reads
// fail fast and the engine reports the data as unavailable.
type BreakerStore struct {
	next    engine.Store
	breaker *gobreaker.CircuitBreaker[any]
}

var _ engine.Store = (*BreakerStore)(nil)

func NewBreakerStore(next engine.Store, logger *slog.Logger, cfg BreakerConfig) *BreakerStore {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerStore{
		next: next,
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "availability-store",
			MaxRequests: cfg.MaxRequests,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			IsSuccessful: func(err error) bool {
				// Missing rows and cancelled callers say nothing about store health.
				return err == nil ||
					errors.Is(err, model.ErrNotFound) ||
					errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		}),
	}
}

// State reports the breaker state, for readiness checks.
func (b *BreakerStore) State() gobreaker.State { return b.breaker.State() }

// ReadyCheck fails while the breaker is open.
func (b *BreakerStore) ReadyCheck(context.Context) error {
	if b.breaker.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	return nil
}

func guarded[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	v, err := b.breaker.Execute(func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

func (b *BreakerStore) FetchProviderSettings(ctx context.Context, providerID string) (model.ProviderSettings, error) {
	return guarded(b, func() (model.ProviderSettings, error) { return b.next.FetchProviderSettings(ctx, providerID) })
}

func (b *BreakerStore) FetchTemplates(ctx context.Context, providerID string) ([]model.AvailabilityTemplate, error) {
	return guarded(b, func() ([]model.AvailabilityTemplate, error) { return b.next.FetchTemplates(ctx, providerID) })
}

func (b *BreakerStore) FetchAdvancedSchedules(ctx context.Context, templateIDs []string) ([]model.AdvancedSchedule, error) {
	return guarded(b, func() ([]model.AdvancedSchedule, error) { return b.next.FetchAdvancedSchedules(ctx, templateIDs) })
}

func (b *BreakerStore) FetchAssignments(ctx context.Context, providerID string) ([]model.TemplateAssignment, error) {
	return guarded(b, func() ([]model.TemplateAssignment, error) { return b.next.FetchAssignments(ctx, providerID) })
}

func (b *BreakerStore) FetchLocations(ctx context.Context, providerID string) ([]model.ProviderLocation, error) {
	return guarded(b, func() ([]model.ProviderLocation, error) { return b.next.FetchLocations(ctx, providerID) })
}

func (b *BreakerStore) FetchBookings(ctx context.Context, providerID string, from, to time.Time, statuses []model.BookingStatus) ([]model.Booking, error) {
	return guarded(b, func() ([]model.Booking, error) {
		return b.next.FetchBookings(ctx, providerID, from, to, statuses)
	})
}

func (b *BreakerStore) FetchCalendarEvents(ctx context.Context, providerID string, from, to time.Time) ([]model.CalendarEvent, error) {
	return guarded(b, func() ([]model.CalendarEvent, error) { return b.next.FetchCalendarEvents(ctx, providerID, from, to) })
}
