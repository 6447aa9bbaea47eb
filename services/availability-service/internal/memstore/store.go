// Package memstore is an in-memory implementation of the engine's read side
// and the reservation transaction. It backs tests and the simulator CLI.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
)

// Store holds provider data behind a mutex. Transactions are serialized by
// txMu, which stands in for the per-provider lock of a real database.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	settings    map[string]model.ProviderSettings
	templates   []model.AvailabilityTemplate
	schedules   []model.AdvancedSchedule
	assignments []model.TemplateAssignment
	locations   []model.ProviderLocation
	bookings    []model.Booking
	events      []model.CalendarEvent
	outbox      []outbox.Event
	idempotency map[string]reservation.IdempotencyRecord
}

func New() *Store {
	return &Store{
		settings:    make(map[string]model.ProviderSettings),
		idempotency: make(map[string]reservation.IdempotencyRecord),
	}
}

func (s *Store) PutSettings(v model.ProviderSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[v.ProviderID] = v
}

func (s *Store) AddTemplate(v model.AvailabilityTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, v)
}

func (s *Store) AddSchedule(v model.AdvancedSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append(s.schedules, v)
}

func (s *Store) AddAssignment(v model.TemplateAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, v)
}

func (s *Store) AddLocation(v model.ProviderLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, v)
}

func (s *Store) AddBooking(v model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = append(s.bookings, v)
}

func (s *Store) AddCalendarEvent(v model.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, v)
}

// Bookings returns a copy of every booking stored for providerID.
func (s *Store) Bookings(providerID string) []model.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.ProviderID == providerID {
			out = append(out, b)
		}
	}
	return out
}

// OutboxEvents returns a copy of the events written by committed transactions.
func (s *Store) OutboxEvents() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.outbox)
}

func (s *Store) FetchProviderSettings(_ context.Context, providerID string) (model.ProviderSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[providerID]
	if !ok {
		return model.ProviderSettings{}, model.ErrNotFound
	}
	v.AllowedDurations = slices.Clone(v.AllowedDurations)
	return v, nil
}

func (s *Store) FetchTemplates(_ context.Context, providerID string) ([]model.AvailabilityTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AvailabilityTemplate
	for _, t := range s.templates {
		if t.ProviderID == providerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) FetchAdvancedSchedules(_ context.Context, templateIDs []string) ([]model.AdvancedSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AdvancedSchedule
	for _, sc := range s.schedules {
		if slices.Contains(templateIDs, sc.TemplateID) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *Store) FetchAssignments(_ context.Context, providerID string) ([]model.TemplateAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TemplateAssignment
	for _, a := range s.assignments {
		if a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) FetchLocations(_ context.Context, providerID string) ([]model.ProviderLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ProviderLocation
	for _, l := range s.locations {
		if l.ProviderID == providerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) FetchBookings(_ context.Context, providerID string, from, to time.Time, statuses []model.BookingStatus) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookingsLocked(providerID, from, to, statuses), nil
}

func (s *Store) FetchCalendarEvents(_ context.Context, providerID string, from, to time.Time) ([]model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventsLocked(providerID, from, to), nil
}

func (s *Store) bookingsLocked(providerID string, from, to time.Time, statuses []model.BookingStatus) []model.Booking {
	var out []model.Booking
	for _, b := range s.bookings {
		if b.ProviderID != providerID || !slices.Contains(statuses, b.Status) {
			continue
		}
		if b.ScheduledAt.Before(to) && b.EndsAt().After(from) {
			out = append(out, b)
		}
	}
	return out
}

func (s *Store) eventsLocked(providerID string, from, to time.Time) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, ev := range s.events {
		if ev.ProviderID == providerID && ev.StartTime.Before(to) && ev.EndTime.After(from) {
			out = append(out, ev)
		}
	}
	return out
}
