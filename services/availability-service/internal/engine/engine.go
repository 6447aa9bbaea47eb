// Package engine answers availability queries and commits reservations for a
// provider. Each request loads one immutable snapshot of the provider's
// schedule and booking data, then resolves windows, slots and fit tests from
// it without further I/O. Only reservation commits touch the store again.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

const (
	MaxDurationMinutes  = 8 * 60
	durationGranularity = 5
)

// DefaultPreviewDurations is used when neither the request nor the provider
// names the durations to preview.
var DefaultPreviewDurations = []int{15, 30, 60}

// Store is the read side the engine consumes. Implementations return
// model.ErrNotFound from FetchProviderSettings when no settings row exists.
type Store interface {
	FetchProviderSettings(ctx context.Context, providerID string) (model.ProviderSettings, error)
	FetchTemplates(ctx context.Context, providerID string) ([]model.AvailabilityTemplate, error)
	FetchAdvancedSchedules(ctx context.Context, templateIDs []string) ([]model.AdvancedSchedule, error)
	FetchAssignments(ctx context.Context, providerID string) ([]model.TemplateAssignment, error)
	FetchLocations(ctx context.Context, providerID string) ([]model.ProviderLocation, error)
	FetchBookings(ctx context.Context, providerID string, from, to time.Time, statuses []model.BookingStatus) ([]model.Booking, error)
	FetchCalendarEvents(ctx context.Context, providerID string, from, to time.Time) ([]model.CalendarEvent, error)
}

type Config struct {
	// DefaultTimezone applies when neither a location nor the template names one.
	DefaultTimezone      string
	StepMinutes          int
	LeadTime             time.Duration
	DefaultBufferMinutes int
	// Workers bounds the date x duration fan-out of batch counts and previews.
	Workers      int
	MaxRangeDays int
	Now          func() time.Time
}

func (c Config) withDefaults() Config {
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = "UTC"
	}
	if c.StepMinutes <= 0 {
		c.StepMinutes = availability.DefaultStepMinutes
	}
	if c.LeadTime < 0 {
		c.LeadTime = 0
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.MaxRangeDays <= 0 {
		c.MaxRangeDays = 62
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type Engine struct {
	store     Store
	validator *reservation.Validator
	conv      *tz.Converter
	detector  *availability.Detector
	logger    *slog.Logger
	tracer    trace.Tracer
	cfg       Config

	// countUnit computes one date x duration cell of a batch count.
	countUnit func(s *snapshot, p dayPlan, durationMinutes int) (int, error)
}

func New(store Store, tx reservation.Transactor, logger *slog.Logger, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	detector := availability.NewDetector(cfg.Now)
	e := &Engine{
		store:     store,
		validator: reservation.NewValidator(tx, detector),
		conv:      tz.NewConverter(),
		detector:  detector,
		logger:    logger,
		tracer:    otel.Tracer("availability-service/engine"),
		cfg:       cfg,
	}
	e.countUnit = e.countSlots
	return e
}

func (e *Engine) checkDuration(settings model.ProviderSettings, minutes int) error {
	if minutes <= 0 || minutes > MaxDurationMinutes {
		return invalid("duration", "must be between 1 and %d minutes (got %d)", MaxDurationMinutes, minutes)
	}
	if len(settings.AllowedDurations) > 0 {
		if !slices.Contains(settings.AllowedDurations, minutes) {
			return fmt.Errorf("%w: %d minutes", ErrDurationNotAllowed, minutes)
		}
		return nil
	}
	if minutes%durationGranularity != 0 {
		return fmt.Errorf("%w: %d minutes is not a multiple of %d", ErrDurationNotAllowed, minutes, durationGranularity)
	}
	return nil
}

func (e *Engine) checkDurations(settings model.ProviderSettings, durations []int) ([]int, error) {
	if len(durations) == 0 {
		return nil, invalid("durations", "at least one duration is required")
	}
	out := make([]int, 0, len(durations))
	for _, d := range durations {
		if err := e.checkDuration(settings, d); err != nil {
			return nil, err
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (e *Engine) startSpan(ctx context.Context, name, providerID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("provider.id", providerID))
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
