package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "availability_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "availability_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "availability_operation_duration_seconds",
			Help:    "Engine operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	SlotsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "availability_slots_returned",
			Help:    "Number of bookable slots returned per on-demand request",
			Buckets: []float64{0, 1, 4, 8, 16, 32, 64, 128},
		},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "availability_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	BatchUnitFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "availability_batch_unit_failures_total",
			Help: "Date and duration units whose count degraded to zero",
		},
	)

	TimezoneFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "availability_timezone_failures_total",
			Help: "Dates that failed closed because of an unusable timezone",
		},
	)

	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "availability_outbox_published_total",
			Help: "Outbox events relayed to Kafka",
		},
		[]string{"event_type"},
	)
)

const (
	ReservationCreated  = "created"
	ReservationConflict = "conflict"
	ReservationReplayed = "replayed"
	ReservationRejected = "rejected"
	ReservationError    = "error"
)

func RecordHTTPRequest(method, route, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// ObserveOperation records the latency of an engine operation started at start.
func ObserveOperation(operation string, start time.Time) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func RecordSlots(n int) {
	SlotsReturned.Observe(float64(n))
}

func RecordReservation(outcome string) {
	ReservationsTotal.WithLabelValues(outcome).Inc()
}

func RecordBatchUnitFailure() {
	BatchUnitFailuresTotal.Inc()
}

func RecordTimezoneFailure() {
	TimezoneFailuresTotal.Inc()
}

func RecordOutboxPublished(eventType string, n int) {
	OutboxPublishedTotal.WithLabelValues(eventType).Add(float64(n))
}
