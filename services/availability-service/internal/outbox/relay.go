package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/slotengine/libs/db"
	"github.com/md-rashed-zaman/slotengine/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotengine/libs/otel"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Relay moves booking events from the outbox table to Kafka. Rows are marked
// published in the transaction that read them, so a failed write leaves them
// for the next pass.
type Relay struct {
	pool     *db.Pool
	repo     *Repository
	logger   *slog.Logger
	cfg      RelayConfig
	interval time.Duration
}

type RelayConfig struct {
	Brokers  []string
	Interval time.Duration
	// BatchSize caps rows per pass. A full batch triggers another pass
	// without waiting for the next tick.
	BatchSize int
}

func NewRelay(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{pool: pool, repo: repo, logger: logger, cfg: cfg, interval: cfg.Interval}
}

func (r *Relay) Enabled() bool { return len(r.cfg.Brokers) > 0 }

// Run blocks until ctx is cancelled. Without brokers it returns at once and
// events stay in the table.
func (r *Relay) Run(ctx context.Context) {
	if !r.Enabled() {
		r.logger.Warn("booking event relay off; KAFKA_BROKERS is empty")
		return
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(r.cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for {
			n, err := r.drain(ctx, w)
			if err != nil {
				r.logger.Error("booking event relay pass failed", "err", err)
				break
			}
			if n < r.cfg.BatchSize || ctx.Err() != nil {
				break
			}
		}
	}
}

// drain relays one batch and reports how many rows it moved.
func (r *Relay) drain(ctx context.Context, w messageWriter) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pending, err := r.repo.FetchUnpublished(ctx, tx, r.cfg.BatchSize)
	if err != nil || len(pending) == 0 {
		return 0, err
	}

	msgs, ids, byType := batch(ctx, pending)
	if err := w.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := r.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	for eventType, n := range byType {
		metrics.RecordOutboxPublished(eventType, n)
	}
	return len(pending), nil
}

func batch(ctx context.Context, pending []Record) ([]kafka.Message, []int64, map[string]int) {
	msgs := make([]kafka.Message, len(pending))
	ids := make([]int64, len(pending))
	byType := make(map[string]int)
	for i, rec := range pending {
		msgs[i] = Message(ctx, rec)
		ids[i] = rec.ID
		byType[rec.EventType]++
	}
	return msgs, ids, byType
}

// Message builds the Kafka message for rec. The topic is the event type and
// the key is the booking id, so one booking's events stay ordered. Trace
// headers restore the context that was active when the row was written.
func Message(ctx context.Context, rec Record) kafka.Message {
	headers := kafkax.EventMeta{
		EventID:       rec.EventID,
		EventType:     rec.EventType,
		AggregateType: rec.AggregateType,
	}.Headers()
	return kafka.Message{
		Topic:   rec.EventType,
		Key:     []byte(rec.AggregateID),
		Value:   rec.Payload,
		Headers: kafkax.InjectTraceHeaders(otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate), headers),
	}
}
