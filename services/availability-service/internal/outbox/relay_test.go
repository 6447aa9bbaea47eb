package outbox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/md-rashed-zaman/slotengine/libs/kafkax"
)

func TestMessage_CarriesMetaAndTraceHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	rec := Record{
		ID:            7,
		EventID:       "0b6f9a2e-7a51-4c8e-9d55-1a2b3c4d5e6f",
		AggregateType: "booking",
		AggregateID:   "bk-1",
		EventType:     "availability.booking.reserved.v1",
		Payload:       []byte(`{"booking_id":"bk-1"}`),
		Traceparent:   "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}

	msg := Message(context.Background(), rec)

	assert.Equal(t, rec.EventType, msg.Topic)
	assert.Equal(t, []byte("bk-1"), msg.Key)
	meta := kafkax.ExtractEventMeta(msg)
	assert.Equal(t, rec.EventID, meta.EventID)
	assert.Equal(t, rec.EventType, meta.EventType)
	assert.Equal(t, "booking", kafkax.HeaderValue(msg.Headers, "aggregate_type"))
	assert.Equal(t, rec.Traceparent, kafkax.HeaderValue(msg.Headers, "traceparent"))
}

func TestMessage_WithoutTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	msg := Message(context.Background(), Record{EventID: "e1", EventType: "t", AggregateID: "a"})

	assert.Empty(t, kafkax.HeaderValue(msg.Headers, "traceparent"))
	assert.Len(t, msg.Headers, 2)
}

func TestBatch_GroupsByEventType(t *testing.T) {
	pending := []Record{
		{ID: 1, EventID: "e1", EventType: "a", AggregateID: "bk-1"},
		{ID: 2, EventID: "e2", EventType: "b", AggregateID: "bk-2"},
		{ID: 3, EventID: "e3", EventType: "a", AggregateID: "bk-1"},
	}

	msgs, ids, byType := batch(context.Background(), pending)

	assert.Len(t, msgs, 3)
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, byType)
	assert.Equal(t, "b", msgs[1].Topic)
}

func TestRelay_DisabledWithoutBrokers(t *testing.T) {
	r := NewRelay(nil, NewRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)), RelayConfig{})
	assert.False(t, r.Enabled())
	assert.Equal(t, 50, r.cfg.BatchSize)
	assert.Equal(t, 2*time.Second, r.interval)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return when no brokers are configured")
	}
}
