package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jhoicas/stock-deduction/internal/application/deduction"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	skafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	msgs   []skafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublish_ClaveYPayload(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisherWithWriter(w)
	at := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), deduction.DeductionEvent{
		Type:           deduction.EventDeductionCommitted,
		OrderNumber:    "10042",
		ItemID:         "SKU-1",
		BinID:          "B-07",
		Quantity:       3,
		RemainingStock: 2,
		CorrelationID:  "LOCAL-abc",
		PostingMode:    entity.PostedViaFallback,
		OccurredAt:     at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "10042", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, deduction.EventDeductionCommitted, string(msg.Headers[0].Value))

	var got deduction.DeductionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "SKU-1", got.ItemID)
	assert.Equal(t, entity.PostedViaFallback, got.PostingMode)
	assert.True(t, at.Equal(got.OccurredAt))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublish_ErrorDeEscritura(t *testing.T) {
	p := NewPublisherWithWriter(&fakeWriter{err: errors.New("broker caído")})

	err := p.Publish(context.Background(), deduction.DeductionEvent{Type: deduction.EventCompensationFailed, OrderNumber: "1"})
	assert.ErrorContains(t, err, "broker caído")
}

func TestHeaderCarrier_PropagaTraza(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	var headers []skafka.Header
	prop := propagation.TraceContext{}
	prop.Inject(ctx, (*headerCarrier)(&headers))

	carrier := headerCarrier(headers)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), &carrier))
	assert.Equal(t, traceID, extracted.TraceID())
}
