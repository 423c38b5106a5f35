package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jhoicas/stock-deduction/internal/application/deduction"
	skafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

var _ deduction.EventPublisher = (*Publisher)(nil)

// Writer subconjunto de kafka.Writer que usa el publicador (permite inyectar uno de prueba).
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Publisher publica eventos de deducción en un tópico, con el número de orden como clave
// para que los eventos de una orden queden en la misma partición.
type Publisher struct {
	writer Writer
}

// NewPublisher crea un publicador contra los brokers y tópico dados.
func NewPublisher(brokers []string, topic string) *Publisher {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Publisher{writer: w}
}

// NewPublisherWithWriter permite inyectar un writer de prueba.
func NewPublisherWithWriter(w Writer) *Publisher {
	return &Publisher{writer: w}
}

// Publish serializa el evento a JSON y lo escribe con el tipo de evento y el contexto de traza como headers.
func (p *Publisher) Publish(ctx context.Context, event deduction.DeductionEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal deduction event: %w", err)
	}
	msg := skafka.Message{
		Key:     []byte(event.OrderNumber),
		Value:   b,
		Headers: []skafka.Header{{Key: "event_type", Value: []byte(event.Type)}},
		Time:    event.OccurredAt,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(&msg.Headers))
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", event.Type, err)
	}
	return nil
}

// Close cierra el writer subyacente.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// headerCarrier adapta los headers de kafka-go a propagation.TextMapCarrier.
type headerCarrier []skafka.Header

func (h *headerCarrier) Get(key string) string {
	for _, hd := range *h {
		if hd.Key == key {
			return string(hd.Value)
		}
	}
	return ""
}

func (h *headerCarrier) Set(key, value string) {
	for i, hd := range *h {
		if hd.Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, skafka.Header{Key: key, Value: []byte(value)})
}

func (h *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*h))
	for _, hd := range *h {
		keys = append(keys, hd.Key)
	}
	return keys
}
