package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderUpdated   = "OrderUpdated"
	EventOrderDeleted   = "OrderDeleted"
	EventProductCreated = "ProductCreated"
	EventProductUpdated = "ProductUpdated"
	EventProductDeleted = "ProductDeleted"
)

const EnvelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// StockPayload is shared by every lifecycle event: whatever happened, the consumer learns the
// product's stock after the commit and the row version that produced it.
type StockPayload struct {
	ProductID      int64  `json:"product_id"`
	StockAfter     int    `json:"stock_after"`
	ProductVersion int64  `json:"product_version"`
	OrderID        int64  `json:"order_id,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	QuantityDelta  int    `json:"quantity_delta,omitempty"`
	Status         Status `json:"status,omitempty"`
}

// Publisher delivers envelopes after commit. Implementations must not block the caller for long
// and must not fail the operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Envelope) error { return nil }

type traceKey struct{}

// WithTraceID attaches a trace id (the HTTP request id) that is copied into published envelopes.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

func newEnvelope(ctx context.Context, producer, eventType, correlationID string, payload StockPayload) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID(ctx),
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}
