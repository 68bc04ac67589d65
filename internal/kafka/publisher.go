package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

// EventPublisher adapts Producer to orders.Publisher.
type EventPublisher struct {
	Producer *Producer
}

func (p EventPublisher) Publish(_ context.Context, key string, env orders.Envelope) error {
	value, err := Marshal(env)
	if err != nil {
		return err
	}
	return p.Producer.Publish([]byte(key), value,
		kafka.Header{Key: HeaderEventType, Value: []byte(env.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
