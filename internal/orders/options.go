package orders

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// deps are shared by OrderManager and ProductManager.
type deps struct {
	store     Store
	publisher Publisher
	producer  string
	log       logrus.FieldLogger
	now       func() time.Time
}

type Option func(*deps)

func WithPublisher(p Publisher) Option {
	return func(d *deps) {
		if p != nil {
			d.publisher = p
		}
	}
}

// WithProducerName sets Envelope.Producer on published events.
func WithProducerName(name string) Option {
	return func(d *deps) { d.producer = name }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *deps) {
		if l != nil {
			d.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

func newDeps(store Store, opts []Option) deps {
	d := deps{
		store:     store,
		publisher: NopPublisher{},
		producer:  "order-api",
		log:       logrus.StandardLogger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func (d *deps) publish(ctx context.Context, eventType, correlationID string, payload StockPayload) {
	env, err := newEnvelope(ctx, d.producer, eventType, correlationID, payload)
	if err != nil {
		d.log.WithError(err).WithField("event_type", eventType).Error("encode event")
		return
	}
	if err := d.publisher.Publish(ctx, PartitionKey(payload.ProductID), env); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"event_id":   env.EventID,
		}).Warn("publish event")
	}
}

// fail logs a rolled back unit of work and converts store faults into *PersistenceError.
func (d *deps) fail(op string, err error) error {
	out := persistence(op, err)
	if _, ok := out.(*PersistenceError); ok {
		d.log.WithError(err).WithField("op", op).Error("unit of work rolled back")
	}
	return out
}
