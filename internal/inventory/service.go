package inventory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/ariefcatur/go-stock-orders/internal/kafka"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
)

const dedupNamespace = "inventory"

// Service keeps the redis stock projection in step with order lifecycle events.
type Service struct {
	Redis             *redis.Client
	Stock             *redisx.StockProjection
	LowStockThreshold int
	Log               logrus.FieldLogger
}

// HandleEvent is installed as the consumer handler. Messages that can never be applied are
// logged and acknowledged; redis failures are returned so the consumer retries the same message.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		s.Log.WithError(err).WithField("offset", m.Offset).Warn("dropping undecodable message")
		return nil
	}
	logger := s.Log.WithFields(logrus.Fields{"event_id": env.EventID, "event_type": env.EventType, "trace_id": env.TraceID})
	if env.EventVersion != orders.EnvelopeVersion {
		logger.WithField("event_version", env.EventVersion).Warn("unsupported event version")
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, dedupNamespace, env.EventID)
	seen, err := redisx.Exists(ctx, s.Redis, dkey)
	if err != nil {
		return err
	}
	if seen {
		logger.Debug("duplicate event")
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.StockPayload](env.Payload)
	if err != nil {
		logger.WithError(err).Warn("dropping event with bad payload")
		return nil
	}

	var applied bool
	switch env.EventType {
	case orders.EventProductDeleted:
		applied, err = s.Stock.Tombstone(ctx, p.ProductID, p.ProductVersion+1, env.OccurredAt)
	case orders.EventProductCreated, orders.EventProductUpdated,
		orders.EventOrderCreated, orders.EventOrderUpdated, orders.EventOrderDeleted:
		applied, err = s.Stock.Apply(ctx, redisx.StockSnapshot{
			ProductID: p.ProductID,
			Stock:     p.StockAfter,
			Version:   p.ProductVersion,
			UpdatedAt: env.OccurredAt,
		})
	default:
		return nil
	}
	if err != nil {
		return err
	}

	logger = logger.WithFields(logrus.Fields{
		"product_id":      p.ProductID,
		"product_version": p.ProductVersion,
		"stock_after":     p.StockAfter,
		"applied":         applied,
	})
	logger.Debug("stock event")
	if applied && env.EventType != orders.EventProductDeleted && p.StockAfter <= s.LowStockThreshold {
		logger.Warn("low stock")
	}

	return s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
}
