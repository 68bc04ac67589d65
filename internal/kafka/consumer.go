package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// Handler must return nil only when the message is fully processed and its offset may be committed.
// A failing message is retried until it succeeds or the consumer stops; it is never skipped.
type Handler func(ctx context.Context, m kafka.Message) error

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	backoff func() backoff.BackOff
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers)
}

func newConsumer(r messageReader, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, backoff: func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxInterval = 30 * time.Second
		return b
	}}
}

// Start dispatches fetched messages to a pool of workers until ctx is cancelled or the reader
// fails. It returns nil on cancellation.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*2)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				logger := log.WithFields(log.Fields{"worker": id, "partition": m.Partition, "offset": m.Offset})
				if err := c.handle(ctx, h, m, logger); err != nil {
					// stopping: leave the offset uncommitted so the message comes back
					logger.WithError(err).Warn("message left uncommitted")
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
					logger.WithError(err).Error("commit offset")
				}
			}
		}(i)
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// handle runs h until it succeeds. It only gives up when ctx is done.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message, logger log.FieldLogger) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h(ctx, m)
	},
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxElapsedTime(0), // no limit
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WithError(err).WithField("retry_in", next).Error("handle message")
		}),
	)
	return err
}
