package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

var (
	ErrProducerClosed = errors.New("producer closed")
	ErrInboxFull      = errors.New("producer inbox full")
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in memory and writes them from a single goroutine, so Publish never
// waits on the network.
type Producer struct {
	w       messageWriter
	topic   string
	inbox   chan kafka.Message // buffered, see Publish
	closeCh chan struct{}      // closed when the loop exits

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same key -> same partition
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true, // errors land in Completion
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.WithError(err).WithFields(log.Fields{"topic": topic, "count": len(msgs)}).Error("kafka delivery failed")
			}
		},
	}
	return newProducer(w, topic, buf)
}

func newProducer(w messageWriter, topic string, buf int) *Producer {
	return &Producer{
		w:       w,
		topic:   topic,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop until Close; messages already queued are flushed before the writer
// is closed.
func (p *Producer) Start(ctx context.Context) {
	writeCtx := context.WithoutCancel(ctx) // keep flushing after shutdown starts
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(writeCtx, m); err != nil {
				log.WithError(err).WithField("topic", p.topic).Error("kafka write")
			}
		}
		if err := p.w.Close(); err != nil {
			log.WithError(err).WithField("topic", p.topic).Warn("kafka writer close")
		}
	}()
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return nil
	default:
		// never block the caller
		return ErrInboxFull
	}
}

// Close stops accepting messages; the write loop flushes what is queued and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the write loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.closeCh }
