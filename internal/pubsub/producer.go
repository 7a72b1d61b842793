// Package pubsub publishes transaction boundary events to Kafka.
package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/logger"
	"github.com/nikmy/usertxn/pkg/txn"
)

const (
	defaultBuffer = 1024
	drainTimeout  = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaProducer(cfg Config, log logger.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
	}

	return newProducer(w, cfg.Buffer, log)
}

func newProducer(w messageWriter, buffer int, log logger.Logger) *Producer {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	return &Producer{
		writer: w,
		queue:  make(chan kafka.Message, buffer),
		log:    log.With("kafka_producer"),
	}
}

// Producer queues events and writes them from Run, so Publish never
// blocks a transaction boundary.
type Producer struct {
	writer messageWriter
	queue  chan kafka.Message
	log    logger.Logger
}

type eventMessage struct {
	Session        string    `json:"session"`
	Type           string    `json:"type"`
	Backend        string    `json:"backend"`
	TimeoutSeconds int64     `json:"timeout_seconds"`
	At             time.Time `json:"at"`
}

func (p *Producer) Publish(_ context.Context, sessionID string, e txn.Event) {
	bytes, err := json.Marshal(eventMessage{
		Session:        sessionID,
		Type:           e.Type.String(),
		Backend:        e.Backend,
		TimeoutSeconds: int64(e.Timeout / time.Second),
		At:             e.At,
	})
	if err != nil {
		p.log.Warn(errors.WrapFail(err, "marshal event to json"))
		return
	}

	select {
	case p.queue <- kafka.Message{Key: []byte(sessionID), Value: bytes}:
	default:
		p.log.Warnf("event queue is full, dropping %s event of session %s", e.Type, sessionID)
	}
}

func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-p.queue:
			p.write(ctx, msg)
		case <-ctx.Done():
			p.drain()
			return nil
		}
	}
}

func (p *Producer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case msg := <-p.queue:
			p.write(ctx, msg)
		default:
			return
		}
	}
}

func (p *Producer) write(ctx context.Context, msg kafka.Message) {
	err := p.writer.WriteMessages(ctx, msg)
	if err != nil {
		p.log.Error(errors.WrapFailf(err, "write event of session %s", msg.Key))
	}
}

func (p *Producer) Close() error {
	return errors.WrapFail(p.writer.Close(), "close kafka writer")
}
