package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes envelopes synchronously. WriteEnvelopes returns nil only
// once the brokers acknowledged every message.
type Producer struct {
	w   messageWriter
	log *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, log)
}

func newProducer(w messageWriter, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{w: w, log: log}
}

// WriteEnvelopes writes envs in order, keyed by order token.
func (p *Producer) WriteEnvelopes(ctx context.Context, envs []orders.Envelope) error {
	msgs := make([]kafka.Message, 0, len(envs))
	for _, env := range envs {
		m, err := EncodeEnvelope(env)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	return nil
}

func (p *Producer) Close() {
	if err := p.w.Close(); err != nil {
		p.log.Warn("kafka_writer_close_failed", zap.Error(err))
	}
}
