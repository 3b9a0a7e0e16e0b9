package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
)

// Keyed events choose their own partition key; events for the same key keep
// their relative order.
type Keyed interface {
	EventKey() string
}

// Publisher writes JSON-encoded events to Kafka.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for the given brokers. The topic is chosen
// per Publish call.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: topic,
		Value: data,
	}
	if k, ok := event.(Keyed); ok {
		msg.Key = []byte(k.EventKey())
	}

	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
