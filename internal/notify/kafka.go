package notify

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/storefront/internal/domain/checkout"
)

var _ checkout.Notifier = (*Kafka)(nil)

// MessageWriter is implemented by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes outcomes keyed by session id, so every event of a session
// lands on the same partition.
type Kafka struct {
	w MessageWriter
}

// NewKafka wraps w.
func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{w: w}
}

// NewKafkaWriter returns a writer for topic on the comma-separated brokers.
func NewKafkaWriter(brokersCSV, topic string) (*kafka.Writer, error) {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}, nil
}

// Notify implements checkout.Notifier.
func (k *Kafka) Notify(ctx context.Context, o checkout.Outcome) error {
	msg := kafka.Message{
		Key:   []byte(o.SessionID),
		Value: Event(o),
		Time:  o.At.UTC(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(ContentType)},
			{Key: "routing-key", Value: []byte(RoutingKey(o))},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write kafka message")
	}
	return nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.w.Close()
}
