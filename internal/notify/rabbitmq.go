package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/checkout"
)

var _ checkout.Notifier = (*RabbitMQ)(nil)

// Publisher is implemented by *amqp.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQ publishes outcomes to a topic exchange with routing key
// checkout.<state>.
type RabbitMQ struct {
	ch       Publisher
	exchange string
}

// NewRabbitMQ returns a notifier publishing to exchange over ch.
func NewRabbitMQ(ch Publisher, exchange string) *RabbitMQ {
	return &RabbitMQ{ch: ch, exchange: exchange}
}

// Notify implements checkout.Notifier.
func (r *RabbitMQ) Notify(ctx context.Context, o checkout.Outcome) error {
	if err := r.ch.PublishWithContext(ctx,
		r.exchange,
		RoutingKey(o),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%s/%d", o.SessionID, o.Attempt),
			Timestamp:    o.At,
			Body:         Event(o),
		},
	); err != nil {
		return errors.Wrap(err, "publish amqp message")
	}
	return nil
}

// DialRabbitMQ connects to url, opens a channel and declares exchange as a
// durable topic exchange. Dialing is retried while the broker starts.
func DialRabbitMQ(ctx context.Context, url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	const attempts = 5
	lg := zctx.From(ctx)

	var (
		conn *amqp.Connection
		err  error
	)
	for i := 1; i <= attempts; i++ {
		if conn, err = amqp.Dial(url); err == nil {
			break
		}
		lg.Warn("RabbitMQ dial failed", zap.Int("attempt", i), zap.Error(err))
		if i == attempts {
			return nil, nil, errors.Wrap(err, "dial rabbitmq")
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "open channel")
	}

	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "declare exchange")
	}

	return conn, ch, nil
}
