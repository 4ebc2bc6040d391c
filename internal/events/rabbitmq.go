package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"shopsys/internal/domain"
)

const (
	exchangeType   = "topic"
	dialAttempts   = 5
	dialRetryDelay = 2 * time.Second
)

// RabbitPublisher publishes events as JSON on a topic exchange
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// DialRabbit connects to the broker, retrying while it starts up, and
// declares the exchange.
func DialRabbit(ctx context.Context, url, exchange string) (*RabbitPublisher, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.WithError(err).WithField("attempt", i+1).Warn("connect to RabbitMQ")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryDelay):
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to RabbitMQ")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "could not open channel")
	}
	err = ch.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "could not declare exchange")
	}
	return &RabbitPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *RabbitPublisher) Dispatch(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", event.Type())
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         event.Type(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if placed, ok := event.(domain.OrderPlaced); ok {
		msg.MessageId = placed.EventID
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, msg); err != nil {
		return errors.Wrapf(err, "publish %s", event.Type())
	}
	return nil
}

// Close shuts the channel and the connection
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		log.WithError(err).Warn("close RabbitMQ channel")
	}
	return p.conn.Close()
}
