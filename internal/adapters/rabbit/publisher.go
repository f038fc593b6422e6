// Package rabbit publishes domain events and notification requests to the
// lumentix.events topic exchange.
package rabbit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
)

const Exchange = "lumentix.events"

// Routing keys.
const (
	KeyTicketEmail    = "ticket.email"
	KeyPaymentExpired = "payment.expired"
)

type Publisher struct {
	ch *amqp.Channel
}

func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	return conn, nil
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	if err := p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg); err != nil {
		return domain.Upstream(err, "publish "+key)
	}
	return nil
}

// PublishJSON publishes v as a persistent JSON message. messageID lets
// consumers drop redeliveries.
func (p *Publisher) PublishJSON(ctx context.Context, key, messageID string, v interface{}) error {
	msg, err := jsonMessage(messageID, v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, key, msg)
}

// QueueTicketEmail sends the email request straight to the broker. The api
// binary uses the outbox notifier instead; this path serves tooling that
// has no database.
func (p *Publisher) QueueTicketEmail(ctx context.Context, email domain.TicketEmail) error {
	return p.PublishJSON(ctx, KeyTicketEmail, "ticket.email:"+email.TicketID, email)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func jsonMessage(messageID string, v interface{}) (amqp.Publishing, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, errors.Wrap(err, "marshal message")
	}
	return amqp.Publishing{
		MessageId:    messageID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}
