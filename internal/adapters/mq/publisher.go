package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tourbook/internal/adapters/observability"
	"tourbook/internal/domain"
)

const RoutingRefundRequested = "booking.refund_requested"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	now      func() time.Time
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, now: time.Now}, nil
}

// PublishJSON sends v as a persistent JSON message with key as routing key.
func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Type:         key,
		Body:         b,
	})
	observability.ObserveExternal("rabbitmq", key, observability.LabelErr(err), time.Since(start))
	if err != nil {
		return domain.External("publish "+key, err)
	}
	return nil
}

// RequestRefund hands a cancelled booking to the refund worker.
func (p *Publisher) RequestRefund(ctx context.Context, b domain.Booking) error {
	return p.PublishJSON(ctx, RoutingRefundRequested, domain.BookingEvent{
		Event:      RoutingRefundRequested,
		Version:    1,
		OccurredAt: p.now().UTC(),
		Booking:    b,
	})
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
