package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clinicbook/internal/events"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the subset of *amqp.Channel the sender uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (amqpChannel, func() error, error)

// Message is the body the external mail dispatcher consumes.
type Message struct {
	EventType string                         `json:"event_type"`
	Booking   events.ReservationEventPayload `json:"booking"`
}

// AMQPSender publishes each notification as a persistent message on a
// durable queue. A connection is opened per send.
type AMQPSender struct {
	url   string
	queue string
	dial  dialFunc
}

func NewAMQPSender(url, queue string) *AMQPSender {
	return &AMQPSender{url: url, queue: queue, dial: dialAMQP}
}

func dialAMQP(url string) (amqpChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}

func (s *AMQPSender) Send(ctx context.Context, eventType string, p events.ReservationEventPayload) error {
	ch, closeConn, err := s.dial(s.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	defer func() {
		_ = ch.Close()
		_ = closeConn()
	}()

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: queue declare: %w", err)
	}

	body, err := json.Marshal(Message{EventType: eventType, Booking: p})
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%s", p.Reference, eventType),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", s.queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}
