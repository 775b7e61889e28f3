package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"reviewsms/internal/types"
)

// AMQPChannel is the subset of *amqp.Channel used for publishing.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPOutcomePublisher writes outcomes to a durable RabbitMQ queue through
// the default exchange.
type AMQPOutcomePublisher struct {
	mu    sync.Mutex
	ch    AMQPChannel
	queue string
	conn  *amqp.Connection
}

var _ OutcomePublisher = (*AMQPOutcomePublisher)(nil)

// DialAMQPOutcomePublisher connects to url and declares queue.
func DialAMQPOutcomePublisher(url, queue string) (*AMQPOutcomePublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp: failed to connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: failed to open channel: %w", err)
	}
	p, err := NewAMQPOutcomePublisher(ch, queue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPOutcomePublisher declares queue as durable on ch.
func NewAMQPOutcomePublisher(ch AMQPChannel, queue string) (*AMQPOutcomePublisher, error) {
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("amqp: failed to declare queue %s: %w", queue, err)
	}
	return &AMQPOutcomePublisher{ch: ch, queue: q.Name}, nil
}

// Publish is safe for concurrent use; amqp channels are not.
func (p *AMQPOutcomePublisher) Publish(_ context.Context, outcome types.DeliveryOutcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("amqp: failed to marshal outcome: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(outcome.Result),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp: failed to publish to %s: %w", p.queue, err)
	}
	return nil
}

// Close releases the channel and, when dialed here, the connection.
func (p *AMQPOutcomePublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
