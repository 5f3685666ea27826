package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes jobs to a durable RabbitMQ queue over a single
// managed channel. The channel is re-established on demand when the broker
// connection drops; a publish that hits a stale channel is retried once on a
// fresh one.
type AMQPPublisher struct {
	url       string
	queueName string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects to the broker and declares the durable work queue.
func DialAMQP(url, queueName string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, queueName: queueName}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// connectLocked (re)establishes the connection, channel, and queue. Caller
// must hold p.mu.
func (p *AMQPPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		p.queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declaring queue %q: %w", p.queueName, err)
	}

	p.conn = conn
	p.ch = ch
	return nil
}

// Publish emits one persistent job message on the work queue.
func (p *AMQPPublisher) Publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.publishLocked(ctx, body); err != nil {
		// The channel may have died since the last publish. Reconnect and
		// try once more before giving up.
		slog.Warn("publish failed, reconnecting to broker",
			"queue", p.queueName,
			"document_id", job.DocumentID,
			"error", err,
		)
		if rcErr := p.connectLocked(); rcErr != nil {
			return fmt.Errorf("publishing job for document %s: %w", job.DocumentID, rcErr)
		}
		if err := p.publishLocked(ctx, body); err != nil {
			return fmt.Errorf("publishing job for document %s: %w", job.DocumentID, err)
		}
	}
	return nil
}

func (p *AMQPPublisher) publishLocked(ctx context.Context, body []byte) error {
	if p.conn == nil || p.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return p.ch.PublishWithContext(ctx,
		"",          // default exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}
