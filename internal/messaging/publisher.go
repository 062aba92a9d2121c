package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublish marks a broker-side publish failure. Callers invoke Publish
// only after the triggering HTTP response has been sent, so the error is
// logged and dropped, never surfaced to a client.
var ErrPublish = errors.New("event publish failed")

// Publisher sends domain events to the shopping_events topic exchange with
// persistent delivery. The connection is established lazily on first
// publish, so constructing a Publisher never blocks on the broker.
//
// If url is empty the publisher runs in no-op mode and only logs events,
// which keeps services usable without a broker in local development.
type Publisher struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher creates a Publisher for the given AMQP URL.
func NewPublisher(url string, logger *slog.Logger) *Publisher {
	if url == "" {
		logger.Info("broker URL not configured, events will be logged only")
	}
	return &Publisher{url: url, logger: logger}
}

// Publish serializes event to JSON and sends it under routingKey. The
// returned error is for the caller's log line; the event is not retried
// and there is no outbox, so a failed publish is lost.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", routingKey, err)
	}

	if p.url == "" {
		p.logger.Info("event published (no-op)", "routing_key", routingKey, "bytes", len(body))
		return nil
	}

	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}

	err = ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		// Drop the cached channel so the next publish redials.
		p.reset()
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}

	p.logger.Debug("event published", "routing_key", routingKey, "bytes", len(body))
	return nil
}

// channel returns a live channel with the exchange declared, dialing the
// broker if needed.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("amqp dial: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}

	p.ch = ch
	return ch, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	p.mu.Unlock()
}

// Close shuts down the AMQP connection if one was ever established.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
