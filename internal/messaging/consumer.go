package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrProcessing marks a message body a handler could not process. The
// delivery is rejected without requeue: discarded, never retried.
var ErrProcessing = errors.New("message processing failed")

// Handler processes one delivered event body. Returning an error discards
// the message; there is no redelivery or dead-letter routing.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, body []byte) error

func (f HandlerFunc) Handle(ctx context.Context, body []byte) error { return f(ctx, body) }

// Consumer is a long-running worker loop pulling from a durable named queue
// bound to the shopping_events exchange with a topic pattern.
//
// The queue is shared by name: parallel processes of the same worker role
// compete for deliveries (load-shared), while distinct roles with their own
// queues each receive every matching event.
type Consumer struct {
	url     string
	queue   string
	pattern string
	handler Handler
	logger  *slog.Logger

	redialDelay time.Duration
}

// NewConsumer creates a consumer for the named queue and binding pattern.
func NewConsumer(url, queue, pattern string, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		url:         url,
		queue:       queue,
		pattern:     pattern,
		handler:     handler,
		logger:      logger,
		redialDelay: 5 * time.Second,
	}
}

// Run consumes until ctx is cancelled, redialing the broker whenever the
// connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.consume(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("consumer connection lost, redialing",
				"queue", c.queue,
				"delay", c.redialDelay,
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "queue", c.queue)
			return ctx.Err()
		case <-time.After(c.redialDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, c.pattern, Exchange, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.logger.Info("consumer started", "queue", c.queue, "pattern", c.pattern)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.dispatch(ctx, msg)
		}
	}
}

// dispatch runs the handler for one delivery. Failures are logged and the
// message is discarded so one poison message never stalls the queue.
func (c *Consumer) dispatch(ctx context.Context, msg amqp.Delivery) {
	if err := c.handler.Handle(ctx, msg.Body); err != nil {
		c.logger.Warn("discarding message",
			"queue", c.queue,
			"routing_key", msg.RoutingKey,
			"error", err,
		)
		if err := msg.Nack(false, false); err != nil {
			c.logger.Warn("nack failed", "queue", c.queue, "error", err)
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Warn("ack failed", "queue", c.queue, "error", err)
	}
}
