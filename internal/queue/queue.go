package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// OrdersQueue carries inbound order submissions to the workers.
	OrdersQueue = "grocery.orders"
	// DeadLetterQueue receives messages whose processing failed after
	// retries were exhausted or a breaker stayed open.
	DeadLetterQueue = "grocery.orders.deadletter"

	// OrderExchange is the topic exchange all order traffic flows through.
	OrderExchange = "grocery.orders.exchange"

	OrderSubmittedKey  = "order.submitted"
	OrderDeadletterKey = "order.deadletter"
	// OrderEventsKey carries processing-event notifications; consumers
	// bind their own queues to it.
	OrderEventsKey = "order.events"
)

// InboundMessage is the wire shape of one order submission.
type InboundMessage struct {
	OrderID       string `json:"order_id"`
	CustomerRef   string `json:"customer_ref"`
	RawText       string `json:"raw_text"`
	CorrelationID string `json:"correlation_id"`
	RetryCount    int    `json:"retry_count"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Disposition tells the consumer loop what to do with a delivery once
// the handler returns.
type Disposition int

const (
	// Ack removes the message; processing finished (successfully or
	// with a terminal, non-recoverable outcome).
	Ack Disposition = iota
	// DeadLetter acknowledges the original delivery and republishes it
	// to the dead-letter queue with retry_count incremented.
	DeadLetter
	// Requeue nacks the delivery back onto the queue; used only for
	// infrastructure errors where the message itself is fine.
	Requeue
)

// Handler processes one inbound message and reports its disposition.
// For DeadLetter the reason is recorded on the parked message.
type Handler func(ctx context.Context, msg InboundMessage) (Disposition, string)

// Config holds broker settings.
type Config struct {
	URL      string
	Exchange string
}

// Client wraps an AMQP connection with the exchange and queues the
// pipeline needs pre-declared.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     Config
	log     *slog.Logger

	// deadLetter is swapped out in tests.
	deadLetter func(ctx context.Context, msg InboundMessage, reason string) error
}

// NewClient dials the broker, retrying with backoff while it comes up,
// then declares the exchange and both queues.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = OrderExchange
	}
	if log == nil {
		log = slog.Default()
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		wait := time.Duration(i*i)*time.Second + time.Second
		log.Warn("broker unavailable, retrying", "wait", wait, "error", err)
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker after retries: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Client{conn: conn, channel: channel, cfg: cfg, log: log}
	c.deadLetter = c.PublishDeadLetter
	if err := c.declare(); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) declare() error {
	err := c.channel.ExchangeDeclare(
		c.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", c.cfg.Exchange, err)
	}

	bindings := []struct {
		queue string
		key   string
	}{
		{OrdersQueue, OrderSubmittedKey},
		{DeadLetterQueue, OrderDeadletterKey},
	}
	for _, b := range bindings {
		q, err := c.channel.QueueDeclare(
			b.queue,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", b.queue, err)
		}
		if err := c.channel.QueueBind(q.Name, b.key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", b.queue, err)
		}
	}
	return nil
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			return err
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Healthy reports whether the connection is still open.
func (c *Client) Healthy() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishOrder enqueues a submission for the workers.
func (c *Client) PublishOrder(ctx context.Context, msg InboundMessage) error {
	return c.publish(ctx, OrderSubmittedKey, msg)
}

// PublishDeadLetter parks a failed submission with its retry count
// incremented, so operators can inspect or replay it.
func (c *Client) PublishDeadLetter(ctx context.Context, msg InboundMessage, reason string) error {
	msg.RetryCount++
	msg.FailureReason = reason
	return c.publish(ctx, OrderDeadletterKey, msg)
}

func (c *Client) publish(ctx context.Context, routingKey string, msg InboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.publishRaw(ctx, routingKey, msg.CorrelationID, body)
}

// PublishEvent fans a processing-event payload out on the events
// routing key. Payload must already be JSON.
func (c *Client) PublishEvent(ctx context.Context, correlationID string, payload []byte) error {
	return c.publishRaw(ctx, OrderEventsKey, correlationID, payload)
}

func (c *Client) publishRaw(ctx context.Context, routingKey, correlationID string, body []byte) error {
	err := c.channel.PublishWithContext(ctx,
		c.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	return nil
}

// Consume delivers queued submissions to handler one at a time until
// ctx is cancelled or the channel closes. Malformed bodies go straight
// to the dead-letter queue.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		OrdersQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				c.dispatch(ctx, d, handler)
			}
		}
	}()

	c.log.Info("consumer started", "queue", OrdersQueue)
	return nil
}

func (c *Client) dispatch(ctx context.Context, d amqp.Delivery, handler Handler) {
	var msg InboundMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.log.Error("malformed message, dead-lettering", "error", err)
		if pubErr := c.deadLetter(ctx, InboundMessage{CorrelationID: d.CorrelationId}, "malformed body"); pubErr != nil {
			c.log.Error("failed to dead-letter malformed message", "error", pubErr)
		}
		d.Ack(false)
		return
	}

	disposition, reason := handler(ctx, msg)
	switch disposition {
	case Ack:
		d.Ack(false)
	case DeadLetter:
		if err := c.deadLetter(ctx, msg, reason); err != nil {
			c.log.Error("failed to dead-letter message, requeueing", "order_id", msg.OrderID, "error", err)
			d.Nack(false, true)
			return
		}
		c.log.Warn("message dead-lettered", "order_id", msg.OrderID, "reason", reason, "retry_count", msg.RetryCount+1)
		d.Ack(false)
	case Requeue:
		d.Nack(false, true)
	}
}
