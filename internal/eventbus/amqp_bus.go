package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBus is the Bus implementation backed by RabbitMQ, used when
// RABBITMQ_URL is configured. Adapted from internal/mq's publisher.go
// and consumer.go, narrowed to the single issues.ready queue.
type AMQPBus struct {
	conn   *connection
	logger *slog.Logger
}

// NewAMQPBus dials url, declares the topology, and returns a ready Bus.
func NewAMQPBus(url string, logger *slog.Logger) (*AMQPBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := newConnection(url, logger)
	if err != nil {
		return nil, err
	}
	if err := conn.WithChannel(context.Background(), declareTopology); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}
	return &AMQPBus{conn: conn, logger: logger}, nil
}

// Publish marshals ev and publishes it as a persistent message to the
// issues-ready routing key.
func (b *AMQPBus) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return b.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, exchangeIssues, routingKeyReady, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Timestamp:    ev.Timestamp,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish event: %w", err)
		}
		b.logger.Debug("published event", "issue_id", ev.Issue.ID, "event_id", ev.ID)
		return nil
	})
}

// Subscribe consumes the issues-ready queue until ctx is canceled,
// reconnecting transparently on connection loss.
func (b *AMQPBus) Subscribe(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := b.startConsume()
		if err != nil {
			b.logger.Error("failed to start consuming", "queue", queueIssuesReady, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.conn.ReconnectNotify():
				continue
			}
		}

		if err := b.drain(ctx, deliveries, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.conn.ReconnectNotify():
				continue
			}
		}
	}
}

func (b *AMQPBus) startConsume() (<-chan amqp.Delivery, error) {
	ch := b.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}
	if err := ch.Qos(5, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return ch.Consume(queueIssuesReady, "", false, false, false, false, nil)
}

func (b *AMQPBus) drain(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			b.handle(ctx, raw, handler)
		}
	}
}

func (b *AMQPBus) handle(ctx context.Context, raw amqp.Delivery, handler Handler) {
	var ev Event
	if err := json.Unmarshal(raw.Body, &ev); err != nil {
		b.logger.Error("failed to unmarshal event", "error", err)
		raw.Nack(false, false)
		return
	}

	if err := handler(ctx, ev); err != nil {
		b.logger.Error("handler failed", "event_id", ev.ID, "issue_id", ev.Issue.ID, "error", err)
		raw.Nack(false, true)
		return
	}
	raw.Ack(false)
}

// Close tears down the underlying connection.
func (b *AMQPBus) Close() error {
	return b.conn.Close()
}
