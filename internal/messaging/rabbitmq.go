package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"anonchat/internal/domain"
	"anonchat/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// EventsExchange fans every chat event out to all server instances.
	EventsExchange = "chat.events"

	publishTimeout = 5 * time.Second

	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

var ErrConnectionClosed = errors.New("rabbitmq connection is closed")

// RabbitMQ publishes chat events to the shared exchange. Each instance's
// EventConsumer feeds them back into its local hub.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

var _ domain.EventPublisher = (*RabbitMQ)(nil)

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry keeps dialing with capped exponential backoff until
// it connects or ctx is done.
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	delay := initialRetryDelay
	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			return rmq, nil
		}

		slog.Warn("rabbitmq not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up on rabbitmq after %d attempts: %w", attempt, err)
		case <-time.After(delay):
		}

		delay = min(delay*2, maxRetryDelay)
	}
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		EventsExchange, // name
		"fanout",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// Publish sends the event to every instance. Events are transient: a
// connection that misses one reconciles through history.
func (r *RabbitMQ) Publish(ctx context.Context, event domain.Event) error {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsClosed() {
		observability.EventPublishFailuresTotal.WithLabelValues("rabbitmq").Inc()
		return ErrConnectionClosed
	}

	err = r.channel.PublishWithContext(
		ctx,
		EventsExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         string(event.Type),
			Timestamp:    event.OccurredAt,
			Body:         body,
			DeliveryMode: amqp.Transient,
		},
	)
	if err != nil {
		observability.EventPublishFailuresTotal.WithLabelValues("rabbitmq").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	slog.Debug("published chat event",
		slog.String("type", string(event.Type)),
		slog.String("room_id", event.RoomID))
	return nil
}

// Ping reports whether the broker connection is usable.
func (r *RabbitMQ) Ping(_ context.Context) error {
	if r.IsClosed() {
		return ErrConnectionClosed
	}
	return nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func encodeEvent(event domain.Event) ([]byte, error) {
	if event.Type == "" || event.RoomID == "" {
		return nil, fmt.Errorf("incomplete event: %w", domain.ErrInvalidArgument)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return body, nil
}

func decodeEvent(body []byte) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	switch event.Type {
	case domain.EventMessageAppended:
		if event.Message == nil {
			return domain.Event{}, fmt.Errorf("message event without message")
		}
	case domain.EventReadAdvanced:
	default:
		return domain.Event{}, fmt.Errorf("unknown event type %q", event.Type)
	}
	if event.RoomID == "" {
		return domain.Event{}, fmt.Errorf("event without room")
	}
	return event, nil
}
