package messaging

import (
	"context"
	"log/slog"

	"anonchat/internal/domain"
)

// EventConsumer drains the events exchange into the local hub.
type EventConsumer struct {
	rmq  *RabbitMQ
	sink domain.EventPublisher
}

func NewEventConsumer(rmq *RabbitMQ, sink domain.EventPublisher) *EventConsumer {
	return &EventConsumer{
		rmq:  rmq,
		sink: sink,
	}
}

// Start binds a private queue to the exchange and consumes until ctx is
// done or the channel closes.
func (c *EventConsumer) Start(ctx context.Context) error {
	queue, err := c.rmq.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}

	if err := c.rmq.channel.QueueBind(
		queue.Name,     // queue name
		"",             // routing key
		EventsExchange, // exchange
		false,
		nil,
	); err != nil {
		return err
	}

	msgs, err := c.rmq.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return err
	}

	slog.Info("started consuming chat events",
		slog.String("queue", queue.Name),
		slog.String("exchange", EventsExchange))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping event consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("event consumer channel closed")
					return
				}
				c.deliver(ctx, msg.Body)
			}
		}
	}()

	return nil
}

func (c *EventConsumer) deliver(ctx context.Context, body []byte) {
	event, err := decodeEvent(body)
	if err != nil {
		slog.Error("dropping malformed event",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(body)))
		return
	}

	if err := c.sink.Publish(ctx, event); err != nil {
		slog.Warn("local hub rejected event",
			slog.String("type", string(event.Type)),
			slog.String("room_id", event.RoomID),
			slog.String("error", err.Error()))
	}
}
