package rabbitmq

import (
	"context"
	"encoding/json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"worker-notes/config"
)

// Publisher sends JSON events to the exchange the consumers listen on. The backend
// owns the real producers; the worker uses this for replays and manual triggers.
type Publisher interface {
	Publish(ctx context.Context, binding Binding, message any) error
}

type publisher struct {
	conn *amqp.Connection
	cfg  *config.RabbitMQ
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) Publisher {
	return &publisher{conn: conn, cfg: cfg}
}

func (p *publisher) Publish(ctx context.Context, binding Binding, message any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err = declareTopology(ctx, ch, p.cfg.Kind, binding); err != nil {
		return err
	}

	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx,
		binding.Exchange,
		binding.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("exchange", binding.Exchange).
		Str("routing_key", binding.RoutingKey).
		Msg("message published")
	return nil
}
