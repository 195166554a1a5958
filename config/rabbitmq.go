package config

import (
	"context"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"net/url"
	"strconv"
	"time"
)

// URL builds the AMQP address with escaped credentials and vhost.
func (r *RabbitMQ) URL() string {
	vhost := r.Vhost
	if vhost == "" {
		vhost = "/"
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Pass),
		Host:   r.Host + ":" + strconv.Itoa(r.Port),
		Path:   "/",
	}
	if vhost != "/" {
		u.Path = "/" + vhost
		u.RawPath = "/" + url.PathEscape(vhost)
	}
	return u.String()
}

func (r *RabbitMQ) dialPolicy() (uint, time.Duration) {
	attempts, maxInterval := r.DialAttempts, r.DialMaxInterval
	if attempts == 0 {
		attempts = 5
	}
	if maxInterval <= 0 {
		maxInterval = 10 * time.Second
	}
	return attempts, maxInterval
}

// NewRabbitMQConn dials with exponential backoff. The connection is closed when ctx ends.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQ) (*amqp.Connection, error) {
	log := zerolog.Ctx(ctx).With().Str("host", cfg.Host).Int("port", cfg.Port).Logger()
	addr := cfg.URL()

	operation := func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(addr)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq dial failed, retrying")
			return nil, err
		}
		return conn, nil
	}

	attempts, maxInterval := cfg.dialPolicy()
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxInterval
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(attempts))
	if err != nil {
		log.Error().Err(err).Uint("attempts", attempts).Msg("giving up on rabbitmq")
		return nil, err
	}

	log.Info().Msg("connected to rabbitmq")
	go func() {
		<-ctx.Done()
		if conn.IsClosed() {
			return
		}
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close rabbitmq connection")
			return
		}
		log.Info().Msg("rabbitmq connection closed")
	}()

	return conn, nil
}
