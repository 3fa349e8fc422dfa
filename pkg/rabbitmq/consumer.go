package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"transcribe-api/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrMalformedMessage marks deliveries that can never be processed; they are
// dead-lettered instead of acknowledged.
var ErrMalformedMessage = errors.New("malformed message")

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareTopology(ch, c.cfg); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", queueName).Msg("failed to declare topology")
		return err
	}

	err = ch.Qos(c.numWorkers, 0, false)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", queueName).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", queueName).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", queueName).
		Str("exchange", exchangeName(c.cfg)).
		Str("routing_key", routingKey).
		Int("workers", c.numWorkers).
		Msg("transcription consumer started")

	return c.serve(ctx, deliveries, dependencies)
}

// serve fans deliveries out to the workers until ctx is done or the delivery channel
// closes. Handlers run detached from ctx: cancellation only stops intake, and deliveries
// not yet started are requeued.
func (c consumer[T]) serve(ctx context.Context, deliveries <-chan amqp.Delivery, dependencies T) error {
	workCtx := context.WithoutCancel(ctx)
	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				if ctx.Err() != nil {
					requeue(workCtx, msg)
					continue
				}
				c.handle(workCtx, workerId, msg, dependencies)
			}
		}(i)
	}

	stop := func() {
		close(jobs)
		wg.Wait()
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				stop()
				return nil
			}

			select {
			case jobs <- delivery:
			case <-ctx.Done():
				requeue(workCtx, delivery)
				stop()
				return ctx.Err()
			}
		case <-ctx.Done():
			stop()
			return ctx.Err()
		}
	}
}

func requeue(ctx context.Context, msg amqp.Delivery) {
	if err := msg.Nack(false, true); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to requeue message")
	}
}

// handle never requeues: a job runs at most once per delivery.
func (c consumer[T]) handle(ctx context.Context, workerId int, msg amqp.Delivery, dependencies T) {
	err := c.handler(ctx, msg, dependencies)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to acknowledge message")
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		handler:    handler,
		numWorkers: numWorkers,
	}
}
