package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"transcribe-api/config"
	"transcribe-api/dto"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher schedules jobs by publishing persistent messages to the work exchange.
type Publisher struct {
	conn *amqp.Connection
	cfg  *config.RabbitMQ

	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) *Publisher {
	return &Publisher{conn: conn, cfg: cfg}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is not available")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareTopology(ch, p.cfg); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) Dispatch(ctx context.Context, msg dto.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		exchangeName(p.cfg),
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("publish job %d: %w", msg.JobId, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	return p.ch.Close()
}
