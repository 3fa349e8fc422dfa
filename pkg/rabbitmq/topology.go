package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"transcribe-api/config"
)

const (
	defaultExchangeName = "transcription_exchange"
	queueName           = "transcription_queue"
	routingKey          = "transcription.request"
	dlxName             = "transcription_exchange_dlx"
	dlqName             = "transcription_queue_dlq"
	dlqRoutingKey       = "dlq.transcription.request"
)

func exchangeName(cfg *config.RabbitMQ) string {
	if cfg.ExchangeName != "" {
		return cfg.ExchangeName
	}
	return defaultExchangeName
}

func exchangeKind(cfg *config.RabbitMQ) string {
	if cfg.Kind != "" {
		return cfg.Kind
	}
	return amqp.ExchangeDirect
}

// declareTopology declares the work exchange and queue plus the dead-letter pair that
// receives messages the consumer could not decode.
func declareTopology(ch *amqp.Channel, cfg *config.RabbitMQ) error {
	exchange := exchangeName(cfg)
	kind := exchangeKind(cfg)

	if err := ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(dlxName, kind, true, false, false, false, nil); err != nil {
		return err
	}

	dlq, err := ch.QueueDeclare(dlqName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(dlq.Name, dlqRoutingKey, dlxName, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, args)
	if err != nil {
		return err
	}
	return ch.QueueBind(q.Name, routingKey, exchange, false, nil)
}
