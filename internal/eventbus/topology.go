package eventbus

import amqp "github.com/rabbitmq/amqp091-go"

const (
	exchangeIssues = "relay.issues"
	exchangeDLQ    = "relay.dlq"

	queueIssuesReady = "issues.ready"
	queueDLQIssues   = "dlq.issues"

	routingKeyReady = "ready"
	routingKeyDLQ   = "issues"
)

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(exchangeIssues, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(exchangeDLQ, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    exchangeDLQ,
		"x-dead-letter-routing-key": routingKeyDLQ,
	}
	if _, err := ch.QueueDeclare(queueIssuesReady, true, false, false, false, dlqArgs); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(queueDLQIssues, true, false, false, false, nil); err != nil {
		return err
	}

	if err := ch.QueueBind(queueIssuesReady, routingKeyReady, exchangeIssues, false, nil); err != nil {
		return err
	}
	return ch.QueueBind(queueDLQIssues, routingKeyDLQ, exchangeDLQ, false, nil)
}
