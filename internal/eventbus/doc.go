// Package eventbus hands an admitted issue off from the Webhook Ingress
// or Poller to the Orchestrator. The default Bus is an in-process
// channel; when RABBITMQ_URL is configured, an AMQP-backed Bus takes
// over with the same interface, so the rest of the system is
// transport-agnostic. Adapted from internal/mq's connection/publisher/
// consumer/topology split.
package eventbus
