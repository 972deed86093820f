// Package bus implements the durable event bus connecting producers
// (registration, post creation) to the notification consumer over RabbitMQ.
//
// This file pins the broker topology. Declarations are idempotent, so both
// producer and consumer processes run them independently before use: a topic
// exchange for domain events, one durable work queue bound to the routing
// keys this system consumes, and a dead-letter exchange/queue pair that
// receives every message the consumer rejects.
package bus

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange is the topic exchange all domain events are published to.
	Exchange = "socialhub_events"
	// Queue is the work queue the notification consumer reads from.
	Queue = "notification_queue"
	// DeadLetterExchange receives messages the consumer rejects.
	DeadLetterExchange = "socialhub_dlx"
	// DeadLetterQueue durably holds rejected messages for offline inspection.
	// There is deliberately no automated reprocessing; replay is operational.
	DeadLetterQueue = "notification_dlq"
	// deadRoutingKey binds the DLQ to the DLX.
	deadRoutingKey = "notifications_dead"
)

// Routing keys of the domain events this system produces and consumes.
const (
	RouteUserCreated = "user.created"
	RoutePostCreated = "post.created"
)

// bindingKeys are the routing keys the work queue subscribes to. Producers
// may publish keys outside this list; the exchange simply drops them here.
var bindingKeys = []string{RouteUserCreated, RoutePostCreated}

// declareTopology asserts the full exchange/queue/binding layout on ch.
// Safe to repeat; RabbitMQ treats matching redeclarations as no-ops.
func declareTopology(ch *amqp.Channel) error {
	// Dead-letter side first, so the work queue can reference it.
	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DeadLetterQueue, deadRoutingKey, DeadLetterExchange, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": deadRoutingKey,
	}); err != nil {
		return err
	}
	for _, key := range bindingKeys {
		if err := ch.QueueBind(Queue, key, Exchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}
