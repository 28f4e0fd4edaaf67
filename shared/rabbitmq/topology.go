package rabbitmq

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StageTopology describes the exchange/queue/dead-letter layout for one
// pipeline stage. Every stage gets a direct exchange, a durable queue bound to
// it, a dead-letter exchange, and a DLQ bound to that. The main queue carries
// the x-dead-letter-exchange arguments so a reject(requeue=false) lands in
// the DLQ.
type StageTopology struct {
	Exchange   string
	Queue      string
	RoutingKey string
	DLX        string
	DLQ        string
}

// NewStageTopology derives the conventional names for a stage queue
func NewStageTopology(queue string) StageTopology {
	return StageTopology{
		Exchange:   queue + "_exchange",
		Queue:      queue,
		RoutingKey: queue,
		DLX:        queue + "_dlx",
		DLQ:        queue + "_dlq",
	}
}

// DeclareStageTopology declares the full stage layout. All declarations are
// idempotent so the setup is safe to re-run on every service start.
func (c *Client) DeclareStageTopology(t StageTopology) error {
	channel := c.channel
	if channel == nil {
		return fmt.Errorf("rabbitmq channel is nil")
	}

	// Dead letter exchange
	err := channel.ExchangeDeclare(
		t.DLX,    // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLX %s: %w", t.DLX, err)
	}

	// Dead letter queue
	_, err = channel.QueueDeclare(
		t.DLQ, // name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", t.DLQ, err)
	}

	if err := channel.QueueBind(t.DLQ, t.RoutingKey, t.DLX, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ %s: %w", t.DLQ, err)
	}

	// Main exchange
	err = channel.ExchangeDeclare(
		t.Exchange, // name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	// Main queue with dead-letter routing
	_, err = channel.QueueDeclare(
		t.Queue, // name
		true,    // durable
		false,   // auto-delete
		false,   // exclusive
		false,   // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    t.DLX,
			"x-dead-letter-routing-key": t.RoutingKey,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
	}

	if err := channel.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.Queue, err)
	}

	c.logger.Info("Stage topology declared",
		slog.String("exchange", t.Exchange),
		slog.String("queue", t.Queue),
		slog.String("dlq", t.DLQ),
	)

	return nil
}
