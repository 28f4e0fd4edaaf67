package consumer

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the subset of the RabbitMQ client used by the runner
type Broker interface {
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

// StageConsumer processes deliveries from one pipeline stage queue. Handle
// owns the delivery's acknowledgment lifecycle entirely: by the time it
// returns (or its async work finishes) the message has been acked, requeued,
// or dead-lettered.
type StageConsumer interface {
	Queue() string
	Handle(ctx context.Context, delivery amqp.Delivery)
}

// Runner attaches one stage consumer to its queue and dispatches deliveries
// until the context is canceled or the delivery channel closes.
type Runner struct {
	broker      Broker
	stage       StageConsumer
	consumerTag string
	logger      *slog.Logger
}

// NewRunner creates a runner for one stage consumer
func NewRunner(broker Broker, stage StageConsumer, consumerTag string, logger *slog.Logger) *Runner {
	return &Runner{
		broker:      broker,
		stage:       stage,
		consumerTag: consumerTag,
		logger:      logger,
	}
}

// Run consumes the stage queue until ctx is canceled
func (r *Runner) Run(ctx context.Context) error {
	deliveries, err := r.broker.Consume(r.stage.Queue(), r.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", r.stage.Queue(), err)
	}

	r.logger.Info("Stage consumer started",
		slog.String("queue", r.stage.Queue()),
		slog.String("consumer_tag", r.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stage consumer stopped - context canceled",
				slog.String("queue", r.stage.Queue()),
			)
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("RabbitMQ delivery channel closed",
					slog.String("queue", r.stage.Queue()),
				)
				return fmt.Errorf("delivery channel for %s closed", r.stage.Queue())
			}

			r.stage.Handle(ctx, delivery)
		}
	}
}

// rejectMalformed drops a message that can never be processed. Requeue is
// false so the stage's DLX routes it to the dead-letter queue.
func rejectMalformed(logger *slog.Logger, delivery amqp.Delivery, err error) {
	logger.Error("Failed to parse message JSON, dead-lettering",
		slog.String("error", err.Error()),
		slog.String("body", string(delivery.Body)),
	)

	if nackErr := delivery.Nack(false, false); nackErr != nil {
		logger.Error("Failed to NACK malformed message",
			slog.String("error", nackErr.Error()),
		)
	}
}
