package retry

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
)

// Outcome reports where a failed message went
type Outcome int

const (
	// OutcomeRequeued means the message was republished with an incremented
	// retry counter and will be redelivered.
	OutcomeRequeued Outcome = iota
	// OutcomeDeadLettered means the retry budget is exhausted and the message
	// was rejected onto the stage's dead-letter queue.
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRequeued:
		return "requeued"
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Publisher publishes a message to an exchange. Satisfied by the shared
// rabbitmq client.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
}

// Policy applies the per-stage retry budget. A failed message below the
// budget is republished to the stage exchange carrying x-retry-count+1 and
// the original delivery is acked; the broker's native requeue is not used for
// retries because it would not persist the mutated header. At the budget the
// message is rejected without requeue so the pre-bound DLX routes it to the
// DLQ.
type Policy struct {
	MaxRetries int
	Exchange   string
	RoutingKey string

	publisher Publisher
	logger    *slog.Logger
}

// NewPolicy creates a retry policy for one stage queue
func NewPolicy(maxRetries int, exchange, routingKey string, publisher Publisher, logger *slog.Logger) *Policy {
	return &Policy{
		MaxRetries: maxRetries,
		Exchange:   exchange,
		RoutingKey: routingKey,
		publisher:  publisher,
		logger:     logger,
	}
}

// HandleFailure routes a failed delivery to a retry or the DLQ. The
// idempotency key (posting URL) is logged on every dead-letter routing so an
// operator can replay the item later.
func (p *Policy) HandleFailure(ctx context.Context, delivery amqp.Delivery, idempotencyKey string, cause error) Outcome {
	count := RetryCount(delivery.Headers)

	if count < p.MaxRetries {
		if err := p.republish(ctx, delivery, count+1); err != nil {
			// Republish failed: fall back to a native requeue so the message
			// is not lost. The counter does not advance on this path.
			p.logger.Error("Failed to republish for retry, falling back to requeue",
				slog.String("idempotency_key", idempotencyKey),
				slog.Any("error", err),
			)
			if nackErr := delivery.Nack(false, true); nackErr != nil {
				p.logger.Error("Failed to NACK message",
					slog.Any("error", nackErr),
				)
			}
			return OutcomeRequeued
		}

		if ackErr := delivery.Ack(false); ackErr != nil {
			p.logger.Error("Failed to ACK original after republish",
				slog.Any("error", ackErr),
			)
		}

		p.logger.Warn("Requeued failed message",
			slog.String("idempotency_key", idempotencyKey),
			slog.Int("retry_count", count+1),
			slog.Int("max_retries", p.MaxRetries),
			slog.Any("error", cause),
		)
		return OutcomeRequeued
	}

	if rejectErr := delivery.Reject(false); rejectErr != nil {
		p.logger.Error("Failed to reject message to DLQ",
			slog.Any("error", rejectErr),
		)
	}

	p.logger.Error("Max retries exceeded, message dead-lettered",
		slog.String("idempotency_key", idempotencyKey),
		slog.Int("retry_count", count),
		slog.Int("max_retries", p.MaxRetries),
		slog.Any("error", cause),
	)
	return OutcomeDeadLettered
}

// republish publishes a copy of the delivery carrying the new retry count
func (p *Policy) republish(ctx context.Context, delivery amqp.Delivery, newCount int) error {
	headers := amqp.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers[domain.RetryCountHeader] = int32(newCount)

	return p.publisher.Publish(ctx, p.Exchange, p.RoutingKey, delivery.Body, headers)
}

// RetryCount reads the retry counter from message headers, defaulting to 0.
// AMQP decodes integers into several Go types depending on the encoder.
func RetryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}

	switch v := headers[domain.RetryCountHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}
