package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jobgtm/pipeline-be/internal/pipeline/batch"
	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
	"github.com/jobgtm/pipeline-be/internal/pipeline/retry"
)

// GoldenStore applies an enrichment result to the golden table
type GoldenStore interface {
	ApplyEnrichment(ctx context.Context, msg *domain.EnrichedJobMessage) error
}

// enrichedDelivery pairs a parsed enrichment result with its AMQP delivery so
// the batch handler can settle each message individually.
type enrichedDelivery struct {
	msg      domain.EnrichedJobMessage
	delivery amqp.Delivery
}

// GoldenStoreConsumer consumes the enriched_jobs queue and writes each
// enrichment back onto its golden row. Deliveries are collected into bounded
// batches before hitting the database; within a batch each update commits and
// settles on its own.
type GoldenStoreConsumer struct {
	store  GoldenStore
	policy *retry.Policy
	acc    *batch.Accumulator[enrichedDelivery]
	logger *slog.Logger
}

// NewGoldenStoreConsumer creates the enriched_jobs stage consumer
func NewGoldenStoreConsumer(store GoldenStore, policy *retry.Policy, batchSize int, batchTimeout time.Duration, logger *slog.Logger) *GoldenStoreConsumer {
	c := &GoldenStoreConsumer{
		store:  store,
		policy: policy,
		logger: logger,
	}
	c.acc = batch.New(batchSize, batchTimeout, c.flush, logger)
	return c
}

// Queue returns the stage queue name
func (c *GoldenStoreConsumer) Queue() string {
	return domain.EnrichedJobsQueue
}

// Run drives the batch flush loop until ctx is canceled
func (c *GoldenStoreConsumer) Run(ctx context.Context) {
	c.acc.Run(ctx)
}

// Handle parses one delivery and offers it to the current batch
func (c *GoldenStoreConsumer) Handle(ctx context.Context, delivery amqp.Delivery) {
	var msg domain.EnrichedJobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		rejectMalformed(c.logger, delivery, err)
		return
	}

	c.acc.Offer(enrichedDelivery{msg: msg, delivery: delivery})
}

// flush applies one drained batch. A job that no longer exists is acked: the
// row was deleted out from under the pipeline and a retry can never succeed.
func (c *GoldenStoreConsumer) flush(ctx context.Context, items []enrichedDelivery) {
	applied, dropped, failed := 0, 0, 0

	for i := range items {
		item := &items[i]

		err := c.store.ApplyEnrichment(ctx, &item.msg)
		switch {
		case err == nil:
			applied++
			c.ack(item)

		case errors.Is(err, domain.ErrJobNotFound):
			dropped++
			c.logger.Warn("Job not found for enrichment update, dropping",
				slog.Int64("job_id", item.msg.ID),
				slog.String("posting_url", item.msg.PostingURL),
			)
			c.ack(item)

		default:
			failed++
			c.policy.HandleFailure(ctx, item.delivery, item.msg.PostingURL, err)
		}
	}

	c.logger.Info("Golden store batch processed",
		slog.Int("batch_size", len(items)),
		slog.Int("applied", applied),
		slog.Int("dropped", dropped),
		slog.Int("failed", failed),
	)
}

func (c *GoldenStoreConsumer) ack(item *enrichedDelivery) {
	if err := item.delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK message",
			slog.Int64("job_id", item.msg.ID),
			slog.String("error", err.Error()),
		)
	}
}
