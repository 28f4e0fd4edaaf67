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

// RawStore persists scraped listings into job_listings
type RawStore interface {
	InsertRawJob(ctx context.Context, msg *domain.ScrapedJobMessage) error
}

// scrapedDelivery pairs a parsed scraper message with its AMQP delivery so
// the batch handler can settle each message individually.
type scrapedDelivery struct {
	msg      domain.ScrapedJobMessage
	delivery amqp.Delivery
}

// RawIngestConsumer consumes the scraped_jobs queue. Messages are collected
// into bounded batches before hitting the database; each message is acked only
// after its own insert succeeds, so a partial batch failure never loses or
// double-settles messages.
type RawIngestConsumer struct {
	store  RawStore
	policy *retry.Policy
	acc    *batch.Accumulator[scrapedDelivery]
	logger *slog.Logger
}

// NewRawIngestConsumer creates the scraped_jobs stage consumer
func NewRawIngestConsumer(store RawStore, policy *retry.Policy, batchSize int, batchTimeout time.Duration, logger *slog.Logger) *RawIngestConsumer {
	c := &RawIngestConsumer{
		store:  store,
		policy: policy,
		logger: logger,
	}
	c.acc = batch.New(batchSize, batchTimeout, c.flush, logger)
	return c
}

// Queue returns the stage queue name
func (c *RawIngestConsumer) Queue() string {
	return domain.ScrapedJobsQueue
}

// Run drives the batch flush loop until ctx is canceled
func (c *RawIngestConsumer) Run(ctx context.Context) {
	c.acc.Run(ctx)
}

// Handle parses one delivery and offers it to the current batch
func (c *RawIngestConsumer) Handle(ctx context.Context, delivery amqp.Delivery) {
	var msg domain.ScrapedJobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		rejectMalformed(c.logger, delivery, err)
		return
	}

	if msg.PostingURL == "" {
		rejectMalformed(c.logger, delivery, domain.ErrInvalidPayload)
		return
	}

	c.acc.Offer(scrapedDelivery{msg: msg, delivery: delivery})
}

// flush inserts one drained batch. Settlement is per message: success and
// duplicates ack, everything else goes through the retry policy.
func (c *RawIngestConsumer) flush(ctx context.Context, items []scrapedDelivery) {
	inserted, duplicates, failed := 0, 0, 0

	for i := range items {
		item := &items[i]

		err := c.store.InsertRawJob(ctx, &item.msg)
		switch {
		case err == nil:
			inserted++
			c.ack(item)

		case errors.Is(err, domain.ErrDuplicateJob):
			duplicates++
			c.logger.Debug("Skipping duplicate job listing",
				slog.String("posting_url", item.msg.PostingURL),
			)
			c.ack(item)

		default:
			failed++
			c.policy.HandleFailure(ctx, item.delivery, item.msg.PostingURL, err)
		}
	}

	c.logger.Info("Raw ingest batch processed",
		slog.Int("batch_size", len(items)),
		slog.Int("inserted", inserted),
		slog.Int("duplicates", duplicates),
		slog.Int("failed", failed),
	)
}

func (c *RawIngestConsumer) ack(item *scrapedDelivery) {
	if err := item.delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK message",
			slog.String("posting_url", item.msg.PostingURL),
			slog.String("error", err.Error()),
		)
	}
}
