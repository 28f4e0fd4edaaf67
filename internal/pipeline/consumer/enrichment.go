package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/jobgtm/pipeline-be/internal/pipeline/batch"
	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
	"github.com/jobgtm/pipeline-be/internal/pipeline/retry"
)

// Enricher produces the AI analysis for one golden job
type Enricher interface {
	Enrich(ctx context.Context, job *domain.GoldenJobMessage) (*domain.Enrichment, error)
}

// Publisher publishes to the next stage exchange. Satisfied by the shared
// rabbitmq client.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
}

// goldenDelivery pairs a parsed golden job with its AMQP delivery
type goldenDelivery struct {
	job      domain.GoldenJobMessage
	delivery amqp.Delivery
}

// EnrichmentConsumer consumes raw_jobs_for_processing, runs each job through
// the AI enricher, and publishes the result onto enriched_jobs. Deliveries
// are collected into bounded batches; within a batch, enrichment calls run
// concurrently up to the model's rate limit and the batch is gathered before
// the next one starts. An enrichment failure is not fatal - the job is
// forwarded with a partial status so the pipeline keeps moving.
type EnrichmentConsumer struct {
	enricher  Enricher
	publisher Publisher
	policy    *retry.Policy
	sem       *semaphore.Weighted
	acc       *batch.Accumulator[goldenDelivery]
	exchange  string
	routeKey  string
	logger    *slog.Logger
}

// NewEnrichmentConsumer creates the raw_jobs_for_processing stage consumer.
// rateLimit bounds concurrent calls to the model within a batch.
func NewEnrichmentConsumer(enricher Enricher, publisher Publisher, policy *retry.Policy, rateLimit int64, batchSize int, batchTimeout time.Duration, exchange, routeKey string, logger *slog.Logger) *EnrichmentConsumer {
	if rateLimit <= 0 {
		rateLimit = 1
	}
	c := &EnrichmentConsumer{
		enricher:  enricher,
		publisher: publisher,
		policy:    policy,
		sem:       semaphore.NewWeighted(rateLimit),
		exchange:  exchange,
		routeKey:  routeKey,
		logger:    logger,
	}
	c.acc = batch.New(batchSize, batchTimeout, c.flush, logger)
	return c
}

// Queue returns the stage queue name
func (c *EnrichmentConsumer) Queue() string {
	return domain.RawJobsQueue
}

// Run drives the batch flush loop until ctx is canceled
func (c *EnrichmentConsumer) Run(ctx context.Context) {
	c.acc.Run(ctx)
}

// Handle parses one delivery and offers it to the current batch
func (c *EnrichmentConsumer) Handle(ctx context.Context, delivery amqp.Delivery) {
	var job domain.GoldenJobMessage
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		rejectMalformed(c.logger, delivery, err)
		return
	}

	c.acc.Offer(goldenDelivery{job: job, delivery: delivery})
}

// flush enriches one drained batch. Jobs fan out onto goroutines bounded by
// the model rate limit and the whole batch is gathered before flush returns,
// so no two batches ever overlap at the model.
func (c *EnrichmentConsumer) flush(ctx context.Context, items []goldenDelivery) {
	var wg sync.WaitGroup

	for i := range items {
		item := &items[i]

		if err := c.sem.Acquire(ctx, 1); err != nil {
			// Shutting down mid-batch: requeue so another consumer picks it up
			if nackErr := item.delivery.Nack(false, true); nackErr != nil {
				c.logger.Error("Failed to NACK message on shutdown",
					slog.Int64("job_id", item.job.ID),
					slog.String("error", nackErr.Error()),
				)
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.sem.Release(1)
			c.process(ctx, item.delivery, &item.job)
		}()
	}

	wg.Wait()

	c.logger.Info("Enrichment batch processed",
		slog.Int("batch_size", len(items)),
	)
}

func (c *EnrichmentConsumer) process(ctx context.Context, delivery amqp.Delivery, job *domain.GoldenJobMessage) {
	start := time.Now()

	enrichment, err := c.enricher.Enrich(ctx, job)
	durationMS := time.Since(start).Milliseconds()

	status := domain.StageStatusCompleted
	if err != nil {
		// Model failures degrade gracefully: publish the job anyway with the
		// error recorded so the golden store still advances the row.
		status = domain.StageStatusPartial
		enrichment = &domain.Enrichment{Error: err.Error()}
		c.logger.Warn("Enrichment failed, forwarding with partial status",
			slog.Int64("job_id", job.ID),
			slog.String("posting_url", job.PostingURL),
			slog.String("error", err.Error()),
		)
	}

	enriched := domain.EnrichedJobMessage{
		GoldenJobMessage:     *job,
		AIEnrichment:         *enrichment,
		EnrichedAt:           time.Now().UTC(),
		EnrichmentStatus:     status,
		ProcessingDurationMS: durationMS,
	}

	body, marshalErr := json.Marshal(&enriched)
	if marshalErr != nil {
		c.policy.HandleFailure(ctx, delivery, job.PostingURL, marshalErr)
		return
	}

	headers := amqp.Table{
		"source_job_id":     job.ID,
		"posting_url":       job.PostingURL,
		"enrichment_status": status,
	}

	if pubErr := c.publisher.Publish(ctx, c.exchange, c.routeKey, body, headers); pubErr != nil {
		c.policy.HandleFailure(ctx, delivery, job.PostingURL, pubErr)
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("Failed to ACK message",
			slog.Int64("job_id", job.ID),
			slog.String("error", ackErr.Error()),
		)
		return
	}

	c.logger.Info("Job enriched",
		slog.Int64("job_id", job.ID),
		slog.String("enrichment_status", status),
		slog.Int64("duration_ms", durationMS),
	)
}
