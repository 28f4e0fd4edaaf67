package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
)

// Workflow type names accepted by the ops API
const (
	TypeDetailScrape       = "detail-scrape"
	TypeEnrichmentDispatch = "enrichment-dispatch"
)

// RawJobSource is the storage surface the detail-scrape runner needs
type RawJobSource interface {
	CountRawJobs(ctx context.Context) (int, error)
	FetchRawJobsPage(ctx context.Context, offset, limit int) ([]domain.RawJob, error)
	UpsertDetailScraped(ctx context.Context, job *domain.RawJob, result *domain.DetailScrapeResult) error
}

// DetailScraper fetches the full posting page for one job URL
type DetailScraper interface {
	ScrapeDetail(ctx context.Context, postingURL string) (*domain.DetailScrapeResult, error)
}

// GoldenSource is the storage surface the enrichment-dispatch runner needs
type GoldenSource interface {
	CountGoldenForEnrichment(ctx context.Context) (int, error)
	FetchGoldenForEnrichmentPage(ctx context.Context, offset, limit int) ([]domain.GoldenJobMessage, error)
}

// QueuePublisher publishes onto a stage exchange
type QueuePublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
}

// RunnerConfig bounds the work inside one chunk
type RunnerConfig struct {
	MaxConcurrentPerChunk int
	SliceDelay            time.Duration
	PublishBatchSize      int
	ActivityPolicy        RetryPolicy
}

// DetailScrapeRunner processes one chunk of raw listings: each job's posting
// URL is scraped for the full description and the result is upserted into the
// golden table. Jobs inside a chunk run in barrier slices of at most
// MaxConcurrentPerChunk, with SliceDelay between slices to pace the scraper.
type DetailScrapeRunner struct {
	source  RawJobSource
	scraper DetailScraper
	cfg     RunnerConfig
	logger  *slog.Logger
}

// NewDetailScrapeRunner creates the detail-scrape workload
func NewDetailScrapeRunner(source RawJobSource, scraper DetailScraper, cfg RunnerConfig, logger *slog.Logger) *DetailScrapeRunner {
	if cfg.MaxConcurrentPerChunk <= 0 {
		cfg.MaxConcurrentPerChunk = 1
	}
	if cfg.ActivityPolicy.MaxAttempts <= 0 {
		cfg.ActivityPolicy = DefaultRetryPolicy()
	}
	return &DetailScrapeRunner{
		source:  source,
		scraper: scraper,
		cfg:     cfg,
		logger:  logger,
	}
}

// Type returns the workflow type name
func (r *DetailScrapeRunner) Type() string {
	return TypeDetailScrape
}

// CountJobs reports how many raw listings await detail scraping
func (r *DetailScrapeRunner) CountJobs(ctx context.Context) (int, error) {
	return r.source.CountRawJobs(ctx)
}

// RunChunk scrapes and upserts one page of listings
func (r *DetailScrapeRunner) RunChunk(ctx context.Context, childID string, chunk Chunk) (ChunkStats, error) {
	var jobs []domain.RawJob
	fetchErr := Execute(ctx, "fetch-raw-jobs-page", r.cfg.ActivityPolicy, r.logger, func(ctx context.Context) error {
		var err error
		jobs, err = r.source.FetchRawJobsPage(ctx, chunk.Offset, chunk.Limit)
		return err
	})
	if fetchErr != nil {
		return ChunkStats{}, fmt.Errorf("failed to fetch chunk page: %w", fetchErr)
	}

	stats := ChunkStats{}
	var mu sync.Mutex

	for start := 0; start < len(jobs); start += r.cfg.MaxConcurrentPerChunk {
		end := start + r.cfg.MaxConcurrentPerChunk
		if end > len(jobs) {
			end = len(jobs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(job *domain.RawJob) {
				defer wg.Done()
				ok := r.processJob(ctx, childID, job)

				mu.Lock()
				stats.Processed++
				if ok {
					stats.Succeeded++
				} else {
					stats.Failed++
				}
				mu.Unlock()
			}(&jobs[i])
		}
		wg.Wait()

		if r.cfg.SliceDelay > 0 && end < len(jobs) {
			select {
			case <-time.After(r.cfg.SliceDelay):
			case <-ctx.Done():
				return stats, ctx.Err()
			}
		}
	}

	return stats, nil
}

// processJob scrapes one listing and upserts the outcome. A scrape failure is
// still recorded on the golden row so the job is not re-planned forever.
func (r *DetailScrapeRunner) processJob(ctx context.Context, childID string, job *domain.RawJob) bool {
	if job.PostingURL == nil || *job.PostingURL == "" {
		r.logger.Warn("Skipping job without posting URL",
			slog.String("child_id", childID),
			slog.Int64("job_id", job.ID),
		)
		return false
	}

	result, err := r.scraper.ScrapeDetail(ctx, *job.PostingURL)
	if err != nil {
		result = &domain.DetailScrapeResult{
			Success: false,
			Error:   err.Error(),
		}
	}

	upsertErr := Execute(ctx, "upsert-detail-scraped", r.cfg.ActivityPolicy, r.logger, func(ctx context.Context) error {
		return r.source.UpsertDetailScraped(ctx, job, result)
	})
	if upsertErr != nil {
		r.logger.Error("Failed to upsert detail scrape result",
			slog.String("child_id", childID),
			slog.Int64("job_id", job.ID),
			slog.Any("error", upsertErr),
		)
		return false
	}

	return result.Success
}

// EnrichmentDispatchRunner processes one chunk of golden rows awaiting
// enrichment: each is published onto raw_jobs_for_processing for the
// enrichment consumers, in paced batches so a large backlog does not flood
// the broker.
type EnrichmentDispatchRunner struct {
	source    GoldenSource
	publisher QueuePublisher
	topology  struct{ exchange, routingKey string }
	cfg       RunnerConfig
	logger    *slog.Logger
}

// NewEnrichmentDispatchRunner creates the enrichment-dispatch workload
func NewEnrichmentDispatchRunner(source GoldenSource, publisher QueuePublisher, exchange, routingKey string, cfg RunnerConfig, logger *slog.Logger) *EnrichmentDispatchRunner {
	if cfg.PublishBatchSize <= 0 {
		cfg.PublishBatchSize = 10
	}
	if cfg.ActivityPolicy.MaxAttempts <= 0 {
		cfg.ActivityPolicy = DefaultRetryPolicy()
	}
	r := &EnrichmentDispatchRunner{
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
	r.topology.exchange = exchange
	r.topology.routingKey = routingKey
	return r
}

// Type returns the workflow type name
func (r *EnrichmentDispatchRunner) Type() string {
	return TypeEnrichmentDispatch
}

// CountJobs reports how many golden rows await enrichment
func (r *EnrichmentDispatchRunner) CountJobs(ctx context.Context) (int, error) {
	return r.source.CountGoldenForEnrichment(ctx)
}

// RunChunk publishes one page of golden rows to the enrichment queue
func (r *EnrichmentDispatchRunner) RunChunk(ctx context.Context, childID string, chunk Chunk) (ChunkStats, error) {
	var jobs []domain.GoldenJobMessage
	fetchErr := Execute(ctx, "fetch-golden-page", r.cfg.ActivityPolicy, r.logger, func(ctx context.Context) error {
		var err error
		jobs, err = r.source.FetchGoldenForEnrichmentPage(ctx, chunk.Offset, chunk.Limit)
		return err
	})
	if fetchErr != nil {
		return ChunkStats{}, fmt.Errorf("failed to fetch chunk page: %w", fetchErr)
	}

	stats := ChunkStats{}
	for i := range jobs {
		job := &jobs[i]

		body, err := json.Marshal(job)
		if err != nil {
			stats.Processed++
			stats.Failed++
			continue
		}

		headers := amqp.Table{
			"source_job_id": job.ID,
			"posting_url":   job.PostingURL,
		}

		pubErr := Execute(ctx, "publish-enrichment-job", r.cfg.ActivityPolicy, r.logger, func(ctx context.Context) error {
			return r.publisher.Publish(ctx, r.topology.exchange, r.topology.routingKey, body, headers)
		})

		stats.Processed++
		if pubErr != nil {
			stats.Failed++
			r.logger.Error("Failed to publish job for enrichment",
				slog.String("child_id", childID),
				slog.Int64("job_id", job.ID),
				slog.Any("error", pubErr),
			)
		} else {
			stats.Succeeded++
		}

		// Pace between publish batches
		if r.cfg.SliceDelay > 0 && (i+1)%r.cfg.PublishBatchSize == 0 && i+1 < len(jobs) {
			select {
			case <-time.After(r.cfg.SliceDelay):
			case <-ctx.Done():
				return stats, ctx.Err()
			}
		}
	}

	return stats, nil
}
