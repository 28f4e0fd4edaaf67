package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
)

type fakeRawJobSource struct {
	mu       sync.Mutex
	jobs     []domain.RawJob
	fetchErr error
	upserts  []int64
}

func (f *fakeRawJobSource) CountRawJobs(_ context.Context) (int, error) {
	return len(f.jobs), nil
}

func (f *fakeRawJobSource) FetchRawJobsPage(_ context.Context, offset, limit int) ([]domain.RawJob, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if offset >= len(f.jobs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.jobs) {
		end = len(f.jobs)
	}
	return f.jobs[offset:end], nil
}

func (f *fakeRawJobSource) UpsertDetailScraped(_ context.Context, job *domain.RawJob, _ *domain.DetailScrapeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, job.ID)
	return nil
}

type fakeDetailScraper struct {
	mu            sync.Mutex
	failURLs      map[string]error
	running       int
	maxConcurrent int
}

func (f *fakeDetailScraper) ScrapeDetail(_ context.Context, postingURL string) (*domain.DetailScrapeResult, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.maxConcurrent {
		f.maxConcurrent = f.running
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if err, ok := f.failURLs[postingURL]; ok {
		return nil, err
	}
	return &domain.DetailScrapeResult{
		Success:            true,
		JobDescriptionFull: "full description",
		FullPageText:       "page text",
	}, nil
}

func rawJobs(n int) []domain.RawJob {
	jobs := make([]domain.RawJob, n)
	for i := range jobs {
		url := "https://example.com/job/" + string(rune('a'+i))
		jobs[i] = domain.RawJob{ID: int64(i + 1), PostingURL: &url}
	}
	return jobs
}

func TestDetailScrapeRunner_ProcessesChunk(t *testing.T) {
	source := &fakeRawJobSource{jobs: rawJobs(5)}
	scraper := &fakeDetailScraper{}
	runner := NewDetailScrapeRunner(source, scraper, RunnerConfig{
		MaxConcurrentPerChunk: 2,
		ActivityPolicy:        fastPolicy(2),
	}, testLogger())

	stats, err := runner.RunChunk(context.Background(), "run-chunk-0", Chunk{Index: 0, Offset: 0, Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, ChunkStats{Processed: 5, Succeeded: 5}, stats)
	assert.Len(t, source.upserts, 5)
	assert.LessOrEqual(t, scraper.maxConcurrent, 2, "barrier slices bound in-chunk concurrency")
}

func TestDetailScrapeRunner_ScrapeFailureStillUpserted(t *testing.T) {
	jobs := rawJobs(2)
	source := &fakeRawJobSource{jobs: jobs}
	scraper := &fakeDetailScraper{
		failURLs: map[string]error{*jobs[0].PostingURL: errors.New("scraper 500")},
	}
	runner := NewDetailScrapeRunner(source, scraper, RunnerConfig{
		MaxConcurrentPerChunk: 1,
		ActivityPolicy:        fastPolicy(2),
	}, testLogger())

	stats, err := runner.RunChunk(context.Background(), "run-chunk-0", Chunk{Index: 0, Offset: 0, Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, ChunkStats{Processed: 2, Succeeded: 1, Failed: 1}, stats)
	assert.Len(t, source.upserts, 2, "failed scrapes are recorded too, so the row leaves the backlog")
}

func TestDetailScrapeRunner_MissingURLCountsAsFailed(t *testing.T) {
	source := &fakeRawJobSource{jobs: []domain.RawJob{{ID: 1}}}
	runner := NewDetailScrapeRunner(source, &fakeDetailScraper{}, RunnerConfig{
		MaxConcurrentPerChunk: 1,
		ActivityPolicy:        fastPolicy(2),
	}, testLogger())

	stats, err := runner.RunChunk(context.Background(), "run-chunk-0", Chunk{Index: 0, Offset: 0, Limit: 1})
	require.NoError(t, err)

	assert.Equal(t, ChunkStats{Processed: 1, Failed: 1}, stats)
	assert.Empty(t, source.upserts)
}

func TestDetailScrapeRunner_FetchFailureFailsChunk(t *testing.T) {
	source := &fakeRawJobSource{fetchErr: errors.New("database down")}
	runner := NewDetailScrapeRunner(source, &fakeDetailScraper{}, RunnerConfig{
		MaxConcurrentPerChunk: 1,
		ActivityPolicy:        fastPolicy(2),
	}, testLogger())

	_, err := runner.RunChunk(context.Background(), "run-chunk-0", Chunk{Index: 0, Offset: 0, Limit: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMaxRetriesExceeded)
}

type fakeGoldenSource struct {
	jobs     []domain.GoldenJobMessage
	fetchErr error
}

func (f *fakeGoldenSource) CountGoldenForEnrichment(_ context.Context) (int, error) {
	return len(f.jobs), nil
}

func (f *fakeGoldenSource) FetchGoldenForEnrichmentPage(_ context.Context, offset, limit int) ([]domain.GoldenJobMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if offset >= len(f.jobs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.jobs) {
		end = len(f.jobs)
	}
	return f.jobs[offset:end], nil
}

type fakeQueuePublisher struct {
	mu      sync.Mutex
	err     error
	headers []amqp.Table
}

func (f *fakeQueuePublisher) Publish(_ context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.headers = append(f.headers, headers)
	return nil
}

func goldenJobs(n int) []domain.GoldenJobMessage {
	jobs := make([]domain.GoldenJobMessage, n)
	for i := range jobs {
		jobs[i] = domain.GoldenJobMessage{
			ID:           int64(i + 1),
			PostingURL:   "https://example.com/job/" + string(rune('a'+i)),
			CompanyTitle: "Acme",
			JobRole:      "Go Engineer",
		}
	}
	return jobs
}

func TestEnrichmentDispatchRunner_PublishesChunk(t *testing.T) {
	source := &fakeGoldenSource{jobs: goldenJobs(3)}
	pub := &fakeQueuePublisher{}
	runner := NewEnrichmentDispatchRunner(source, pub, "raw_jobs_for_processing_exchange", domain.RawJobsQueue, RunnerConfig{
		PublishBatchSize: 2,
		ActivityPolicy:   fastPolicy(2),
	}, testLogger())

	stats, err := runner.RunChunk(context.Background(), "run-chunk-0", Chunk{Index: 0, Offset: 0, Limit: 3})
	require.NoError(t, err)

	assert.Equal(t, ChunkStats{Processed: 3, Succeeded: 3}, stats)
	require.Len(t, pub.headers, 3)
	assert.Equal(t, int64(1), pub.headers[0]["source_job_id"])
}

func TestEnrichmentDispatchRunner_PublishFailureCounted(t *testing.T) {
	source := &fakeGoldenSource{jobs: goldenJobs(2)}
	pub := &fakeQueuePublisher{err: errors.New("broker unavailable")}
	runner := NewEnrichmentDispatchRunner(source, pub, "raw_jobs_for_processing_exchange", domain.RawJobsQueue, RunnerConfig{
		ActivityPolicy: fastPolicy(2),
	}, testLogger())

	stats, err := runner.RunChunk(context.Background(), "run-chunk-0", Chunk{Index: 0, Offset: 0, Limit: 2})
	require.NoError(t, err, "publish failures degrade the chunk, they do not abort it")

	assert.Equal(t, ChunkStats{Processed: 2, Failed: 2}, stats)
}
