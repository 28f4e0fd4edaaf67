package domain

// Stage status values shared by detail scraping and enrichment.
// A row may only enter a stage once the previous stage reports completed.
const (
	StageStatusPending   = "pending"
	StageStatusCompleted = "completed"
	StageStatusFailed    = "failed"
	StageStatusPartial   = "partial"
)

// Queue names for the three pipeline stages
const (
	ScrapedJobsQueue  = "scraped_jobs"
	RawJobsQueue      = "raw_jobs_for_processing"
	EnrichedJobsQueue = "enriched_jobs"
)

// RetryCountHeader carries the per-message retry counter. The broker does not
// mutate custom headers on requeue, so the counter only advances when the
// retry policy republishes the message with an incremented value.
const RetryCountHeader = "x-retry-count"
