package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
)

// Column character limits from the job_listings / job_listings_golden schema
const (
	lenCompanyTitle       = 255
	lenJobRole            = 255
	lenJobLocation        = 255
	lenEmploymentType     = 100
	lenSalaryRange        = 255
	lenRequiredExperience = 255
	lenSeniorityLevel     = 100
	lenSeniorityNorm      = 50
	lenDatePosted         = 100
	lenWorkArrangement    = 50
	lenLocationPart       = 100
	lenTimezone           = 50
	lenCurrency           = 10
	lenIndustry           = 100
	lenCompanySize        = 100
	lenRoleField          = 100
	lenModelVersion       = 50
)

const uniqueViolationCode = "23505"

// Storage handles all database operations for the pipeline
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// CountRawJobs returns the total number of raw job listings. Used for chunk
// planning; intentionally transfers a count only, never payloads.
func (s *Storage) CountRawJobs(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM job_listings`); err != nil {
		return 0, fmt.Errorf("failed to count raw jobs: %w", err)
	}
	return count, nil
}

// FetchRawJobsPage fetches one offset/limit page of raw jobs ordered by id.
// The stable ordering keeps chunks contiguous and non-overlapping.
func (s *Storage) FetchRawJobsPage(ctx context.Context, offset, limit int) ([]domain.RawJob, error) {
	query := `
		SELECT id, company_title, job_role, job_location, employment_type,
		       salary_range, min_salary, max_salary, required_experience,
		       seniority_level, job_description, date_posted, posting_url,
		       hiring_team, about_company, scraper_source, scraped_at
		FROM job_listings
		ORDER BY id
		OFFSET $1 LIMIT $2
	`

	var jobs []domain.RawJob
	if err := s.db.SelectContext(ctx, &jobs, query, offset, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch raw jobs page: %w", err)
	}

	return jobs, nil
}

// InsertRawJob inserts a scraped listing into job_listings. A unique
// constraint violation (same natural key or posting URL) is surfaced as
// domain.ErrDuplicateJob so callers can treat redelivery as success.
func (s *Storage) InsertRawJob(ctx context.Context, msg *domain.ScrapedJobMessage) error {
	query := `
		INSERT INTO job_listings (
			company_title, job_role, job_location, employment_type,
			salary_range, min_salary, max_salary, required_experience,
			seniority_level, job_description, date_posted, posting_url,
			hiring_team, about_company, scraper_source, scraped_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW()
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		TruncateTo(NormalizeRequired(msg.CompanyTitle), lenCompanyTitle),
		TruncateTo(NormalizeRequired(msg.JobRole), lenJobRole),
		NormalizeOptionalN(msg.JobLocation, lenJobLocation),
		NormalizeOptionalN(msg.EmploymentType, lenEmploymentType),
		NormalizeOptionalN(msg.SalaryRange, lenSalaryRange),
		msg.MinSalary,
		msg.MaxSalary,
		NormalizeOptionalN(msg.RequiredExperience, lenRequiredExperience),
		NormalizeOptionalN(msg.SeniorityLevel, lenSeniorityLevel),
		NormalizeOptional(msg.JobDescription),
		NormalizeOptionalN(msg.DatePosted, lenDatePosted),
		NormalizeOptional(msg.PostingURL),
		NormalizeOptional(msg.HiringTeam),
		NormalizeOptional(msg.AboutCompany),
		msg.ScraperSource,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("failed to insert raw job: %w", err)
	}

	return nil
}

// UpsertDetailScraped writes the detail-scrape outcome for one raw job into
// job_listings_golden. Fields populated by earlier stages are preserved;
// enrichment_status moves to pending only when it was never set and the
// scrape succeeded.
func (s *Storage) UpsertDetailScraped(ctx context.Context, job *domain.RawJob, result *domain.DetailScrapeResult) error {
	status := domain.StageStatusCompleted
	if !result.Success {
		status = domain.StageStatusFailed
	}

	var scrapeErrors []byte
	if result.Error != "" {
		payload, err := json.Marshal(map[string]string{"error": result.Error})
		if err != nil {
			return fmt.Errorf("failed to marshal scrape error: %w", err)
		}
		scrapeErrors = payload
	}

	var enrichmentStatus *string
	if result.Success {
		pending := domain.StageStatusPending
		enrichmentStatus = &pending
	}

	query := `
		INSERT INTO job_listings_golden (
			source_job_id, posting_url, company_title, job_role,
			job_location_raw, employment_type_raw, salary_range_raw,
			min_salary_raw, max_salary_raw, required_experience,
			seniority_level_raw, date_posted, scraper_source, scraped_at,
			job_description_full, full_page_text, hiring_team_raw,
			about_company_raw, detail_scraped_at, detail_scrape_status,
			detail_scrape_duration_ms, detail_scrape_errors, enrichment_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, NOW(), $19, $20, $21, $22
		)
		ON CONFLICT (posting_url) DO UPDATE SET
			job_description_full      = EXCLUDED.job_description_full,
			full_page_text            = EXCLUDED.full_page_text,
			hiring_team_raw           = COALESCE(job_listings_golden.hiring_team_raw, EXCLUDED.hiring_team_raw),
			about_company_raw         = COALESCE(job_listings_golden.about_company_raw, EXCLUDED.about_company_raw),
			detail_scraped_at         = NOW(),
			detail_scrape_status      = EXCLUDED.detail_scrape_status,
			detail_scrape_duration_ms = EXCLUDED.detail_scrape_duration_ms,
			detail_scrape_errors      = EXCLUDED.detail_scrape_errors,
			enrichment_status         = COALESCE(job_listings_golden.enrichment_status, EXCLUDED.enrichment_status),
			updated_at                = NOW()
	`

	var postingURL string
	if job.PostingURL != nil {
		postingURL = *job.PostingURL
	}
	if postingURL == "" {
		return fmt.Errorf("cannot upsert golden row without posting URL (raw id %d)", job.ID)
	}

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		postingURL,
		job.CompanyTitle,
		job.JobRole,
		job.JobLocation,
		job.EmploymentType,
		job.SalaryRange,
		job.MinSalary,
		job.MaxSalary,
		job.RequiredExperience,
		job.SeniorityLevel,
		job.DatePosted,
		job.ScraperSource,
		job.ScrapedAt,
		result.JobDescriptionFull,
		result.FullPageText,
		job.HiringTeam,
		job.AboutCompany,
		status,
		result.DurationMS,
		scrapeErrors,
		enrichmentStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert detail-scraped job: %w", err)
	}

	s.logger.Debug("Detail-scraped job saved",
		slog.Int64("source_job_id", job.ID),
		slog.String("posting_url", postingURL),
		slog.String("status", status),
	)

	return nil
}

// CountGoldenForEnrichment counts golden rows eligible for AI enrichment:
// detail scrape completed and enrichment never finished.
func (s *Storage) CountGoldenForEnrichment(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*) FROM job_listings_golden
		WHERE detail_scrape_status = $1
		  AND (enrichment_status IS NULL OR enrichment_status = $2)
	`

	var count int
	if err := s.db.GetContext(ctx, &count, query, domain.StageStatusCompleted, domain.StageStatusPending); err != nil {
		return 0, fmt.Errorf("failed to count golden jobs for enrichment: %w", err)
	}
	return count, nil
}

type goldenRow struct {
	ID                 int64   `db:"id"`
	SourceJobID        *int64  `db:"source_job_id"`
	PostingURL         string  `db:"posting_url"`
	CompanyTitle       *string `db:"company_title"`
	JobRole            *string `db:"job_role"`
	JobLocationRaw     *string `db:"job_location_raw"`
	EmploymentTypeRaw  *string `db:"employment_type_raw"`
	SalaryRangeRaw     *string `db:"salary_range_raw"`
	JobDescriptionFull *string `db:"job_description_full"`
	FullPageText       *string `db:"full_page_text"`
	DatePosted         *string `db:"date_posted"`
	ScraperSource      *string `db:"scraper_source"`
}

// FetchGoldenForEnrichmentPage fetches one page of enrichment-eligible golden
// rows as queue-ready messages, ordered by id.
func (s *Storage) FetchGoldenForEnrichmentPage(ctx context.Context, offset, limit int) ([]domain.GoldenJobMessage, error) {
	query := `
		SELECT id, source_job_id, posting_url, company_title, job_role,
		       job_location_raw, employment_type_raw, salary_range_raw,
		       job_description_full, full_page_text, date_posted, scraper_source
		FROM job_listings_golden
		WHERE detail_scrape_status = $1
		  AND (enrichment_status IS NULL OR enrichment_status = $2)
		ORDER BY id
		OFFSET $3 LIMIT $4
	`

	var rows []goldenRow
	err := s.db.SelectContext(ctx, &rows, query,
		domain.StageStatusCompleted, domain.StageStatusPending, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch golden jobs page: %w", err)
	}

	messages := make([]domain.GoldenJobMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, domain.GoldenJobMessage{
			ID:                 row.ID,
			SourceJobID:        derefInt64(row.SourceJobID),
			PostingURL:         row.PostingURL,
			CompanyTitle:       derefString(row.CompanyTitle),
			JobRole:            derefString(row.JobRole),
			JobLocation:        derefString(row.JobLocationRaw),
			EmploymentType:     derefString(row.EmploymentTypeRaw),
			SalaryRange:        derefString(row.SalaryRangeRaw),
			JobDescriptionFull: derefString(row.JobDescriptionFull),
			FullPageText:       derefString(row.FullPageText),
			DatePosted:         derefString(row.DatePosted),
			ScraperSource:      derefString(row.ScraperSource),
		})
	}

	return messages, nil
}

// enrichmentParams maps the enrichment update's named parameters. Optional
// fields are nil when the model omitted the group; the query COALESCEs them
// against the current column so an omitted group never erases earlier data.
type enrichmentParams struct {
	ID                     int64           `db:"id"`
	LocationNormalized     *string         `db:"job_location_normalized"`
	LocationCity           *string         `db:"location_city"`
	LocationState          *string         `db:"location_state"`
	LocationCountry        *string         `db:"location_country"`
	LocationTimezone       *string         `db:"location_timezone"`
	IsRemote               *bool           `db:"is_remote"`
	CurrencyRaw            *string         `db:"currency_raw"`
	MinSalaryUSD           *float64        `db:"min_salary_usd"`
	MaxSalaryUSD           *float64        `db:"max_salary_usd"`
	CurrencyConversionRate *float64        `db:"currency_conversion_rate"`
	SeniorityNormalized    *string         `db:"seniority_level_normalized"`
	SeniorityConfidence    *float64        `db:"seniority_confidence_score"`
	WorkArrangementRaw     *string         `db:"work_arrangement_raw"`
	WorkArrangementNorm    *string         `db:"work_arrangement_normalized"`
	ScamScore              *int            `db:"scam_score"`
	ScamIndicators         json.RawMessage `db:"scam_indicators"`
	SkillsExtracted        json.RawMessage `db:"skills_extracted"`
	TechStackNormalized    json.RawMessage `db:"tech_stack_normalized"`
	CompanyResearch        *string         `db:"company_research"`
	CompanyIndustry        *string         `db:"company_industry"`
	CompanySize            *string         `db:"company_size"`
	HasStockOptions        *bool           `db:"has_stock_options"`
	StockOptionsDetails    *string         `db:"stock_options_details"`
	OtherBenefits          json.RawMessage `db:"other_benefits"`
	PrimaryRole            *string         `db:"primary_role"`
	RoleCategory           *string         `db:"role_category"`
	IsManagement           *bool           `db:"is_management"`
	EnrichedAt             time.Time       `db:"enriched_at"`
	ModelVersion           *string         `db:"ollama_model_version"`
	ProcessingDurationMS   int64           `db:"processing_duration_ms"`
	EnrichmentStatus       string          `db:"enrichment_status"`
	EnrichmentErrors       json.RawMessage `db:"enrichment_errors"`
}

// applyEnrichmentQuery COALESCEs every model-derived column against its
// current value, so a nil parameter (group omitted by the model) never erases
// data written by an earlier enrichment or scrape stage.
const applyEnrichmentQuery = `
		UPDATE job_listings_golden SET
			job_location_normalized     = COALESCE(:job_location_normalized, job_location_normalized),
			location_city               = COALESCE(:location_city, location_city),
			location_state              = COALESCE(:location_state, location_state),
			location_country            = COALESCE(:location_country, location_country),
			location_timezone           = COALESCE(:location_timezone, location_timezone),
			is_remote                   = COALESCE(:is_remote, is_remote),
			currency_raw                = COALESCE(:currency_raw, currency_raw),
			min_salary_usd              = COALESCE(:min_salary_usd, min_salary_usd),
			max_salary_usd              = COALESCE(:max_salary_usd, max_salary_usd),
			currency_conversion_rate    = COALESCE(:currency_conversion_rate, currency_conversion_rate),
			currency_conversion_date    = CASE WHEN :currency_conversion_rate IS NOT NULL THEN NOW() ELSE currency_conversion_date END,
			seniority_level_normalized  = COALESCE(:seniority_level_normalized, seniority_level_normalized),
			seniority_confidence_score  = COALESCE(:seniority_confidence_score, seniority_confidence_score),
			work_arrangement_raw        = COALESCE(:work_arrangement_raw, work_arrangement_raw),
			work_arrangement_normalized = COALESCE(:work_arrangement_normalized, work_arrangement_normalized),
			scam_score                  = COALESCE(:scam_score, scam_score),
			scam_indicators             = COALESCE(:scam_indicators, scam_indicators),
			skills_extracted            = COALESCE(:skills_extracted, skills_extracted),
			tech_stack_normalized       = COALESCE(:tech_stack_normalized, tech_stack_normalized),
			company_research            = COALESCE(:company_research, company_research),
			company_industry            = COALESCE(:company_industry, company_industry),
			company_size                = COALESCE(:company_size, company_size),
			has_stock_options           = COALESCE(:has_stock_options, has_stock_options),
			stock_options_details       = COALESCE(:stock_options_details, stock_options_details),
			other_benefits              = COALESCE(:other_benefits, other_benefits),
			primary_role                = COALESCE(:primary_role, primary_role),
			role_category               = COALESCE(:role_category, role_category),
			is_management               = COALESCE(:is_management, is_management),
			enriched_at                 = :enriched_at,
			ollama_model_version        = COALESCE(:ollama_model_version, ollama_model_version),
			processing_duration_ms      = :processing_duration_ms,
			enrichment_status           = :enrichment_status,
			enrichment_errors           = COALESCE(:enrichment_errors, enrichment_errors),
			enrichment_version          = enrichment_version + 1,
			updated_at                  = NOW()
		WHERE id = :id
	`

// ApplyEnrichment updates enrichment-derived columns of one golden row by id.
// Columns populated by scraping stages are never touched; every successful
// update bumps enrichment_version. A missing row returns
// domain.ErrJobNotFound.
func (s *Storage) ApplyEnrichment(ctx context.Context, msg *domain.EnrichedJobMessage) error {
	params := buildEnrichmentParams(msg)

	result, err := s.db.NamedExecContext(ctx, applyEnrichmentQuery, params)
	if err != nil {
		return fmt.Errorf("failed to apply enrichment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return domain.ErrJobNotFound
	}

	s.logger.Debug("Enrichment applied",
		slog.Int64("golden_id", msg.ID),
		slog.String("posting_url", msg.PostingURL),
		slog.String("status", msg.EnrichmentStatus),
	)

	return nil
}

func buildEnrichmentParams(msg *domain.EnrichedJobMessage) *enrichmentParams {
	ai := msg.AIEnrichment

	params := &enrichmentParams{
		ID:                   msg.ID,
		EnrichedAt:           msg.EnrichedAt,
		ProcessingDurationMS: msg.ProcessingDurationMS,
		EnrichmentStatus:     msg.EnrichmentStatus,
	}

	if params.EnrichedAt.IsZero() {
		params.EnrichedAt = time.Now().UTC()
	}
	if params.EnrichmentStatus == "" {
		params.EnrichmentStatus = domain.StageStatusCompleted
	}

	if loc := ai.LocationNormalization; loc != nil {
		if combined := combineLocation(loc.City, loc.Country); combined != "" {
			params.LocationNormalized = NormalizeOptionalN(combined, lenJobLocation)
		}
		params.LocationCity = NormalizeOptionalN(loc.City, lenLocationPart)
		params.LocationState = NormalizeOptionalN(loc.State, lenLocationPart)
		params.LocationCountry = NormalizeOptionalN(loc.Country, lenLocationPart)
		params.LocationTimezone = NormalizeOptionalN(loc.Timezone, lenTimezone)
		params.IsRemote = loc.IsRemote
	}

	if cur := ai.CurrencyNormalization; cur != nil {
		params.CurrencyRaw = NormalizeOptionalN(cur.DetectedCurrency, lenCurrency)
		params.MinSalaryUSD = cur.MinSalaryUSD
		params.MaxSalaryUSD = cur.MaxSalaryUSD
		params.CurrencyConversionRate = cur.ConversionRate
	}

	if sen := ai.SeniorityLevel; sen != nil {
		params.SeniorityNormalized = NormalizeOptionalN(sen.Normalized, lenSeniorityNorm)
		if sen.Confidence > 0 {
			confidence := sen.Confidence
			params.SeniorityConfidence = &confidence
		}
	}

	if wa := ai.WorkArrangement; wa != nil {
		params.WorkArrangementRaw = NormalizeOptionalN(wa.Details, lenEmploymentType)
		params.WorkArrangementNorm = NormalizeOptionalN(wa.Normalized, lenWorkArrangement)
	}

	if scam := ai.ScamDetection; scam != nil {
		params.ScamScore = scam.Score
		params.ScamIndicators = scam.Indicators
	}

	if skills := ai.SkillsExtraction; skills != nil {
		params.SkillsExtracted = skills.Skills
	}

	if tech := ai.TechStack; tech != nil {
		params.TechStackNormalized = tech.Technologies
	}

	if company := ai.CompanyInsights; company != nil {
		params.CompanyResearch = NormalizeOptional(company.NotableInfo)
		params.CompanyIndustry = NormalizeOptionalN(company.Industry, lenIndustry)
		params.CompanySize = NormalizeOptionalN(company.CompanySize, lenCompanySize)
	}

	if benefits := ai.Benefits; benefits != nil {
		params.HasStockOptions = benefits.HasStockOptions
		params.StockOptionsDetails = NormalizeOptional(benefits.StockDetails)
		params.OtherBenefits = benefits.OtherBenefits
	}

	if role := ai.RoleClassification; role != nil {
		params.PrimaryRole = NormalizeOptionalN(role.PrimaryRole, lenRoleField)
		params.RoleCategory = NormalizeOptionalN(role.RoleCategory, lenRoleField)
		params.IsManagement = role.IsManagement
	}

	if meta := ai.Metadata; meta != nil {
		params.ModelVersion = NormalizeOptionalN(meta.Model, lenModelVersion)
	}

	if ai.Error != "" {
		if payload, err := json.Marshal(map[string]string{"error": ai.Error}); err == nil {
			params.EnrichmentErrors = payload
		}
	}

	return params
}

func combineLocation(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return country
	}
}

// RecordWorkflowRun inserts or refreshes a workflow_runs row. Used by the
// coordinator engine to persist run state transitions.
func (s *Storage) RecordWorkflowRun(ctx context.Context, workflowID, runID, workflowType, status string, input, result []byte, errorMessage string) error {
	query := `
		INSERT INTO workflow_runs (
			workflow_id, run_id, workflow_type, status, input_params, result, error_message, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NOW())
		ON CONFLICT (workflow_id) DO UPDATE SET
			run_id        = EXCLUDED.run_id,
			status        = EXCLUDED.status,
			result        = COALESCE(EXCLUDED.result, workflow_runs.result),
			error_message = COALESCE(EXCLUDED.error_message, workflow_runs.error_message),
			completed_at  = CASE WHEN EXCLUDED.status IN ('completed', 'completed_with_errors', 'failed')
			                     THEN NOW() ELSE workflow_runs.completed_at END,
			updated_at    = NOW()
	`

	_, err := s.db.ExecContext(ctx, query, workflowID, runID, workflowType, status, input, result, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to record workflow run: %w", err)
	}

	return nil
}

// GetWorkflowRun loads one workflow_runs row by workflow id
func (s *Storage) GetWorkflowRun(ctx context.Context, workflowID string) (*domain.WorkflowRun, error) {
	query := `
		SELECT workflow_id, run_id, workflow_type, status, result, error_message, started_at, completed_at
		FROM workflow_runs
		WHERE workflow_id = $1
	`

	var run domain.WorkflowRun
	if err := s.db.GetContext(ctx, &run, query, workflowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get workflow run: %w", err)
	}

	return &run, nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
