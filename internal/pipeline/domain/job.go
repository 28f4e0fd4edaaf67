package domain

import (
	"encoding/json"
	"time"
)

// ScrapedJobMessage is the wire form published by scrapers onto the
// scraped_jobs queue. Keys are camelCase as emitted by the scraper service.
type ScrapedJobMessage struct {
	CompanyTitle       string   `json:"companyTitle"`
	JobRole            string   `json:"jobRole"`
	JobLocation        string   `json:"jobLocation"`
	EmploymentType     string   `json:"employmentType"`
	SalaryRange        string   `json:"salaryRange"`
	MinSalary          *float64 `json:"minSalary"`
	MaxSalary          *float64 `json:"maxSalary"`
	RequiredExperience string   `json:"requiredExperience"`
	SeniorityLevel     string   `json:"seniorityLevel"`
	JobDescription     string   `json:"jobDescription"`
	DatePosted         string   `json:"datePosted"`
	PostingURL         string   `json:"postingUrl"`
	HiringTeam         string   `json:"hiringTeam"`
	AboutCompany       string   `json:"aboutCompany"`
	ScraperSource      string   `json:"scraper_source"`
}

// RawJob is a row in job_listings. The natural key is
// (company_title, job_role, job_location, employment_type); posting_url is
// independently unique.
type RawJob struct {
	ID                 int64      `db:"id"`
	CompanyTitle       string     `db:"company_title"`
	JobRole            string     `db:"job_role"`
	JobLocation        *string    `db:"job_location"`
	EmploymentType     *string    `db:"employment_type"`
	SalaryRange        *string    `db:"salary_range"`
	MinSalary          *float64   `db:"min_salary"`
	MaxSalary          *float64   `db:"max_salary"`
	RequiredExperience *string    `db:"required_experience"`
	SeniorityLevel     *string    `db:"seniority_level"`
	JobDescription     *string    `db:"job_description"`
	DatePosted         *string    `db:"date_posted"`
	PostingURL         *string    `db:"posting_url"`
	HiringTeam         *string    `db:"hiring_team"`
	AboutCompany       *string    `db:"about_company"`
	ScraperSource      string     `db:"scraper_source"`
	ScrapedAt          *time.Time `db:"scraped_at"`
}

// GoldenJobMessage is the snake_case payload flowing between the coordinator,
// the raw_jobs_for_processing queue, and the enrichment consumer. It carries
// the detail-scraped golden row, not the raw listing.
type GoldenJobMessage struct {
	ID                 int64  `json:"id"`
	SourceJobID        int64  `json:"source_job_id,omitempty"`
	PostingURL         string `json:"posting_url"`
	CompanyTitle       string `json:"company_title"`
	JobRole            string `json:"job_role"`
	JobLocation        string `json:"job_location,omitempty"`
	EmploymentType     string `json:"employment_type,omitempty"`
	SalaryRange        string `json:"salary_range,omitempty"`
	JobDescriptionFull string `json:"job_description_full,omitempty"`
	FullPageText       string `json:"full_page_text,omitempty"`
	DatePosted         string `json:"date_posted,omitempty"`
	ScraperSource      string `json:"scraper_source,omitempty"`
}

// EnrichedJobMessage is published to the enriched_jobs queue by the AI
// enrichment consumer: the golden payload plus the enrichment result.
type EnrichedJobMessage struct {
	GoldenJobMessage
	AIEnrichment         Enrichment `json:"ai_enrichment"`
	EnrichedAt           time.Time  `json:"enriched_at"`
	EnrichmentStatus     string     `json:"enrichment_status"`
	ProcessingDurationMS int64      `json:"processing_duration_ms"`
}

// Enrichment is the structured AI analysis of one job listing. Every group is
// optional; the model frequently omits sections or returns malformed JSON, in
// which case only Error is set.
type Enrichment struct {
	CurrencyNormalization *CurrencyNormalization `json:"currency_normalization,omitempty"`
	SeniorityLevel        *SeniorityAssessment   `json:"seniority_level,omitempty"`
	WorkArrangement       *WorkArrangement       `json:"work_arrangement,omitempty"`
	ScamDetection         *ScamDetection         `json:"scam_detection,omitempty"`
	SkillsExtraction      *SkillsExtraction      `json:"skills_extraction,omitempty"`
	TechStack             *TechStack             `json:"tech_stack,omitempty"`
	LocationNormalization *LocationNormalization `json:"location_normalization,omitempty"`
	CompanyInsights       *CompanyInsights       `json:"company_insights,omitempty"`
	Benefits              *Benefits              `json:"benefits,omitempty"`
	RoleClassification    *RoleClassification    `json:"role_classification,omitempty"`
	Metadata              *EnrichmentMetadata    `json:"_metadata,omitempty"`
	Error                 string                 `json:"error,omitempty"`
}

// CurrencyNormalization converts detected salary figures to USD
type CurrencyNormalization struct {
	DetectedCurrency string   `json:"detected_currency"`
	MinSalaryUSD     *float64 `json:"min_salary_usd"`
	MaxSalaryUSD     *float64 `json:"max_salary_usd"`
	ConversionRate   *float64 `json:"conversion_rate"`
	Confidence       float64  `json:"confidence"`
}

// SeniorityAssessment normalizes the seniority level
type SeniorityAssessment struct {
	Normalized string  `json:"normalized"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// WorkArrangement classifies on-site/remote/hybrid
type WorkArrangement struct {
	Normalized string  `json:"normalized"`
	Confidence float64 `json:"confidence"`
	Details    string  `json:"details,omitempty"`
}

// ScamDetection scores the listing for fraud indicators
type ScamDetection struct {
	Score        *int            `json:"score"`
	Indicators   json.RawMessage `json:"indicators,omitempty"`
	IsLikelyScam bool            `json:"is_likely_scam"`
	Reasoning    string          `json:"reasoning,omitempty"`
}

// SkillsExtraction carries the extracted skill list as raw JSON; it is stored
// verbatim into a JSONB column.
type SkillsExtraction struct {
	Skills json.RawMessage `json:"skills,omitempty"`
}

// TechStack lists detected technologies
type TechStack struct {
	Technologies json.RawMessage `json:"technologies,omitempty"`
	Frameworks   json.RawMessage `json:"frameworks,omitempty"`
	Tools        json.RawMessage `json:"tools,omitempty"`
}

// LocationNormalization splits the free-form location into components
type LocationNormalization struct {
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Country  string `json:"country,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	IsRemote *bool  `json:"is_remote"`
}

// CompanyInsights summarizes what the model knows about the employer
type CompanyInsights struct {
	Industry    string `json:"industry,omitempty"`
	CompanySize string `json:"company_size,omitempty"`
	NotableInfo string `json:"notable_info,omitempty"`
}

// Benefits captures stock options and other perks
type Benefits struct {
	HasStockOptions *bool           `json:"has_stock_options"`
	StockDetails    string          `json:"stock_details,omitempty"`
	OtherBenefits   json.RawMessage `json:"other_benefits,omitempty"`
}

// RoleClassification buckets the role
type RoleClassification struct {
	PrimaryRole  string `json:"primary_role,omitempty"`
	RoleCategory string `json:"role_category,omitempty"`
	IsManagement *bool  `json:"is_management"`
}

// EnrichmentMetadata records how the enrichment was produced
type EnrichmentMetadata struct {
	ProcessingDurationMS int64  `json:"processing_duration_ms"`
	Model                string `json:"model"`
	Timestamp            string `json:"timestamp"`
}

// DetailScrapeResult is the outcome of scraping one job's posting URL
type DetailScrapeResult struct {
	Success            bool
	Error              string
	DurationMS         int64
	JobDescriptionFull string
	FullPageText       string
}
