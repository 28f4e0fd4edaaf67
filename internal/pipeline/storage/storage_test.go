package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
)

// The enrichment UPDATE COALESCEs every optional parameter against the
// current column, so a nil parameter means "leave the column alone". These
// tests pin down which parameters stay nil when the model omits a group.

func TestBuildEnrichmentParams_OmittedGroupsStayNil(t *testing.T) {
	msg := &domain.EnrichedJobMessage{
		GoldenJobMessage: domain.GoldenJobMessage{ID: 42},
		AIEnrichment: domain.Enrichment{
			SeniorityLevel: &domain.SeniorityAssessment{Normalized: "senior", Confidence: 0.9},
		},
		EnrichedAt:       time.Now().UTC(),
		EnrichmentStatus: domain.StageStatusCompleted,
	}

	params := buildEnrichmentParams(msg)

	require.NotNil(t, params.SeniorityNormalized)
	assert.Equal(t, "senior", *params.SeniorityNormalized)
	require.NotNil(t, params.SeniorityConfidence)
	assert.InDelta(t, 0.9, *params.SeniorityConfidence, 0.001)

	// Every group the model omitted must not touch its columns
	assert.Nil(t, params.LocationCity)
	assert.Nil(t, params.CurrencyRaw)
	assert.Nil(t, params.WorkArrangementNorm)
	assert.Nil(t, params.ScamScore)
	assert.Nil(t, params.SkillsExtracted)
	assert.Nil(t, params.CompanyIndustry)
	assert.Nil(t, params.HasStockOptions)
	assert.Nil(t, params.PrimaryRole)
	assert.Nil(t, params.EnrichmentErrors)
}

func TestBuildEnrichmentParams_SentinelsBecomeNil(t *testing.T) {
	msg := &domain.EnrichedJobMessage{
		GoldenJobMessage: domain.GoldenJobMessage{ID: 42},
		AIEnrichment: domain.Enrichment{
			LocationNormalization: &domain.LocationNormalization{
				City:    "Berlin",
				State:   "N/A",
				Country: "Germany",
			},
			CompanyInsights: &domain.CompanyInsights{
				Industry: "null",
			},
		},
		EnrichmentStatus: domain.StageStatusCompleted,
	}

	params := buildEnrichmentParams(msg)

	require.NotNil(t, params.LocationCity)
	assert.Equal(t, "Berlin", *params.LocationCity)
	assert.Nil(t, params.LocationState, "placeholder values map to NULL")
	assert.Nil(t, params.CompanyIndustry)

	require.NotNil(t, params.LocationNormalized)
	assert.Equal(t, "Berlin, Germany", *params.LocationNormalized)
}

func TestBuildEnrichmentParams_ErrorRecorded(t *testing.T) {
	msg := &domain.EnrichedJobMessage{
		GoldenJobMessage: domain.GoldenJobMessage{ID: 42},
		AIEnrichment:     domain.Enrichment{Error: "model timeout"},
		EnrichmentStatus: domain.StageStatusPartial,
	}

	params := buildEnrichmentParams(msg)

	assert.Equal(t, domain.StageStatusPartial, params.EnrichmentStatus)
	require.NotEmpty(t, params.EnrichmentErrors)

	var recorded map[string]string
	require.NoError(t, json.Unmarshal(params.EnrichmentErrors, &recorded))
	assert.Equal(t, "model timeout", recorded["error"])
}

func TestBuildEnrichmentParams_Defaults(t *testing.T) {
	msg := &domain.EnrichedJobMessage{
		GoldenJobMessage: domain.GoldenJobMessage{ID: 42},
	}

	params := buildEnrichmentParams(msg)

	assert.False(t, params.EnrichedAt.IsZero(), "missing timestamp defaults to now")
	assert.Equal(t, domain.StageStatusCompleted, params.EnrichmentStatus)
}

func TestApplyEnrichmentQuery_OptionalColumnsCoalesce(t *testing.T) {
	// Collapse the aligned formatting so assertions don't depend on padding
	query := strings.Join(strings.Fields(applyEnrichmentQuery), " ")

	optionalColumns := []string{
		"job_location_normalized",
		"location_city",
		"location_state",
		"location_country",
		"location_timezone",
		"is_remote",
		"currency_raw",
		"min_salary_usd",
		"max_salary_usd",
		"currency_conversion_rate",
		"seniority_level_normalized",
		"seniority_confidence_score",
		"work_arrangement_raw",
		"work_arrangement_normalized",
		"scam_score",
		"scam_indicators",
		"skills_extracted",
		"tech_stack_normalized",
		"company_research",
		"company_industry",
		"company_size",
		"has_stock_options",
		"stock_options_details",
		"other_benefits",
		"primary_role",
		"role_category",
		"is_management",
		"ollama_model_version",
		"enrichment_errors",
	}

	for _, col := range optionalColumns {
		assert.Contains(t, query, col+" = COALESCE(:"+col+", "+col+")",
			"optional column %s must keep its current value when the parameter is nil", col)
	}

	// Bookkeeping columns are unconditional on every update
	assert.Contains(t, query, "enriched_at = :enriched_at")
	assert.Contains(t, query, "processing_duration_ms = :processing_duration_ms")
	assert.Contains(t, query, "enrichment_status = :enrichment_status")
	assert.Contains(t, query, "enrichment_version = enrichment_version + 1")
	assert.Contains(t, query, "WHERE id = :id")
}

func TestCombineLocation(t *testing.T) {
	assert.Equal(t, "Berlin, Germany", combineLocation("Berlin", "Germany"))
	assert.Equal(t, "Berlin", combineLocation("Berlin", ""))
	assert.Equal(t, "Germany", combineLocation("", "Germany"))
	assert.Equal(t, "", combineLocation("", ""))
}
