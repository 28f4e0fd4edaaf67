package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
	"github.com/jobgtm/pipeline-be/internal/pipeline/storage"
)

// maxDescriptionChars bounds how much listing text goes into the prompt so a
// huge posting cannot blow the model's context window.
const maxDescriptionChars = 4000

// OllamaClient runs job enrichment against a local Ollama instance
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates an enrichment client. The timeout should be
// generous; small local models routinely take tens of seconds per job.
func NewOllamaClient(baseURL, model string, timeout time.Duration, logger *slog.Logger) *OllamaClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Enrich analyzes one golden job with the model. The model's output is
// parsed defensively: markdown fences are stripped and a response that still
// is not valid JSON is an error for the caller to degrade on.
func (c *OllamaClient) Enrich(ctx context.Context, job *domain.GoldenJobMessage) (*domain.Enrichment, error) {
	start := time.Now()

	reqBody, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: buildPrompt(job),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, respBody)
	}

	var generated generateResponse
	if err := json.Unmarshal(respBody, &generated); err != nil {
		return nil, fmt.Errorf("failed to parse ollama envelope: %w", err)
	}

	enrichment, err := parseEnrichment(generated.Response)
	if err != nil {
		return nil, fmt.Errorf("model produced unparseable enrichment: %w", err)
	}

	durationMS := time.Since(start).Milliseconds()
	enrichment.Metadata = &domain.EnrichmentMetadata{
		ProcessingDurationMS: durationMS,
		Model:                c.model,
		Timestamp:            time.Now().UTC().Format(time.RFC3339),
	}

	c.logger.Debug("Enrichment generated",
		slog.Int64("job_id", job.ID),
		slog.String("model", c.model),
		slog.Int64("duration_ms", durationMS),
	)

	return enrichment, nil
}

// parseEnrichment extracts the structured analysis from the model's text.
// Models wrap JSON in markdown fences often enough that stripping them first
// is worth the trouble.
func parseEnrichment(text string) (*domain.Enrichment, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var enrichment domain.Enrichment
	if err := json.Unmarshal([]byte(cleaned), &enrichment); err != nil {
		return nil, err
	}
	return &enrichment, nil
}

// buildPrompt renders the analysis instruction for one job listing
func buildPrompt(job *domain.GoldenJobMessage) string {
	description := job.JobDescriptionFull
	if description == "" {
		description = job.FullPageText
	}
	// Rune-safe: descriptions scraped off multi-language postings must not be
	// cut mid-character.
	description = storage.TruncateTo(description, maxDescriptionChars)

	var b strings.Builder
	b.WriteString("Analyze this job listing and respond with a single JSON object containing these keys: ")
	b.WriteString("currency_normalization, seniority_level, work_arrangement, scam_detection, skills_extraction, ")
	b.WriteString("tech_stack, location_normalization, company_insights, benefits, role_classification.\n\n")
	fmt.Fprintf(&b, "Company: %s\n", job.CompanyTitle)
	fmt.Fprintf(&b, "Role: %s\n", job.JobRole)
	if job.JobLocation != "" {
		fmt.Fprintf(&b, "Location: %s\n", job.JobLocation)
	}
	if job.EmploymentType != "" {
		fmt.Fprintf(&b, "Employment type: %s\n", job.EmploymentType)
	}
	if job.SalaryRange != "" {
		fmt.Fprintf(&b, "Salary: %s\n", job.SalaryRange)
	}
	fmt.Fprintf(&b, "\nDescription:\n%s\n", description)
	return b.String()
}
