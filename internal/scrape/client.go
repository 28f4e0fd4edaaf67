package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
)

// Client calls the detail-scraper service to fetch a job posting's full page
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a detail-scraper client
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type scrapeRequest struct {
	URL string `json:"url"`
}

type scrapeResponse struct {
	Success            bool   `json:"success"`
	Error              string `json:"error,omitempty"`
	DurationMS         int64  `json:"duration_ms"`
	JobDescriptionFull string `json:"job_description_full"`
	FullPageText       string `json:"full_page_text"`
}

// ScrapeDetail fetches the full posting page for one URL. A scraper-side
// failure comes back as a non-success result, not an error; errors are
// reserved for transport-level problems.
func (c *Client) ScrapeDetail(ctx context.Context, postingURL string) (*domain.DetailScrapeResult, error) {
	body, err := json.Marshal(scrapeRequest{URL: postingURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrape-detail", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read scrape response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scraper returned status %d: %s", resp.StatusCode, respBody)
	}

	var parsed scrapeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse scrape response: %w", err)
	}

	durationMS := parsed.DurationMS
	if durationMS == 0 {
		durationMS = time.Since(start).Milliseconds()
	}

	c.logger.Debug("Detail scrape finished",
		slog.String("posting_url", postingURL),
		slog.Bool("success", parsed.Success),
		slog.Int64("duration_ms", durationMS),
	)

	return &domain.DetailScrapeResult{
		Success:            parsed.Success,
		Error:              parsed.Error,
		DurationMS:         durationMS,
		JobDescriptionFull: parsed.JobDescriptionFull,
		FullPageText:       parsed.FullPageText,
	}, nil
}
