package scrape

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScrapeDetail_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scrape-detail", r.URL.Path)

		var req struct {
			URL string `json:"url"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/job/1", req.URL)

		json.NewEncoder(w).Encode(map[string]any{
			"success":              true,
			"duration_ms":          1200,
			"job_description_full": "full description",
			"full_page_text":       "page text",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())

	result, err := client.ScrapeDetail(context.Background(), "https://example.com/job/1")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, int64(1200), result.DurationMS)
	assert.Equal(t, "full description", result.JobDescriptionFull)
	assert.Equal(t, "page text", result.FullPageText)
}

func TestScrapeDetail_ScraperSideFailureIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "page blocked by captcha",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())

	result, err := client.ScrapeDetail(context.Background(), "https://example.com/job/1")
	require.NoError(t, err, "a failed scrape is a result, not a transport error")

	assert.False(t, result.Success)
	assert.Equal(t, "page blocked by captcha", result.Error)
}

func TestScrapeDetail_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())

	_, err := client.ScrapeDetail(context.Background(), "https://example.com/job/1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestScrapeDetail_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, 20*time.Millisecond, testLogger())

	_, err := client.ScrapeDetail(context.Background(), "https://example.com/job/1")
	require.Error(t, err)
}

func TestScrapeDetail_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())

	_, err := client.ScrapeDetail(context.Background(), "https://example.com/job/1")
	require.Error(t, err)
}
