// Package notes fetches field-technician context from the notes service.
// The feed is advisory: an unreachable or malformed feed degrades to empty
// context rather than failing the run.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

// Client implements pipeline.NotesSource against the notes service HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a notes-service client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FetchContext retrieves field notes and malfunction records for a run.
// Either feed failing independently degrades to empty for that feed; the
// engine treats absence as "no malfunction context", not an error.
func (c *Client) FetchContext(ctx context.Context) (domain.FieldContext, error) {
	var fieldCtx domain.FieldContext

	if err := c.getJSON(ctx, "/v1/field-notes", &fieldCtx.Notes); err != nil {
		c.logger.Warn("field note feed unavailable, continuing without notes", "error", err)
		fieldCtx.Notes = nil
	}
	if err := c.getJSON(ctx, "/v1/malfunctions", &fieldCtx.Malfunctions); err != nil {
		c.logger.Warn("malfunction feed unavailable, continuing without malfunction context", "error", err)
		fieldCtx.Malfunctions = nil
	}

	return fieldCtx, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notes request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notes API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Disabled is a NotesSource that always returns empty context, used when the
// notes feed is not configured.
type Disabled struct{}

// FetchContext returns empty field context.
func (Disabled) FetchContext(context.Context) (domain.FieldContext, error) {
	return domain.FieldContext{}, nil
}
