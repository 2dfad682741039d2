// Package importapi talks to the remote import API: one POST per file, which
// answers 202 with the URL of the import job it created.
package importapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxErrorBody caps how much of a rejected response is kept for the error.
const maxErrorBody = 64 << 10

// truncatedMarker ends a SubmissionError body that was cut at maxErrorBody.
const truncatedMarker = "... [truncated]"

// ErrMalformedResponse is returned when the API accepts a file but the reply
// does not carry a job URL.
var ErrMalformedResponse = errors.New("import api returned 202 without a job url")

// Doer is the part of *http.Client the submitter needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Job identifies an import job created by the API.
type Job struct {
	ID  string
	URL string
}

// SubmissionError is returned for any response other than 202 Accepted.
// Body holds the raw response body, cut after 64 KiB and then ending in
// "... [truncated]".
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("Failed to create import job, got response status code: %d, with content: %s", e.StatusCode, e.Body)
}

// Client submits file contents to the import API.
type Client struct {
	baseURL string
	token   string
	http    Doer
	logger  *zap.Logger
	observe func(status int, elapsed time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithTimeout sets the timeout of the default transport.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: timeout} }
}

// WithObserver registers a callback invoked after every live request with
// the response status (0 on transport errors) and the request latency.
func WithObserver(fn func(status int, elapsed time.Duration)) Option {
	return func(c *Client) { c.observe = fn }
}

// NewClient creates a Client for baseURL authenticating with token.
func NewClient(baseURL, token string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With(zap.String("component", "importapi")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the endpoint files for definitionID are posted to.
func (c *Client) URL(definitionID string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + definitionID
}

// Submit posts body to the import endpoint of definitionID. In dry run no
// request is made and the returned Job is empty.
func (c *Client) Submit(ctx context.Context, definitionID string, body []byte, contentType string, dryRun bool) (Job, error) {
	endpoint := c.URL(definitionID)
	if dryRun {
		c.logger.Info(fmt.Sprintf("Will POST file content to %s.", endpoint),
			zap.String("definition_id", definitionID),
			zap.Bool("dry_run", true))
		return Job{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Job{}, fmt.Errorf("build import request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(0, start)
		return Job{}, fmt.Errorf("post import file: %w", err)
	}
	defer resp.Body.Close()
	c.record(resp.StatusCode, start)

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
		body := string(raw)
		if len(raw) > maxErrorBody {
			body = string(raw[:maxErrorBody]) + truncatedMarker
		}
		return Job{}, &SubmissionError{StatusCode: resp.StatusCode, Body: body}
	}

	var accepted struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	id := JobID(accepted.URL)
	if id == "" {
		return Job{}, ErrMalformedResponse
	}
	c.logger.Info(fmt.Sprintf("Successfully created import job file with id: %s", id),
		zap.String("definition_id", definitionID),
		zap.String("job_url", accepted.URL))
	return Job{ID: id, URL: accepted.URL}, nil
}

func (c *Client) record(status int, start time.Time) {
	if c.observe != nil {
		c.observe(status, time.Since(start))
	}
}

// JobID extracts the job id from a job URL such as
// "https://api.example.com/data/importjobs/<id>/".
func JobID(jobURL string) string {
	trimmed := strings.TrimRight(jobURL, "/")
	if trimmed == "" {
		return ""
	}
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}
