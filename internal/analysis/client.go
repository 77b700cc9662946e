// Package analysis talks to the remote answer-analysis API over HTTP.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/resilience"
)

var (
	ErrMissingJobID    = errors.New("analysis: response without job_id")
	ErrEmptyResult     = errors.New("analysis: empty result payload")
	errInvalidJSON     = errors.New("invalid json")
	ErrInvalidMediaURL = errors.New("analysis: media url is required")
)

type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client implements create/status/result over the create_answer endpoints.
type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	logger     *log.Logger
}

func NewClient(config ClientConfig) *Client {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "http://localhost:8000"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
	}
}

// Create submits a media url and returns the remote job id. Transient
// failures are retried before giving up.
func (c *Client) Create(ctx context.Context, mediaURL string) (string, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return "", ErrInvalidMediaURL
	}
	payload, err := json.Marshal(map[string]string{"video_url": mediaURL})
	if err != nil {
		return "", fmt.Errorf("marshal create payload: %w", err)
	}

	var jobID string
	err = resilience.Retry(ctx, c.retryConfig("create"), func() error {
		body, callErr := c.do(ctx, http.MethodPost, "/api/create_answer/", payload)
		if callErr != nil {
			return callErr
		}
		var response struct {
			JobID json.RawMessage `json:"job_id"`
		}
		if decodeErr := json.Unmarshal(body, &response); decodeErr != nil {
			return fmt.Errorf("decode create response: %w", decodeErr)
		}
		jobID = rawID(response.JobID)
		if jobID == "" {
			return ErrMissingJobID
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// Status performs a single status query. The caller owns the retry budget.
func (c *Client) Status(ctx context.Context, jobID string) (domain.StatusReport, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/create_answer/"+url.PathEscape(jobID), nil)
	if err != nil {
		return domain.StatusReport{}, err
	}

	var response struct {
		Status string `json:"status"`
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return domain.StatusReport{}, &TransportError{Op: "decode status response", Err: err}
	}

	return domain.StatusReport{
		Status: normalizeStatus(response.Status),
		Error:  firstNonEmpty(response.Error, response.Detail),
	}, nil
}

// FetchResult downloads the evaluation payload of a completed job.
func (c *Client) FetchResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	var result json.RawMessage
	err := resilience.Retry(ctx, c.retryConfig("fetch_result"), func() error {
		body, callErr := c.do(ctx, http.MethodGet, "/api/create_answer/"+url.PathEscape(jobID)+"/result", nil)
		if callErr != nil {
			return callErr
		}
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return ErrEmptyResult
		}
		if !json.Valid(trimmed) {
			return &TransportError{Op: "decode result response", Err: errInvalidJSON}
		}
		result = json.RawMessage(trimmed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpRequest, err := http.NewRequestWithContext(timeoutCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create analysis request: %w", err)
	}
	httpRequest.Header.Set("Accept", "application/json")
	if payload != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("analysis timeout: %w", context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("analysis transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "read body", Err: err}
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 500 {
			message = message[:500]
		}
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}
	return body, nil
}

func (c *Client) retryConfig(operation string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxRetries = c.maxRetries
	cfg.BaseDelay = 350 * time.Millisecond
	cfg.MaxDelay = 3 * time.Second
	cfg.Logger = c.logger
	cfg.Operation = "analysis." + operation
	return cfg
}

// rawID accepts both string and numeric job ids.
func rawID(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}

func normalizeStatus(value string) domain.RemoteStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "completed", "complete", "done", "succeeded", "success":
		return domain.RemoteStatusCompleted
	case "failed", "failure", "error":
		return domain.RemoteStatusFailed
	case "processing", "running", "in_progress":
		return domain.RemoteStatusProcessing
	default:
		return domain.RemoteStatusPending
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
