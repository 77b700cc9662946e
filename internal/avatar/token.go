// Package avatar adapts the streaming-avatar vendor: a REST token endpoint and
// a WebSocket command/event stream.
package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/resilience"
)

var (
	ErrMissingAPIKey = errors.New("avatar: api key is not configured")
	ErrEmptyToken    = errors.New("avatar: token response without token")
)

type TokenClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *log.Logger
}

// TokenClient exchanges the server-side API key for a short-lived stream token.
type TokenClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	logger     *log.Logger
}

func NewTokenClient(config TokenClientConfig) *TokenClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.heygen.com"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &TokenClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
	}
}

func (c *TokenClient) FetchAccessToken(ctx context.Context) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	var token string
	retry := resilience.RetryConfig{
		MaxRetries: c.maxRetries,
		BaseDelay:  300 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Logger:     c.logger,
		Operation:  "avatar.create_token",
	}
	err := resilience.Retry(ctx, retry, func() error {
		var callErr error
		token, callErr = c.createToken(ctx)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (c *TokenClient) createToken(ctx context.Context) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.baseURL+"/v1/streaming.create_token", nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	httpRequest.Header.Set("x-api-key", c.apiKey)
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("avatar token transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return "", fmt.Errorf("read token body: %w", err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 300 {
			message = message[:300]
		}
		return "", &HTTPError{StatusCode: httpResponse.StatusCode, Message: message}
	}

	var response struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	token := strings.TrimSpace(response.Data.Token)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("avatar status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
