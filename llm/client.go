// Package llm talks to oracle endpoints. The Client resolves a role through the
// model registry, retries transient failures with jittered backoff and walks
// the fallback chain while the registry tracks endpoint health.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/semplan/model"
	"github.com/google/uuid"
)

// maxResponseSize caps how much of a reply body is read.
const maxResponseSize = 10 * 1024 * 1024

// Completer is anything that answers a completion request.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client is a provider-agnostic oracle client.
type Client struct {
	registry    *model.Registry
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

var _ Completer = (*Client)(nil)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	// Role selects the endpoints through the registry.
	Role model.Role

	Messages []Message

	// Temperature is nil for the endpoint default.
	Temperature *float64

	// MaxTokens of 0 uses the endpoint setting.
	MaxTokens int
}

// TokenUsage reports token consumption for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completion result.
type Response struct {
	// RequestID correlates log lines of one Complete call.
	RequestID    string
	Content      string
	Model        string
	Endpoint     string
	Usage        TokenUsage
	FinishReason string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry policy.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client over registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry:    registry,
		retryConfig: DefaultRetryConfig(),
		httpClient:  &http.Client{Timeout: 180 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends req to the first healthy endpoint of its role, retrying and
// falling back as needed. A fatal error stops the walk.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Role == "" {
		return nil, errors.New("role is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	requestID := uuid.New().String()
	chain := c.registry.GetAvailableFallbackChain(req.Role)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no endpoints configured for role %s", req.Role)
	}

	var lastErr error
	for _, name := range chain {
		ep := c.registry.GetEndpoint(name)
		if ep == nil {
			c.logger.Debug("No endpoint configured, skipping", "endpoint", name, "request_id", requestID)
			continue
		}
		if !c.registry.IsEndpointAvailable(name) {
			c.logger.Debug("Endpoint circuit open, skipping", "endpoint", name, "request_id", requestID)
			continue
		}

		resp, err := c.tryEndpoint(ctx, ep, name, req)
		if err == nil {
			resp.RequestID = requestID
			resp.Endpoint = name
			return resp, nil
		}
		lastErr = err

		if IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("Endpoint failed, trying fallback",
			"endpoint", name,
			"provider", ep.Provider,
			"request_id", requestID,
			"error", err)
	}

	if lastErr == nil {
		lastErr = errors.New("no usable endpoint")
	}
	return nil, fmt.Errorf("all endpoints failed for role %s: %w", req.Role, lastErr)
}

// tryEndpoint runs the retry loop against one endpoint.
func (c *Client) tryEndpoint(ctx context.Context, ep *model.EndpointConfig, name string, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, ep, req)
		if err == nil {
			c.registry.MarkEndpointSuccess(name)
			return resp, nil
		}
		lastErr = err

		// Auth and request errors say nothing about endpoint health.
		if IsFatal(err) {
			return nil, err
		}
		if attempt == c.retryConfig.MaxAttempts {
			break
		}

		backoff := c.retryConfig.Backoff(attempt)
		c.logger.Debug("Request failed, retrying",
			"endpoint", name,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	c.registry.MarkEndpointFailure(name)
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = ep.MaxTokens
	}
	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, maxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	url := provider.BuildURL(ep.URL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	c.logger.Debug("Sending oracle request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"role", req.Role)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	resp, err := provider.ParseResponse(respBody, ep.Model)
	if err != nil {
		return nil, NewTransientError(err)
	}
	return resp, nil
}
