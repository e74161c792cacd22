package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/chat"
	"github.com/kailas-cloud/promptgate/internal/metrics"
)

// Anthropic is the adapter for the Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	baseURL    string
	apiVersion string
	client     *http.Client
	logger     *zap.Logger
}

// AnthropicConfig holds the Anthropic adapter settings.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	Logger     *zap.Logger
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2023-06-01"
	}
	return &Anthropic{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		// cfg.Timeout bounds the connect/headers phase only. No overall
		// client timeout: the response body is an unbounded stream, and the
		// request context carries cancellation.
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: cfg.Timeout},
		},
		logger: cfg.Logger,
	}
}

// Name implements Provider.
func (a *Anthropic) Name() string { return "anthropic" }

// anthropicRequest is the Messages API wire shape. The system instruction is
// a top-level field sibling to messages.
type anthropicRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	Stream      bool           `json:"stream"`
	System      string         `json:"system,omitempty"`
	Messages    []chat.Message `json:"messages"`
}

// Send implements Provider. Always requests a streaming response.
func (a *Anthropic) Send(ctx context.Context, req chat.Request) (io.ReadCloser, error) {
	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: *req.Temperature,
		Stream:      true,
		System:      req.System,
		Messages:    req.Messages,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.apiVersion)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, connectError(a.Name(), err)
	}
	metrics.UpstreamRequestDuration.WithLabelValues(a.Name()).Observe(time.Since(start).Seconds())

	if !isSuccess(resp) {
		raw := drainBody(resp.Body)
		return nil, domain.NewUpstreamError(resp.StatusCode, parseAnthropicError(raw))
	}

	a.logger.Debug("upstream stream established",
		zap.String("provider", a.Name()),
		zap.String("model", req.Model),
		zap.Duration("headers_after", time.Since(start)))

	return resp.Body, nil
}

// parseAnthropicError extracts the message from an Anthropic error envelope,
// falling back to a generic message when the payload cannot be parsed.
func parseAnthropicError(raw []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return "AI API error"
}
