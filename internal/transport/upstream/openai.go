package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/chat"
	"github.com/kailas-cloud/promptgate/internal/metrics"
)

// OpenAI is the adapter for the OpenAI Chat Completions API. The wire body is
// built from go-openai request types; the response is consumed as a raw byte
// stream because the relay forwards it untouched.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// OpenAIConfig holds the OpenAI adapter settings.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewOpenAI creates an OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
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
func (o *OpenAI) Name() string { return "openai" }

// Send implements Provider. The system instruction has no top-level field in
// this API; it is prepended as a synthetic leading message with the system
// role. Always requests a streaming response.
func (o *OpenAI) Send(ctx context.Context, req chat.Request) (io.ReadCloser, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	body := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(*req.Temperature),
		Stream:      true,
		Messages:    messages,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, connectError(o.Name(), err)
	}
	metrics.UpstreamRequestDuration.WithLabelValues(o.Name()).Observe(time.Since(start).Seconds())

	if !isSuccess(resp) {
		raw := drainBody(resp.Body)
		return nil, domain.NewUpstreamError(resp.StatusCode, parseOpenAIError(raw))
	}

	o.logger.Debug("upstream stream established",
		zap.String("provider", o.Name()),
		zap.String("model", req.Model),
		zap.Duration("headers_after", time.Since(start)))

	return resp.Body, nil
}

// parseOpenAIError extracts the message from an OpenAI error envelope,
// falling back to a generic message when the payload cannot be parsed.
func parseOpenAIError(raw []byte) string {
	var parsed struct {
		Error *openai.APIError `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return "AI API error"
}
