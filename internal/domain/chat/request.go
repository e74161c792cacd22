// Package chat defines the vendor-neutral chat completion request.
package chat

import (
	"fmt"

	"github.com/kailas-cloud/promptgate/internal/domain"
)

// Default request parameters.
const (
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.7
)

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a vendor-neutral chat completion request.
// Provider adapters translate it into the vendor's wire shape.
type Request struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// ApplyDefaults fills unset optional parameters.
func (r *Request) ApplyDefaults() {
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
}

// Validate rejects requests missing provider, model or messages.
// Runs before any upstream call is made.
func (r *Request) Validate() error {
	if r.Provider == "" {
		return fmt.Errorf("%w: provider is required", domain.ErrInvalidRequest)
	}
	if r.Model == "" {
		return fmt.Errorf("%w: model is required", domain.ErrInvalidRequest)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", domain.ErrInvalidRequest)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", domain.ErrInvalidRequest)
	}
	return nil
}
