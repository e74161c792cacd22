// Package stream parses upstream event payloads for token accounting.
package stream

import "encoding/json"

// Kind tags an extraction outcome.
type Kind int

// Extraction outcomes, in precedence order.
const (
	// NoChange means the payload carries no usable usage data.
	NoChange Kind = iota
	// ExactTotal means the payload carries an authoritative token total
	// that replaces any running estimate.
	ExactTotal
	// Accumulate means the payload carries incremental content whose
	// estimated token count is added to the running total.
	Accumulate
)

// Outcome is the result of extracting usage data from one event payload.
type Outcome struct {
	Kind   Kind
	Tokens int64
}

// payload matches the union of the recognized vendor event shapes.
type payload struct {
	Usage   *usageFields `json:"usage"`
	Delta   *deltaFields `json:"delta"`
	Choices []choice     `json:"choices"`
}

// usageFields covers both the input/output breakdown (vendor style A)
// and the single total figure (vendor style B).
type usageFields struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

type deltaFields struct {
	Text string `json:"text"`
}

type choice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

// Extract inspects one decoded event payload and reports how it affects the
// running token total. exactSeen indicates that an authoritative figure has
// already been observed this stream; once true, content deltas no longer
// accumulate estimates.
//
// Malformed JSON yields NoChange: parsing failure never aborts a relay.
func Extract(data []byte, exactSeen bool) Outcome {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Outcome{Kind: NoChange}
	}

	if p.Usage != nil {
		// Exact breakdown replaces the running total; it is authoritative.
		if p.Usage.OutputTokens > 0 {
			return Outcome{Kind: ExactTotal, Tokens: p.Usage.InputTokens + p.Usage.OutputTokens}
		}
		if p.Usage.TotalTokens > 0 {
			return Outcome{Kind: ExactTotal, Tokens: p.Usage.TotalTokens}
		}
	}

	content := p.content()
	if content != "" && !exactSeen {
		return Outcome{Kind: Accumulate, Tokens: EstimateTokens(content)}
	}

	return Outcome{Kind: NoChange}
}

// content returns the incremental text of the payload, if any.
func (p *payload) content() string {
	if p.Delta != nil && p.Delta.Text != "" {
		return p.Delta.Text
	}
	if len(p.Choices) > 0 {
		return p.Choices[0].Delta.Content
	}
	return ""
}

// EstimateTokens approximates the token count of a content fragment as
// ceil(utf8len/4). A coarse fallback used only before an authoritative
// figure arrives; roughly 4 characters per token.
func EstimateTokens(content string) int64 {
	return int64((len(content) + 3) / 4)
}
