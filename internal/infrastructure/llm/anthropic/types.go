package anthropic

// --- Anthropic Messages API Types ---
// Reference: https://docs.anthropic.com/en/api/messages
//
// Narrowed to the single-shot, JSON-only completion shape the task engine's
// planner and verifier need: no tool-use content blocks, no streaming event
// types — only text and (for the final verifier's optional screenshot
// attachment) image content blocks.

// Request is the Anthropic Messages API request format.
type Request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Message represents an Anthropic conversation message.
type Message struct {
	Role    string         `json:"role"` // "user" | "assistant"
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a polymorphic content element.
type ContentBlock struct {
	Type string `json:"type"` // "text" | "image"

	// For type "text"
	Text string `json:"text,omitempty"`

	// For type "image"
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource carries a base64-encoded image for a multimodal user message.
type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Response is the Anthropic Messages API response.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"` // "message"
	Role       string         `json:"role"` // "assistant"
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"` // "end_turn" | "max_tokens"
	Usage      Usage          `json:"usage"`
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns total token count.
func (u *Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}
