package provider

import (
	"time"
)

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation turn. Messages are immutable once
// created; compression replaces ranges of messages with synthetic
// summaries but never mutates a message in place.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Importance is a 0.0-1.0 score assigned during compression scoring.
	// Zero means unscored.
	Importance float64 `json:"importance,omitempty"`

	// IsSummary marks a message synthesized from a compressed range of
	// earlier messages.
	IsSummary bool `json:"is_summary,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// NewSummary creates a synthetic summary message. Summaries inherit the
// timestamp of the newest message they replace so ordering is preserved.
func NewSummary(content string, ts time.Time) Message {
	return Message{
		Role:       RoleAssistant,
		Content:    content,
		Timestamp:  ts,
		Importance: 1.0,
		IsSummary:  true,
	}
}

// Request configures a completion call handed to a provider adapter.
type Request struct {
	// ConversationID identifies the owning conversation.
	ConversationID string `json:"conversation_id"`

	// Messages is the (possibly compressed) history to send.
	Messages []Message `json:"messages"`

	// ProviderID and Model name the execution target.
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`

	// MaxTokens limits the response length. Zero means adapter default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Response is the output of a completion call.
type Response struct {
	// Content is the text response from the model.
	Content string `json:"content"`

	// Usage reports actual token consumption for the call.
	Usage TokenUsage `json:"usage"`

	// Model is the model that actually served the request.
	Model string `json:"model"`

	// Duration is the wall time of the call.
	Duration time.Duration `json:"duration"`
}

// Chunk is a piece of a streaming response. The final chunk has Done set
// and carries the total usage; errors during streaming arrive via Err.
type Chunk struct {
	Content string      `json:"content,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"`
	Done    bool        `json:"done"`
	Err     error       `json:"-"`
}

// TokenUsage tracks token consumption for a single call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add combines token usage from another TokenUsage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
