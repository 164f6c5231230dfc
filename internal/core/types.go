package core

import "encoding/json"

// Vendor identifies an upstream AI provider.
type Vendor string

const (
	VendorGemini     Vendor = "gemini"
	VendorVertex     Vendor = "vertex"
	VendorOpenRouter Vendor = "openrouter"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleModel is the Gemini-native spelling of the assistant role.
	// Adapters accept both and translate to whatever their vendor expects.
	RoleModel Role = "model"
)

// Blob holds inline binary content (base64-encoded) with its MIME type.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// FileRef points at previously uploaded content by URI.
type FileRef struct {
	MIMEType string `json:"mime_type"`
	URI      string `json:"uri"`
}

// Part is one ordered element of a message: text, inline data, or a file reference.
// Exactly one field is expected to be set.
type Part struct {
	Text       string   `json:"text,omitempty"`
	InlineData *Blob    `json:"inline_data,omitempty"`
	FileData   *FileRef `json:"file_data,omitempty"`
}

// ChatMessage represents a single message in the conversation.
// Content is a convenience for plain-text messages; Parts carries
// multimodal payloads. Adapters read messages, never mutate them.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatOptions holds per-request generation parameters.
type ChatOptions struct {
	Model             string   `json:"model"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxOutputTokens   *int     `json:"max_output_tokens,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	StopSequences     []string `json:"stop_sequences,omitempty"`
	SystemInstruction string   `json:"system_instruction,omitempty"`
	// ThinkingBudget caps internal reasoning tokens. Only valid for
	// models whose descriptor reports SupportsThinking.
	ThinkingBudget *int   `json:"thinking_budget,omitempty"`
	Tools          []Tool `json:"tools,omitempty"`
}

// ChatRequest is the internal representation of one generation call.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Options  ChatOptions   `json:"options"`
}

// WithModel returns a shallow copy of the request targeting a different model.
// Used by the fallback path; the caller's request is never mutated.
func (r *ChatRequest) WithModel(model string) *ChatRequest {
	clone := *r
	clone.Options.Model = model
	return &clone
}

// FinishReason is the normalized reason a generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishSafety    FinishReason = "safety"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// Usage represents token usage reported by the vendor.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ChatResponse is the normalized non-streaming result. Immutable once built.
type ChatResponse struct {
	Text          string         `json:"text"`
	Thoughts      []string       `json:"thoughts,omitempty"`
	FinishReason  FinishReason   `json:"finish_reason"`
	Usage         Usage          `json:"usage"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
	Model         string         `json:"model"`
	Vendor        Vendor         `json:"vendor,omitempty"`
}

// StreamChunk is one increment of a streaming response. A chunk carries
// text, thought, or both; the terminal chunk has Done=true and, when the
// vendor reports it, the authoritative final Usage.
type StreamChunk struct {
	Text         string       `json:"text,omitempty"`
	Thought      string       `json:"thought,omitempty"`
	Done         bool         `json:"done"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}

// ModelDescriptor is static metadata about one supported model.
// Descriptors are immutable and loaded at process start.
type ModelDescriptor struct {
	ID                      string `json:"id" yaml:"id"`
	Vendor                  Vendor `json:"vendor" yaml:"vendor"`
	MaxInputTokens          int    `json:"max_input_tokens" yaml:"max_input_tokens"`
	MaxOutputTokens         int    `json:"max_output_tokens" yaml:"max_output_tokens"`
	SupportsThinking        bool   `json:"supports_thinking" yaml:"supports_thinking"`
	SupportsVision          bool   `json:"supports_vision" yaml:"supports_vision"`
	SupportsAudio           bool   `json:"supports_audio" yaml:"supports_audio"`
	SupportsFunctionCalling bool   `json:"supports_function_calling" yaml:"supports_function_calling"`
}
