package openrouter

import (
	"encoding/json"

	"modelrelay/internal/core"
	"modelrelay/internal/streaming"
)

type chatRequest struct {
	Model         string           `json:"model"`
	Messages      []chatMessage    `json:"messages"`
	Temperature   *float64         `json:"temperature,omitempty"`
	MaxTokens     *int             `json:"max_tokens,omitempty"`
	TopP          *float64         `json:"top_p,omitempty"`
	TopK          *int             `json:"top_k,omitempty"`
	Stop          []string         `json:"stop,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
	Reasoning     *reasoningConfig `json:"reasoning,omitempty"`
	Tools         []wireTool       `json:"tools,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type reasoningConfig struct {
	MaxTokens int `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ImageURL   *imageURLPart   `json:"image_url,omitempty"`
	InputAudio *inputAudioPart `json:"input_audio,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type inputAudioPart struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func buildChatRequest(req *core.ChatRequest, stream bool) ([]byte, error) {
	opts := req.Options
	wire := chatRequest{
		Model:       wireModel(opts.Model),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxOutputTokens,
		TopP:        opts.TopP,
		TopK:        opts.TopK,
		Stop:        opts.StopSequences,
		Stream:      stream,
	}
	if stream {
		// Ask for authoritative totals on the final chunk.
		wire.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if opts.ThinkingBudget != nil {
		wire.Reasoning = &reasoningConfig{MaxTokens: *opts.ThinkingBudget}
	}

	if opts.SystemInstruction != "" {
		wire.Messages = append(wire.Messages, chatMessage{Role: "system", Content: opts.SystemInstruction})
	}
	for _, msg := range req.Messages {
		wire.Messages = append(wire.Messages, chatMessage{
			Role:    wireRole(msg.Role),
			Content: wireContent(msg),
		})
	}

	for _, t := range opts.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return json.Marshal(wire)
}

func wireRole(role core.Role) string {
	switch role {
	case core.RoleAssistant, core.RoleModel:
		return "assistant"
	case core.RoleSystem:
		return "system"
	default:
		return "user"
	}
}

// wireContent renders a message as a plain string when possible and as a
// multimodal content array otherwise.
func wireContent(msg core.ChatMessage) any {
	if len(msg.Parts) == 0 {
		return msg.Content
	}

	var parts []contentPart
	if msg.Content != "" {
		parts = append(parts, contentPart{Type: "text", Text: msg.Content})
	}
	for _, p := range msg.Parts {
		switch {
		case p.InlineData != nil:
			if isAudio(p.InlineData.MIMEType) {
				parts = append(parts, contentPart{
					Type:       "input_audio",
					InputAudio: &inputAudioPart{Data: p.InlineData.Data, Format: audioFormat(p.InlineData.MIMEType)},
				})
			} else {
				parts = append(parts, contentPart{
					Type:     "image_url",
					ImageURL: &imageURLPart{URL: "data:" + p.InlineData.MIMEType + ";base64," + p.InlineData.Data},
				})
			}
		case p.FileData != nil:
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURLPart{URL: p.FileData.URI},
			})
		case p.Text != "":
			parts = append(parts, contentPart{Type: "text", Text: p.Text})
		}
	}
	return parts
}

func isAudio(mime string) bool {
	return len(mime) > 6 && mime[:6] == "audio/"
}

func audioFormat(mime string) string {
	if len(mime) > 6 {
		return mime[6:]
	}
	return mime
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func parseChatResponse(body []byte, model string) (*core.ChatResponse, error) {
	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, core.NewError(core.CodeUpstreamProtocol, "failed to parse chat completion response", err)
	}
	if len(wire.Choices) == 0 {
		return nil, core.Errorf(core.CodeUpstreamProtocol, "response contained no choices")
	}

	choice := wire.Choices[0]
	finish := core.FinishStop
	if choice.FinishReason != "" {
		finish = streaming.MapOpenAIFinishReason(choice.FinishReason)
	}
	if finish == core.FinishSafety && choice.Message.Content == "" {
		return nil, &core.Error{
			Code:    core.CodeSafetyBlocked,
			Message: "content blocked by upstream moderation",
			Vendor:  core.VendorOpenRouter,
		}
	}

	resp := &core.ChatResponse{
		Text:         choice.Message.Content,
		FinishReason: finish,
		Model:        model,
		Vendor:       core.VendorOpenRouter,
	}
	if choice.Message.Reasoning != "" {
		resp.Thoughts = []string{choice.Message.Reasoning}
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.FunctionCalls = append(resp.FunctionCalls, core.FunctionCall{
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	if wire.Usage != nil {
		resp.Usage = core.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}
	return resp, nil
}
