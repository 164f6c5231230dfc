package gemini

import (
	"encoding/json"

	"modelrelay/internal/core"
	"modelrelay/internal/streaming"
)

// Wire shapes for the generateContent dialect. Vertex AI speaks the same
// format, so the Vertex adapter reuses BuildGenerateRequest and
// ParseGenerateResponse.

type wireRequest struct {
	Contents          []wireContent   `json:"contents"`
	SystemInstruction *wireContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *wireGenConfig  `json:"generationConfig,omitempty"`
	Tools             []wireToolGroup `json:"tools,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *wireBlob     `json:"inlineData,omitempty"`
	FileData   *wireFileData `json:"fileData,omitempty"`
}

type wireBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireFileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type wireGenConfig struct {
	Temperature     *float64            `json:"temperature,omitempty"`
	MaxOutputTokens *int                `json:"maxOutputTokens,omitempty"`
	TopP            *float64            `json:"topP,omitempty"`
	TopK            *int                `json:"topK,omitempty"`
	StopSequences   []string            `json:"stopSequences,omitempty"`
	ThinkingConfig  *wireThinkingConfig `json:"thinkingConfig,omitempty"`
}

type wireThinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

type wireToolGroup struct {
	FunctionDeclarations []wireFunctionDecl `json:"functionDeclarations"`
}

type wireFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// BuildGenerateRequest translates the internal request into the
// generateContent wire format. System messages fold into the
// systemInstruction block alongside Options.SystemInstruction.
func BuildGenerateRequest(req *core.ChatRequest) ([]byte, error) {
	wire := wireRequest{}

	var systemParts []wirePart
	if si := req.Options.SystemInstruction; si != "" {
		systemParts = append(systemParts, wirePart{Text: si})
	}

	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			if msg.Content != "" {
				systemParts = append(systemParts, wirePart{Text: msg.Content})
			}
			for _, p := range msg.Parts {
				if p.Text != "" {
					systemParts = append(systemParts, wirePart{Text: p.Text})
				}
			}
			continue
		}
		wire.Contents = append(wire.Contents, wireContent{
			Role:  wireRole(msg.Role),
			Parts: wireParts(msg),
		})
	}

	if len(systemParts) > 0 {
		wire.SystemInstruction = &wireContent{Parts: systemParts}
	}

	opts := req.Options
	if opts.Temperature != nil || opts.MaxOutputTokens != nil || opts.TopP != nil ||
		opts.TopK != nil || len(opts.StopSequences) > 0 || opts.ThinkingBudget != nil {
		cfg := &wireGenConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
			TopP:            opts.TopP,
			TopK:            opts.TopK,
			StopSequences:   opts.StopSequences,
		}
		if opts.ThinkingBudget != nil {
			cfg.ThinkingConfig = &wireThinkingConfig{
				ThinkingBudget:  *opts.ThinkingBudget,
				IncludeThoughts: true,
			}
		}
		wire.GenerationConfig = cfg
	}

	if len(opts.Tools) > 0 {
		group := wireToolGroup{}
		for _, t := range opts.Tools {
			group.FunctionDeclarations = append(group.FunctionDeclarations, wireFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		wire.Tools = []wireToolGroup{group}
	}

	return json.Marshal(wire)
}

func wireRole(role core.Role) string {
	switch role {
	case core.RoleAssistant, core.RoleModel:
		return "model"
	default:
		return "user"
	}
}

func wireParts(msg core.ChatMessage) []wirePart {
	var parts []wirePart
	if msg.Content != "" {
		parts = append(parts, wirePart{Text: msg.Content})
	}
	for _, p := range msg.Parts {
		switch {
		case p.InlineData != nil:
			parts = append(parts, wirePart{InlineData: &wireBlob{
				MIMEType: p.InlineData.MIMEType,
				Data:     p.InlineData.Data,
			}})
		case p.FileData != nil:
			parts = append(parts, wirePart{FileData: &wireFileData{
				MIMEType: p.FileData.MIMEType,
				FileURI:  p.FileData.URI,
			}})
		case p.Text != "":
			parts = append(parts, wirePart{Text: p.Text})
		}
	}
	return parts
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string `json:"text"`
				Thought      bool   `json:"thought"`
				FunctionCall *struct {
					Name string          `json:"name"`
					Args json.RawMessage `json:"args"`
				} `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// ParseGenerateResponse translates a generateContent response body into
// the internal ChatResponse. A blocked prompt surfaces as SafetyBlocked.
func ParseGenerateResponse(body []byte, model string, vendor core.Vendor) (*core.ChatResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, core.NewError(core.CodeUpstreamProtocol, "failed to parse generateContent response", err)
	}

	if len(wire.Candidates) == 0 {
		if wire.PromptFeedback != nil && wire.PromptFeedback.BlockReason != "" {
			return nil, &core.Error{
				Code:    core.CodeSafetyBlocked,
				Message: "prompt blocked: " + wire.PromptFeedback.BlockReason,
				Vendor:  vendor,
			}
		}
		return nil, core.Errorf(core.CodeUpstreamProtocol, "response contained no candidates")
	}

	candidate := wire.Candidates[0]
	resp := &core.ChatResponse{
		Model:        model,
		Vendor:       vendor,
		FinishReason: core.FinishStop,
	}
	for _, p := range candidate.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			resp.FunctionCalls = append(resp.FunctionCalls, core.FunctionCall{
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			})
		case p.Thought:
			resp.Thoughts = append(resp.Thoughts, p.Text)
		default:
			resp.Text += p.Text
		}
	}
	if candidate.FinishReason != "" {
		resp.FinishReason = streaming.MapGeminiFinishReason(candidate.FinishReason)
	}
	if len(resp.FunctionCalls) > 0 && resp.FinishReason == core.FinishStop {
		resp.FinishReason = core.FinishToolCalls
	}
	if um := wire.UsageMetadata; um != nil {
		resp.Usage = core.Usage{
			PromptTokens:     um.PromptTokenCount,
			CompletionTokens: um.CandidatesTokenCount + um.ThoughtsTokenCount,
			TotalTokens:      um.TotalTokenCount,
		}
	}
	return resp, nil
}
