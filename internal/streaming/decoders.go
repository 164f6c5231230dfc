package streaming

import (
	"fmt"

	"github.com/tidwall/gjson"

	"modelrelay/internal/core"
)

// DecodeGemini parses one frame of the Gemini generateContent SSE dialect,
// shared by the Gemini and Vertex adapters. Thought parts are flagged with
// "thought": true inside the candidate content.
func DecodeGemini(payload []byte) (Frame, error) {
	if !gjson.ValidBytes(payload) {
		return Frame{}, fmt.Errorf("invalid JSON frame")
	}
	root := gjson.ParseBytes(payload)

	var frame Frame

	candidate := root.Get("candidates.0")
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		text := part.Get("text").String()
		if part.Get("thought").Bool() {
			frame.Thought += text
		} else {
			frame.Text += text
		}
		return true
	})

	if fr := candidate.Get("finishReason"); fr.Exists() {
		frame.Finish = MapGeminiFinishReason(fr.String())
	}
	// A blocked prompt arrives as promptFeedback with no candidates.
	if br := root.Get("promptFeedback.blockReason"); br.Exists() && br.String() != "" {
		frame.Finish = core.FinishSafety
	}

	if um := root.Get("usageMetadata"); um.Exists() {
		completion := int(um.Get("candidatesTokenCount").Int() + um.Get("thoughtsTokenCount").Int())
		frame.Usage = &core.Usage{
			PromptTokens:     int(um.Get("promptTokenCount").Int()),
			CompletionTokens: completion,
			TotalTokens:      int(um.Get("totalTokenCount").Int()),
		}
	}
	return frame, nil
}

// DecodeOpenAI parses one frame of the OpenAI chat-completions chunk
// dialect used by OpenRouter. Reasoning deltas map to thought content.
func DecodeOpenAI(payload []byte) (Frame, error) {
	if !gjson.ValidBytes(payload) {
		return Frame{}, fmt.Errorf("invalid JSON frame")
	}
	root := gjson.ParseBytes(payload)

	var frame Frame

	delta := root.Get("choices.0.delta")
	frame.Text = delta.Get("content").String()
	frame.Thought = delta.Get("reasoning").String()

	if fr := root.Get("choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
		frame.Finish = MapOpenAIFinishReason(fr.String())
	}
	if root.Get("error").Exists() {
		frame.Finish = core.FinishError
	}

	if u := root.Get("usage"); u.Exists() && u.IsObject() {
		frame.Usage = &core.Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
		}
	}
	return frame, nil
}

// MapGeminiFinishReason normalizes Gemini candidate finish reasons.
func MapGeminiFinishReason(reason string) core.FinishReason {
	switch reason {
	case "STOP":
		return core.FinishStop
	case "MAX_TOKENS":
		return core.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return core.FinishSafety
	case "MALFORMED_FUNCTION_CALL":
		return core.FinishError
	default:
		return core.FinishError
	}
}

// MapOpenAIFinishReason normalizes OpenAI-dialect finish reasons.
func MapOpenAIFinishReason(reason string) core.FinishReason {
	switch reason {
	case "stop", "end_turn":
		return core.FinishStop
	case "length":
		return core.FinishLength
	case "content_filter":
		return core.FinishSafety
	case "tool_calls", "function_call":
		return core.FinishToolCalls
	default:
		return core.FinishError
	}
}
