package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"modelrelay/internal/core"
)

const generateBody = `{
	"candidates": [{
		"content": {"parts": [
			{"text": "thinking it over", "thought": true},
			{"text": "Hello from Gemini"}
		]},
		"finishReason": "STOP"
	}],
	"usageMetadata": {
		"promptTokenCount": 12,
		"candidatesTokenCount": 5,
		"thoughtsTokenCount": 7,
		"totalTokenCount": 24
	}
}`

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New("test-key", srv.Client())
	a.SetBaseURL(srv.URL)
	return a
}

func TestGenerate(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		gotBody = mustReadAll(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(generateBody))
	})

	req := &core.ChatRequest{
		Messages: []core.ChatMessage{
			{Role: core.RoleSystem, Content: "be brief"},
			{Role: core.RoleUser, Content: "hi"},
		},
		Options: core.ChatOptions{Model: "gemini-2.5-flash"},
	}
	resp, err := a.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.5-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "be brief", gjson.GetBytes(gotBody, "systemInstruction.parts.0.text").String())
	assert.Equal(t, "hi", gjson.GetBytes(gotBody, "contents.0.parts.0.text").String())

	assert.Equal(t, "Hello from Gemini", resp.Text)
	assert.Equal(t, []string{"thinking it over"}, resp.Thoughts)
	assert.Equal(t, core.FinishStop, resp.FinishReason)
	assert.Equal(t, core.VendorGemini, resp.Vendor)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 12, resp.Usage.CompletionTokens, "thought tokens count toward completion")
	assert.Equal(t, 24, resp.Usage.TotalTokens)
}

func TestGenerateQuotaError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "quota exhausted"}}`))
	})

	_, err := a.Generate(context.Background(), chatReq("gemini-2.5-flash"))
	require.Error(t, err)

	ge := core.AsError(err)
	assert.Equal(t, core.CodeQuotaExceeded, ge.Code)
	assert.Equal(t, "quota exhausted", ge.Message)
	assert.Equal(t, core.VendorGemini, ge.Vendor)
	assert.True(t, ge.Retryable())
}

func TestGenerateModelNotFound(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"message": "model not found"}}`))
	})

	_, err := a.Generate(context.Background(), chatReq("gemini-2.5-flash"))
	require.Error(t, err)

	ge := core.AsError(err)
	assert.Equal(t, core.CodeModelNotAvailable, ge.Code)
	assert.True(t, ge.TriggersFallback())
}

func TestGenerateBlockedPrompt(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback": {"blockReason": "SAFETY"}}`))
	})

	_, err := a.Generate(context.Background(), chatReq("gemini-2.5-flash"))
	require.Error(t, err)
	assert.Equal(t, core.CodeSafetyBlocked, core.AsError(err).Code)
}

func TestStreamGenerate(t *testing.T) {
	var gotPath, gotQuery string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]}}]}\n\n" +
				"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":3,\"candidatesTokenCount\":2,\"totalTokenCount\":5}}\n\n"))
	})

	stream, err := a.StreamGenerate(context.Background(), chatReq("gemini-2.5-flash"))
	require.NoError(t, err)

	resp, err := stream.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.5-flash:streamGenerateContent", gotPath)
	assert.Equal(t, "alt=sse", gotQuery)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, core.FinishStop, resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestStreamGenerateUpstreamError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
	})

	_, err := a.StreamGenerate(context.Background(), chatReq("gemini-2.5-flash"))
	require.Error(t, err)
	assert.Equal(t, core.CodeModelNotAvailable, core.AsError(err).Code)
}

func TestSupports(t *testing.T) {
	a := New("k", nil)
	assert.True(t, a.Supports(core.ModelDescriptor{Vendor: core.VendorGemini}))
	assert.False(t, a.Supports(core.ModelDescriptor{Vendor: core.VendorOpenRouter}))
	assert.False(t, a.Supports(core.ModelDescriptor{Vendor: core.VendorVertex}))
}

func chatReq(model string) *core.ChatRequest {
	return &core.ChatRequest{
		Messages: []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}},
		Options:  core.ChatOptions{Model: model},
	}
}

func mustReadAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	buf, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return buf
}
