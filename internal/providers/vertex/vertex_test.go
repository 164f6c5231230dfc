package vertex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/core"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New("proj-1", "europe-west4", "token-abc", srv.Client())
	a.SetBaseURL(srv.URL)
	return a
}

func chatReq(model string) *core.ChatRequest {
	return &core.ChatRequest{
		Messages: []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}},
		Options:  core.ChatOptions{Model: model},
	}
}

func TestGenerate(t *testing.T) {
	var gotPath, gotAuth string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "Hello from Vertex"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 4, "totalTokenCount": 8}
		}`))
	})

	resp, err := a.Generate(context.Background(), chatReq("gemini-2.5-flash"))
	require.NoError(t, err)

	assert.Equal(t,
		"/projects/proj-1/locations/europe-west4/publishers/google/models/gemini-2.5-flash:generateContent",
		gotPath)
	assert.Equal(t, "Bearer token-abc", gotAuth)
	assert.Equal(t, "Hello from Vertex", resp.Text)
	assert.Equal(t, core.VendorVertex, resp.Vendor)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestStreamGenerate(t *testing.T) {
	var gotPath string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"str\"}]}}]}\n\n" +
				"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"eam\"}]},\"finishReason\":\"STOP\"}]}\n\n"))
	})

	stream, err := a.StreamGenerate(context.Background(), chatReq("gemini-2.5-flash"))
	require.NoError(t, err)

	resp, err := stream.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t,
		"/projects/proj-1/locations/europe-west4/publishers/google/models/gemini-2.5-flash:streamGenerateContent",
		gotPath)
	assert.Equal(t, "stream", resp.Text)
}

func TestGenerateUpstreamError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "backend error"}}`))
	})

	_, err := a.Generate(context.Background(), chatReq("gemini-2.5-flash"))
	require.Error(t, err)

	ge := core.AsError(err)
	assert.Equal(t, core.CodeTransient, ge.Code)
	assert.Equal(t, core.VendorVertex, ge.Vendor)
}

func TestDefaultLocation(t *testing.T) {
	a := New("proj-1", "", "token", nil)
	assert.Equal(t, "us-central1", a.location)
	assert.Contains(t, a.baseURL, "us-central1-aiplatform")
}

func TestSupportsGeminiFamily(t *testing.T) {
	a := New("proj-1", "", "token", nil)
	assert.True(t, a.Supports(core.ModelDescriptor{Vendor: core.VendorGemini}))
	assert.True(t, a.Supports(core.ModelDescriptor{Vendor: core.VendorVertex}))
	assert.False(t, a.Supports(core.ModelDescriptor{Vendor: core.VendorOpenRouter}))
}
