package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/core"
)

func TestDescribeReturnsMatchingDescriptor(t *testing.T) {
	r := New()
	for _, d := range r.List() {
		got, err := r.Describe(d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID, "descriptor id must equal the lookup key")
		assert.NotEmpty(t, got.Vendor)
		assert.Greater(t, got.MaxInputTokens, 0)
		assert.Greater(t, got.MaxOutputTokens, 0)
	}
}

func TestDescribeUnknownModel(t *testing.T) {
	r := New()
	_, err := r.Describe("gpt-99-ultra")
	var ge *core.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, core.CodeUnknownModel, ge.Code)
}

func TestListSorted(t *testing.T) {
	r := New()
	list := r.List()
	require.Equal(t, r.Count(), len(list))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	data := `
- id: gemini-2.5-flash
  vendor: gemini
  max_input_tokens: 2048
  max_output_tokens: 1024
- id: custom/in-house-model
  vendor: openrouter
  max_input_tokens: 8192
  max_output_tokens: 4096
  supports_function_calling: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)

	d, err := r.Describe("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, 2048, d.MaxInputTokens, "file entry overrides the built-in")
	assert.False(t, d.SupportsThinking, "override replaces the descriptor wholesale")

	d, err = r.Describe("custom/in-house-model")
	require.NoError(t, err)
	assert.Equal(t, core.VendorOpenRouter, d.Vendor)

	// Built-ins not mentioned in the file survive
	_, err = r.Describe("gemini-2.5-pro")
	assert.NoError(t, err)
}

func TestLoadFileRejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- vendor: gemini\n"), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestValidateRequest(t *testing.T) {
	r := New()
	budget := 1024
	tooMany := 1 << 20

	tests := []struct {
		name     string
		req      *core.ChatRequest
		wantCode core.Code
	}{
		{
			name: "unknown model",
			req: &core.ChatRequest{
				Options: core.ChatOptions{Model: "nope"},
			},
			wantCode: core.CodeUnknownModel,
		},
		{
			name: "thinking budget on non-thinking model",
			req: &core.ChatRequest{
				Options: core.ChatOptions{Model: "gemini-2.0-flash", ThinkingBudget: &budget},
			},
			wantCode: core.CodeInvalidConfiguration,
		},
		{
			name: "tools on model without function calling",
			req: &core.ChatRequest{
				Options: core.ChatOptions{
					Model: "deepseek/deepseek-r1",
					Tools: []core.Tool{{Name: "lookup"}},
				},
			},
			wantCode: core.CodeInvalidConfiguration,
		},
		{
			name: "max output tokens over the model limit",
			req: &core.ChatRequest{
				Options: core.ChatOptions{Model: "gemini-2.0-flash", MaxOutputTokens: &tooMany},
			},
			wantCode: core.CodeInvalidConfiguration,
		},
		{
			name: "image part on text-only model",
			req: &core.ChatRequest{
				Messages: []core.ChatMessage{{
					Role: core.RoleUser,
					Parts: []core.Part{
						{InlineData: &core.Blob{MIMEType: "image/png", Data: "aGk="}},
					},
				}},
				Options: core.ChatOptions{Model: "meta-llama/llama-3.3-70b-instruct"},
			},
			wantCode: core.CodeInvalidConfiguration,
		},
		{
			name: "audio part on model without audio",
			req: &core.ChatRequest{
				Messages: []core.ChatMessage{{
					Role: core.RoleUser,
					Parts: []core.Part{
						{FileData: &core.FileRef{MIMEType: "audio/wav", URI: "files/abc"}},
					},
				}},
				Options: core.ChatOptions{Model: "gemini-2.0-flash-lite"},
			},
			wantCode: core.CodeInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateRequest(tt.req)
			var ge *core.Error
			require.True(t, errors.As(err, &ge))
			assert.Equal(t, tt.wantCode, ge.Code)
		})
	}

	// Valid request passes
	err := r.ValidateRequest(&core.ChatRequest{
		Messages: []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}},
		Options:  core.ChatOptions{Model: "gemini-2.5-flash", ThinkingBudget: &budget},
	})
	assert.NoError(t, err)
}
