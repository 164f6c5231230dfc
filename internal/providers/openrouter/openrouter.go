// Package openrouter implements the adapter for the OpenRouter aggregator
// (OpenAI-compatible chat completions dialect).
package openrouter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"modelrelay/internal/core"
	"modelrelay/internal/streaming"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Adapter implements core.Adapter for OpenRouter.
type Adapter struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// New creates an OpenRouter adapter.
func New(apiKey string, httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{
		httpClient: httpClient,
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (a *Adapter) SetBaseURL(url string) {
	a.baseURL = url
}

// Vendor returns the vendor tag.
func (a *Adapter) Vendor() core.Vendor {
	return core.VendorOpenRouter
}

// Supports reports whether this adapter can serve the model. OpenRouter is
// an aggregator and can serve any model in the registry; Gemini-family ids
// are rewritten with the google/ namespace on the wire.
func (a *Adapter) Supports(core.ModelDescriptor) bool {
	return true
}

// Generate executes one synchronous chat completion call.
func (a *Adapter) Generate(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	resp, err := a.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewError(core.CodeTransient, "failed to read openrouter response", err)
	}
	return parseChatResponse(respBody, req.Options.Model)
}

// StreamGenerate executes one streaming chat completion call.
func (a *Adapter) StreamGenerate(ctx context.Context, req *core.ChatRequest) (*core.Stream, error) {
	resp, err := a.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return streaming.Normalize(resp.Body, streaming.DecodeOpenAI, core.VendorOpenRouter), nil
}

func (a *Adapter) do(ctx context.Context, req *core.ChatRequest, stream bool) (*http.Response, error) {
	payload, err := buildChatRequest(req, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.AsError(fmt.Errorf("openrouter request failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = nil
		}
		_ = resp.Body.Close() //nolint:errcheck
		return nil, core.ParseVendorError(core.VendorOpenRouter, resp.StatusCode, respBody, nil)
	}
	return resp, nil
}

// wireModel maps a registry model id to OpenRouter's namespaced id.
// OpenRouter ids already carry a vendor prefix; bare Gemini ids get the
// google/ namespace.
func wireModel(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	return "google/" + model
}
