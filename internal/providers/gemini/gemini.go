// Package gemini implements the adapter for the Google Gemini API
// (generativelanguage.googleapis.com, generateContent dialect).
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"modelrelay/internal/core"
	"modelrelay/internal/streaming"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Adapter implements core.Adapter for the Gemini API.
type Adapter struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// New creates a Gemini adapter.
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

// SetBaseURL overrides the API endpoint. Used by tests and proxies.
func (a *Adapter) SetBaseURL(url string) {
	a.baseURL = url
}

// Vendor returns the vendor tag.
func (a *Adapter) Vendor() core.Vendor {
	return core.VendorGemini
}

// Supports reports whether this adapter can serve the model.
func (a *Adapter) Supports(desc core.ModelDescriptor) bool {
	return desc.Vendor == core.VendorGemini
}

// Generate executes one synchronous generateContent call.
func (a *Adapter) Generate(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, req.Options.Model)
	respBody, err := a.post(ctx, url, req)
	if err != nil {
		return nil, err
	}
	return ParseGenerateResponse(respBody, req.Options.Model, core.VendorGemini)
}

// StreamGenerate executes one streaming generateContent call and returns
// the normalized chunk stream.
func (a *Adapter) StreamGenerate(ctx context.Context, req *core.ChatRequest) (*core.Stream, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.baseURL, req.Options.Model)
	body, err := a.postStream(ctx, url, req)
	if err != nil {
		return nil, err
	}
	// The normalized stream owns the body; closing it releases the connection.
	return streaming.Normalize(body, streaming.DecodeGemini, core.VendorGemini), nil
}

func (a *Adapter) post(ctx context.Context, url string, req *core.ChatRequest) ([]byte, error) {
	payload, err := BuildGenerateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.AsError(fmt.Errorf("gemini request failed: %w", err))
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewError(core.CodeTransient, "failed to read gemini response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.ParseVendorError(core.VendorGemini, resp.StatusCode, respBody, nil)
	}
	return respBody, nil
}

func (a *Adapter) postStream(ctx context.Context, url string, req *core.ChatRequest) (io.ReadCloser, error) {
	payload, err := BuildGenerateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.AsError(fmt.Errorf("gemini stream request failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = nil
		}
		_ = resp.Body.Close() //nolint:errcheck
		return nil, core.ParseVendorError(core.VendorGemini, resp.StatusCode, respBody, nil)
	}
	return resp.Body, nil
}
