// Package vertex implements the adapter for Vertex AI. Vertex speaks the
// same generateContent dialect as the Gemini API but is addressed by
// project and location and authenticated with a bearer token.
package vertex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"modelrelay/internal/core"
	"modelrelay/internal/providers/gemini"
	"modelrelay/internal/streaming"
)

// Adapter implements core.Adapter for Vertex AI.
type Adapter struct {
	httpClient  *http.Client
	projectID   string
	location    string
	accessToken string
	baseURL     string
}

// New creates a Vertex adapter. location defaults to us-central1.
func New(projectID, location, accessToken string, httpClient *http.Client) *Adapter {
	if location == "" {
		location = "us-central1"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{
		httpClient:  httpClient,
		projectID:   projectID,
		location:    location,
		accessToken: accessToken,
		baseURL:     fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", location),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (a *Adapter) SetBaseURL(url string) {
	a.baseURL = url
}

// Vendor returns the vendor tag.
func (a *Adapter) Vendor() core.Vendor {
	return core.VendorVertex
}

// Supports reports whether this adapter can serve the model. Vertex serves
// the Gemini model family.
func (a *Adapter) Supports(desc core.ModelDescriptor) bool {
	return desc.Vendor == core.VendorGemini || desc.Vendor == core.VendorVertex
}

// Generate executes one synchronous generateContent call.
func (a *Adapter) Generate(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	respBody, err := a.post(ctx, a.modelURL(req.Options.Model, "generateContent"), req)
	if err != nil {
		return nil, err
	}
	return gemini.ParseGenerateResponse(respBody, req.Options.Model, core.VendorVertex)
}

// StreamGenerate executes one streaming generateContent call.
func (a *Adapter) StreamGenerate(ctx context.Context, req *core.ChatRequest) (*core.Stream, error) {
	body, err := a.postStream(ctx, a.modelURL(req.Options.Model, "streamGenerateContent")+"?alt=sse", req)
	if err != nil {
		return nil, err
	}
	return streaming.Normalize(body, streaming.DecodeGemini, core.VendorVertex), nil
}

func (a *Adapter) modelURL(model, method string) string {
	return fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google/models/%s:%s",
		a.baseURL, a.projectID, a.location, model, method)
}

func (a *Adapter) newRequest(ctx context.Context, url string, req *core.ChatRequest) (*http.Request, error) {
	payload, err := gemini.BuildGenerateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.accessToken)
	return httpReq, nil
}

func (a *Adapter) post(ctx context.Context, url string, req *core.ChatRequest) ([]byte, error) {
	httpReq, err := a.newRequest(ctx, url, req)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.AsError(fmt.Errorf("vertex request failed: %w", err))
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewError(core.CodeTransient, "failed to read vertex response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.ParseVendorError(core.VendorVertex, resp.StatusCode, respBody, nil)
	}
	return respBody, nil
}

func (a *Adapter) postStream(ctx context.Context, url string, req *core.ChatRequest) (io.ReadCloser, error) {
	httpReq, err := a.newRequest(ctx, url, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.AsError(fmt.Errorf("vertex stream request failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = nil
		}
		_ = resp.Body.Close() //nolint:errcheck
		return nil, core.ParseVendorError(core.VendorVertex, resp.StatusCode, respBody, nil)
	}
	return resp.Body, nil
}
