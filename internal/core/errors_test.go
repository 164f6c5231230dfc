package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVendorErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantCode   Code
	}{
		{
			name:       "429 maps to quota exceeded",
			statusCode: http.StatusTooManyRequests,
			body:       `{"error":{"message":"rate limited"}}`,
			wantCode:   CodeQuotaExceeded,
		},
		{
			name:       "400 maps to invalid request",
			statusCode: http.StatusBadRequest,
			body:       `{"error":{"message":"bad temperature"}}`,
			wantCode:   CodeInvalidRequest,
		},
		{
			name:       "404 maps to model not available",
			statusCode: http.StatusNotFound,
			body:       `{"error":{"message":"model not found"}}`,
			wantCode:   CodeModelNotAvailable,
		},
		{
			name:       "503 maps to model not available",
			statusCode: http.StatusServiceUnavailable,
			body:       `{"error":{"message":"overloaded"}}`,
			wantCode:   CodeModelNotAvailable,
		},
		{
			name:       "500 maps to transient",
			statusCode: http.StatusInternalServerError,
			body:       `{"error":{"message":"internal"}}`,
			wantCode:   CodeTransient,
		},
		{
			name:       "502 with plain text body maps to transient",
			statusCode: http.StatusBadGateway,
			body:       "bad gateway",
			wantCode:   CodeTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ge := ParseVendorError(VendorGemini, tt.statusCode, []byte(tt.body), nil)
			assert.Equal(t, tt.wantCode, ge.Code)
			assert.Equal(t, VendorGemini, ge.Vendor)
			assert.NotEmpty(t, ge.Message)
		})
	}
}

func TestParseVendorErrorMessageExtraction(t *testing.T) {
	ge := ParseVendorError(VendorOpenRouter, 500, []byte(`{"error":{"message":"upstream exploded","code":500}}`), nil)
	assert.Equal(t, "upstream exploded", ge.Message)

	// Top-level message shape (Vertex error lists use it)
	ge = ParseVendorError(VendorVertex, 500, []byte(`{"message":"try later"}`), nil)
	assert.Equal(t, "try later", ge.Message)

	// Unparseable body falls back to the raw excerpt
	ge = ParseVendorError(VendorGemini, 500, []byte("<html>oops</html>"), nil)
	assert.Equal(t, "<html>oops</html>", ge.Message)
}

func TestRetryableAndFallbackClassification(t *testing.T) {
	assert.True(t, Errorf(CodeTransient, "x").Retryable())
	assert.True(t, Errorf(CodeQuotaExceeded, "x").Retryable())
	assert.False(t, Errorf(CodeInvalidRequest, "x").Retryable())
	assert.False(t, Errorf(CodeSafetyBlocked, "x").Retryable())
	assert.False(t, Errorf(CodeModelNotAvailable, "x").Retryable())

	assert.True(t, Errorf(CodeModelNotAvailable, "x").TriggersFallback())
	assert.False(t, Errorf(CodeSafetyBlocked, "x").TriggersFallback())
}

func TestAsError(t *testing.T) {
	orig := Errorf(CodeSafetyBlocked, "blocked")
	wrapped := fmt.Errorf("invoke: %w", orig)
	assert.Equal(t, orig, AsError(wrapped))

	ge := AsError(context.DeadlineExceeded)
	assert.Equal(t, CodeTransient, ge.Code)
	assert.True(t, errors.Is(ge, context.DeadlineExceeded))

	ge = AsError(errors.New("boom"))
	assert.Equal(t, CodeInternal, ge.Code)
	assert.Equal(t, "an unexpected error occurred", ge.Message)
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, Errorf(CodeInvalidRequest, "x").HTTPStatus())
	require.Equal(t, http.StatusNotFound, Errorf(CodeUnknownModel, "x").HTTPStatus())
	require.Equal(t, http.StatusTooManyRequests, Errorf(CodeQuotaExceeded, "x").HTTPStatus())
	require.Equal(t, http.StatusConflict, Errorf(CodeConflict, "x").HTTPStatus())
	require.Equal(t, http.StatusUnprocessableEntity, Errorf(CodeSafetyBlocked, "x").HTTPStatus())
	require.Equal(t, http.StatusServiceUnavailable, Errorf(CodeNoProviderConfigured, "x").HTTPStatus())
	require.Equal(t, http.StatusGatewayTimeout, Errorf(CodeTimeout, "x").HTTPStatus())
	require.Equal(t, http.StatusBadGateway, Errorf(CodeTransient, "x").HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, Errorf(CodeInternal, "x").HTTPStatus())
}

func TestToEnvelope(t *testing.T) {
	env := Errorf(CodeUnknownModel, "no descriptor for gpt-x").ToEnvelope()
	assert.False(t, env.Success)
	assert.Equal(t, CodeUnknownModel, env.Code)
	assert.Equal(t, "no descriptor for gpt-x", env.Message)
}
