package streaming

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/core"
)

type closableReader struct {
	io.Reader
	closed atomic.Bool
}

func (c *closableReader) Close() error {
	c.closed.Store(true)
	if closer, ok := c.Reader.(io.Closer); ok {
		_ = closer.Close() //nolint:errcheck
	}
	return nil
}

func sseBody(frames ...string) *closableReader {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: " + f + "\n\n")
	}
	return &closableReader{Reader: strings.NewReader(b.String())}
}

// drain collects every chunk until the stream terminates.
func drain(t *testing.T, s *core.Stream) ([]core.StreamChunk, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var chunks []core.StreamChunk
	for {
		chunk, err := s.Recv(ctx)
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

func TestNormalizeOpenAIStream(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":", "}}]}`,
		`{"choices":[{"delta":{"content":"world"},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
		`[DONE]`,
	)

	chunks, err := drain(t, Normalize(body, DecodeOpenAI, core.VendorOpenRouter))
	require.NoError(t, err)

	var text string
	var terminals int
	for _, c := range chunks {
		text += c.Text
		if c.Done {
			terminals++
			assert.Equal(t, core.FinishStop, c.FinishReason)
			require.NotNil(t, c.Usage)
			assert.Equal(t, 10, c.Usage.TotalTokens)
		}
	}
	assert.Equal(t, "Hello, world", text, "concatenated text must reproduce the full response")
	assert.Equal(t, 1, terminals, "exactly one terminal chunk")
	assert.True(t, body.closed.Load())
}

func TestNormalizeGeminiStream(t *testing.T) {
	body := sseBody(
		`{"candidates":[{"content":{"parts":[{"text":"pondering","thought":true}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"The answer "}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"is 42."}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":6,"thoughtsTokenCount":4,"totalTokenCount":22}}`,
	)

	chunks, err := drain(t, Normalize(body, DecodeGemini, core.VendorGemini))
	require.NoError(t, err)

	var text, thought string
	var terminal *core.StreamChunk
	for i := range chunks {
		text += chunks[i].Text
		thought += chunks[i].Thought
		if chunks[i].Done {
			require.Nil(t, terminal, "only one terminal chunk allowed")
			terminal = &chunks[i]
		}
	}
	assert.Equal(t, "The answer is 42.", text)
	assert.Equal(t, "pondering", thought)
	require.NotNil(t, terminal)
	assert.Equal(t, core.FinishStop, terminal.FinishReason)
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 12, terminal.Usage.PromptTokens)
	assert.Equal(t, 10, terminal.Usage.CompletionTokens, "completion includes thought tokens")
	assert.Equal(t, 22, terminal.Usage.TotalTokens)
}

func TestNormalizeJSONArrayFraming(t *testing.T) {
	// Some vendor endpoints stream a single JSON array, one object per
	// line, instead of SSE.
	raw := "[{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"The answer \"}]}}]}\n" +
		",{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"is 42.\"}]}}]}\n" +
		",{\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":5,\"candidatesTokenCount\":4,\"totalTokenCount\":9}}]\n"
	body := &closableReader{Reader: strings.NewReader(raw)}

	chunks, err := drain(t, Normalize(body, DecodeGemini, core.VendorGemini))
	require.NoError(t, err)

	var text string
	for _, c := range chunks {
		text += c.Text
	}
	assert.Equal(t, "The answer is 42.", text)
	last := chunks[len(chunks)-1]
	require.True(t, last.Done)
	assert.Equal(t, core.FinishStop, last.FinishReason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 9, last.Usage.TotalTokens)
}

func TestNormalizeSkipsMalformedFrames(t *testing.T) {
	body := sseBody(
		`{not json`,
		`{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
		`also not json`,
		`[DONE]`,
	)

	chunks, err := drain(t, Normalize(body, DecodeOpenAI, core.VendorOpenRouter))
	require.NoError(t, err)

	var text string
	for _, c := range chunks {
		text += c.Text
	}
	assert.Equal(t, "ok", text)
	assert.True(t, chunks[len(chunks)-1].Done)
}

func TestNormalizeNoValidFramesFails(t *testing.T) {
	body := sseBody(`garbage`, `more garbage`)

	_, err := drain(t, Normalize(body, DecodeOpenAI, core.VendorOpenRouter))
	var ge *core.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, core.CodeUpstreamProtocol, ge.Code)
}

func TestNormalizeEOFWithoutFinishSignal(t *testing.T) {
	// Connection closed cleanly before the vendor sent a finish reason;
	// the normalizer still owes the consumer exactly one terminal chunk.
	body := sseBody(`{"choices":[{"delta":{"content":"partial"}}]}`)

	chunks, err := drain(t, Normalize(body, DecodeOpenAI, core.VendorOpenRouter))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, last.Done)
	assert.Equal(t, core.FinishStop, last.FinishReason)
}

func TestNormalizeSafetyBlock(t *testing.T) {
	body := sseBody(`{"promptFeedback":{"blockReason":"SAFETY"}}`)

	chunks, err := drain(t, Normalize(body, DecodeGemini, core.VendorGemini))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Done)
	assert.Equal(t, core.FinishSafety, chunks[0].FinishReason)
}

func TestNormalizeConsumerCloseReleasesBody(t *testing.T) {
	pr, pw := io.Pipe()
	body := &closableReader{Reader: pr}

	stream := Normalize(body, DecodeOpenAI, core.VendorOpenRouter)

	go func() {
		_, _ = io.WriteString(pw, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
	}()

	ctx := context.Background()
	_, err := stream.Recv(ctx)
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	assert.Eventually(t, func() bool { return body.closed.Load() },
		time.Second, 10*time.Millisecond, "closing the stream must close the vendor connection")
	_ = pw.Close()
}

func TestFinishReasonMappings(t *testing.T) {
	assert.Equal(t, core.FinishStop, MapGeminiFinishReason("STOP"))
	assert.Equal(t, core.FinishLength, MapGeminiFinishReason("MAX_TOKENS"))
	assert.Equal(t, core.FinishSafety, MapGeminiFinishReason("SAFETY"))
	assert.Equal(t, core.FinishSafety, MapGeminiFinishReason("RECITATION"))
	assert.Equal(t, core.FinishError, MapGeminiFinishReason("OTHER"))

	assert.Equal(t, core.FinishStop, MapOpenAIFinishReason("stop"))
	assert.Equal(t, core.FinishLength, MapOpenAIFinishReason("length"))
	assert.Equal(t, core.FinishSafety, MapOpenAIFinishReason("content_filter"))
	assert.Equal(t, core.FinishToolCalls, MapOpenAIFinishReason("tool_calls"))
}
