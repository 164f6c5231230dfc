package core

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamSendRecv(t *testing.T) {
	s := NewStream(nil)

	go func() {
		s.Send(StreamChunk{Text: "hello "})
		s.Send(StreamChunk{Text: "world", Done: true, FinishReason: FinishStop})
		s.End(nil)
	}()

	ctx := context.Background()

	chunk, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello ", chunk.Text)

	chunk, err = s.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, chunk.Done)
	assert.Equal(t, FinishStop, chunk.FinishReason)

	_, err = s.Recv(ctx)
	assert.Equal(t, io.EOF, err)

	// EOF is sticky
	_, err = s.Recv(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestStreamEndWithError(t *testing.T) {
	s := NewStream(nil)
	wantErr := Errorf(CodeUpstreamProtocol, "no valid frames")

	go func() {
		s.Send(StreamChunk{Text: "partial"})
		s.End(wantErr)
	}()

	ctx := context.Background()

	_, err := s.Recv(ctx)
	require.NoError(t, err)

	_, err = s.Recv(ctx)
	var ge *Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, CodeUpstreamProtocol, ge.Code)
}

func TestStreamCloseUnblocksProducer(t *testing.T) {
	cancelled := false
	s := NewStream(func() { cancelled = true })

	blocked := make(chan bool)
	go func() {
		// Fill the buffer, then block on the next Send until Close.
		for s.Send(StreamChunk{Text: "x"}) {
		}
		blocked <- true
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("producer did not unblock after Close")
	}
	assert.True(t, cancelled, "Close must cancel the upstream connection")

	// Close is idempotent
	require.NoError(t, s.Close())
}

func TestStreamRecvContextCancel(t *testing.T) {
	s := NewStream(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamCollect(t *testing.T) {
	s := NewStream(nil)
	usage := &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}

	go func() {
		s.Send(StreamChunk{Thought: "considering"})
		s.Send(StreamChunk{Text: "The answer "})
		s.Send(StreamChunk{Text: "is 42.", Thought: " more"})
		s.Send(StreamChunk{Done: true, FinishReason: FinishStop, Usage: usage})
		s.End(nil)
	}()

	resp, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", resp.Text)
	assert.Equal(t, []string{"considering more"}, resp.Thoughts)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}
