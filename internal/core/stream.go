package core

import (
	"context"
	"io"
	"sync"
)

// streamBuffer bounds the producer/consumer channel so a slow client
// backpressures the vendor read loop instead of buffering unboundedly.
const streamBuffer = 16

// Stream is a finite, non-restartable sequence of StreamChunk values.
// A single producer goroutine pushes chunks with Send and finishes with
// End; the consumer pulls with Recv until io.EOF. Closing the stream from
// the consumer side cancels the producer and the underlying vendor
// connection.
type Stream struct {
	ch     chan StreamChunk
	errc   chan error
	done   chan struct{}
	cancel func()

	closeOnce sync.Once
	endOnce   sync.Once
}

// NewStream creates a stream. cancel, if non-nil, is invoked when the
// consumer closes the stream; it must release the upstream connection.
func NewStream(cancel func()) *Stream {
	return &Stream{
		ch:     make(chan StreamChunk, streamBuffer),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Send delivers one chunk to the consumer. It returns false once the
// consumer has closed the stream; the producer must stop emitting.
func (s *Stream) Send(chunk StreamChunk) bool {
	select {
	case s.ch <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// End terminates the stream. A nil err means normal completion; a non-nil
// err is surfaced from the next Recv call. End is idempotent.
func (s *Stream) End(err error) {
	s.endOnce.Do(func() {
		if err != nil {
			s.errc <- err
		}
		close(s.ch)
	})
}

// Recv returns the next chunk. After the terminal chunk it returns io.EOF,
// or the error passed to End if the producer failed.
func (s *Stream) Recv(ctx context.Context) (StreamChunk, error) {
	select {
	case chunk, ok := <-s.ch:
		if !ok {
			select {
			case err := <-s.errc:
				return StreamChunk{}, err
			default:
				return StreamChunk{}, io.EOF
			}
		}
		return chunk, nil
	case <-ctx.Done():
		return StreamChunk{}, ctx.Err()
	}
}

// Close releases the stream from the consumer side. Pending Send calls
// unblock and the upstream connection is cancelled. Safe to call multiple
// times and after normal completion.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}

// Collect drains the stream into a ChatResponse: text and thoughts are
// concatenated in arrival order, and the terminal chunk supplies the
// finish reason and authoritative usage totals.
func (s *Stream) Collect(ctx context.Context) (*ChatResponse, error) {
	defer s.Close()

	resp := &ChatResponse{FinishReason: FinishStop}
	var text, thought []byte
	for {
		chunk, err := s.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		text = append(text, chunk.Text...)
		if chunk.Thought != "" {
			thought = append(thought, chunk.Thought...)
		}
		if chunk.Done {
			if chunk.FinishReason != "" {
				resp.FinishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
		}
	}
	resp.Text = string(text)
	if len(thought) > 0 {
		resp.Thoughts = []string{string(thought)}
	}
	return resp, nil
}
