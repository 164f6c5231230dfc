// Package streaming converts vendor-specific incremental response framing
// into the gateway's internal StreamChunk sequence with uniform done and
// finish-reason semantics.
package streaming

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"

	"modelrelay/internal/core"
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// maxFrameSize bounds a single SSE line. Vendor frames are small; anything
// bigger is a protocol violation.
const maxFrameSize = 1 << 20

// Frame is the decoded content of one vendor frame. Finish and Usage are
// recorded by the normalizer and emitted once on the terminal chunk, so
// per-frame increments are never double counted against the vendor's
// authoritative totals.
type Frame struct {
	Text    string
	Thought string
	Finish  core.FinishReason
	Usage   *core.Usage
}

// Decoder parses the JSON payload of one frame into a Frame.
type Decoder func(payload []byte) (Frame, error)

// Normalize consumes a vendor byte stream and produces the internal chunk
// stream. Both SSE framing (`data: {...}`) and line-delimited JSON-array
// framing (`[{...}`, `,{...}`, `{...}]`) are accepted. The returned stream
// owns body: closing the stream from the consumer side closes the vendor
// connection and stops the read loop.
//
// Malformed frames are skipped with a warning. If the stream ends without
// a single valid frame it fails with CodeUpstreamProtocol; if the
// connection drops after valid frames it fails with CodeTransient.
func Normalize(body io.ReadCloser, decode Decoder, vendor core.Vendor) *core.Stream {
	stream := core.NewStream(func() {
		_ = body.Close() //nolint:errcheck
	})

	go func() {
		defer func() {
			_ = body.Close() //nolint:errcheck
		}()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

		var (
			validFrames int
			finish      core.FinishReason
			usage       *core.Usage
		)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			payload, ok := framePayload(line)
			if !ok || len(payload) == 0 {
				continue
			}
			if bytes.Equal(payload, doneSentinel) {
				break
			}

			frame, err := decode(payload)
			if err != nil {
				slog.Warn("skipping malformed stream frame",
					"vendor", vendor,
					"error", err,
				)
				continue
			}
			validFrames++

			if frame.Finish != "" {
				finish = frame.Finish
			}
			if frame.Usage != nil {
				// Authoritative totals from the vendor; replace, never sum.
				usage = frame.Usage
			}
			if frame.Text == "" && frame.Thought == "" {
				continue
			}
			if !stream.Send(core.StreamChunk{Text: frame.Text, Thought: frame.Thought}) {
				return
			}
		}

		if validFrames == 0 {
			stream.End(core.NewError(core.CodeUpstreamProtocol,
				"no valid frames received from upstream", scanner.Err()))
			return
		}
		if err := scanner.Err(); err != nil {
			stream.End(core.NewError(core.CodeTransient, "upstream stream aborted", err))
			return
		}

		if finish == "" {
			finish = core.FinishStop
		}
		if stream.Send(core.StreamChunk{Done: true, FinishReason: finish, Usage: usage}) {
			stream.End(nil)
		}
	}()

	return stream
}

// framePayload extracts the JSON object carried by one line. SSE lines
// carry it after the data: prefix; JSON-array framing wraps objects in
// bracket and comma punctuation. Lines with neither shape (comments,
// event fields, bare brackets) are not frames.
func framePayload(line []byte) ([]byte, bool) {
	if bytes.HasPrefix(line, dataPrefix) {
		return bytes.TrimSpace(line[len(dataPrefix):]), true
	}
	trimmed := bytes.TrimSpace(bytes.TrimRight(bytes.TrimLeft(line, "[,"), "],"))
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return trimmed, true
	}
	return nil, false
}
