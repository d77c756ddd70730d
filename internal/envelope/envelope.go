// Package envelope provides a transport-agnostic representation of an
// upstream HTTP response: status, lowercase header mapping, and a lazy
// byte-chunk producer over the content.
package envelope

import (
	"bytes"
	"io"
	"iter"
	"strconv"
	"strings"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 64 * 1024

// Envelope is a normalized upstream response. Header keys are unique and
// lowercase. The content is either a live stream handed over from the
// transport or a fully buffered body from the fallback client; both are
// consumed through the same chunk producer.
type Envelope struct {
	Status  int
	Headers map[string]string

	body      io.ReadCloser
	chunkSize int
}

// New wraps a streaming response body. The body is owned by the envelope
// and must be released via Close.
func New(status int, headers map[string][]string, body io.ReadCloser, chunkSize int) *Envelope {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Envelope{
		Status:    status,
		Headers:   NormalizeHeaders(headers),
		body:      body,
		chunkSize: chunkSize,
	}
}

// NewBuffered wraps a fully materialized body. Headers must already be
// lowercase; use NormalizeHeaders when they come from a wire response.
func NewBuffered(status int, headers map[string]string, content []byte, chunkSize int) *Envelope {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Envelope{
		Status:    status,
		Headers:   headers,
		body:      io.NopCloser(bytes.NewReader(content)),
		chunkSize: chunkSize,
	}
}

// NormalizeHeaders flattens a multi-value header mapping into unique
// lowercase keys, keeping the first value of each header.
func NormalizeHeaders(headers map[string][]string) map[string]string {
	normalized := make(map[string]string, len(headers))

	for k, vs := range headers {
		if len(vs) == 0 {
			continue
		}

		key := strings.ToLower(k)
		if _, ok := normalized[key]; !ok {
			normalized[key] = vs[0]
		}
	}

	return normalized
}

// Chunks returns a lazy producer over the content. It yields successive
// chunks of the configured size, in order; the final chunk may be shorter.
// An empty body yields no chunks. A read failure is yielded once as a
// non-nil error and ends the sequence.
func (e *Envelope) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			buf := make([]byte, e.chunkSize)

			n, err := io.ReadFull(e.body, buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}

			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}

			if err != nil {
				yield(nil, err)

				return
			}
		}
	}
}

// Body exposes the raw content stream for callers that prefer io.Copy
// over chunk iteration. Reading the body and iterating Chunks consume
// the same underlying stream.
func (e *Envelope) Body() io.ReadCloser {
	return e.body
}

// ContentLength reports the content-length header, or -1 when absent
// or unparsable.
func (e *Envelope) ContentLength() int64 {
	v, ok := e.Headers["content-length"]
	if !ok {
		return -1
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}

	return n
}

// Close releases the underlying content stream.
func (e *Envelope) Close() error {
	return e.body.Close()
}
