// Package core defines the wire-level Request/Response data model shared
// by the connection pool and both transport implementations, kept
// separate from the root hyperhttp package so internal/transport/h1,
// internal/transport/h2 and internal/connpool never import the facade.
package core

import (
	"io"
	"net/url"
	"time"
)

// idempotentMethods are the methods the spec treats as idempotent by
// default (GET/HEAD/PUT/DELETE/OPTIONS/TRACE); POST/PATCH default to
// non-idempotent unless the caller overrides it on the Request.
var idempotentMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"PUT":     true,
	"DELETE":  true,
	"OPTIONS": true,
	"TRACE":   true,
}

// BodyReader is the capability interface a request body must satisfy to
// be eligible for retry. fixedBody and chunkedBody both implement it;
// a caller-supplied streaming body that cannot Rewind disables retry for
// that request (treated as non-idempotent), per the spec's body
// re-sendability requirement.
type BodyReader interface {
	io.Reader
	// Len reports the body's known length, or -1 if unknown (chunked).
	Len() int64
	// Rewindable reports whether Rewind can reset the body to its start.
	Rewindable() bool
	// Rewind resets the body to its start. Only valid if Rewindable().
	Rewind() error
}

// fixedBody is an in-memory byte body: always rewindable.
type fixedBody struct {
	data []byte
	pos  int
}

// NewFixedBody wraps an in-memory byte slice as a rewindable BodyReader.
func NewFixedBody(data []byte) BodyReader {
	return &fixedBody{data: data}
}

func (b *fixedBody) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
func (b *fixedBody) Len() int64        { return int64(len(b.data)) }
func (b *fixedBody) Rewindable() bool  { return true }
func (b *fixedBody) Rewind() error     { b.pos = 0; return nil }

// chunkedBody wraps a finite stream of unknown total length (streamed,
// not rewindable unless the caller provides a reopen function).
type chunkedBody struct {
	r      io.Reader
	reopen func() (io.Reader, error)
}

// NewChunkedBody wraps a streaming body. If reopen is non-nil, the body
// is rewindable by calling it to obtain a fresh reader; if nil, the body
// is one-shot and disables retry.
func NewChunkedBody(r io.Reader, reopen func() (io.Reader, error)) BodyReader {
	return &chunkedBody{r: r, reopen: reopen}
}

func (b *chunkedBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *chunkedBody) Len() int64                 { return -1 }
func (b *chunkedBody) Rewindable() bool           { return b.reopen != nil }
func (b *chunkedBody) Rewind() error {
	if b.reopen == nil {
		return io.ErrNoProgress
	}
	r, err := b.reopen()
	if err != nil {
		return err
	}
	b.r = r
	return nil
}

// Request is immutable once submitted to the executor.
type Request struct {
	Method     string
	URL        *url.URL
	Header     map[string][]string
	Body       BodyReader
	Timeout    time.Duration
	Idempotent bool // derived from Method unless explicitly overridden
}

// NewRequest builds a Request, deriving Idempotent from Method.
func NewRequest(method string, u *url.URL, header map[string][]string, body BodyReader) *Request {
	return &Request{
		Method:     method,
		URL:        u,
		Header:     header,
		Body:       body,
		Idempotent: idempotentMethods[method],
	}
}

// Rewindable reports whether this request's body can be resent, which
// governs retry eligibility for non-idempotent methods per spec.md §4.8.
func (r *Request) Rewindable() bool {
	return r.Body == nil || r.Body.Rewindable()
}
