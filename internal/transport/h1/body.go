package h1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/lmousom/hyperhttp/internal/core"
)

// newBodyReader selects a framing-aware reader for the response body
// based on Content-Length / Transfer-Encoding, and reports whether the
// connection remains keep-alive eligible once it is fully drained (a
// body whose length cannot be determined forces Closing, since there is
// no way to know where the next response would start).
func (c *Conn) newBodyReader(req *core.Request, header map[string][]string, keepAlive bool) (io.Reader, bool) {
	if req.Method == "HEAD" {
		return strings.NewReader(""), keepAlive
	}
	if headerHas(header, "Transfer-Encoding", "chunked") {
		return &chunkedReader{br: c.br}, keepAlive
	}
	if cl, ok := contentLength(header); ok {
		return io.LimitReader(c.br, cl), keepAlive
	}
	// No Content-Length and not chunked: body runs to connection close.
	return c.br, false
}

func contentLength(header map[string][]string) (int64, bool) {
	for k, vs := range header {
		if strings.EqualFold(k, "Content-Length") && len(vs) > 0 {
			n, err := strconv.ParseInt(strings.TrimSpace(vs[0]), 10, 64)
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// chunkedReader decodes HTTP/1.1 chunked transfer encoding from a
// bufio.Reader, stopping at the terminating zero-length chunk and its
// trailer section.
type chunkedReader struct {
	br        *bufio.Reader
	remaining int64
	done      bool
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	if r.remaining == 0 {
		size, err := r.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			r.done = true
			r.drainTrailers()
			return 0, io.EOF
		}
		r.remaining = size
	}

	max := int64(len(p))
	if max > r.remaining {
		max = r.remaining
	}
	n, err := r.br.Read(p[:max])
	r.remaining -= int64(n)
	if err != nil {
		return n, err
	}
	if r.remaining == 0 {
		// Consume the CRLF following the chunk data.
		r.br.ReadString('\n')
	}
	return n, nil
}

func (r *chunkedReader) readChunkSize() (int64, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimRight(line, "\r\n")
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	return strconv.ParseInt(strings.TrimSpace(line), 16, 64)
}

func (r *chunkedReader) drainTrailers() {
	for {
		line, err := r.br.ReadString('\n')
		if err != nil || strings.TrimRight(line, "\r\n") == "" {
			return
		}
	}
}

// trackingBody wraps the framed body reader so Close triggers the
// connection's reuse decision exactly once, draining any unread bytes
// first so the wire stays in sync for the next response.
type trackingBody struct {
	r       io.Reader
	onClose func()
	closed  bool
}

func (b *trackingBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *trackingBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	io.Copy(io.Discard, b.r)
	if b.onClose != nil {
		b.onClose()
	}
	return nil
}
