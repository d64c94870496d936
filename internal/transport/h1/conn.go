// Package h1 implements the HTTP/1.1 connection state machine: request
// framing over a raw net.Conn (request bodies staged through a
// bufpool-sourced buffer), streaming response parsing over a bufio.Reader,
// and the keep-alive reuse policy.
package h1

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/lmousom/hyperhttp/internal/bufpool"
	"github.com/lmousom/hyperhttp/internal/connpool"
	"github.com/lmousom/hyperhttp/internal/core"
)

// State mirrors the state machine named in the HTTP/1.1 transport section
// exactly: Idle -> SendingHeaders -> SendingBody -> AwaitingResponse ->
// ReadingHeaders -> ReadingBody -> Idle | Closing. Any transport error
// transitions to Broken.
type State int32

const (
	StateIdle State = iota
	StateSendingHeaders
	StateSendingBody
	StateAwaitingResponse
	StateReadingHeaders
	StateReadingBody
	StateClosing
	StateClosed
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSendingHeaders:
		return "sending_headers"
	case StateSendingBody:
		return "sending_body"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateReadingHeaders:
		return "reading_headers"
	case StateReadingBody:
		return "reading_body"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Conn is one HTTP/1.1 connection. It satisfies connpool.Connection.
type Conn struct {
	nc       net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	pool     *bufpool.Pool
	state    int32 // atomic State
	created  time.Time
	lastUsed int64 // atomic unix nanos
	reqCount int64 // atomic
}

var _ connpool.Connection = (*Conn)(nil)

// New wraps an established net.Conn (already dialed and, if applicable,
// TLS-handshaked with ALPN negotiated to http/1.1) as an Idle connection.
func New(nc net.Conn, pool *bufpool.Pool) *Conn {
	return &Conn{
		nc:       nc,
		br:       bufio.NewReaderSize(nc, 4096),
		bw:       bufio.NewWriterSize(nc, 4096),
		pool:     pool,
		state:    int32(StateIdle),
		created:  time.Now(),
		lastUsed: time.Now().UnixNano(),
	}
}

func (c *Conn) State() connpool.ConnState {
	switch State(atomic.LoadInt32(&c.state)) {
	case StateIdle:
		return connpool.StateIdle
	case StateClosing:
		return connpool.StateClosing
	case StateClosed:
		return connpool.StateClosed
	case StateBroken:
		return connpool.StateBroken
	default:
		return connpool.StateInUse
	}
}

func (c *Conn) h1State() State           { return State(atomic.LoadInt32(&c.state)) }
func (c *Conn) setState(s State)         { atomic.StoreInt32(&c.state, int32(s)) }
func (c *Conn) Protocol() string         { return "h1" }
func (c *Conn) LastUsed() time.Time      { return time.Unix(0, atomic.LoadInt64(&c.lastUsed)) }
func (c *Conn) RequestCount() int64      { return atomic.LoadInt64(&c.reqCount) }
func (c *Conn) HasCapacity() bool        { return c.h1State() == StateIdle }
func (c *Conn) touch()                   { atomic.StoreInt64(&c.lastUsed, time.Now().UnixNano()) }

// Close marks the connection Closed and closes the underlying socket.
func (c *Conn) Close() error {
	atomic.StoreInt32(&c.state, int32(StateClosed))
	return c.nc.Close()
}

func (c *Conn) broken(err error) error {
	atomic.StoreInt32(&c.state, int32(StateBroken))
	return err
}

// RoundTrip sends req and returns the parsed response, or an error after
// marking the connection Broken. The caller is responsible for returning
// the connection to the pool (via the reuse signal on Response) or
// discarding it when Broken/Closing.
func (c *Conn) RoundTrip(req *core.Request) (*core.Response, bool, error) {
	if c.h1State() != StateIdle {
		return nil, false, fmt.Errorf("h1: connection not idle")
	}
	start := time.Now()

	c.setState(StateSendingHeaders)
	expectContinue := headerHas(req.Header, "Expect", "100-continue")
	chunked := req.Body != nil && req.Body.Len() < 0

	if err := c.writeRequestLine(req); err != nil {
		return nil, false, c.broken(err)
	}
	if err := c.writeHeaders(req, chunked); err != nil {
		return nil, false, c.broken(err)
	}
	if err := c.bw.Flush(); err != nil {
		return nil, false, c.broken(err)
	}

	if expectContinue {
		cont, err := c.awaitContinue()
		if err != nil {
			return nil, false, c.broken(err)
		}
		if !cont {
			// Server rejected before we sent a body; read its final
			// response without sending one.
			return c.readResponse(req, start)
		}
	}

	c.setState(StateSendingBody)
	if req.Body != nil {
		if err := c.writeBody(req.Body, chunked); err != nil {
			return nil, false, c.broken(err)
		}
		if err := c.bw.Flush(); err != nil {
			return nil, false, c.broken(err)
		}
	}

	c.setState(StateAwaitingResponse)
	return c.readResponse(req, start)
}

func (c *Conn) writeRequestLine(req *core.Request) error {
	target := req.URL.RequestURI()
	_, err := fmt.Fprintf(c.bw, "%s %s HTTP/1.1\r\n", req.Method, target)
	return err
}

func (c *Conn) writeHeaders(req *core.Request, chunked bool) error {
	hasHost := false
	for k, vs := range req.Header {
		if !httpguts.ValidHeaderFieldName(k) {
			return fmt.Errorf("h1: invalid header name %q", k)
		}
		if strings.EqualFold(k, "Host") {
			hasHost = true
		}
		for _, v := range vs {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("h1: invalid header value for %q", k)
			}
			if _, err := fmt.Fprintf(c.bw, "%s: %s\r\n", canonicalHeaderKey(k), v); err != nil {
				return err
			}
		}
	}
	if !hasHost {
		if _, err := fmt.Fprintf(c.bw, "Host: %s\r\n", req.URL.Host); err != nil {
			return err
		}
	}
	if req.Body != nil {
		if chunked {
			if _, err := c.bw.WriteString("Transfer-Encoding: chunked\r\n"); err != nil {
				return err
			}
		} else if _, err := fmt.Fprintf(c.bw, "Content-Length: %d\r\n", req.Body.Len()); err != nil {
			return err
		}
	}
	_, err := c.bw.WriteString("\r\n")
	return err
}

func (c *Conn) awaitContinue() (bool, error) {
	c.nc.SetReadDeadline(time.Now().Add(1 * time.Second))
	defer c.nc.SetReadDeadline(time.Time{})

	line, err := c.br.ReadString('\n')
	if err != nil {
		// No interim response within the grace period: proceed to send
		// the body, per RFC 7231 §5.1.1 fallback behavior.
		return true, nil
	}
	if strings.Contains(line, "100") {
		// Consume the blank line terminating the 100-continue response.
		if _, err := c.br.ReadString('\n'); err != nil {
			return false, err
		}
		return true, nil
	}
	// Server replied with a final status before we sent the body: the
	// caller must not send it, and must read this as the real response.
	c.br = bufio.NewReader(&prefixedReader{prefix: line, r: c.br})
	return false, nil
}

func (c *Conn) writeBody(body core.BodyReader, chunked bool) error {
	buf := c.pool.Acquire(32 * 1024)
	defer buf.Release()
	p := buf.Bytes()[:cap(buf.Bytes())]

	for {
		n, err := body.Read(p)
		if n > 0 {
			if chunked {
				if _, werr := fmt.Fprintf(c.bw, "%x\r\n", n); werr != nil {
					return werr
				}
				if _, werr := c.bw.Write(p[:n]); werr != nil {
					return werr
				}
				if _, werr := c.bw.WriteString("\r\n"); werr != nil {
					return werr
				}
			} else if _, werr := c.bw.Write(p[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			break
		}
	}
	if chunked {
		_, err := c.bw.WriteString("0\r\n\r\n")
		return err
	}
	return nil
}

// readResponse parses the status line and headers, constructs a
// core.Response whose Body streams the remainder, and reports whether the
// connection is reusable once that body is fully drained.
func (c *Conn) readResponse(req *core.Request, start time.Time) (*core.Response, bool, error) {
	c.setState(StateReadingHeaders)

	statusLine, err := c.br.ReadString('\n')
	if err != nil {
		return nil, false, c.broken(err)
	}
	status, reason, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, false, c.broken(err)
	}

	header := make(map[string][]string)
	for {
		line, err := c.br.ReadString('\n')
		if err != nil {
			return nil, false, c.broken(err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = canonicalHeaderKey(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		header[k] = append(header[k], v)
	}

	c.setState(StateReadingBody)
	keepAlive := !headerHas(header, "Connection", "close")
	body, bodyKeepAlive := c.newBodyReader(req, header, keepAlive)

	atomic.AddInt64(&c.reqCount, 1)
	c.touch()

	return &core.Response{
		StatusCode: status,
		Reason:     reason,
		Header:     header,
		Body:       &trackingBody{r: body, onClose: func() { c.finish(bodyKeepAlive) }},
		Elapsed:    time.Since(start),
		Protocol:   core.ProtocolH1,
		FinalURL:   req.URL.String(),
	}, bodyKeepAlive, nil
}

// finish runs once the caller has closed (and so fully drained, per the
// trackingBody contract) the response body, and applies the reuse policy:
// Idle iff fully consumed with keep-alive, else Closing.
func (c *Conn) finish(keepAlive bool) {
	if c.h1State() == StateBroken || c.h1State() == StateClosed {
		return
	}
	if keepAlive {
		c.setState(StateIdle)
	} else {
		c.setState(StateClosing)
		c.nc.Close()
	}
}

func parseStatusLine(line string) (int, string, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("h1: malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", fmt.Errorf("h1: malformed status code: %w", err)
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return code, reason, nil
}

func headerHas(h map[string][]string, key, value string) bool {
	for k, vs := range h {
		if !strings.EqualFold(k, key) {
			continue
		}
		for _, v := range vs {
			if strings.EqualFold(v, value) {
				return true
			}
		}
	}
	return false
}

func canonicalHeaderKey(k string) string {
	parts := strings.Split(k, "-")
	for i, p := range parts {
		if len(p) == 0 {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

// prefixedReader re-plays a line already consumed from the buffered
// reader ahead of the reader's remaining bytes, used when a 100-continue
// probe actually reads the server's final response line.
type prefixedReader struct {
	prefix string
	off    int
	r      *bufio.Reader
}

func (p *prefixedReader) Read(b []byte) (int, error) {
	if p.off < len(p.prefix) {
		n := copy(b, p.prefix[p.off:])
		p.off += n
		return n, nil
	}
	return p.r.Read(b)
}
