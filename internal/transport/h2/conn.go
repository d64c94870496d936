package h2

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2/hpack"
	"golang.org/x/sync/semaphore"

	"github.com/lmousom/hyperhttp/internal/connpool"
	"github.com/lmousom/hyperhttp/internal/core"
)

const (
	defaultMaxConcurrentStreams = 100
	defaultInitialWindowSize    = 65535
	maxStreamID                 = (1 << 31) - 1
	streamIDExhaustionMargin    = 1000
	pingTimeout                 = 10 * time.Second
)

// Conn is one HTTP/2 connection: a single reader goroutine and a single
// writer goroutine, communicating via an outbound frame queue, the way
// a hand-rolled H2 client structures the reader/writer split around
// explicit goroutines and channels rather than ad hoc concurrency.
type Conn struct {
	nc net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	writeCh chan outFrame
	closeCh chan struct{}
	closeOnce sync.Once

	hpackEnc *hpack.Encoder
	hpackEncBuf *fullBuffer
	hpackDec *hpack.Decoder

	mu               sync.Mutex
	streams          map[uint32]*stream
	nextStreamID     uint32
	peerMaxStreams   uint32
	peerInitialWnd   int32
	localInitialWnd  int32
	connSendWindow   int64
	connRecvWindow   int64
	goAwayReceived   bool
	lastProcessedID  uint32
	state            int32 // atomic connpool.ConnState

	admission *semaphore.Weighted

	created      time.Time
	lastUsedNano int64
	reqCount     int64

	pendingHeaders map[uint32]*headerAssembly

	lastPingSent atomic.Int64
	pongReceived chan struct{}
}

var _ connpool.Connection = (*Conn)(nil)

type outFrame struct {
	typ      frameType
	flags    uint8
	streamID uint32
	payload  []byte
}

type fullBuffer struct{ b []byte }

func (f *fullBuffer) Write(p []byte) (int, error) { f.b = append(f.b, p...); return len(p), nil }
func (f *fullBuffer) Bytes() []byte               { return f.b }
func (f *fullBuffer) Reset()                      { f.b = f.b[:0] }

type headerAssembly struct {
	data        []byte
	endStream   bool
	sawHeaders  bool
}

// Dial establishes an H2 connection over nc (already TLS/ALPN-negotiated
// to "h2" by the caller), performs the client preface and initial
// SETTINGS exchange, and starts the reader/writer goroutines.
func Dial(ctx context.Context, nc net.Conn) (*Conn, error) {
	c := &Conn{
		nc:              nc,
		br:              bufio.NewReaderSize(nc, 4096),
		bw:              bufio.NewWriterSize(nc, 4096),
		writeCh:         make(chan outFrame, 64),
		closeCh:         make(chan struct{}),
		streams:         make(map[uint32]*stream),
		nextStreamID:    1,
		peerMaxStreams:  defaultMaxConcurrentStreams,
		peerInitialWnd:  defaultInitialWindowSize,
		localInitialWnd: defaultInitialWindowSize,
		connSendWindow:  defaultInitialWindowSize,
		connRecvWindow:  defaultInitialWindowSize,
		admission:       semaphore.NewWeighted(defaultMaxConcurrentStreams),
		created:         time.Now(),
		lastUsedNano:    time.Now().UnixNano(),
		pendingHeaders:  make(map[uint32]*headerAssembly),
		pongReceived:    make(chan struct{}, 1),
	}
	c.hpackEncBuf = &fullBuffer{}
	c.hpackEnc = hpack.NewEncoder(c.hpackEncBuf)
	c.hpackDec = hpack.NewDecoder(4096, nil)

	if _, err := c.nc.Write([]byte(clientPreface)); err != nil {
		return nil, err
	}
	initialSettings := encodeSettings(map[uint16]uint32{
		settingsMaxConcurrentStreams: defaultMaxConcurrentStreams,
		settingsInitialWindowSize:    defaultInitialWindowSize,
		settingsMaxFrameSize:         defaultMaxFrameSize,
	})
	if err := writeFrame(c.bw, frameSettings, 0, 0, initialSettings); err != nil {
		return nil, err
	}
	if err := c.bw.Flush(); err != nil {
		return nil, err
	}

	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *Conn) State() connpool.ConnState { return connpool.ConnState(atomic.LoadInt32(&c.state)) }
func (c *Conn) Protocol() string          { return "h2" }
func (c *Conn) LastUsed() time.Time       { return time.Unix(0, atomic.LoadInt64(&c.lastUsedNano)) }
func (c *Conn) RequestCount() int64       { return atomic.LoadInt64(&c.reqCount) }

// HasCapacity reports whether another stream can be opened without
// blocking: active stream count below the peer's advertised cap, and no
// GOAWAY received.
func (c *Conn) HasCapacity() bool {
	if c.State() != connpool.StateIdle && c.State() != connpool.StateInUse {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.goAwayReceived {
		return false
	}
	return uint32(len(c.streams)) < c.peerMaxStreams
}

// ActiveStreams reports the number of streams currently tracked on this
// connection, for callers that export it as a gauge.
func (c *Conn) ActiveStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	atomic.StoreInt32(&c.state, int32(connpool.StateClosed))
	return c.nc.Close()
}

func (c *Conn) broken() {
	atomic.StoreInt32(&c.state, int32(connpool.StateBroken))
	c.closeOnce.Do(func() { close(c.closeCh) })
}

// RoundTrip opens a new stream, sends the request as HEADERS(+DATA), and
// returns a core.Response whose Body streams off the stream's inbound
// queue. retryEligible reports whether, on error, this request was never
// processed by the peer and can be retried irrespective of idempotency
// (GOAWAY semantics, §4.4).
func (c *Conn) RoundTrip(ctx context.Context, req *core.Request) (resp *core.Response, retryEligible bool, err error) {
	if err := c.admission.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	if c.goAwayReceived {
		c.mu.Unlock()
		c.admission.Release(1)
		return nil, true, fmt.Errorf("h2: connection going away")
	}
	if c.nextStreamID > maxStreamID-streamIDExhaustionMargin {
		atomic.StoreInt32(&c.state, int32(connpool.StateClosing))
	}
	id := c.nextStreamID
	c.nextStreamID += 2
	st := newStream(id, c.peerInitialWnd, c.localInitialWnd)
	st.setState(streamOpen)
	c.streams[id] = st
	c.mu.Unlock()

	defer func() {
		c.admission.Release(1)
	}()

	headerBlock := c.encodeHeaders(req)
	endStream := req.Body == nil
	c.enqueue(outFrame{typ: frameHeaders, flags: flagsFor(true, endStream), streamID: id, payload: headerBlock})

	if req.Body != nil {
		if err := c.sendBody(ctx, st, req.Body); err != nil {
			st.setState(streamClosed)
			return nil, false, err
		}
	}

	select {
	case <-st.headerCh:
	case <-st.errCh:
		return nil, c.streamNotProcessed(id), st.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-c.closeCh:
		return nil, c.streamNotProcessed(id), fmt.Errorf("h2: connection closed")
	}

	atomic.AddInt64(&c.reqCount, 1)
	atomic.StoreInt64(&c.lastUsedNano, time.Now().UnixNano())

	statusCode := 0
	if v, ok := st.header[":status"]; ok && len(v) > 0 {
		statusCode, _ = strconv.Atoi(v[0])
	}

	return &core.Response{
		StatusCode: statusCode,
		Header:     st.header,
		Body: &streamBody{s: st, onClose: func() {
			c.mu.Lock()
			delete(c.streams, id)
			c.mu.Unlock()
		}},
		Protocol: core.ProtocolH2,
		FinalURL: req.URL.String(),
	}, false, nil
}

func (c *Conn) streamNotProcessed(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goAwayReceived && id > c.lastProcessedID
}

func flagsFor(endHeaders, endStream bool) uint8 {
	var f uint8
	if endHeaders {
		f |= flagEndHeaders
	}
	if endStream {
		f |= flagEndStream
	}
	return f
}

func (c *Conn) encodeHeaders(req *core.Request) []byte {
	c.hpackEncBuf.Reset()
	c.hpackEnc.WriteField(hpack.HeaderField{Name: ":method", Value: req.Method})
	c.hpackEnc.WriteField(hpack.HeaderField{Name: ":scheme", Value: schemeOf(req.URL)})
	c.hpackEnc.WriteField(hpack.HeaderField{Name: ":authority", Value: req.URL.Host})
	c.hpackEnc.WriteField(hpack.HeaderField{Name: ":path", Value: req.URL.RequestURI()})
	for k, vs := range req.Header {
		for _, v := range vs {
			c.hpackEnc.WriteField(hpack.HeaderField{Name: lowerHeader(k), Value: v})
		}
	}
	out := make([]byte, len(c.hpackEncBuf.Bytes()))
	copy(out, c.hpackEncBuf.Bytes())
	return out
}

func schemeOf(u *url.URL) string {
	if u.Scheme == "" {
		return "https"
	}
	return u.Scheme
}

func lowerHeader(k string) string {
	b := []byte(k)
	for i, r := range b {
		if r >= 'A' && r <= 'Z' {
			b[i] = r + ('a' - 'A')
		}
	}
	return string(b)
}

// sendBody splits body into DATA frames honoring both stream and
// connection send windows, suspending (cooperatively, via a busy-poll on
// a short ticker) when a write would exceed either.
func (c *Conn) sendBody(ctx context.Context, st *stream, body core.BodyReader) error {
	buf := make([]byte, 16384)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := c.sendDataChunk(ctx, st, buf[:n]); err != nil {
				return err
			}
		}
		if rerr != nil {
			break
		}
	}
	c.enqueue(outFrame{typ: frameData, flags: flagEndStream, streamID: st.id, payload: nil})
	return nil
}

func (c *Conn) sendDataChunk(ctx context.Context, st *stream, chunk []byte) error {
	for len(chunk) > 0 {
		if err := c.awaitWindow(ctx, st, int64(len(chunk))); err != nil {
			return err
		}
		n := int64(len(chunk))
		if w := atomic.LoadInt64(&st.sendWindow); w < n {
			n = w
		}
		if w := atomic.LoadInt64(&c.connSendWindow); w < n {
			n = w
		}
		atomic.AddInt64(&st.sendWindow, -n)
		atomic.AddInt64(&c.connSendWindow, -n)
		c.enqueue(outFrame{typ: frameData, streamID: st.id, payload: chunk[:n]})
		chunk = chunk[n:]
	}
	return nil
}

func (c *Conn) awaitWindow(ctx context.Context, st *stream, need int64) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if atomic.LoadInt64(&st.sendWindow) > 0 && atomic.LoadInt64(&c.connSendWindow) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return fmt.Errorf("h2: connection closed while waiting for flow control window")
		case <-ticker.C:
		}
	}
}

func (c *Conn) enqueue(f outFrame) {
	select {
	case c.writeCh <- f:
	case <-c.closeCh:
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case f := <-c.writeCh:
			if err := writeFrame(c.bw, f.typ, f.flags, f.streamID, f.payload); err != nil {
				c.broken()
				return
			}
			if len(c.writeCh) == 0 {
				c.bw.Flush()
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *Conn) readLoop() {
	for {
		fr, err := readFrame(c.br, defaultMaxFrameSize)
		if err != nil {
			c.broken()
			return
		}
		atomic.StoreInt64(&c.lastUsedNano, time.Now().UnixNano())
		c.handleFrame(fr)
	}
}

func (c *Conn) handleFrame(fr frame) {
	switch fr.header.typ {
	case frameSettings:
		c.handleSettings(fr)
	case frameWindowUpdate:
		c.handleWindowUpdate(fr)
	case frameHeaders:
		c.handleHeaders(fr)
	case frameContinuation:
		c.handleContinuation(fr)
	case frameData:
		c.handleData(fr)
	case framePing:
		c.handlePing(fr)
	case frameGoAway:
		c.handleGoAway(fr)
	case frameRSTStream:
		c.handleRSTStream(fr)
	}
}

func (c *Conn) handleSettings(fr frame) {
	if fr.header.flags&flagACK != 0 {
		return
	}
	params := parseSettings(fr.payload)
	c.mu.Lock()
	if v, ok := params[settingsMaxConcurrentStreams]; ok {
		c.peerMaxStreams = v
	}
	if v, ok := params[settingsInitialWindowSize]; ok {
		c.peerInitialWnd = int32(v)
	}
	c.mu.Unlock()
	c.enqueue(outFrame{typ: frameSettings, flags: flagACK, streamID: 0})
}

func (c *Conn) handleWindowUpdate(fr frame) {
	increment := int64(parseWindowUpdate(fr.payload))
	if fr.header.streamID == 0 {
		atomic.AddInt64(&c.connSendWindow, increment)
		return
	}
	c.mu.Lock()
	st, ok := c.streams[fr.header.streamID]
	c.mu.Unlock()
	if ok {
		atomic.AddInt64(&st.sendWindow, increment)
	}
}

func (c *Conn) handleHeaders(fr frame) {
	c.mu.Lock()
	asm := &headerAssembly{sawHeaders: true}
	c.pendingHeaders[fr.header.streamID] = asm
	c.mu.Unlock()
	asm.data = append(asm.data, fr.payload...)
	asm.endStream = fr.header.flags&flagEndStream != 0
	if fr.header.flags&flagEndHeaders != 0 {
		c.finishHeaders(fr.header.streamID)
	}
}

func (c *Conn) handleContinuation(fr frame) {
	c.mu.Lock()
	asm, ok := c.pendingHeaders[fr.header.streamID]
	c.mu.Unlock()
	if !ok {
		return
	}
	asm.data = append(asm.data, fr.payload...)
	if fr.header.flags&flagEndHeaders != 0 {
		c.finishHeaders(fr.header.streamID)
	}
}

func (c *Conn) finishHeaders(streamID uint32) {
	c.mu.Lock()
	asm := c.pendingHeaders[streamID]
	delete(c.pendingHeaders, streamID)
	st := c.streams[streamID]
	c.mu.Unlock()
	if asm == nil || st == nil {
		return
	}

	fields, err := c.hpackDec.DecodeFull(asm.data)
	if err != nil {
		st.fail(err)
		return
	}
	header := make(map[string][]string, len(fields))
	for _, f := range fields {
		header[f.Name] = append(header[f.Name], f.Value)
	}
	st.setHeader(header)
	if asm.endStream {
		st.closeData()
		st.setState(streamHalfClosedLocal)
	}
}

func (c *Conn) handleData(fr frame) {
	c.mu.Lock()
	st := c.streams[fr.header.streamID]
	c.mu.Unlock()
	if st == nil {
		return
	}
	st.pushData(fr.payload)
	if len(fr.payload) > 0 {
		c.enqueue(outFrame{typ: frameWindowUpdate, streamID: fr.header.streamID, payload: encodeWindowUpdate(uint32(len(fr.payload)))})
		c.enqueue(outFrame{typ: frameWindowUpdate, streamID: 0, payload: encodeWindowUpdate(uint32(len(fr.payload)))})
	}
	if fr.header.flags&flagEndStream != 0 {
		st.closeData()
		st.setState(streamClosed)
	}
}

func (c *Conn) handlePing(fr frame) {
	if fr.header.flags&flagACK != 0 {
		select {
		case c.pongReceived <- struct{}{}:
		default:
		}
		return
	}
	c.enqueue(outFrame{typ: framePing, flags: flagACK, streamID: 0, payload: fr.payload})
}

func (c *Conn) handleGoAway(fr frame) {
	lastID, _ := parseGoAway(fr.payload)
	c.mu.Lock()
	c.goAwayReceived = true
	c.lastProcessedID = lastID
	for id, st := range c.streams {
		if id > lastID {
			st.fail(fmt.Errorf("h2: stream not processed before GOAWAY"))
		}
	}
	c.mu.Unlock()
	atomic.StoreInt32(&c.state, int32(connpool.StateClosing))
}

func (c *Conn) handleRSTStream(fr frame) {
	c.mu.Lock()
	st := c.streams[fr.header.streamID]
	c.mu.Unlock()
	if st != nil {
		st.fail(fmt.Errorf("h2: stream reset by peer"))
	}
}

// Ping sends a connection-level liveness probe and reports whether a PONG
// arrived before pingTimeout; callers use this against idle connections
// and mark them Broken on a missed PONG.
func (c *Conn) Ping() bool {
	c.lastPingSent.Store(time.Now().UnixNano())
	c.enqueue(outFrame{typ: framePing, streamID: 0, payload: make([]byte, 8)})
	select {
	case <-c.pongReceived:
		return true
	case <-time.After(pingTimeout):
		c.broken()
		return false
	case <-c.closeCh:
		return false
	}
}
