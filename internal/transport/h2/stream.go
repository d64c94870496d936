package h2

import (
	"io"
	"sync"
	"sync/atomic"
)

// streamState mirrors the subset of RFC 7540 §5.1 this client needs: we
// never receive PUSH_PROMISE (push disabled) so reserved states don't
// apply to client-initiated streams.
type streamState int32

const (
	streamIdle streamState = iota
	streamOpen
	streamHalfClosedLocal
	streamClosed
)

// stream is one HTTP/2 request/response exchange multiplexed on a Conn.
type stream struct {
	id    uint32
	state int32 // atomic streamState

	sendWindow int64 // atomic; this stream's send flow-control budget
	recvWindow int64 // atomic; local window we've advertised to the peer

	header     map[string][]string
	headerOnce sync.Once
	headerCh   chan struct{}

	data     chan []byte // inbound DATA payloads, closed on END_STREAM
	dataOnce sync.Once

	errOnce sync.Once
	err     error
	errCh   chan struct{}
}

func newStream(id uint32, initialSendWindow, initialRecvWindow int32) *stream {
	return &stream{
		id:         id,
		state:      int32(streamIdle),
		sendWindow: int64(initialSendWindow),
		recvWindow: int64(initialRecvWindow),
		headerCh:   make(chan struct{}),
		data:       make(chan []byte, 16),
		errCh:      make(chan struct{}),
	}
}

func (s *stream) setState(v streamState) { atomic.StoreInt32(&s.state, int32(v)) }
func (s *stream) getState() streamState  { return streamState(atomic.LoadInt32(&s.state)) }

func (s *stream) setHeader(h map[string][]string) {
	s.headerOnce.Do(func() {
		s.header = h
		close(s.headerCh)
	})
}

func (s *stream) pushData(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.data <- cp
}

func (s *stream) closeData() {
	s.dataOnce.Do(func() { close(s.data) })
}

func (s *stream) fail(err error) {
	s.errOnce.Do(func() {
		s.err = err
		close(s.errCh)
	})
	s.closeData()
}

// streamBody adapts a stream's inbound data channel to io.ReadCloser for
// core.Response.Body, implementing core's streaming body contract.
type streamBody struct {
	s       *stream
	buf     []byte
	onClose func()
}

func (b *streamBody) Read(p []byte) (int, error) {
	for len(b.buf) == 0 {
		select {
		case chunk, ok := <-b.s.data:
			if !ok {
				if b.s.err != nil {
					return 0, b.s.err
				}
				return 0, io.EOF
			}
			b.buf = chunk
		case <-b.s.errCh:
			return 0, b.s.err
		}
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *streamBody) Close() error {
	if b.onClose != nil {
		b.onClose()
	}
	return nil
}
