package hyperhttp

import "time"

// TracePhase identifies a point in a request's lifecycle a Tracer can
// observe.
type TracePhase string

const (
	TraceDNS         TracePhase = "dns"
	TraceConnect     TracePhase = "connect"
	TraceTLS         TracePhase = "tls"
	TraceRequestSent TracePhase = "request_sent"
	TraceFirstByte   TracePhase = "first_byte"
	TraceComplete    TracePhase = "complete"
	// TraceInformational marks a 1xx response other than 100-continue.
	// Nothing in this package emits it: the executor calls no Tracer, and
	// the H1 transport does not skip such responses while waiting for
	// the final one.
	TraceInformational TracePhase = "informational"
)

// Tracer is a synchronous capability object invoked at well-defined points
// in a request's lifecycle. Unlike net/http/httptrace's many independent
// callback fields, a single method keeps the hook surface closed and easy
// to implement with one switch statement.
type Tracer interface {
	Trace(phase TracePhase, url string, elapsed time.Duration, protocol string, err error)
}

// TracerFunc adapts a plain function to the Tracer interface.
type TracerFunc func(phase TracePhase, url string, elapsed time.Duration, protocol string, err error)

func (f TracerFunc) Trace(phase TracePhase, url string, elapsed time.Duration, protocol string, err error) {
	f(phase, url, elapsed, protocol, err)
}
