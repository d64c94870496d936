package hyperhttp

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the minimal structured logging interface consulted by Client
// when debug logging is enabled. Each method takes a message followed by
// alternating key/value pairs, mirroring the shape expected by slog-style
// loggers without requiring one as a hard dependency.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

// SimpleLogger is a dependency-free Logger backed by the standard log
// package, writing one line per call with a level prefix.
type SimpleLogger struct {
	out *log.Logger
}

// NewSimpleLogger creates a SimpleLogger writing to stderr.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{out: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *SimpleLogger) Debug(msg string, kv ...interface{}) { l.log("DEBUG", msg, kv...) }
func (l *SimpleLogger) Info(msg string, kv ...interface{})  { l.log("INFO", msg, kv...) }
func (l *SimpleLogger) Warn(msg string, kv ...interface{})  { l.log("WARN", msg, kv...) }
func (l *SimpleLogger) Error(msg string, kv ...interface{}) { l.log("ERROR", msg, kv...) }

func (l *SimpleLogger) log(level, msg string, kv ...interface{}) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	l.out.Println(b.String())
}

// DebugConfig controls which categories of debug events Client emits, and
// how request IDs are generated for correlating them.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCircuit   bool
	LogCache     bool
	LogRateLimit bool
	LogPool      bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a DebugConfig with every category on and a
// monotonic counter as the request ID generator, disabled by default.
func DefaultDebugConfig() *DebugConfig {
	var counter uint64
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogRetries:   true,
		LogCircuit:   true,
		LogCache:     true,
		LogRateLimit: true,
		LogPool:      true,
		RequestIDGen: func() string {
			n := atomic.AddUint64(&counter, 1)
			return fmt.Sprintf("req-%d", n)
		},
	}
}
