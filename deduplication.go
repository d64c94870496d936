package hyperhttp

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"

	"github.com/lmousom/hyperhttp/internal/singleflight"
)

// DeduplicationTracker coalesces concurrent identical requests into a
// single in-flight execution via internal/singleflight, so a burst of
// callers asking for the same resource produce one round trip and share
// its result rather than each issuing their own.
type DeduplicationTracker struct {
	group *singleflight.Group
}

// NewDeduplicationTracker returns a singleflight-backed de-duplication tracker.
func NewDeduplicationTracker() *DeduplicationTracker {
	return &DeduplicationTracker{group: singleflight.New()}
}

// Do runs fn at most once for all callers sharing key concurrently.
// shared reports whether this caller received a result it did not itself
// produce.
func (dt *DeduplicationTracker) Do(key string, fn func() (*http.Response, error)) (resp *http.Response, err error, shared bool) {
	v, err, shared := dt.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	if v == nil {
		return nil, err, shared
	}
	return v.(*http.Response), err, shared
}

// DeduplicationKeyFunc builds a key for identifying identical in-flight requests.
type DeduplicationKeyFunc func(*http.Request) string

// DefaultDeduplicationKeyFunc builds a key from method + URL (+ body hash for mutating verbs).
func DefaultDeduplicationKeyFunc(req *http.Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	h.Write([]byte(req.URL.String()))

	if req.Body != nil && (req.Method == "POST" || req.Method == "PUT" || req.Method == "PATCH") {
		bodyHash := sha256.New()
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err == nil {
				_, err := io.Copy(bodyHash, body)
				if err != nil {
					_ = err
				}
			}
		}
		h.Write(bodyHash.Sum(nil))
	}

	return fmt.Sprintf("%x", h.Sum64())
}

// DeduplicationCondition decides whether a request is eligible for deduplication.
type DeduplicationCondition func(req *http.Request) bool

// DefaultDeduplicationCondition enables deduplication for safe idempotent methods.
func DefaultDeduplicationCondition(req *http.Request) bool {
	return req.Method == "GET" || req.Method == "HEAD" || req.Method == "OPTIONS"
}
