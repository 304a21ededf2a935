// Package tracectx carries per-request trace metadata through context.Context.
//
// Go has no implicit task-local storage, so propagation is explicit: handlers
// and consumers thread a context, and everything spawned from inside a Run
// scope inherits the bound carrier. Concurrent requests hold independent
// carriers; a nested Run extends (and shadows) its parent for the lifetime of
// the callback.
package tracectx

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Metadata is the open string→string bag bound to one logical request.
type Metadata map[string]string

// Well-known metadata keys. Callers may add arbitrary extras.
const (
	KeyTraceID       = "trace_id"
	KeySpanID        = "span_id"
	KeyParentSpanID  = "parent_span_id"
	KeyRequestID     = "request_id"
	KeyUserID        = "user_id"
	KeySessionID     = "session_id"
	KeyCorrelationID = "correlation_id"
	KeyService       = "service"
	KeyEnvironment   = "environment"
	KeyVersion       = "version"
)

type carrierKey struct{}

// carrier is the mutable scope state. With mutates it in place so middleware
// that amends ids after authentication is visible to everything already
// holding the same scope's context.
type carrier struct {
	mu sync.Mutex
	kv map[string]string
}

func (c *carrier) snapshot() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(Metadata, len(c.kv))
	for k, v := range c.kv {
		out[k] = v
	}
	return out
}

func (c *carrier) merge(md Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range md {
		c.kv[k] = v
	}
}

func fromContext(ctx context.Context) *carrier {
	c, _ := ctx.Value(carrierKey{}).(*carrier)
	return c
}

func newCarrier(md Metadata) *carrier {
	kv := make(map[string]string, len(md))
	for k, v := range md {
		kv[k] = v
	}
	return &carrier{kv: kv}
}

// Current returns a copy of the metadata bound to ctx, never nil. When an
// OpenTelemetry span is active and the bag carries no trace_id, the span's
// ids are merged in so emitted records always correlate with the trace.
func Current(ctx context.Context) Metadata {
	var md Metadata
	if c := fromContext(ctx); c != nil {
		md = c.snapshot()
	} else {
		md = Metadata{}
	}
	if _, ok := md[KeyTraceID]; !ok {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			md[KeyTraceID] = sc.TraceID().String()
			md[KeySpanID] = sc.SpanID().String()
		}
	}
	return md
}

// With merges md into the carrier bound to ctx without opening a new scope.
// When ctx has no carrier yet, a fresh one is bound and the returned context
// must be used; otherwise the returned context is ctx itself.
func With(ctx context.Context, md Metadata) context.Context {
	if c := fromContext(ctx); c != nil {
		c.merge(md)
		return ctx
	}
	return context.WithValue(ctx, carrierKey{}, newCarrier(md))
}

// Run binds a child carrier (parent copy extended by md) for the dynamic
// extent of fn. The parent bag is untouched when fn returns; goroutines
// started inside fn keep the child scope through the context they capture.
func Run(ctx context.Context, md Metadata, fn func(context.Context)) {
	child := Metadata{}
	if c := fromContext(ctx); c != nil {
		for k, v := range c.snapshot() {
			child[k] = v
		}
	}
	for k, v := range md {
		child[k] = v
	}
	fn(context.WithValue(ctx, carrierKey{}, newCarrier(child)))
}

// Get returns a single metadata value from the current scope.
func Get(ctx context.Context, key string) (string, bool) {
	c := fromContext(ctx)
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.kv[key]
	return v, ok
}

// RequestID extracts the request id from the context, or "".
func RequestID(ctx context.Context) string {
	v, _ := Get(ctx, KeyRequestID)
	return v
}

// UserID extracts the user id from the context, or "".
func UserID(ctx context.Context) string {
	v, _ := Get(ctx, KeyUserID)
	return v
}

// EnsureRequestID returns a context whose carrier holds a request id,
// minting a UUID when absent. The id is returned alongside for response
// headers and access events.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return With(ctx, Metadata{KeyRequestID: id}), id
}
