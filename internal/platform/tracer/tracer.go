// Package tracer is a small tracing abstraction over OpenTelemetry.
//
// Components depend on the Tracer interface so unit tests can run with
// NoopTracer or Recorder while production wires OTelTracer.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks it failed.
	// End must be called exactly once.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute      { return Attribute{Key: key, Value: value} }
func Bool(key string, value bool) Attribute   { return Attribute{Key: key, Value: value} }
func Int(key string, value int) Attribute     { return Attribute{Key: key, Value: value} }
func Int64(key string, value int64) Attribute { return Attribute{Key: key, Value: value} }
func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashUserID returns a short stable digest of a Telegram user ID so traces
// can be correlated without exporting the raw ID.
func HashUserID(uid int64) string {
	hash := sha256.Sum256([]byte(strconv.FormatInt(uid, 10)))
	return hex.EncodeToString(hash[:8])
}

// Span names.
const (
	SpanUpstreamAttempt = "cargotech.attempt"
	SpanUpstreamLogin   = "cargotech.login"
	SpanCacheGet        = "cache.get"
	SpanWebhookProcess  = "billing.webhook.process"
)

// Attribute keys.
const (
	AttrOperation   = "op"
	AttrAttempt     = "attempt"
	AttrStatusCode  = "http.status_code"
	AttrCacheTier   = "cache.tier"
	AttrCacheHit    = "cache.hit"
	AttrCacheStale  = "cache.stale"
	AttrCacheResult = "cache.result"
	AttrUserHash    = "user.hash"
	AttrEventType   = "webhook.event"
	AttrOutcome     = "webhook.outcome"
)
