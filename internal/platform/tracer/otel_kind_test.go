package tracer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestSpanKind(t *testing.T) {
	assert.Equal(t, trace.SpanKindClient, spanKind(SpanUpstreamAttempt))
	assert.Equal(t, trace.SpanKindClient, spanKind(SpanUpstreamLogin))
	assert.Equal(t, trace.SpanKindInternal, spanKind(SpanCacheGet))
	assert.Equal(t, trace.SpanKindInternal, spanKind(SpanWebhookProcess))
}

func TestToKeyValues(t *testing.T) {
	kvs := toKeyValues([]Attribute{
		String(AttrOperation, "cargos.list"),
		Int(AttrAttempt, 2),
		Duration("wait_ms", 1500*time.Millisecond),
		{Key: "unsupported", Value: []int{1}},
	})

	assert.Equal(t, []attribute.KeyValue{
		attribute.String(AttrOperation, "cargos.list"),
		attribute.Int(AttrAttempt, 2),
		attribute.Int64("wait_ms", 1500),
	}, kvs)
	assert.Nil(t, toKeyValues(nil))
}
