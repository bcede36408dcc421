package proxy

import (
	stdlibcontext "context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	HTTPHostTag       = "http.host"
	HTTPMethodTag     = "http.method"
	HTTPPathTag       = "http.path"
	HTTPStatusCodeTag = "http.status_code"
	RequestIDTag      = "edge.request_id"
	RewriteStatusTag  = "edge.rewrite_status"
	ExternalTag       = "edge.external"
	OutcomeTag        = "edge.middleware"
)

// TracingParams of the proxy spans.
type TracingParams struct {
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer

	// InitialSpan is the name of the span covering the whole request.
	// Default: ingress.
	InitialSpan string
}

type proxyTracing struct {
	tracer      trace.Tracer
	initialSpan string
}

func newProxyTracing(p *TracingParams) *proxyTracing {
	if p == nil {
		p = &TracingParams{}
	}

	t := &proxyTracing{tracer: p.Tracer, initialSpan: p.InitialSpan}
	if t.tracer == nil {
		t.tracer = otel.Tracer("github.com/zalando/edgerender/proxy")
	}

	if t.initialSpan == "" {
		t.initialSpan = "ingress"
	}

	return t
}

func (t *proxyTracing) start(ctx stdlibcontext.Context, name string, kind trace.SpanKind) (stdlibcontext.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind))
}

func setError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func setTag(span trace.Span, key string, value any) {
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	}
}
