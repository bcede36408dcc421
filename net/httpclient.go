package net

import (
	"net/http"
	"net/http/httptrace"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracingTagURL = "http.url"
)

// Options are mostly passed to the http.Transport of the same
// name. Options.Timeout can be used as default for all timeouts, that
// are not set. Tracer can be nil to use the global tracer provider.
type Options struct {
	// DisableKeepAlives see https://golang.org/pkg/net/http/#Transport.DisableKeepAlives
	DisableKeepAlives bool
	// MaxIdleConns see https://golang.org/pkg/net/http/#Transport.MaxIdleConns
	MaxIdleConns int
	// MaxIdleConnsPerHost see https://golang.org/pkg/net/http/#Transport.MaxIdleConnsPerHost
	MaxIdleConnsPerHost int
	// MaxConnsPerHost see https://golang.org/pkg/net/http/#Transport.MaxConnsPerHost
	MaxConnsPerHost int
	// Timeout sets all Timeouts, that are set to 0 to the given
	// value. Basically it's the default timeout value.
	Timeout time.Duration
	// TLSHandshakeTimeout see
	// https://golang.org/pkg/net/http/#Transport.TLSHandshakeTimeout,
	// if not set or set to 0, its using Options.Timeout.
	TLSHandshakeTimeout time.Duration
	// IdleConnTimeout see
	// https://golang.org/pkg/net/http/#Transport.IdleConnTimeout,
	// if not set or set to 0, its using Options.Timeout.
	IdleConnTimeout time.Duration
	// ResponseHeaderTimeout see
	// https://golang.org/pkg/net/http/#Transport.ResponseHeaderTimeout,
	// if not set or set to 0, its using Options.Timeout.
	ResponseHeaderTimeout time.Duration
	// Tracer
	Tracer trace.Tracer
}

// Transport executes the outgoing requests to the renderer, to remote
// middleware and to external rewrite destinations. Redirects are never
// followed, they are returned to the caller.
type Transport struct {
	tr     *http.Transport
	tracer trace.Tracer
}

func NewHTTPRoundTripper(options Options, quit <-chan struct{}) *Transport {
	if options.Tracer == nil {
		options.Tracer = otel.Tracer("github.com/zalando/edgerender/net")
	}

	if options.TLSHandshakeTimeout == 0 {
		options.TLSHandshakeTimeout = options.Timeout
	}
	if options.IdleConnTimeout == 0 {
		options.IdleConnTimeout = options.Timeout
	}
	if options.ResponseHeaderTimeout == 0 {
		options.ResponseHeaderTimeout = options.Timeout
	}

	htransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DisableKeepAlives:     options.DisableKeepAlives,
		MaxIdleConns:          options.MaxIdleConns,
		MaxIdleConnsPerHost:   options.MaxIdleConnsPerHost,
		MaxConnsPerHost:       options.MaxConnsPerHost,
		ResponseHeaderTimeout: options.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   options.TLSHandshakeTimeout,
		IdleConnTimeout:       options.IdleConnTimeout,
	}

	if options.IdleConnTimeout > 0 {
		go func() {
			for {
				select {
				case <-time.After(options.IdleConnTimeout):
					htransport.CloseIdleConnections()
				case <-quit:
					return
				}
			}
		}()
	}

	return &Transport{
		tr:     htransport,
		tracer: options.Tracer,
	}
}

// implement RoundTripper interface
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.tr.RoundTrip(req)
}

// Do executes the request in a client span named spanName, child of the
// span found in the request context.
func (t *Transport) Do(req *http.Request, spanName string) (*http.Response, error) {
	ctx, span := t.tracer.Start(req.Context(), spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(tracingTagURL, req.URL.String())),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req = req.WithContext(httptrace.WithClientTrace(ctx, clientTrace(span)))

	span.AddEvent("http_do_start")
	rsp, err := t.tr.RoundTrip(req)
	span.AddEvent("http_do_stop")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", rsp.StatusCode))
	return rsp, nil
}

func clientTrace(span trace.Span) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) {
			span.AddEvent("get_conn_start")
		},
		GotConn: func(httptrace.GotConnInfo) {
			span.AddEvent("get_conn_end")
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			span.AddEvent("wrote_request")
		},
		GotFirstResponseByte: func() {
			span.AddEvent("first_response_byte")
		},
	}
}
