package proxy

import (
	stdlibcontext "context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/zalando/edgerender/cache"
	"github.com/zalando/edgerender/event"
	"github.com/zalando/edgerender/logging"
	"github.com/zalando/edgerender/manifest"
	"github.com/zalando/edgerender/metrics"
	"github.com/zalando/edgerender/middleware"
	"github.com/zalando/edgerender/rules"
)

const (
	phaseRedirect   = "redirect"
	phaseMiddleware = "middleware"
	phaseLocale     = "locale"
	phaseCache      = "cache"
	phaseRender     = "render"
	phaseRelay      = "relay"
)

// RoutingSource provides the current generation of the compiled
// manifest, implemented by manifest.Routing.
type RoutingSource interface {
	Get() *manifest.Routes
}

// Params of the proxy.
type Params struct {
	Routing RoutingSource

	// Renderer renders the internal events.
	Renderer Upstream

	// Relay forwards the events rewritten to another origin. When nil,
	// external rewrites are answered with the error page.
	Relay Upstream

	Metrics metrics.Metrics
	Tracing *TracingParams
	Log     logging.Logger

	// NewRequestID defaults to random UUIDs.
	NewRequestID func() string
}

// Proxy runs the pipeline of the events. It is safe for concurrent use.
type Proxy struct {
	routing      RoutingSource
	renderer     Upstream
	relayer      Upstream
	metrics      metrics.Metrics
	tracing      *proxyTracing
	log          logging.Logger
	newRequestID func() string
}

var errNoRelay = errors.New("external rewrites are not enabled")

func New(p Params) *Proxy {
	px := &Proxy{
		routing:      p.Routing,
		renderer:     p.Renderer,
		relayer:      p.Relay,
		metrics:      p.Metrics,
		tracing:      newProxyTracing(p.Tracing),
		log:          p.Log,
		newRequestID: p.NewRequestID,
	}

	if px.metrics == nil {
		px.metrics = metrics.Default
	}

	if px.log == nil {
		px.log = logging.New(map[string]any{"component": "proxy"})
	}

	if px.newRequestID == nil {
		px.newRequestID = uuid.NewString
	}

	return px
}

// Handle runs the pipeline for the event and returns the result to
// respond with. Errors are returned only for invalid middleware
// responses and request time rule failures, unavailable upstreams
// produce the error page.
func (p *Proxy) Handle(ctx stdlibcontext.Context, e *event.Event) (*event.Result, error) {
	ctx, span := p.tracing.start(ctx, p.tracing.initialSpan, trace.SpanKindServer)
	defer span.End()

	c := newContext(ctx, p.routing.Get(), e, p.newRequestID())
	setTag(span, RequestIDTag, c.event.Meta.RequestID)
	setTag(span, HTTPMethodTag, e.Method)
	setTag(span, HTTPHostTag, e.Host())
	setTag(span, HTTPPathTag, e.RawPath)

	res, err := p.do(c)
	if errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, middleware.ErrUnavailable) || errors.Is(err, errNoRelay) {
		p.log.Errorf("request %s: %v", c.event.Meta.RequestID, err)
		setError(span, err)
		res, err = p.errorPage(c)
	}

	if err != nil {
		setError(span, err)
		return nil, err
	}

	p.finish(c, res)
	setTag(span, HTTPStatusCodeTag, res.StatusCode)
	return res, nil
}

func (p *Proxy) phase(c *context, name string, f func(stdlibcontext.Context) (*event.Result, error)) (*event.Result, error) {
	start := time.Now()
	ctx, span := p.tracing.start(c.ctx, name, trace.SpanKindInternal)
	defer func() {
		span.End()
		p.metrics.MeasurePhase(name, start)
	}()

	res, err := f(ctx)
	if err != nil {
		setError(span, err)
	}

	return res, err
}

func (p *Proxy) do(c *context) (*event.Result, error) {
	p.classify(c)

	if res, err := p.phase(c, phaseRedirect, func(stdlibcontext.Context) (*event.Result, error) {
		return c.routes.Rules.Redirect(c.event)
	}); err != nil || res != nil {
		return res, err
	}

	var mo middleware.Outcome
	if _, err := p.phase(c, phaseMiddleware, func(ctx stdlibcontext.Context) (*event.Result, error) {
		var err error
		mo, err = c.routes.Middleware.Run(ctx, c.event)
		if err == nil {
			setTag(trace.SpanFromContext(ctx), OutcomeTag, mo.Kind.String())
		}

		return nil, err
	}); err != nil {
		return nil, err
	}

	switch mo.Kind {
	case middleware.Terminal:
		// the response headers are already part of the result
		c.event.Meta.ResponseHeaders = nil
		return mo.Result, nil
	case middleware.Rewrite:
		c.event = mo.Event
		if mo.External {
			return p.relay(c)
		}

		p.classify(c)
	default:
		c.event = mo.Event
	}

	if res, done, err := p.rewrite(c, rules.BeforeFiles); done || err != nil {
		return res, err
	}

	if !c.static && !c.asset {
		if res, done, err := p.rewrite(c, rules.AfterFiles); done || err != nil {
			return res, err
		}

		if !c.resolved() {
			if res, done, err := p.rewrite(c, rules.Fallback); done || err != nil {
				return res, err
			}
		}

		if !c.resolved() {
			p.reroute(c, c.routes.Manifest.NotFoundPage, http.StatusNotFound)
		}
	}

	p.localize(c)

	if c.routes.Cache != nil && !c.asset {
		if res, _ := p.phase(c, phaseCache, func(ctx stdlibcontext.Context) (*event.Result, error) {
			return c.routes.Cache.Intercept(ctx, c.event), nil
		}); res != nil {
			return res, nil
		}
	}

	return p.render(c)
}

// rewrite applies a rewrite phase. When the phase rewrites to another
// origin, the event is relayed and done is true.
func (p *Proxy) rewrite(c *context, ph rules.Phase) (res *event.Result, done bool, err error) {
	var o rules.Outcome
	if _, err := p.phase(c, ph.String(), func(stdlibcontext.Context) (*event.Result, error) {
		var err error
		o, err = c.routes.Rules.Rewrite(ph, c.event)
		return nil, err
	}); err != nil {
		return nil, true, err
	}

	if o.Rule == nil {
		return nil, false, nil
	}

	c.event = o.Event
	if o.External {
		res, err := p.relay(c)
		return res, true, err
	}

	p.classify(c)
	return nil, false, nil
}

func (p *Proxy) classify(c *context) {
	static, dynamic := c.routes.Table.Match(c.event.RawPath)
	c.static = len(static) > 0
	c.asset = c.routes.Table.IsAsset(c.event.RawPath)

	routes := make([]event.ResolvedRoute, 0, len(static)+len(dynamic))
	for _, m := range append(static, dynamic...) {
		routes = append(routes, event.ResolvedRoute{
			Route: m.Definition.Page,
			Type:  string(m.Definition.Category),
		})
	}

	c.event.Meta.ResolvedRoutes = routes
}

// reroute points the event to a page of the application, keeping the
// locale of the path.
func (p *Proxy) reroute(c *context, page string, status int) {
	path := c.basePath() + page
	if loc := c.routes.Locale; loc != nil {
		if l, _ := loc.PathLocale(c.event.RawPath); l != "" {
			path = c.basePath() + "/" + l + page
		}
	}

	c.event.SetPath(path)
	c.event.Meta.RewriteStatus = status
	p.classify(c)
}

func (p *Proxy) localize(c *context) {
	if c.routes.Locale == nil {
		return
	}

	_, _ = p.phase(c, phaseLocale, func(stdlibcontext.Context) (*event.Result, error) {
		c.routes.Locale.Localize(c.event)
		return nil, nil
	})
}

func (p *Proxy) render(c *context) (*event.Result, error) {
	return p.phase(c, phaseRender, func(ctx stdlibcontext.Context) (*event.Result, error) {
		return p.renderer.Do(ctx, c.event)
	})
}

func (p *Proxy) relay(c *context) (*event.Result, error) {
	if p.relayer == nil {
		return nil, fmt.Errorf("%w: %s", errNoRelay, c.event.URL.Host)
	}

	c.event.Header.Del("host")
	return p.phase(c, phaseRelay, func(ctx stdlibcontext.Context) (*event.Result, error) {
		setTag(trace.SpanFromContext(ctx), ExternalTag, true)
		return p.relayer.Do(ctx, c.event)
	})
}

// errorPage renders the error page for the original request with status
// 500, unless a redirect applies to the error page. When the renderer
// fails again, a plain 500 response is returned.
func (p *Proxy) errorPage(c *context) (*event.Result, error) {
	meta := c.event.Meta
	c.event = c.original.Clone()
	c.event.Meta.RequestID = meta.RequestID
	c.event.Meta.InitialURL = meta.InitialURL
	c.event.Meta.ResponseHeaders = meta.ResponseHeaders
	p.reroute(c, c.routes.Manifest.ErrorPage, http.StatusInternalServerError)

	// the error page is subject to the redirects, too
	if res, err := p.phase(c, phaseRedirect, func(stdlibcontext.Context) (*event.Result, error) {
		return c.routes.Rules.Redirect(c.event)
	}); err == nil && res != nil {
		return res, nil
	} else if err != nil {
		p.log.Errorf("request %s: error page redirect: %v", c.event.Meta.RequestID, err)
	}

	p.localize(c)

	res, err := p.render(c)
	if err != nil {
		p.log.Errorf("request %s: error page: %v", c.event.Meta.RequestID, err)
		return event.NewResult(
			http.StatusInternalServerError,
			event.Header{"content-type": {"text/plain; charset=utf-8"}},
			[]byte(http.StatusText(http.StatusInternalServerError)),
		), nil
	}

	res.StatusCode = http.StatusInternalServerError
	return res, nil
}

// finish adds the response headers collected on the way, the request id
// and the cache status.
func (p *Proxy) finish(c *context, res *event.Result) {
	if res.Header == nil {
		res.Header = make(event.Header)
	}

	for k, v := range c.event.Meta.ResponseHeaders {
		switch {
		case k == "set-cookie":
			for _, vi := range v {
				res.Header.Add(k, vi)
			}
		case !res.Header.Has(k):
			res.Header[k] = append([]string(nil), v...)
		}
	}

	res.Header.Set(RequestIDHeader, c.event.Meta.RequestID)
	if c.event.Meta.CacheStatus != "" && !res.Header.Has(cache.StatusHeader) {
		res.Header.Set(cache.StatusHeader, c.event.Meta.CacheStatus)
	}

	p.metrics.MeasurePhase("total", c.startServe)
}
