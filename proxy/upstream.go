package proxy

import (
	stdlibcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/zalando/edgerender/circuit"
	"github.com/zalando/edgerender/event"
	"github.com/zalando/edgerender/middleware"
)

const (
	InitialURLHeader     = "x-edge-initial-url"
	ResolvedRoutesHeader = "x-edge-resolved-routes"
	RequestIDHeader      = "x-edge-request-id"
	RewriteStatusHeader  = "x-edge-rewrite-status"
)

// ErrUpstreamUnavailable is returned when the renderer or the target of
// an external rewrite cannot be reached.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

var hopHeaders = map[string]bool{
	"Te":                  true,
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Upstream answers the events leaving the pipeline.
type Upstream interface {
	Do(stdlibcontext.Context, *event.Event) (*event.Result, error)
}

// Doer executes outgoing requests, implemented by net.Transport.
type Doer interface {
	Do(*http.Request, string) (*http.Response, error)
}

// HTTPUpstream forwards the events over HTTP.
type HTTPUpstream struct {
	url     string
	client  Doer
	breaker *circuit.Breaker
	relay   bool
}

// NewRenderer creates the upstream of the internal events. The path and
// the query of the event are appended to url, and the diagnostic headers
// are set.
func NewRenderer(url string, c Doer, b *circuit.Breaker) *HTTPUpstream {
	return &HTTPUpstream{url: strings.TrimSuffix(url, "/"), client: c, breaker: b}
}

// NewRelay creates the upstream of the external rewrites. The events are
// forwarded to their own URL.
func NewRelay(c Doer, b *circuit.Breaker) *HTTPUpstream {
	return &HTTPUpstream{client: c, breaker: b, relay: true}
}

func cloneHeaderExcluding(h http.Header, exclude map[string]bool) http.Header {
	hh := make(http.Header, len(h))
	for k, v := range h {
		if !exclude[k] {
			hh[k] = append([]string(nil), v...)
		}
	}

	return hh
}

func setDiagnostics(h http.Header, e *event.Event) error {
	h.Set(InitialURLHeader, e.Meta.InitialURL)
	h.Set(RequestIDHeader, e.Meta.RequestID)

	routes := e.Meta.ResolvedRoutes
	if routes == nil {
		routes = []event.ResolvedRoute{}
	}

	b, err := json.Marshal(routes)
	if err != nil {
		return err
	}

	h.Set(ResolvedRoutesHeader, string(b))
	if e.Meta.RewriteStatus != 0 {
		h.Set(RewriteStatusHeader, strconv.Itoa(e.Meta.RewriteStatus))
	}

	if keys := e.Meta.NextHeaders.Keys(); len(keys) > 0 {
		h.Set(middleware.OverrideHeader, strings.Join(keys, ","))
	}

	return nil
}

func (u *HTTPUpstream) request(ctx stdlibcontext.Context, e *event.Event) (*http.Request, error) {
	var body io.Reader
	if e.Body != nil {
		body = e.Body
	}

	target := u.url + e.RequestURI()
	if u.relay {
		target = e.URL.Scheme + "://" + e.URL.Host + e.RequestURI()
	}

	req, err := http.NewRequestWithContext(ctx, e.Method, target, body)
	if err != nil {
		return nil, err
	}

	req.Header = cloneHeaderExcluding(e.Header.HTTP(), hopHeaders)
	req.Header.Del("Host")
	if u.relay {
		return req, nil
	}

	req.Host = e.Host()
	req.Header.Set("X-Forwarded-Host", e.Host())
	req.Header.Set("X-Forwarded-Proto", e.Scheme())
	if e.RemoteAddr != "" {
		req.Header.Set("X-Forwarded-For", e.RemoteAddr)
	}

	return req, setDiagnostics(req.Header, e)
}

func (u *HTTPUpstream) Do(ctx stdlibcontext.Context, e *event.Event) (*event.Result, error) {
	req, err := u.request(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	spanName := "render"
	if u.relay {
		spanName = "relay"
	}

	var rsp *http.Response
	err = u.breaker.Do(func() error {
		var err error
		rsp, err = u.client.Do(req, spanName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUpstreamUnavailable, e.Method, req.URL.Host, err)
	}

	h := event.FromHTTP(cloneHeaderExcluding(rsp.Header, hopHeaders))
	body := rsp.Body
	return &event.Result{
		StatusCode: rsp.StatusCode,
		Header:     h,
		Body:       func() (io.ReadCloser, error) { return body, nil },
	}, nil
}
