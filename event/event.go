/*
Package event contains the internal request and result model that flows
through the routing pipeline.

An Event is created once per inbound request by the adapter, rewritten in
place by the pipeline stages, and never shared across requests. A Result is
the terminal output of the pipeline, either synthesized by a stage (redirect,
cache hit, middleware response) or returned by the renderer.

Instructions meant only for the next internal stage travel in the Meta side
channel. They are turned into wire headers only at the outermost boundary,
when the event is handed to the renderer.
*/
package event

import (
	"io"
	"net/url"
	"strings"
)

// ResolvedRoute is a route definition matched for the event, reported to the
// renderer as a diagnostic.
type ResolvedRoute struct {
	Route string `json:"route"`
	Type  string `json:"type"`
}

// Meta carries per request state between the pipeline stages.
type Meta struct {
	// InitialURL is the URL of the request as received.
	InitialURL string

	// RequestID correlates the request across the pipeline and the
	// renderer.
	RequestID string

	// ResolvedRoutes are the route definitions matched by the last
	// classification.
	ResolvedRoutes []ResolvedRoute

	// RewriteStatus is the status code the renderer should respond with,
	// when a phase decided one (e.g. 404 page). 0 means unset.
	RewriteStatus int

	// Locale is the effective locale of the request, empty when no
	// locales are configured.
	Locale string

	// CacheStatus is set by the cache interceptor when it passes the
	// request through.
	CacheStatus string

	// External is set when a rewrite points to another origin.
	External bool

	// NextHeaders are the request header overrides set by the middleware
	// for the next internal stage.
	NextHeaders Header

	// ResponseHeaders are added to the final result, e.g. set-cookie
	// values produced by the middleware.
	ResponseHeaders Header
}

// Event is the internal representation of an inbound request.
type Event struct {
	Method     string
	RawPath    string
	URL        *url.URL
	Header     Header
	Query      url.Values
	Cookies    map[string]string
	Body       io.ReadCloser
	RemoteAddr string

	Meta Meta
}

// Host returns the host the request was addressed to.
func (e *Event) Host() string {
	if h := e.Header.Get("x-forwarded-host"); h != "" {
		return h
	}

	if h := e.Header.Get("host"); h != "" {
		return h
	}

	if e.URL != nil {
		return e.URL.Host
	}

	return ""
}

// Scheme returns the protocol of the request, https by default.
func (e *Event) Scheme() string {
	if p := e.Header.Get("x-forwarded-proto"); p != "" {
		return strings.ToLower(p)
	}

	if e.URL != nil && e.URL.Scheme != "" {
		return e.URL.Scheme
	}

	return "https"
}

// Origin returns scheme://host of the request.
func (e *Event) Origin() string {
	return e.Scheme() + "://" + e.Host()
}

// SetURL rewrites the event to u. Relative URLs keep the current origin.
// The raw path and the query are derived from the new URL.
func (e *Event) SetURL(u *url.URL) {
	nu := *u
	if nu.Host == "" && e.URL != nil {
		nu.Scheme = e.URL.Scheme
		nu.Host = e.URL.Host
	}

	if nu.Path == "" {
		nu.Path = "/"
	}

	e.URL = &nu
	e.RawPath = nu.Path
	e.Query = nu.Query()
}

// SetPath rewrites the path keeping the origin and the query.
func (e *Event) SetPath(p string) {
	u := *e.URL
	u.Path = p
	u.RawPath = ""
	e.URL = &u
	e.RawPath = p
}

// SetQuery replaces the query.
func (e *Event) SetQuery(q url.Values) {
	u := *e.URL
	u.RawQuery = q.Encode()
	e.URL = &u
	e.Query = q
}

// RequestURI returns path and query of the event.
func (e *Event) RequestURI() string {
	if len(e.Query) == 0 {
		return e.URL.EscapedPath()
	}

	return e.URL.EscapedPath() + "?" + e.Query.Encode()
}

// Clone returns a copy of the event sharing only the body.
func (e *Event) Clone() *Event {
	c := *e
	if e.URL != nil {
		u := *e.URL
		c.URL = &u
	}

	c.Header = e.Header.Clone()
	c.Query = cloneValues(e.Query)
	c.Cookies = make(map[string]string, len(e.Cookies))
	for k, v := range e.Cookies {
		c.Cookies[k] = v
	}

	c.Meta.ResolvedRoutes = append([]ResolvedRoute(nil), e.Meta.ResolvedRoutes...)
	c.Meta.NextHeaders = e.Meta.NextHeaders.Clone()
	c.Meta.ResponseHeaders = e.Meta.ResponseHeaders.Clone()
	return &c
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return url.Values{}
	}

	c := make(url.Values, len(v))
	for k, vv := range v {
		c[k] = append([]string(nil), vv...)
	}

	return c
}
