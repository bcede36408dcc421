/*
Package middleware runs the user supplied request interceptor and
translates its response into an outcome for the pipeline.

The interceptor receives a copy of the request. It can let the request
continue, rewrite it to another internal path or to an external origin,
or answer it directly. Headers prefixed with x-middleware-request- in its
response become request headers for the next internal stage. The same
prefix is removed from inbound requests, so clients cannot inject
overrides.
*/
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/zalando/edgerender/event"
)

const (
	// RequestPrefix marks response headers of the interceptor that are
	// passed to the next stage as request headers.
	RequestPrefix = "x-middleware-request-"

	// RewriteHeader holds the rewrite target.
	RewriteHeader = "x-middleware-rewrite"

	// NextHeader lets the request continue.
	NextHeader = "x-middleware-next"

	// OverrideHeader lists the names of the request header overrides.
	OverrideHeader = "x-middleware-override-headers"
)

var (
	// ErrInvalidResponse is returned when the interceptor response is
	// neither a continuation, a rewrite, a redirect nor a response.
	ErrInvalidResponse = errors.New("invalid middleware response")

	// ErrUnavailable is returned when a remote interceptor cannot be
	// reached.
	ErrUnavailable = errors.New("middleware unavailable")
)

// Handler is the user supplied interceptor. A nil result lets the
// request continue unchanged.
type Handler interface {
	Handle(context.Context, *event.Event) (*event.Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *event.Event) (*event.Result, error)

func (f HandlerFunc) Handle(ctx context.Context, e *event.Event) (*event.Result, error) {
	return f(ctx, e)
}

// Kind of an outcome.
type Kind int

const (
	Continue Kind = iota
	Rewrite
	Terminal
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Rewrite:
		return "rewrite"
	default:
		return "terminal"
	}
}

// Outcome of running the interceptor.
type Outcome struct {
	Kind Kind

	// Event continues through the pipeline, for Continue and Rewrite.
	// The header overrides are applied to it and recorded in its
	// Meta.NextHeaders.
	Event *event.Event

	// Overrides are the request headers set by the interceptor.
	Overrides event.Header

	// External is set for rewrites to another origin.
	External bool

	// Result answers the request, for Terminal.
	Result *event.Result
}

// Options of the runner.
type Options struct {
	Handler Handler

	// Matchers restrict the paths the interceptor runs for. They are
	// regular expressions matched against the whole path. Empty means
	// all paths.
	Matchers []string
}

// Runner runs the interceptor.
type Runner struct {
	handler  Handler
	matchers []*regexp.Regexp
}

// New creates a runner. The matchers are validated even when no handler
// is configured, in which case the runner is nil.
func New(o Options) (*Runner, error) {
	r := &Runner{handler: o.Handler}
	for _, m := range o.Matchers {
		rx, err := regexp.Compile("^(?:" + m + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid middleware matcher %q: %w", m, err)
		}

		r.matchers = append(r.matchers, rx)
	}

	if o.Handler == nil {
		return nil, nil
	}

	return r, nil
}

// Matches tells whether the interceptor runs for the path.
func (r *Runner) Matches(path string) bool {
	if r == nil {
		return false
	}

	if len(r.matchers) == 0 {
		return true
	}

	for _, m := range r.matchers {
		if m.MatchString(path) {
			return true
		}
	}

	return false
}

// transportHeaders describe the middleware response itself, and are not
// passed on to the final response.
var transportHeaders = map[string]bool{
	"connection":        true,
	"content-length":    true,
	"date":              true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"te":                true,
	"trailer":           true,
	"transfer-encoding": true,
	"upgrade":           true,
}

func isReserved(k string) bool {
	return strings.HasPrefix(k, RequestPrefix) ||
		k == RewriteHeader ||
		k == NextHeader ||
		k == OverrideHeader
}

// StripReserved removes the reserved headers from the request.
func StripReserved(h event.Header) {
	for k := range h {
		if isReserved(k) {
			delete(h, k)
		}
	}
}

// Run executes the interceptor for the event. Events on paths not
// matched by the runner continue unchanged.
func (r *Runner) Run(ctx context.Context, e *event.Event) (Outcome, error) {
	in := e.Clone()
	StripReserved(in.Header)
	if !r.Matches(in.RawPath) {
		return Outcome{Kind: Continue, Event: in}, nil
	}

	res, err := r.handler.Handle(ctx, in.Clone())
	if err != nil {
		return Outcome{}, fmt.Errorf("middleware: %w", err)
	}

	if res == nil {
		return Outcome{Kind: Continue, Event: in}, nil
	}

	return translate(in, res)
}

func translate(in *event.Event, res *event.Result) (Outcome, error) {
	rh := make(event.Header, len(res.Header))
	for k, v := range res.Header {
		k = strings.ToLower(k)
		rh[k] = append(rh[k], v...)
	}

	overrides := make(event.Header)
	passed := make(event.Header)
	for k, v := range rh {
		switch {
		case strings.HasPrefix(k, RequestPrefix):
			overrides[strings.TrimPrefix(k, RequestPrefix)] = append([]string(nil), v...)
		case isReserved(k), transportHeaders[k]:
		default:
			passed[k] = append([]string(nil), v...)
		}
	}

	rewrite := rh.Get(RewriteHeader)
	if rewrite != "" || rh.Has(NextHeader) {
		// the content type of the rendered page applies
		passed.Del("content-type")
	}

	switch {
	case rewrite != "":
		return rewriteOutcome(in, rewrite, overrides, passed)
	case rh.Has(NextHeader):
		next := apply(in, overrides, passed)
		return Outcome{Kind: Continue, Event: next, Overrides: overrides}, nil
	case res.StatusCode >= 300 && res.StatusCode < 400 && rh.Get("location") != "":
		location, err := normalizeLocation(in, rh.Get("location"))
		if err != nil {
			return Outcome{}, err
		}

		passed.Set("location", location)
		return Outcome{Kind: Terminal, Result: terminal(in, res, passed)}, nil
	case res.StatusCode > 0:
		return Outcome{Kind: Terminal, Result: terminal(in, res, passed)}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: status %d without rewrite or continuation", ErrInvalidResponse, res.StatusCode)
	}
}

func apply(in *event.Event, overrides, passed event.Header) *event.Event {
	next := in.Clone()
	if next.Meta.NextHeaders == nil {
		next.Meta.NextHeaders = make(event.Header)
	}

	for k, v := range overrides {
		next.Header[k] = append([]string(nil), v...)
		next.Meta.NextHeaders[k] = append([]string(nil), v...)
	}

	if len(passed) > 0 && next.Meta.ResponseHeaders == nil {
		next.Meta.ResponseHeaders = make(event.Header)
	}

	for k, v := range passed {
		if k == "set-cookie" {
			next.Meta.ResponseHeaders[k] = append(next.Meta.ResponseHeaders[k], v...)
			continue
		}

		next.Meta.ResponseHeaders[k] = append([]string(nil), v...)
	}

	return next
}

func rewriteOutcome(in *event.Event, target string, overrides, passed event.Header) (Outcome, error) {
	u, err := url.Parse(target)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: invalid rewrite target %q: %w", ErrInvalidResponse, target, err)
	}

	next := apply(in, overrides, passed)
	external := u.Host != "" && !strings.EqualFold(u.Host, in.Host())
	if !external {
		u.Scheme, u.Host = "", ""
		if !strings.HasPrefix(u.Path, "/") {
			u = in.URL.ResolveReference(u)
			u.Scheme, u.Host = "", ""
		}
	}

	next.SetURL(u)
	next.Meta.External = external
	return Outcome{Kind: Rewrite, Event: next, Overrides: overrides, External: external}, nil
}

// normalizeLocation resolves relative redirect locations against the
// origin of the request.
func normalizeLocation(in *event.Event, location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid location %q: %w", ErrInvalidResponse, location, err)
	}

	if u.Host != "" {
		return u.String(), nil
	}

	base, err := url.Parse(in.Origin() + in.URL.EscapedPath())
	if err != nil {
		return "", fmt.Errorf("%w: invalid origin: %w", ErrInvalidResponse, err)
	}

	return base.ResolveReference(u).String(), nil
}

func terminal(in *event.Event, res *event.Result, passed event.Header) *event.Result {
	h := in.Meta.ResponseHeaders.Clone()
	if h == nil {
		h = make(event.Header)
	}

	for k, v := range passed {
		if k == "set-cookie" {
			h[k] = append(h[k], v...)
			continue
		}

		h[k] = append([]string(nil), v...)
	}

	return &event.Result{
		StatusCode:      res.StatusCode,
		Header:          h,
		Body:            res.Body,
		IsBase64Encoded: res.IsBase64Encoded,
	}
}
