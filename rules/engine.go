package rules

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/dimfeld/httppath"
	"github.com/zalando/edgerender/event"
)

// Phase of the rewrite rules.
type Phase int

const (
	BeforeFiles Phase = iota
	AfterFiles
	Fallback
)

func (p Phase) String() string {
	switch p {
	case BeforeFiles:
		return "beforeFiles"
	case AfterFiles:
		return "afterFiles"
	default:
		return "fallback"
	}
}

// Config contains the rule lists of the manifest.
type Config struct {
	Redirects   []Spec `json:"redirects,omitempty"`
	BeforeFiles []Spec `json:"beforeFiles,omitempty"`
	AfterFiles  []Spec `json:"afterFiles,omitempty"`
	Fallback    []Spec `json:"fallback,omitempty"`
}

// LocaleRedirector issues the locale redirect of the root path.
type LocaleRedirector interface {
	RedirectIfNeeded(*event.Event) *event.Result
}

// EngineOptions configure the rewrite and redirect engine.
type EngineOptions struct {
	Options

	// TrailingSlash true enforces a trailing slash on paths, false
	// removes it.
	TrailingSlash bool

	// Locale issues the locale redirect, optional.
	Locale LocaleRedirector
}

// Engine applies the redirect passes and the rewrite phases. It is
// immutable and safe for concurrent use.
type Engine struct {
	options  EngineOptions
	redirect []*Rule
	rewrite  [3][]*Rule
}

// Outcome of applying a rule list.
type Outcome struct {
	// Event is the rewritten event, or the original one when no rule
	// matched.
	Event *event.Event

	// Rule is the matched rule, nil when nothing matched.
	Rule *Rule

	// External tells that the event was rewritten to another origin and
	// needs to be relayed upstream.
	External bool
}

// NewEngine compiles all rule lists.
func NewEngine(c Config, o EngineOptions) (*Engine, error) {
	en := &Engine{options: o}

	var err error
	if en.redirect, err = Compile(c.Redirects, o.Options); err != nil {
		return nil, fmt.Errorf("redirects: %w", err)
	}

	for p, specs := range [3][]Spec{c.BeforeFiles, c.AfterFiles, c.Fallback} {
		if en.rewrite[p], err = Compile(specs, o.Options); err != nil {
			return nil, fmt.Errorf("%s rewrites: %w", Phase(p), err)
		}
	}

	return en, nil
}

func sameOrigin(u *url.URL, e *event.Event) bool {
	return strings.EqualFold(hostname(u.Host), hostname(e.Host())) &&
		(u.Scheme == "" || strings.EqualFold(u.Scheme, e.Scheme()))
}

// Apply evaluates the rules in order. The first rule whose source matches,
// all of whose has conditions hold and none of whose missing conditions
// hold, rewrites the event.
func Apply(e *event.Event, rules []*Rule) (Outcome, error) {
	for _, r := range rules {
		if r.Internal {
			continue
		}

		params, ok := r.Match(e)
		if !ok {
			continue
		}

		dest, err := r.Destination(params, e.Query)
		if err != nil {
			return Outcome{}, fmt.Errorf("rule %s: %w", r.Source, err)
		}

		u, err := url.Parse(dest)
		if err != nil {
			return Outcome{}, fmt.Errorf("rule %s: invalid destination %q: %w", r.Source, dest, err)
		}

		rewritten := e.Clone()
		external := u.Host != "" && !sameOrigin(u, e)
		if !external {
			u.Scheme, u.Host = "", ""
		}

		rewritten.SetURL(u)
		rewritten.Meta.External = external
		return Outcome{Event: rewritten, Rule: r, External: external}, nil
	}

	return Outcome{Event: e}, nil
}

// Rewrite applies the rules of a rewrite phase.
func (en *Engine) Rewrite(p Phase, e *event.Event) (Outcome, error) {
	return Apply(e, en.rewrite[p])
}

func locationOf(escapedPath string, e *event.Event) string {
	if e.URL.RawQuery == "" {
		return escapedPath
	}

	return escapedPath + "?" + e.URL.RawQuery
}

// DuplicateSlash redirects paths containing empty segments to their
// cleaned version.
func DuplicateSlash(e *event.Event) *event.Result {
	p := e.URL.EscapedPath()
	if !strings.Contains(p, "//") {
		return nil
	}

	return event.Redirect(http.StatusPermanentRedirect, locationOf(httppath.Clean(p), e))
}

// TrailingSlash enforces the trailing slash policy. When add is true,
// a slash is appended to paths not pointing to files, otherwise trailing
// slashes are removed.
func TrailingSlash(e *event.Event, add bool) *event.Result {
	p := e.URL.EscapedPath()
	if p == "/" || p == "" {
		return nil
	}

	hasSlash := strings.HasSuffix(p, "/")
	switch {
	case add && !hasSlash && !strings.Contains(path.Base(p), "."):
		return event.Redirect(http.StatusPermanentRedirect, locationOf(p+"/", e))
	case !add && hasSlash:
		return event.Redirect(http.StatusPermanentRedirect, locationOf(strings.TrimRight(p, "/"), e))
	}

	return nil
}

// ConfiguredRedirect applies the redirect rules of the manifest.
func ConfiguredRedirect(e *event.Event, rules []*Rule) (*event.Result, error) {
	for _, r := range rules {
		if r.Internal {
			continue
		}

		params, ok := r.Match(e)
		if !ok {
			continue
		}

		dest, err := r.Destination(params, e.Query)
		if err != nil {
			return nil, fmt.Errorf("redirect %s: %w", r.Source, err)
		}

		return event.Redirect(r.RedirectStatus(), dest), nil
	}

	return nil, nil
}

// Redirect runs the four redirect passes in order: duplicate slashes,
// trailing slash policy, locale redirect and the configured redirects.
// The first pass producing a result short-circuits the rest.
func (en *Engine) Redirect(e *event.Event) (*event.Result, error) {
	if r := DuplicateSlash(e); r != nil {
		return r, nil
	}

	if r := TrailingSlash(e, en.options.TrailingSlash); r != nil {
		return r, nil
	}

	if en.options.Locale != nil {
		if r := en.options.Locale.RedirectIfNeeded(e); r != nil {
			return r, nil
		}
	}

	return ConfiguredRedirect(e, en.redirect)
}
