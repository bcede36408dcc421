package rules

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/zalando/edgerender/event"
	"github.com/zalando/edgerender/routing"
)

// ErrInvalidRule is returned when a rule of the manifest cannot be
// compiled.
var ErrInvalidRule = errors.New("invalid rule")

// Spec is a redirect or rewrite rule as it appears in the manifest.
type Spec struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Has         []Condition `json:"has,omitempty"`
	Missing     []Condition `json:"missing,omitempty"`

	// Locale set to false disables the locale prefix handling of the
	// rule.
	Locale *bool `json:"locale,omitempty"`

	// BasePath set to false disables the base path handling of the
	// rule.
	BasePath *bool `json:"basePath,omitempty"`

	// Internal rules are generated by the build step for behavior the
	// built-in redirect passes implement. They are skipped.
	Internal bool `json:"internal,omitempty"`

	// StatusCode of a redirect rule.
	StatusCode int `json:"statusCode,omitempty"`

	// Permanent redirect rules respond with 308, others with 307, when
	// no status code is set.
	Permanent bool `json:"permanent,omitempty"`
}

// Rule is a compiled redirect or rewrite rule.
type Rule struct {
	Spec

	source      *regexp.Regexp
	has         []*condition
	missing     []*condition
	destination *destination
	localeAware bool
	basePath    string
}

// Options used when compiling the rules.
type Options struct {
	BasePath string
	Locales  []string
}

// Compile compiles a list of rules. It fails on the first invalid rule.
func Compile(specs []Spec, o Options) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(specs))
	for i, s := range specs {
		r, err := compileRule(s, o)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, s.Source, err)
		}

		rules = append(rules, r)
	}

	return rules, nil
}

func compileRule(s Spec, o Options) (*Rule, error) {
	if !strings.HasPrefix(s.Source, "/") {
		return nil, fmt.Errorf("%w: source must start with /", ErrInvalidRule)
	}

	r := &Rule{
		Spec:        s,
		localeAware: len(o.Locales) > 0 && (s.Locale == nil || *s.Locale),
	}

	if o.BasePath != "" && (s.BasePath == nil || *s.BasePath) {
		r.basePath = strings.TrimSuffix(o.BasePath, "/")
	}

	p, err := routing.ParsePattern(r.basePath + s.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	var co routing.CompileOptions
	if r.localeAware {
		co.Locales = o.Locales
	}

	if r.basePath != "" && r.localeAware {
		// locale follows the base path: parse the remainder separately
		p, err = routing.ParsePattern(s.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}

		rx, err := p.Regexp(co)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}

		r.source, err = regexp.Compile("(?i)^" + regexp.QuoteMeta(r.basePath) + strings.TrimPrefix(rx.String(), "(?i)^"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}
	} else {
		r.source, err = p.Regexp(co)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}
	}

	available := make(map[string]bool)
	for _, n := range p.ParamNames() {
		available[n] = true
	}

	for _, c := range s.Has {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, err
		}

		r.has = append(r.has, cc)
		for _, n := range cc.captureNames() {
			available[n] = true
		}
	}

	for _, c := range s.Missing {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, err
		}

		r.missing = append(r.missing, cc)
	}

	r.destination, err = compileDestination(s.Destination)
	if err != nil {
		return nil, err
	}

	for _, n := range r.destination.requiredParams() {
		if !available[n] {
			return nil, fmt.Errorf("%w: destination parameter %q is not captured by the source or the has conditions", ErrInvalidRule, n)
		}
	}

	if s.StatusCode != 0 && (s.StatusCode < 300 || s.StatusCode > 399) {
		return nil, fmt.Errorf("%w: invalid redirect status %d", ErrInvalidRule, s.StatusCode)
	}

	return r, nil
}

// External tells whether the rule points to another origin.
func (r *Rule) External() bool { return r.destination.external() }

// RedirectStatus returns the status code of a redirect rule.
func (r *Rule) RedirectStatus() int {
	switch {
	case r.StatusCode != 0:
		return r.StatusCode
	case r.Permanent:
		return http.StatusPermanentRedirect
	default:
		return http.StatusTemporaryRedirect
	}
}

// mergeParams merges the parameter sets in order. A name captured by an
// earlier set is not overwritten by a later one: path captures take
// precedence over has captures.
func mergeParams(sets ...routing.Params) routing.Params {
	merged := make(routing.Params)
	for _, s := range sets {
		for k, v := range s {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}

	return merged
}

// Match checks the rule against the event: the source has to match the
// path, all has conditions have to hold and none of the missing
// conditions. It returns the parameters available for the destination.
func (r *Rule) Match(e *event.Event) (routing.Params, bool) {
	source, ok := routing.MatchParams(r.source, e.RawPath)
	if !ok {
		return nil, false
	}

	captures := []routing.Params{source}
	for _, c := range r.has {
		p, ok := c.match(e)
		if !ok {
			return nil, false
		}

		captures = append(captures, p)
	}

	for _, c := range r.missing {
		if _, ok := c.match(e); ok {
			return nil, false
		}
	}

	return mergeParams(captures...), true
}

// Destination builds the destination URL for the matched parameters.
// Relative destinations get the base path and, for locale aware rules,
// the matched locale prefixed.
func (r *Rule) Destination(params routing.Params, reqQuery map[string][]string) (string, error) {
	locale := params[routing.LocaleParam]
	delete(params, routing.LocaleParam)

	u, err := r.destination.build(params, reqQuery)
	if err != nil {
		return "", err
	}

	if !r.External() {
		prefix := r.basePath
		if r.localeAware && locale != "" && !strings.HasPrefix(strings.ToLower(u.Path+"/"), "/"+strings.ToLower(locale)+"/") {
			prefix += "/" + locale
		}

		if prefix != "" {
			if u.RawPath != "" {
				u.RawPath = prefix + u.RawPath
			}

			if u.Path == "/" {
				u.Path = prefix
			} else {
				u.Path = prefix + u.Path
			}
		}
	}

	return u.String(), nil
}
