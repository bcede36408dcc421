/*
Package routing implements the route table of the application.

Route definitions come from the build manifest. Each definition has a page
identifier, either static (/about) or dynamic (/blog/[slug]), and a
category telling whether it renders a page or a programmatic route. The
page identifiers are parsed into a pattern AST and compiled to
case-insensitive regular expressions that accept an optional base path and
locale prefix, so that localized and bare paths share one definition.

Matching a path returns the static and dynamic matches separately. When a
single route has to be selected, an exact static match always wins over a
dynamic match.
*/
package routing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Kind tells whether a route has parameters.
type Kind int

const (
	Static Kind = iota
	Dynamic
)

func (k Kind) String() string {
	if k == Dynamic {
		return "dynamic"
	}

	return "static"
}

// Category tells what a route renders.
type Category string

const (
	// Page routes render documents.
	Page Category = "page"

	// Route routes are programmatic request handlers.
	Route Category = "route"
)

// DefinitionSpec describes a route as it appears in the manifest.
type DefinitionSpec struct {
	Page     string   `json:"page"`
	Category Category `json:"category,omitempty"`
}

// Definition is a compiled route definition.
type Definition struct {
	Page     string
	Regex    *regexp.Regexp
	Kind     Kind
	Category Category

	pattern *Pattern
}

// Pattern returns the parsed page pattern.
func (d *Definition) Pattern() *Pattern { return d.pattern }

// Match is a route definition matched by a path together with the
// captured parameters.
type Match struct {
	Definition *Definition
	Params     Params
}

// Options of the route table.
type Options struct {
	// BasePath all routes are mounted under.
	BasePath string

	// Locales accepted as the first path segment.
	Locales []string

	// Assets are paths, or prefixes when ending with "/", served as
	// static files by the renderer.
	Assets []string
}

// Table is the compiled route table. It is immutable and safe for
// concurrent use.
type Table struct {
	options Options
	static  []*Definition
	dynamic []*Definition
	assets  []string
}

func compileDefinition(s DefinitionSpec, o Options) (*Definition, error) {
	if !strings.HasPrefix(s.Page, "/") {
		return nil, fmt.Errorf("%w %q: page must start with /", ErrInvalidPattern, s.Page)
	}

	p, err := ParsePage(s.Page)
	if err != nil {
		return nil, err
	}

	rx, err := p.Regexp(CompileOptions{BasePath: o.BasePath, Locales: o.Locales})
	if err != nil {
		return nil, err
	}

	c := s.Category
	switch c {
	case "":
		c = Page
	case Page, Route:
	default:
		return nil, fmt.Errorf("%w %q: unknown category %q", ErrInvalidPattern, s.Page, c)
	}

	k := Static
	if p.Dynamic() {
		k = Dynamic
	}

	return &Definition{Page: s.Page, Regex: rx, Kind: k, Category: c, pattern: p}, nil
}

// specificity orders dynamic routes: more literal segments first, then
// single parameters before optional and catch-all ones.
func specificity(p *Pattern) (catchAll int, params int, literal int) {
	for _, t := range p.Tokens {
		switch {
		case !t.IsParam():
			literal += strings.Count(t.Literal, "/")
		case t.Repeated():
			catchAll++
		default:
			params++
		}
	}

	return
}

// NewTable compiles the route definitions. Invalid definitions fail the
// whole table.
func NewTable(specs []DefinitionSpec, o Options) (*Table, error) {
	t := &Table{options: o}
	for _, s := range specs {
		d, err := compileDefinition(s, o)
		if err != nil {
			return nil, err
		}

		if d.Kind == Static {
			t.static = append(t.static, d)
		} else {
			t.dynamic = append(t.dynamic, d)
		}
	}

	sort.SliceStable(t.dynamic, func(i, j int) bool {
		ci, pi, li := specificity(t.dynamic[i].pattern)
		cj, pj, lj := specificity(t.dynamic[j].pattern)
		if ci != cj {
			return ci < cj
		}

		if li != lj {
			return li > lj
		}

		return pi < pj
	})

	for _, a := range o.Assets {
		t.assets = append(t.assets, strings.ToLower(a))
	}

	return t, nil
}

// Options returns the options the table was compiled with.
func (t *Table) Options() Options { return t.options }

// Definitions returns all definitions, static ones first.
func (t *Table) Definitions() []*Definition {
	all := make([]*Definition, 0, len(t.static)+len(t.dynamic))
	all = append(all, t.static...)
	return append(all, t.dynamic...)
}

func matchAll(defs []*Definition, path string) []Match {
	var ms []Match
	for _, d := range defs {
		if params, ok := MatchParams(d.Regex, path); ok {
			delete(params, LocaleParam)
			ms = append(ms, Match{Definition: d, Params: params})
		}
	}

	return ms
}

// Match returns the static and the dynamic definitions matching the
// path. The path is expected without query.
func (t *Table) Match(path string) (static, dynamic []Match) {
	return matchAll(t.static, path), matchAll(t.dynamic, path)
}

// Resolve selects the single route serving the path. An exact static
// match wins over any dynamic match.
func (t *Table) Resolve(path string) (Match, bool) {
	static, dynamic := t.Match(path)
	if len(static) > 0 {
		return static[0], true
	}

	if len(dynamic) > 0 {
		return dynamic[0], true
	}

	return Match{}, false
}

// IsAsset tells whether the path points to a static asset.
func (t *Table) IsAsset(path string) bool {
	p := strings.ToLower(path)
	if t.options.BasePath != "" {
		p = strings.TrimPrefix(p, strings.ToLower(t.options.BasePath))
	}

	for _, a := range t.assets {
		if strings.HasSuffix(a, "/") && strings.HasPrefix(p, a) || p == a {
			return true
		}
	}

	return false
}
