package routing

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	for _, tt := range []struct {
		source string
		tokens []Token
	}{{
		source: "/about",
		tokens: []Token{{Literal: "/about"}},
	}, {
		source: "/blog/:slug",
		tokens: []Token{
			{Literal: "/blog"},
			{Name: "slug", Prefix: "/", Pattern: defaultParamPattern},
		},
	}, {
		source: "/docs/:path*",
		tokens: []Token{
			{Literal: "/docs"},
			{Name: "path", Prefix: "/", Pattern: defaultParamPattern, Modifier: ZeroOrMore},
		},
	}, {
		source: `/shop/:id(\d+)?`,
		tokens: []Token{
			{Literal: "/shop"},
			{Name: "id", Prefix: "/", Pattern: `\d+`, Modifier: Optional},
		},
	}, {
		source: "/files/(.*)",
		tokens: []Token{
			{Literal: "/files"},
			{Name: "0", Prefix: "/", Pattern: ".*"},
		},
	}, {
		source: `/a\:b/:c+`,
		tokens: []Token{
			{Literal: "/a:b"},
			{Name: "c", Prefix: "/", Pattern: defaultParamPattern, Modifier: OneOrMore},
		},
	}} {
		t.Run(tt.source, func(t *testing.T) {
			p, err := ParsePattern(tt.source)
			require.NoError(t, err)
			if d := cmp.Diff(tt.tokens, p.Tokens); d != "" {
				t.Error(d)
			}
		})
	}
}

func TestParsePatternInvalid(t *testing.T) {
	for _, source := range []string{
		"/a/:b(",
		"/a/b)",
		"/a/:b()",
		"/a/:b/:b",
		`/a/:b([)`,
		`/a\`,
		"/a/:" + LocaleParam,
	} {
		t.Run(source, func(t *testing.T) {
			_, err := ParsePattern(source)
			assert.True(t, errors.Is(err, ErrInvalidPattern), "%v", err)
		})
	}
}

func TestParsePage(t *testing.T) {
	for _, tt := range []struct {
		page    string
		names   []string
		dynamic bool
		err     bool
	}{
		{page: "/", dynamic: false},
		{page: "/about/team", dynamic: false},
		{page: "/blog/[slug]", names: []string{"slug"}, dynamic: true},
		{page: "/docs/[...path]", names: []string{"path"}, dynamic: true},
		{page: "/shop/[[...path]]", names: []string{"path"}, dynamic: true},
		{page: "/[lang]/[id]", names: []string{"lang", "id"}, dynamic: true},
		{page: "/blog/x[slug]", err: true},
		{page: "/blog/[slug", err: true},
		{page: "/blog/[]", err: true},
		{page: "/blog/[a-b]", err: true},
	} {
		t.Run(tt.page, func(t *testing.T) {
			p, err := ParsePage(tt.page)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidPattern)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.names, p.ParamNames())
			assert.Equal(t, tt.dynamic, p.Dynamic())
		})
	}
}

func TestPatternRegexp(t *testing.T) {
	for _, tt := range []struct {
		msg     string
		pattern string
		options CompileOptions
		path    string
		params  Params
		match   bool
	}{{
		msg:     "literal",
		pattern: "/about",
		path:    "/about",
		params:  Params{},
		match:   true,
	}, {
		msg:     "case insensitive, trailing slash",
		pattern: "/about",
		path:    "/ABOUT/",
		params:  Params{},
		match:   true,
	}, {
		msg:     "param",
		pattern: "/blog/:slug",
		path:    "/blog/hello",
		params:  Params{"slug": "hello"},
		match:   true,
	}, {
		msg:     "param does not span segments",
		pattern: "/blog/:slug",
		path:    "/blog/hello/world",
	}, {
		msg:     "optional missing",
		pattern: "/shop/:id?",
		path:    "/shop",
		params:  Params{},
		match:   true,
	}, {
		msg:     "constrained",
		pattern: `/shop/:id(\d+)`,
		path:    "/shop/abc",
	}, {
		msg:     "zero or more, empty",
		pattern: "/docs/:path*",
		path:    "/docs",
		params:  Params{},
		match:   true,
	}, {
		msg:     "zero or more, many",
		pattern: "/docs/:path*",
		path:    "/docs/a/b/c",
		params:  Params{"path": "a/b/c"},
		match:   true,
	}, {
		msg:     "one or more requires one",
		pattern: "/docs/:path+",
		path:    "/docs",
	}, {
		msg:     "locale prefix",
		pattern: "/blog/:slug",
		options: CompileOptions{Locales: []string{"en", "fr"}},
		path:    "/fr/blog/x",
		params:  Params{LocaleParam: "fr", "slug": "x"},
		match:   true,
	}, {
		msg:     "locale prefix optional",
		pattern: "/blog/:slug",
		options: CompileOptions{Locales: []string{"en", "fr"}},
		path:    "/blog/x",
		params:  Params{"slug": "x"},
		match:   true,
	}, {
		msg:     "locale root",
		pattern: "/",
		options: CompileOptions{Locales: []string{"en", "fr"}},
		path:    "/en",
		params:  Params{LocaleParam: "en"},
		match:   true,
	}, {
		msg:     "base path and locale",
		pattern: "/blog/:slug",
		options: CompileOptions{BasePath: "/base", Locales: []string{"en"}},
		path:    "/base/en/blog/x",
		params:  Params{LocaleParam: "en", "slug": "x"},
		match:   true,
	}, {
		msg:     "prefix",
		pattern: "/api",
		options: CompileOptions{Prefix: true},
		path:    "/api/users",
		params:  Params{},
		match:   true,
	}} {
		t.Run(tt.msg, func(t *testing.T) {
			p, err := ParsePattern(tt.pattern)
			require.NoError(t, err)

			rx, err := p.Regexp(tt.options)
			require.NoError(t, err)

			params, ok := MatchParams(rx, tt.path)
			assert.Equal(t, tt.match, ok, rx.String())
			if tt.match {
				assert.Equal(t, tt.params, params)
			}
		})
	}
}
