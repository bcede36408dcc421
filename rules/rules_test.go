package rules

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/edgerender/event"
)

func newEvent(t *testing.T, rawURL string) *event.Event {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	e := &event.Event{
		Method:  http.MethodGet,
		Header:  event.Header{"host": {u.Host}},
		Cookies: map[string]string{},
	}

	e.SetURL(u)
	return e
}

func mustCompile(t *testing.T, o Options, specs ...Spec) []*Rule {
	t.Helper()
	r, err := Compile(specs, o)
	require.NoError(t, err)
	return r
}

func TestApply(t *testing.T) {
	for _, tt := range []struct {
		msg      string
		rules    []Spec
		options  Options
		url      string
		setup    func(*event.Event)
		expected string
		matched  bool
		external bool
	}{{
		msg:      "no rules",
		url:      "https://www.example.org/foo",
		expected: "/foo",
	}, {
		msg:      "simple parameter",
		rules:    []Spec{{Source: "/old/:slug", Destination: "/new/:slug"}},
		url:      "https://www.example.org/old/hello",
		expected: "/new/hello",
		matched:  true,
	}, {
		msg:      "query is kept and extended",
		rules:    []Spec{{Source: "/old/:slug", Destination: "/new?slug=:slug"}},
		url:      "https://www.example.org/old/hello?a=1",
		expected: "/new?a=1&slug=hello",
		matched:  true,
	}, {
		msg: "first matching rule wins",
		rules: []Spec{
			{Source: "/a/:x", Destination: "/first/:x"},
			{Source: "/a/:y", Destination: "/second/:y"},
		},
		url:      "https://www.example.org/a/b",
		expected: "/first/b",
		matched:  true,
	}, {
		msg:      "catch all",
		rules:    []Spec{{Source: "/docs/:path*", Destination: "/content/:path*"}},
		url:      "https://www.example.org/docs/a/b/c",
		expected: "/content/a/b/c",
		matched:  true,
	}, {
		msg: "has header with capture",
		rules: []Spec{{
			Source:      "/:path*",
			Destination: "/tenants/:tenant/:path*",
			Has:         []Condition{{Type: Header, Key: "x-tenant", Value: "(?P<tenant>[a-z]+)"}},
		}},
		url:      "https://www.example.org/home",
		setup:    func(e *event.Event) { e.Header.Set("x-tenant", "acme") },
		expected: "/tenants/acme/home",
		matched:  true,
	}, {
		msg: "has header does not hold",
		rules: []Spec{{
			Source:      "/:path*",
			Destination: "/tenants/:tenant/:path*",
			Has:         []Condition{{Type: Header, Key: "x-tenant", Value: "(?P<tenant>[a-z]+)"}},
		}},
		url:      "https://www.example.org/home",
		setup:    func(e *event.Event) { e.Header.Set("x-tenant", "ACME1") },
		expected: "/home",
	}, {
		msg: "has cookie without value captures the cookie",
		rules: []Spec{{
			Source:      "/",
			Destination: "/variant/:abtest",
			Has:         []Condition{{Type: Cookie, Key: "ab-test"}},
		}},
		url:      "https://www.example.org/",
		setup:    func(e *event.Event) { e.Cookies["ab-test"] = "b" },
		expected: "/variant/b",
		matched:  true,
	}, {
		msg: "missing fails when present",
		rules: []Spec{{
			Source:      "/login",
			Destination: "/auth",
			Missing:     []Condition{{Type: Query, Key: "skip"}},
		}},
		url:      "https://www.example.org/login?skip=1",
		expected: "/login?skip=1",
	}, {
		msg: "missing holds when absent",
		rules: []Spec{{
			Source:      "/login",
			Destination: "/auth",
			Missing:     []Condition{{Type: Query, Key: "skip"}},
		}},
		url:      "https://www.example.org/login",
		expected: "/auth",
		matched:  true,
	}, {
		msg: "host condition",
		rules: []Spec{{
			Source:      "/",
			Destination: "/sites/:site",
			Has:         []Condition{{Type: Host, Value: `(?P<site>[a-z]+)\.example\.org`}},
		}},
		url:      "https://shop.example.org:8443/",
		expected: "/sites/shop",
		matched:  true,
	}, {
		msg:      "external destination",
		rules:    []Spec{{Source: "/ext/:path*", Destination: "https://upstream.example.com/:path*"}},
		url:      "https://www.example.org/ext/a/b?x=1",
		expected: "https://upstream.example.com/a/b?x=1",
		matched:  true,
		external: true,
	}, {
		msg:      "absolute destination on the same origin is internal",
		rules:    []Spec{{Source: "/same", Destination: "https://www.example.org/other"}},
		url:      "https://www.example.org/same",
		expected: "/other",
		matched:  true,
	}, {
		msg:      "locale aware rule keeps the locale",
		rules:    []Spec{{Source: "/old", Destination: "/new"}},
		options:  Options{Locales: []string{"en", "de"}},
		url:      "https://www.example.org/de/old",
		expected: "/de/new",
		matched:  true,
	}, {
		msg:      "locale disabled",
		rules:    []Spec{{Source: "/old", Destination: "/new", Locale: new(bool)}},
		options:  Options{Locales: []string{"en", "de"}},
		url:      "https://www.example.org/de/old",
		expected: "/de/old",
	}, {
		msg:      "base path",
		rules:    []Spec{{Source: "/old", Destination: "/new"}},
		options:  Options{BasePath: "/base"},
		url:      "https://www.example.org/base/old",
		expected: "/base/new",
		matched:  true,
	}, {
		msg:      "base path with locale",
		rules:    []Spec{{Source: "/old", Destination: "/new"}},
		options:  Options{BasePath: "/base", Locales: []string{"en", "de"}},
		url:      "https://www.example.org/base/en/old",
		expected: "/base/en/new",
		matched:  true,
	}, {
		msg:      "internal rules are skipped",
		rules:    []Spec{{Source: "/old", Destination: "/new", Internal: true}},
		url:      "https://www.example.org/old",
		expected: "/old",
	}} {
		t.Run(tt.msg, func(t *testing.T) {
			rules := mustCompile(t, tt.options, tt.rules...)
			e := newEvent(t, tt.url)
			if tt.setup != nil {
				tt.setup(e)
			}

			o, err := Apply(e, rules)
			require.NoError(t, err)

			assert.Equal(t, tt.matched, o.Rule != nil)
			assert.Equal(t, tt.external, o.External)
			assert.Equal(t, tt.external, o.Event.Meta.External)

			if tt.external {
				assert.Equal(t, tt.expected, o.Event.URL.String())
			} else {
				assert.Equal(t, tt.expected, o.Event.RequestURI())
				assert.Equal(t, e.URL.Host, o.Event.URL.Host)
			}
		})
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	rules := mustCompile(t, Options{}, Spec{Source: "/old/:slug", Destination: "/new/:slug"})
	e := newEvent(t, "https://www.example.org/old/x")

	o, err := Apply(e, rules)
	require.NoError(t, err)
	assert.Equal(t, "/new/x", o.Event.RawPath)
	assert.Equal(t, "/old/x", e.RawPath)
}

// Path captures take precedence over captures of the has conditions with
// the same name, regardless of the order the conditions are listed in.
func TestParameterPrecedence(t *testing.T) {
	rules := mustCompile(t, Options{}, Spec{
		Source:      "/items/:id",
		Destination: "/show/:id/:v",
		Has: []Condition{
			{Type: Query, Key: "id", Value: "(?P<id>.+)"},
			{Type: Header, Key: "x-v", Value: "(?P<v>.+)"},
			{Type: Cookie, Key: "c", Value: "(?P<v>.+)"},
		},
	})

	e := newEvent(t, "https://www.example.org/items/from-path?id=from-query")
	e.Header.Set("x-v", "from-header")
	e.Cookies["c"] = "from-cookie"

	o, err := Apply(e, rules)
	require.NoError(t, err)
	require.NotNil(t, o.Rule)

	// source over has, and the earlier has condition over the later one
	assert.Equal(t, "/show/from-path/from-header", o.Event.RawPath)
}

func TestIdempotence(t *testing.T) {
	rules := mustCompile(t, Options{Locales: []string{"en", "fr"}},
		Spec{Source: "/old/:slug", Destination: "/new/:slug"},
		Spec{Source: "/legacy/:path*", Destination: "/docs/:path*"},
		Spec{Source: "/a", Destination: "/b?x=1"},
	)

	for _, u := range []string{
		"https://www.example.org/old/x",
		"https://www.example.org/fr/old/x?q=1",
		"https://www.example.org/legacy/a/b",
		"https://www.example.org/a",
		"https://www.example.org/untouched",
	} {
		t.Run(u, func(t *testing.T) {
			first, err := Apply(newEvent(t, u), rules)
			require.NoError(t, err)

			second, err := Apply(first.Event, rules)
			require.NoError(t, err)

			assert.Nil(t, second.Rule)
			assert.Equal(t, first.Event.RequestURI(), second.Event.RequestURI())
		})
	}
}

func TestParamEncodingRoundTrip(t *testing.T) {
	rules := mustCompile(t, Options{}, Spec{Source: "/in/:v", Destination: "/out/:v"})

	for _, v := range []string{
		"plain",
		"with space",
		"ümlaut",
		"a+b=c&d",
		"percent%25",
		"semi;colon",
		"日本語",
	} {
		t.Run(v, func(t *testing.T) {
			encoded := EncodeParam(v)
			decoded, err := url.PathUnescape(encoded)
			require.NoError(t, err)
			assert.Equal(t, v, decoded)

			e := newEvent(t, "https://www.example.org/in/"+encoded)
			require.Equal(t, "/in/"+v, e.RawPath)

			o, err := Apply(e, rules)
			require.NoError(t, err)
			require.NotNil(t, o.Rule)

			out, err := url.PathUnescape(o.Event.URL.EscapedPath())
			require.NoError(t, err)
			assert.Equal(t, "/out/"+v, out)
		})
	}

	assert.Equal(t, "a/b%20c", EncodeRepeatedParam("a/b c"))
}

func TestCompileInvalid(t *testing.T) {
	for _, tt := range []struct {
		msg  string
		spec Spec
	}{
		{"relative source", Spec{Source: "old", Destination: "/new"}},
		{"bad source", Spec{Source: "/old/:x(", Destination: "/new"}},
		{"empty destination", Spec{Source: "/old"}},
		{"relative destination", Spec{Source: "/old", Destination: "new"}},
		{"uncaptured parameter", Spec{Source: "/old", Destination: "/new/:slug"}},
		{"bad condition regexp", Spec{Source: "/old", Destination: "/new", Has: []Condition{{Type: Header, Key: "a", Value: "("}}}},
		{"unknown condition", Spec{Source: "/old", Destination: "/new", Has: []Condition{{Type: "body", Key: "a"}}}},
		{"condition without key", Spec{Source: "/old", Destination: "/new", Missing: []Condition{{Type: Cookie}}}},
		{"host without value", Spec{Source: "/old", Destination: "/new", Has: []Condition{{Type: Host}}}},
		{"bad status", Spec{Source: "/old", Destination: "/new", StatusCode: 200}},
	} {
		t.Run(tt.msg, func(t *testing.T) {
			_, err := Compile([]Spec{tt.spec}, Options{})
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestOptionalDestinationParam(t *testing.T) {
	rules := mustCompile(t, Options{}, Spec{Source: "/shop/:id?", Destination: "/store/:id?"})

	o, err := Apply(newEvent(t, "https://www.example.org/shop"), rules)
	require.NoError(t, err)
	assert.Equal(t, "/store", o.Event.RawPath)

	o, err = Apply(newEvent(t, "https://www.example.org/shop/3"), rules)
	require.NoError(t, err)
	assert.Equal(t, "/store/3", o.Event.RawPath)
}

func TestSplitDestination(t *testing.T) {
	for _, tt := range []struct {
		raw                           string
		prefix, path, query, fragment string
	}{
		{raw: "/store/:id", path: "/store/:id"},
		{raw: "/store/:id?", path: "/store/:id?"},
		{raw: "/store/:id?tab=1", path: "/store/:id?", query: "tab=1"},
		{raw: "/store/:id??tab=1", path: "/store/:id?", query: "tab=1"},
		{raw: "/store/:id(\\d+)?", path: "/store/:id(\\d+)?"},
		{raw: "/store?tab=:id", path: "/store", query: "tab=:id"},
		{raw: "/docs/:path*?v=2", path: "/docs/:path*", query: "v=2"},
		{raw: "/a\\?b", path: "/a\\?b"},
		{raw: "https://example.org:8443?x=1", prefix: "https://example.org:8443", path: "/", query: "x=1"},
		{raw: "https://example.org/:slug?#top", prefix: "https://example.org", path: "/:slug?", fragment: "top"},
	} {
		t.Run(tt.raw, func(t *testing.T) {
			prefix, path, query, fragment := splitDestination(tt.raw)
			assert.Equal(t, tt.prefix, prefix)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.query, query)
			assert.Equal(t, tt.fragment, fragment)
		})
	}
}

func TestOptionalDestinationParamWithQuery(t *testing.T) {
	rules := mustCompile(t, Options{}, Spec{Source: "/shop/:id?", Destination: "/store/:id??tab=details"})

	o, err := Apply(newEvent(t, "https://www.example.org/shop/3"), rules)
	require.NoError(t, err)
	assert.Equal(t, "/store/3", o.Event.RawPath)
	assert.Equal(t, "details", o.Event.Query.Get("tab"))
}
