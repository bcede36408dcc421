package rules

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/zalando/edgerender/routing"
)

// destination is a compiled destination template. The path is parsed as a
// pattern, the query values may reference parameters too.
type destination struct {
	raw      string
	scheme   string
	host     string
	path     *routing.Pattern
	query    []queryTemplate
	fragment string
}

type queryTemplate struct {
	key   string
	value *routing.Pattern
}

// EncodeParam encodes a parameter value for use as a single path segment.
func EncodeParam(v string) string {
	return url.PathEscape(v)
}

// EncodeRepeatedParam encodes a multi-segment parameter value, keeping the
// segment delimiters.
func EncodeRepeatedParam(v string) string {
	segs := strings.Split(v, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	return strings.Join(segs, "/")
}

func isParamChar(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// queryIndex returns the position of the query separator. A question
// mark directly after a parameter, e.g. /store/:id?, is the optional
// modifier of the parameter.
func queryIndex(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '?':
			return i
		case ':':
			j := i + 1
			if j < len(s) && s[j] >= '0' && s[j] <= '9' {
				continue
			}

			for j < len(s) && isParamChar(s[j]) {
				j++
			}

			if j == i+1 {
				continue
			}

			if j < len(s) && s[j] == '(' {
				for depth := 0; j < len(s); j++ {
					if s[j] == '(' {
						depth++
					} else if s[j] == ')' {
						depth--
						if depth == 0 {
							j++
							break
						}
					}
				}
			}

			if j < len(s) && s[j] == '?' {
				j++
			}

			i = j - 1
		}
	}

	return -1
}

func splitDestination(raw string) (prefix, path, query, fragment string) {
	rest := raw
	if i := strings.Index(rest, "#"); i >= 0 {
		rest, fragment = rest[:i], rest[i+1:]
	}

	if i := queryIndex(rest); i >= 0 {
		rest, query = rest[:i], rest[i+1:]
	}

	if i := strings.Index(rest, "://"); i >= 0 {
		hostStart := i + 3
		if j := strings.Index(rest[hostStart:], "/"); j >= 0 {
			return rest[:hostStart+j], rest[hostStart+j:], query, fragment
		}

		return rest, "/", query, fragment
	}

	return "", rest, query, fragment
}

func compileDestination(raw string) (*destination, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty destination", ErrInvalidRule)
	}

	prefix, path, query, fragment := splitDestination(raw)
	d := &destination{raw: raw, fragment: fragment}
	if prefix != "" {
		u, err := url.Parse(prefix)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid destination origin %q", ErrInvalidRule, prefix)
		}

		d.scheme, d.host = u.Scheme, u.Host
	} else if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: destination must be absolute or start with /: %q", ErrInvalidRule, raw)
	}

	p, err := routing.ParsePattern(path)
	if err != nil {
		return nil, fmt.Errorf("%w: destination %q: %w", ErrInvalidRule, raw, err)
	}

	d.path = p
	if query == "" {
		return d, nil
	}

	for _, kv := range strings.Split(query, "&") {
		if kv == "" {
			continue
		}

		k, v, _ := strings.Cut(kv, "=")
		vp, err := routing.ParsePattern(v)
		if err != nil {
			return nil, fmt.Errorf("%w: destination query %q: %w", ErrInvalidRule, kv, err)
		}

		ku, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("%w: destination query key %q: %w", ErrInvalidRule, k, err)
		}

		d.query = append(d.query, queryTemplate{key: ku, value: vp})
	}

	return d, nil
}

// external tells whether the destination points to another origin.
func (d *destination) external() bool { return d.host != "" }

// requiredParams returns the parameters that must be captured for the
// destination to be built.
func (d *destination) requiredParams() []string {
	var names []string
	collect := func(p *routing.Pattern) {
		for _, t := range p.Tokens {
			if t.IsParam() && (t.Modifier == routing.One || t.Modifier == routing.OneOrMore) {
				names = append(names, t.Name)
			}
		}
	}

	collect(d.path)
	for _, q := range d.query {
		collect(q.value)
	}

	return names
}

func buildPath(p *routing.Pattern, params routing.Params) (string, error) {
	var sb strings.Builder
	for _, t := range p.Tokens {
		if !t.IsParam() {
			sb.WriteString(t.Literal)
			continue
		}

		v, ok := params[t.Name]
		if !ok || v == "" {
			if t.Modifier == routing.Optional || t.Modifier == routing.ZeroOrMore {
				continue
			}

			return "", fmt.Errorf("missing parameter %q", t.Name)
		}

		sb.WriteString(t.Prefix)
		if t.Repeated() {
			sb.WriteString(EncodeRepeatedParam(v))
		} else {
			sb.WriteString(EncodeParam(v))
		}
	}

	return sb.String(), nil
}

func buildValue(p *routing.Pattern, params routing.Params) string {
	var sb strings.Builder
	for _, t := range p.Tokens {
		if !t.IsParam() {
			sb.WriteString(t.Literal)
			continue
		}

		if v, ok := params[t.Name]; ok {
			sb.WriteString(t.Prefix + v)
		}
	}

	return sb.String()
}

// build creates the destination URL. The query of the request is kept,
// the destination query overrides same named keys.
func (d *destination) build(params routing.Params, reqQuery url.Values) (*url.URL, error) {
	escaped, err := buildPath(d.path, params)
	if err != nil {
		return nil, err
	}

	if escaped == "" {
		escaped = "/"
	}

	p, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, err
	}

	q := make(url.Values)
	for k, v := range reqQuery {
		q[k] = append([]string(nil), v...)
	}

	for _, qt := range d.query {
		q.Set(qt.key, buildValue(qt.value, params))
	}

	u := &url.URL{
		Scheme:   d.scheme,
		Host:     d.host,
		Path:     p,
		RawPath:  escaped,
		RawQuery: q.Encode(),
		Fragment: d.fragment,
	}

	if (&url.URL{Path: p}).EscapedPath() == escaped {
		u.RawPath = ""
	}

	return u, nil
}
