package routing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPattern is returned when a path pattern cannot be parsed.
var ErrInvalidPattern = errors.New("invalid path pattern")

// Modifier of a parameter token.
type Modifier int

const (
	// One exactly one occurrence
	One Modifier = iota

	// Optional zero or one occurrence, :name?
	Optional

	// ZeroOrMore repeated segments, :name*
	ZeroOrMore

	// OneOrMore repeated segments, :name+
	OneOrMore
)

// LocaleParam is the name of the parameter capturing the optional locale
// prefix of a compiled pattern.
const LocaleParam = "__locale"

const defaultParamPattern = `[^/#?]+?`

// Token is a node of a parsed path pattern. A token is either a literal
// (Name empty) or a parameter.
type Token struct {
	Literal string

	// Name of the parameter. Unnamed groups get their index as name.
	Name string

	// Prefix is the delimiter preceding the parameter. It becomes part
	// of the optional or repeated group.
	Prefix string

	// Pattern constrains a single parameter segment.
	Pattern string

	Modifier Modifier
}

// IsParam tells whether the token is a parameter.
func (t Token) IsParam() bool { return t.Name != "" }

// Repeated tells whether the parameter can span multiple segments.
func (t Token) Repeated() bool { return t.Modifier == ZeroOrMore || t.Modifier == OneOrMore }

// Pattern is a parsed path pattern.
type Pattern struct {
	Source string
	Tokens []Token
}

// Params are the values captured by a pattern. Repeated parameters hold
// the matched segments joined with "/".
type Params map[string]string

func invalid(source, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidPattern, source, fmt.Sprintf(format, args...))
}

func isNameChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// ParsePattern parses a pattern in the colon notation used by rule
// sources and destinations:
//
//	/blog/:slug
//	/docs/:path*
//	/shop/:id(\d+)?
//	/files/(.*)
//
// A backslash escapes the next character.
func ParsePattern(source string) (*Pattern, error) {
	p := &Pattern{Source: source}
	var (
		lit     strings.Builder
		unnamed int
	)

	flush := func() {
		if lit.Len() > 0 {
			p.Tokens = append(p.Tokens, Token{Literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(source); {
		c := source[i]
		switch {
		case c == '\\':
			if i+1 >= len(source) {
				return nil, invalid(source, "trailing escape")
			}

			lit.WriteByte(source[i+1])
			i += 2
			continue
		case c == ':' || c == '(':
			var name string
			if c == ':' {
				j := i + 1
				for j < len(source) && isNameChar(source[j]) {
					j++
				}

				if j == i+1 {
					// a lone colon is a literal, e.g. in a port
					lit.WriteByte(c)
					i++
					continue
				}

				name = source[i+1 : j]
				i = j
			} else {
				name = fmt.Sprint(unnamed)
				unnamed++
			}

			pattern := defaultParamPattern
			if i < len(source) && source[i] == '(' {
				group, n, err := readGroup(source, i)
				if err != nil {
					return nil, err
				}

				if _, err := regexp.Compile(group); err != nil {
					return nil, invalid(source, "parameter %s: %v", name, err)
				}

				pattern = group
				i += n
			}

			mod := One
			if i < len(source) {
				switch source[i] {
				case '?':
					mod = Optional
					i++
				case '*':
					mod = ZeroOrMore
					i++
				case '+':
					mod = OneOrMore
					i++
				}
			}

			prefix := ""
			if s := lit.String(); strings.HasSuffix(s, "/") {
				prefix = "/"
				lit.Reset()
				lit.WriteString(strings.TrimSuffix(s, "/"))
			}

			flush()
			p.Tokens = append(p.Tokens, Token{Name: name, Prefix: prefix, Pattern: pattern, Modifier: mod})
			continue
		case c == ')':
			return nil, invalid(source, "unbalanced parenthesis at %d", i)
		}

		lit.WriteByte(c)
		i++
	}

	flush()
	return p, p.checkNames()
}

// readGroup reads a parenthesized regular expression starting at i and
// returns its content and the consumed length.
func readGroup(source string, i int) (string, int, error) {
	depth := 0
	for j := i; j < len(source); j++ {
		switch source[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				group := source[i+1 : j]
				if group == "" {
					return "", 0, invalid(source, "empty group at %d", i)
				}

				if strings.Contains(group, "(?P<") || strings.Contains(group, "(?<") {
					return "", 0, invalid(source, "named groups are not allowed in parameter patterns")
				}

				return group, j - i + 1, nil
			}
		}
	}

	return "", 0, invalid(source, "unbalanced parenthesis at %d", i)
}

// ParsePage parses a page identifier in the bracket notation produced by
// the build step:
//
//	/blog/[slug]
//	/docs/[...path]
//	/shop/[[...path]]
func ParsePage(page string) (*Pattern, error) {
	p := &Pattern{Source: page}
	var lit strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(page, "/"), "/") {
		if seg == "" {
			continue
		}

		if !strings.HasPrefix(seg, "[") {
			if strings.ContainsAny(seg, "[]") {
				return nil, invalid(page, "brackets must span a full segment: %s", seg)
			}

			lit.WriteString("/" + seg)
			continue
		}

		var (
			name = seg
			mod  = One
		)

		switch {
		case strings.HasPrefix(seg, "[[...") && strings.HasSuffix(seg, "]]"):
			name, mod = seg[5:len(seg)-2], ZeroOrMore
		case strings.HasPrefix(seg, "[...") && strings.HasSuffix(seg, "]"):
			name, mod = seg[4:len(seg)-1], OneOrMore
		case strings.HasSuffix(seg, "]"):
			name = seg[1 : len(seg)-1]
		default:
			return nil, invalid(page, "unterminated bracket: %s", seg)
		}

		for i := 0; i < len(name); i++ {
			if !isNameChar(name[i]) {
				return nil, invalid(page, "invalid parameter name: %s", name)
			}
		}

		if name == "" {
			return nil, invalid(page, "empty parameter name")
		}

		if lit.Len() > 0 {
			p.Tokens = append(p.Tokens, Token{Literal: lit.String()})
			lit.Reset()
		}

		p.Tokens = append(p.Tokens, Token{Name: name, Prefix: "/", Pattern: defaultParamPattern, Modifier: mod})
	}

	if lit.Len() > 0 {
		p.Tokens = append(p.Tokens, Token{Literal: lit.String()})
	}

	if len(p.Tokens) == 0 {
		p.Tokens = []Token{{Literal: "/"}}
	}

	return p, p.checkNames()
}

func (p *Pattern) checkNames() error {
	seen := make(map[string]bool)
	for _, t := range p.Tokens {
		if !t.IsParam() {
			continue
		}

		if t.Name == LocaleParam {
			return invalid(p.Source, "reserved parameter name: %s", t.Name)
		}

		if seen[t.Name] {
			return invalid(p.Source, "duplicate parameter: %s", t.Name)
		}

		seen[t.Name] = true
	}

	return nil
}

// Dynamic tells whether the pattern has parameters.
func (p *Pattern) Dynamic() bool {
	for _, t := range p.Tokens {
		if t.IsParam() {
			return true
		}
	}

	return false
}

// ParamNames returns the names of the parameters in order.
func (p *Pattern) ParamNames() []string {
	var names []string
	for _, t := range p.Tokens {
		if t.IsParam() {
			names = append(names, t.Name)
		}
	}

	return names
}

// CompileOptions control the regular expression generated for a pattern.
type CompileOptions struct {
	// BasePath is an optional literal prefix accepted in front of the
	// pattern.
	BasePath string

	// Locales, when set, are accepted as an optional first segment
	// captured by LocaleParam.
	Locales []string

	// Prefix makes the expression match any path starting with the
	// pattern.
	Prefix bool
}

// Regexp compiles the pattern to a case-insensitive regular expression.
// Trailing slashes are tolerated.
func (p *Pattern) Regexp(o CompileOptions) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("(?i)^")
	if o.BasePath != "" {
		sb.WriteString("(?:" + regexp.QuoteMeta(strings.TrimSuffix(o.BasePath, "/")) + ")?")
	}

	if len(o.Locales) > 0 {
		quoted := make([]string, len(o.Locales))
		for i, l := range o.Locales {
			quoted[i] = regexp.QuoteMeta(l)
		}

		sb.WriteString("(?:/(?P<" + LocaleParam + ">" + strings.Join(quoted, "|") + ")(?:/|$))?")
	}

	for i, t := range p.Tokens {
		if !t.IsParam() {
			lit := t.Literal
			if i == 0 && len(o.Locales) > 0 {
				// the locale group consumes the slash following the locale
				lit = strings.TrimPrefix(lit, "/")
				sb.WriteString("/?")
			}

			sb.WriteString(regexp.QuoteMeta(lit))
			continue
		}

		prefix := regexp.QuoteMeta(t.Prefix)
		if i == 0 && len(o.Locales) > 0 && t.Prefix == "/" {
			prefix = "/?"
		}

		seg := "(?:" + t.Pattern + ")"
		switch t.Modifier {
		case One:
			sb.WriteString(prefix + "(?P<" + t.Name + ">" + seg + ")")
		case Optional:
			sb.WriteString("(?:" + prefix + "(?P<" + t.Name + ">" + seg + "))?")
		case OneOrMore:
			sb.WriteString(prefix + "(?P<" + t.Name + ">" + seg + "(?:/" + seg + ")*)")
		case ZeroOrMore:
			sb.WriteString("(?:" + prefix + "(?P<" + t.Name + ">" + seg + "(?:/" + seg + ")*))?")
		}
	}

	if o.Prefix {
		sb.WriteString("(?:/.*)?$")
	} else {
		sb.WriteString("/?$")
	}

	rx, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, invalid(p.Source, "%v", err)
	}

	return rx, nil
}

// MatchParams matches path against rx and returns the captured values,
// leaving out empty optional parameters.
func MatchParams(rx *regexp.Regexp, path string) (Params, bool) {
	m := rx.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}

	params := make(Params)
	for i, name := range rx.SubexpNames() {
		if name == "" || m[i] == "" {
			continue
		}

		params[name] = m[i]
	}

	return params, true
}
