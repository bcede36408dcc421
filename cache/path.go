package cache

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/zalando/edgerender/routing"
)

var delimiters = strings.NewReplacer("%", "%25", "/", "%2F", "#", "%23", "?", "%3F")

func decodeSegment(s string) string {
	d, err := url.PathUnescape(s)
	if err != nil {
		return s
	}

	return delimiters.Replace(d)
}

// Normalize strips the base path, the locale prefix and the trailing
// slash from the path, and decodes its segments. Decoded characters
// delimiting paths, queries or fragments stay escaped. The locale is
// returned in its configured spelling.
func Normalize(path, basePath string, locales []string) (locale, normalized string) {
	p := path
	if basePath != "" && strings.HasPrefix(strings.ToLower(p), strings.ToLower(basePath)) {
		p = p[len(basePath):]
	}

	p = strings.TrimPrefix(p, "/")
	segs := strings.Split(p, "/")
	if len(locales) > 0 && len(segs) > 0 {
		for _, l := range locales {
			if strings.EqualFold(segs[0], l) {
				locale = l
				segs = segs[1:]
				break
			}
		}
	}

	for len(segs) > 0 && segs[len(segs)-1] == "" {
		segs = segs[:len(segs)-1]
	}

	for i, s := range segs {
		segs[i] = decodeSegment(s)
	}

	return locale, "/" + strings.Join(segs, "/")
}

// Key returns the store key of a normalized path. Localized keys are
// prefixed with the locale, the index of a locale is the locale itself.
// Without locale, the index is stored as /index.
func Key(locale, path string) string {
	if locale == "" {
		if path == "/" {
			return "/index"
		}

		return path
	}

	if path == "/" {
		return "/" + locale
	}

	return "/" + locale + path
}

// Prerender lists the pre-renderable paths of the manifest.
type Prerender struct {
	// Routes are the normalized paths rendered at build time.
	Routes []string `json:"routes,omitempty"`

	// Dynamic are the page identifiers of dynamic routes rendered on
	// demand, e.g. /blog/[slug].
	Dynamic []string `json:"dynamicRoutes,omitempty"`
}

type prerenderable struct {
	static  map[string]bool
	dynamic []*regexp.Regexp
}

func compilePrerender(p Prerender) (*prerenderable, error) {
	pr := &prerenderable{static: make(map[string]bool, len(p.Routes))}
	for _, r := range p.Routes {
		_, n := Normalize(r, "", nil)
		pr.static[n] = true
	}

	for _, d := range p.Dynamic {
		pt, err := routing.ParsePage(d)
		if err != nil {
			return nil, fmt.Errorf("prerender route: %w", err)
		}

		rx, err := pt.Regexp(routing.CompileOptions{})
		if err != nil {
			return nil, fmt.Errorf("prerender route: %w", err)
		}

		pr.dynamic = append(pr.dynamic, rx)
	}

	return pr, nil
}

func (pr *prerenderable) match(path string) bool {
	if pr.static[path] {
		return true
	}

	for _, rx := range pr.dynamic {
		if rx.MatchString(path) {
			return true
		}
	}

	return false
}
