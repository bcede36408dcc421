/*
Package manifest loads the route, rule, prerender and locale manifests
produced by the build step, and compiles them into the immutable
generation of routing state the proxy serves from.

The manifest is a single YAML or JSON document:

	basePath: /docs
	trailingSlash: false
	routes:
	- page: /blog/[slug]
	- page: /api/users
	  category: route
	assets: [/_next/static/, /favicon.ico]
	rewrites:
	  redirects: [...]
	  beforeFiles: [...]
	  afterFiles: [...]
	  fallback: [...]
	prerender:
	  routes: [/, /blog/first]
	  dynamicRoutes: ["/blog/[slug]"]
	i18n:
	  locales: [en, de]
	  defaultLocale: en
	middleware:
	  matchers: ["/account/.*"]

A Routing loads the manifest once, and, when watching, compiles it again
whenever the file changes. A manifest failing to compile is rejected and
the previous generation stays in use.
*/
package manifest

import (
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/zalando/edgerender/cache"
	"github.com/zalando/edgerender/locale"
	"github.com/zalando/edgerender/routing"
	"github.com/zalando/edgerender/rules"
)

const (
	DefaultNotFoundPage = "/404"
	DefaultErrorPage    = "/500"
)

// ErrInvalidManifest wraps the load time configuration errors.
var ErrInvalidManifest = errors.New("invalid manifest")

// Middleware lists the paths the middleware runs for.
type Middleware struct {
	Matchers []string `json:"matchers,omitempty"`
}

type Manifest struct {
	BasePath      string                   `json:"basePath,omitempty"`
	TrailingSlash bool                     `json:"trailingSlash,omitempty"`
	Routes        []routing.DefinitionSpec `json:"routes"`
	Assets        []string                 `json:"assets,omitempty"`
	Rewrites      rules.Config             `json:"rewrites"`
	Prerender     cache.Prerender          `json:"prerender"`
	I18n          *locale.Config           `json:"i18n,omitempty"`
	Middleware    Middleware               `json:"middleware"`

	// NotFoundPage is rendered for paths matching no route. Default:
	// /404.
	NotFoundPage string `json:"notFoundPage,omitempty"`

	// ErrorPage is rendered when the upstream is unavailable. Default:
	// /500.
	ErrorPage string `json:"errorPage,omitempty"`
}

// Parse reads a YAML or JSON manifest.
func Parse(b []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.UnmarshalStrict(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if m.NotFoundPage == "" {
		m.NotFoundPage = DefaultNotFoundPage
	}

	if m.ErrorPage == "" {
		m.ErrorPage = DefaultErrorPage
	}

	return &m, nil
}

// Load reads the manifest file.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}

func (m *Manifest) locales() []string {
	if m.I18n == nil {
		return nil
	}

	return m.I18n.Locales
}
