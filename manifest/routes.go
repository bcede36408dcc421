package manifest

import (
	"fmt"

	"github.com/zalando/edgerender/cache"
	"github.com/zalando/edgerender/locale"
	"github.com/zalando/edgerender/middleware"
	"github.com/zalando/edgerender/routing"
	"github.com/zalando/edgerender/rules"
)

// Options used for compiling a manifest.
type Options struct {
	// Cache holds the stores of the cache interceptor. Its prerender
	// list, base path and locales are taken from the manifest. Without a
	// store, no interceptor is created.
	Cache cache.Options

	// Middleware is the user interceptor, optional.
	Middleware middleware.Handler
}

// Routes is one compiled generation of the manifest. It is immutable.
type Routes struct {
	Manifest   *Manifest
	Table      *routing.Table
	Rules      *rules.Engine
	Locale     *locale.Resolver
	Middleware *middleware.Runner
	Cache      *cache.Interceptor
}

// Compile compiles all parts of the manifest. Any error is a
// configuration error.
func Compile(m *Manifest, o Options) (*Routes, error) {
	r := &Routes{Manifest: m}

	var err error
	r.Table, err = routing.NewTable(m.Routes, routing.Options{
		BasePath: m.BasePath,
		Locales:  m.locales(),
		Assets:   m.Assets,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: routes: %w", ErrInvalidManifest, err)
	}

	if m.I18n != nil {
		if r.Locale, err = locale.New(*m.I18n, m.BasePath); err != nil {
			return nil, fmt.Errorf("%w: i18n: %w", ErrInvalidManifest, err)
		}
	}

	eo := rules.EngineOptions{
		Options:       rules.Options{BasePath: m.BasePath, Locales: m.locales()},
		TrailingSlash: m.TrailingSlash,
	}

	if r.Locale != nil {
		eo.Locale = r.Locale
	}

	if r.Rules, err = rules.NewEngine(m.Rewrites, eo); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if r.Middleware, err = middleware.New(middleware.Options{
		Handler:  o.Middleware,
		Matchers: m.Middleware.Matchers,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	co := o.Cache
	co.Prerender = m.Prerender
	co.BasePath = m.BasePath
	co.Locales = m.locales()
	if r.Cache, err = cache.New(co); err != nil {
		return nil, fmt.Errorf("%w: prerender: %w", ErrInvalidManifest, err)
	}

	return r, nil
}
