/*
Package locale resolves the effective locale of a request.

The locale is detected with the following precedence: the default locale
of the domain the request was addressed to, the locale cookie, the
Accept-Language header and finally the global default locale. Only the
root path is redirected to the detected locale, and only when it differs
from the default applicable to the request. When the preferred locale of
the client belongs to another configured domain, the redirect points to
the root of that domain.

The Resolver holds no mutable state, the locale tables are built once and
injected where needed.
*/
package locale

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"github.com/zalando/edgerender/event"
)

// DefaultCookie is the name of the cookie holding the locale chosen by
// the user.
const DefaultCookie = "NEXT_LOCALE"

// ErrInvalidConfig is returned for inconsistent locale settings.
var ErrInvalidConfig = errors.New("invalid locale configuration")

// Domain binds a set of locales to a host.
type Domain struct {
	Domain        string   `json:"domain"`
	DefaultLocale string   `json:"defaultLocale"`
	Locales       []string `json:"locales,omitempty"`

	// HTTP domains are redirected to with plain http.
	HTTP bool `json:"http,omitempty"`
}

// Config of the locale handling, as found in the manifest.
type Config struct {
	Locales       []string `json:"locales"`
	DefaultLocale string   `json:"defaultLocale"`
	Domains       []Domain `json:"domains,omitempty"`

	// LocaleDetection set to false disables the detection from the
	// cookie and the Accept-Language header.
	LocaleDetection *bool `json:"localeDetection,omitempty"`
}

// Resolver detects locales and issues the locale redirect.
type Resolver struct {
	config    Config
	basePath  string
	cookie    string
	detection bool
	lower     map[string]string
}

// New creates a resolver. It returns nil without error when no locales
// are configured.
func New(c Config, basePath string) (*Resolver, error) {
	if len(c.Locales) == 0 {
		return nil, nil
	}

	r := &Resolver{
		config:    c,
		basePath:  strings.TrimSuffix(basePath, "/"),
		cookie:    DefaultCookie,
		detection: c.LocaleDetection == nil || *c.LocaleDetection,
		lower:     make(map[string]string),
	}

	for _, l := range c.Locales {
		r.lower[strings.ToLower(l)] = l
	}

	if _, ok := r.canonical(c.DefaultLocale); !ok {
		return nil, fmt.Errorf("%w: default locale %q is not in the locales", ErrInvalidConfig, c.DefaultLocale)
	}

	for _, d := range c.Domains {
		if d.Domain == "" {
			return nil, fmt.Errorf("%w: domain without name", ErrInvalidConfig)
		}

		for _, l := range append([]string{d.DefaultLocale}, d.Locales...) {
			if _, ok := r.canonical(l); !ok {
				return nil, fmt.Errorf("%w: locale %q of domain %s is not in the locales", ErrInvalidConfig, l, d.Domain)
			}
		}
	}

	return r, nil
}

// Locales returns the configured locales.
func (r *Resolver) Locales() []string { return r.config.Locales }

// DefaultLocale returns the global default locale.
func (r *Resolver) DefaultLocale() string { return r.config.DefaultLocale }

func (r *Resolver) canonical(l string) (string, bool) {
	c, ok := r.lower[strings.ToLower(l)]
	return c, ok
}

func hostname(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}

	return h
}

// DomainOf returns the configured domain of the host, or nil.
func (r *Resolver) DomainOf(host string) *Domain {
	host = strings.ToLower(hostname(host))
	for i := range r.config.Domains {
		if strings.ToLower(r.config.Domains[i].Domain) == host {
			return &r.config.Domains[i]
		}
	}

	return nil
}

// DomainFor returns the domain serving the locale, or nil.
func (r *Resolver) DomainFor(locale string) *Domain {
	for i := range r.config.Domains {
		d := &r.config.Domains[i]
		if strings.EqualFold(d.DefaultLocale, locale) {
			return d
		}

		for _, l := range d.Locales {
			if strings.EqualFold(l, locale) {
				return d
			}
		}
	}

	return nil
}

// DefaultFor returns the default locale applicable to the request: the
// domain default when the host is a configured domain, the global
// default otherwise.
func (r *Resolver) DefaultFor(e *event.Event) string {
	if d := r.DomainOf(e.Host()); d != nil {
		c, _ := r.canonical(d.DefaultLocale)
		return c
	}

	return r.config.DefaultLocale
}

// AcceptLanguage negotiates the best configured locale for the
// Accept-Language header. Exact matches are preferred, otherwise a locale
// with the same base language is accepted.
func (r *Resolver) AcceptLanguage(header string) string {
	if header == "" {
		return ""
	}

	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return ""
	}

	for _, t := range tags {
		if l, ok := r.canonical(t.String()); ok {
			return l
		}

		base, _ := t.Base()
		for _, l := range r.config.Locales {
			lt, err := language.Parse(l)
			if err != nil {
				continue
			}

			if lb, _ := lt.Base(); lb == base {
				return l
			}
		}
	}

	return ""
}

// Preferred returns the locale the client prefers, from the cookie or
// the Accept-Language header, or "".
func (r *Resolver) Preferred(e *event.Event) string {
	if !r.detection {
		return ""
	}

	if l, ok := r.canonical(e.Cookies[r.cookie]); ok {
		return l
	}

	return r.AcceptLanguage(e.Header.Get("accept-language"))
}

// Detect returns the effective locale of the request.
func (r *Resolver) Detect(e *event.Event) string {
	if d := r.DomainOf(e.Host()); d != nil {
		c, _ := r.canonical(d.DefaultLocale)
		return c
	}

	if l := r.Preferred(e); l != "" {
		return l
	}

	return r.config.DefaultLocale
}

// PathLocale returns the locale prefix of the path, after the base path,
// and the path without it.
func (r *Resolver) PathLocale(path string) (string, string) {
	rest := path
	if r.basePath != "" && strings.HasPrefix(strings.ToLower(rest), strings.ToLower(r.basePath)) {
		rest = rest[len(r.basePath):]
	}

	seg, tail, _ := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	l, ok := r.canonical(seg)
	if !ok {
		return "", path
	}

	return l, r.basePath + "/" + tail
}

func (r *Resolver) isRoot(path string) bool {
	p := path
	if r.basePath != "" {
		if !strings.HasPrefix(strings.ToLower(p), strings.ToLower(r.basePath)) {
			return false
		}

		p = p[len(r.basePath):]
	}

	return p == "/" || p == ""
}

// RedirectIfNeeded redirects the root path to the detected locale, when it
// differs from the applicable default. When the preferred locale is served
// by another configured domain, the redirect targets that domain.
func (r *Resolver) RedirectIfNeeded(e *event.Event) *event.Result {
	if r == nil || !r.detection || !r.isRoot(e.RawPath) {
		return nil
	}

	if preferred := r.Preferred(e); preferred != "" && len(r.config.Domains) > 0 {
		target := r.DomainFor(preferred)
		current := r.DomainOf(e.Host())
		if target != nil && (current == nil || !strings.EqualFold(target.Domain, current.Domain)) {
			scheme := "https"
			if target.HTTP {
				scheme = "http"
			}

			location := scheme + "://" + target.Domain + r.basePath + "/"
			if !strings.EqualFold(preferred, target.DefaultLocale) {
				location += preferred
			}

			return event.Redirect(http.StatusTemporaryRedirect, withQuery(location, e))
		}
	}

	detected := r.Detect(e)
	if strings.EqualFold(detected, r.DefaultFor(e)) {
		return nil
	}

	return event.Redirect(http.StatusTemporaryRedirect, withQuery(r.basePath+"/"+detected, e))
}

func withQuery(location string, e *event.Event) string {
	if e.URL == nil || e.URL.RawQuery == "" {
		return location
	}

	return location + "?" + e.URL.RawQuery
}

// Localize sets the locale of the event. Paths carrying a locale prefix
// keep it, other paths get the applicable default locale prefixed for the
// internal stages.
func (r *Resolver) Localize(e *event.Event) {
	if l, _ := r.PathLocale(e.RawPath); l != "" {
		e.Meta.Locale = l
		return
	}

	l := r.DefaultFor(e)
	e.Meta.Locale = l

	rest := e.RawPath
	if r.basePath != "" && strings.HasPrefix(strings.ToLower(rest), strings.ToLower(r.basePath)) {
		rest = rest[len(r.basePath):]
	}

	p := r.basePath + "/" + l
	if rest != "/" && rest != "" {
		p += rest
	}

	e.SetPath(p)
}
