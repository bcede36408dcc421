package net

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// IngressOptions prepare the incoming requests before they are turned
// into events.
type IngressOptions struct {
	// NormalizeHost lowercases the host, and removes the port and the
	// trailing dot.
	NormalizeHost bool

	// ForwardedFor appends the client address to X-Forwarded-For.
	ForwardedFor bool

	// ForwardedProto overrides X-Forwarded-Proto, e.g. https when TLS
	// is terminated in front of edgerender.
	ForwardedProto string

	// TrustedProxies may send X-Forwarded-* headers. When set, the
	// headers sent by other clients are dropped.
	TrustedProxies *netipx.IPSet
}

type ingress struct {
	options IngressOptions
	next    http.Handler
}

// NewIngressHandler wraps next and applies the options to each request.
func NewIngressHandler(o IngressOptions, next http.Handler) http.Handler {
	return &ingress{options: o, next: next}
}

// ParseIPSet parses a list of CIDRs or single addresses.
func ParseIPSet(cidrs []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, c := range cidrs {
		if p, err := netip.ParsePrefix(c); err == nil {
			b.AddPrefix(p)
			continue
		}

		a, err := netip.ParseAddr(c)
		if err != nil {
			return nil, fmt.Errorf("invalid address or CIDR %q: %w", c, err)
		}

		b.Add(a)
	}

	return b.IPSet()
}

func stripPort(address string) string {
	if h, _, err := net.SplitHostPort(address); err == nil {
		return h
	}

	return address
}

// RemoteAddr returns the address of the client connection, ignoring
// X-Forwarded-For.
func RemoteAddr(r *http.Request) netip.Addr {
	addr, _ := netip.ParseAddr(stripPort(r.RemoteAddr))
	return addr.Unmap()
}

// NormalizeHost lowercases the host and removes the port and the
// trailing dot.
func NormalizeHost(host string) string {
	if strings.IndexByte(host, ':') != -1 {
		host = stripPort(host)
	}

	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}

func (in *ingress) trusted(r *http.Request) bool {
	if in.options.TrustedProxies == nil {
		return true
	}

	return in.options.TrustedProxies.Contains(RemoteAddr(r))
}

func (in *ingress) forward(r *http.Request) {
	if !in.trusted(r) {
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Forwarded-Host")
		r.Header.Del("X-Forwarded-Proto")
	}

	if in.options.ForwardedFor && r.RemoteAddr != "" {
		addr := stripPort(r.RemoteAddr)
		if v := r.Header.Get("X-Forwarded-For"); v != "" {
			addr = v + ", " + addr
		}

		r.Header.Set("X-Forwarded-For", addr)
	}

	if in.options.ForwardedProto != "" {
		r.Header.Set("X-Forwarded-Proto", in.options.ForwardedProto)
	}
}

func (in *ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if in.options.NormalizeHost {
		r.Host = NormalizeHost(r.Host)
	}

	in.forward(r)
	in.next.ServeHTTP(w, r)
}
