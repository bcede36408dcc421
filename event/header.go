package event

import (
	"net/http"
	"sort"
	"strings"
)

// Header is a header map with lower-cased keys. Multiple values of a
// request header are kept as a list, set-cookie values of a result
// accumulate.
type Header map[string][]string

func key(k string) string { return strings.ToLower(k) }

// Get returns the first value of the header or "".
func (h Header) Get(k string) string {
	v := h[key(k)]
	if len(v) == 0 {
		return ""
	}

	return v[0]
}

// Values returns all the values of the header.
func (h Header) Values(k string) []string {
	return h[key(k)]
}

// Has tells whether the header is present, even with an empty value.
func (h Header) Has(k string) bool {
	_, ok := h[key(k)]
	return ok
}

func (h Header) Set(k, v string) {
	h[key(k)] = []string{v}
}

func (h Header) Add(k, v string) {
	k = key(k)
	h[k] = append(h[k], v)
}

func (h Header) Del(k string) {
	delete(h, key(k))
}

// Clone returns a deep copy.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}

	c := make(Header, len(h))
	for k, v := range h {
		c[k] = append([]string(nil), v...)
	}

	return c
}

// Keys returns the sorted header names.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}

// FromHTTP converts a canonical net/http header.
func FromHTTP(hh http.Header) Header {
	h := make(Header, len(hh))
	for k, v := range hh {
		k = key(k)
		h[k] = append(h[k], v...)
	}

	return h
}

// HTTP converts the header to a canonical net/http header.
func (h Header) HTTP() http.Header {
	hh := make(http.Header, len(h))
	for k, v := range h {
		ck := http.CanonicalHeaderKey(k)
		hh[ck] = append(hh[ck], v...)
	}

	return hh
}
