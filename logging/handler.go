package logging

import (
	"net/http"
	"time"
)

const (
	// CacheStatusHeader carries the cache classification to the
	// access log.
	CacheStatusHeader = "X-Cache-Status"

	// RequestIDHeader carries the correlation id to the access log.
	RequestIDHeader = "X-Edge-Request-Id"
)

// ServeObserver is notified about every served request, e.g. to measure
// the serve time.
type ServeObserver func(method string, code int, start time.Time)

type handler struct {
	next    http.Handler
	observe ServeObserver
}

// NewHandler wraps next and writes an access log entry for every request.
func NewHandler(next http.Handler) http.Handler {
	return NewObservedHandler(next, nil)
}

// NewObservedHandler is like NewHandler, and calls observe, when not nil,
// after each request.
func NewObservedHandler(next http.Handler, observe ServeObserver) http.Handler {
	return &handler{next: next, observe: observe}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	lw := &loggingWriter{writer: w}
	h.next.ServeHTTP(lw, r)

	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	if h.observe != nil {
		h.observe(r.Method, lw.code, now)
	}

	LogAccess(&AccessEntry{
		Request:      r,
		StatusCode:   lw.code,
		ResponseSize: lw.bytes,
		Duration:     time.Since(now),
		RequestTime:  now,
		CacheStatus:  lw.Header().Get(CacheStatusHeader),
		RequestID:    lw.Header().Get(RequestIDHeader),
	})
}
