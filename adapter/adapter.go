// Package adapter converts between net/http and the event model of the
// pipeline.
package adapter

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/zalando/edgerender/event"
	"github.com/zalando/edgerender/logging"
	"github.com/zalando/edgerender/middleware"
)

const bufferSize = 8192

// Handler runs the pipeline, implemented by proxy.Proxy.
type Handler interface {
	Handle(context.Context, *event.Event) (*event.Result, error)
}

func scheme(r *http.Request) string {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		return strings.ToLower(p)
	}

	if r.TLS != nil {
		return "https"
	}

	return "http"
}

// FromRequest creates the event of an inbound request. GET and HEAD
// requests carry no body.
func FromRequest(r *http.Request) *event.Event {
	u := *r.URL
	u.Scheme = scheme(r)
	u.Host = r.Host

	e := &event.Event{
		Method:     r.Method,
		Header:     event.FromHTTP(r.Header),
		Cookies:    make(map[string]string),
		RemoteAddr: r.RemoteAddr,
	}

	e.Header.Set("host", r.Host)
	for _, c := range r.Cookies() {
		if _, ok := e.Cookies[c.Name]; !ok {
			e.Cookies[c.Name] = c.Value
		}
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil && r.Body != http.NoBody {
		e.Body = r.Body
	}

	e.SetURL(&u)
	return e
}

type flushedResponseWriter interface {
	http.ResponseWriter
	http.Flusher
}

// copies a stream with flushing on every successful read
func copyStream(to flushedResponseWriter, from io.Reader) error {
	b := make([]byte, bufferSize)
	for {
		l, rerr := from.Read(b)
		if rerr != nil && rerr != io.EOF {
			return rerr
		}

		if l > 0 {
			if _, werr := to.Write(b[:l]); werr != nil {
				return werr
			}

			to.Flush()
		}

		if rerr == io.EOF {
			return nil
		}
	}
}

// WriteResult writes the result to w. The reserved middleware headers
// never leave the edge.
func WriteResult(w http.ResponseWriter, res *event.Result, head bool) error {
	h := w.Header()
	for k, v := range res.Header {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}

	for k := range res.Header {
		if strings.HasPrefix(k, middleware.RequestPrefix) || k == middleware.RewriteHeader || k == middleware.NextHeader || k == middleware.OverrideHeader {
			h.Del(k)
		}
	}

	code := res.StatusCode
	if code == 0 {
		code = http.StatusOK
	}

	body, err := res.Reader()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return err
	}

	defer body.Close()

	w.WriteHeader(code)
	if head {
		return nil
	}

	if fw, ok := w.(flushedResponseWriter); ok {
		return copyStream(fw, body)
	}

	_, err = io.Copy(w, body)
	return err
}

type adapter struct {
	handler Handler
	log     logging.Logger
}

// New wraps the pipeline into an http.Handler.
func New(h Handler, log logging.Logger) http.Handler {
	if log == nil {
		log = logging.New(map[string]any{"component": "adapter"})
	}

	return &adapter{handler: h, log: log}
}

func (a *adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e := FromRequest(r)
	res, err := a.handler.Handle(r.Context(), e)
	if err != nil {
		a.log.Errorf("request %s %s failed: %v", e.Meta.RequestID, e.Meta.InitialURL, err)
		if e.Meta.RequestID != "" {
			w.Header().Set("X-Edge-Request-Id", e.Meta.RequestID)
		}

		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := WriteResult(w, res, r.Method == http.MethodHead); err != nil {
		a.log.Warnf("request %s: failed to write the response: %v", e.Meta.RequestID, err)
	}
}
