package edgerender

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/edgerender/manifest"
	"github.com/zalando/edgerender/metrics"
)

type health struct {
	ok atomic.Bool
}

func newHealth() *health {
	h := &health{}
	h.ok.Store(true)
	return h
}

func (h *health) set(ok bool) { h.ok.Store(ok) }

func (h *health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if !h.ok.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

// RouteSource provides the current generation of the compiled manifest.
type RouteSource interface {
	Get() *manifest.Routes
}

type routeDoc struct {
	Page     string `json:"page"`
	Regex    string `json:"regex"`
	Kind     string `json:"kind"`
	Category string `json:"category"`
}

type routesDoc struct {
	BasePath     string     `json:"basePath,omitempty"`
	Locales      []string   `json:"locales,omitempty"`
	Routes       []routeDoc `json:"routes"`
	NotFoundPage string     `json:"notFoundPage"`
	ErrorPage    string     `json:"errorPage"`
}

type routesHandler struct {
	source RouteSource
}

func (h *routesHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	r := h.source.Get()
	if r == nil {
		http.Error(w, "no routes loaded", http.StatusServiceUnavailable)
		return
	}

	doc := routesDoc{
		BasePath:     r.Manifest.BasePath,
		NotFoundPage: r.Manifest.NotFoundPage,
		ErrorPage:    r.Manifest.ErrorPage,
		Routes:       []routeDoc{},
	}

	if r.Manifest.I18n != nil {
		doc.Locales = r.Manifest.I18n.Locales
	}

	for _, d := range r.Table.Definitions() {
		doc.Routes = append(doc.Routes, routeDoc{
			Page:     d.Page,
			Regex:    d.Regex.String(),
			Kind:     d.Kind.String(),
			Category: string(d.Category),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		log.Errorf("Failed to write the route table: %v", err)
	}
}

// newSupportHandler serves the prometheus metrics, the health check and
// the compiled route table.
func newSupportHandler(m metrics.Metrics, h *health, routes RouteSource) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", m.CreateHandler())
	r.Method(http.MethodGet, "/healthz", h)
	r.Method(http.MethodGet, "/routes", &routesHandler{source: routes})
	return r
}

func newServerErrorLog() *stdlog.Logger {
	return stdlog.New(log.StandardLogger().WriterLevel(log.ErrorLevel), "", 0)
}
