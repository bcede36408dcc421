package logging

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServesRequest(t *testing.T) {
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, r.Body)
	})

	h := NewHandler(innerHandler)
	body := "Hello, world!"
	r := httptest.NewRequest("POST", "http://www.example.org", bytes.NewBufferString(body))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, body, w.Body.String())
}

func TestLogsAccess(t *testing.T) {
	var accessLog bytes.Buffer
	Init(Options{AccessLogOutput: &accessLog})

	var observed int
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(CacheStatusHeader, "STALE")
		w.Header().Set(RequestIDHeader, "abc")
		w.WriteHeader(http.StatusTeapot)
	})
	h := NewObservedHandler(innerHandler, func(method string, code int, _ time.Time) {
		observed = code
		assert.Equal(t, http.MethodGet, method)
	})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	output := accessLog.String()
	assert.True(t, strings.Contains(output, `"GET /x HTTP/1.1" 418`), output)
	assert.True(t, strings.HasSuffix(output, " example.com STALE abc \"\"\n"), output)
	assert.Equal(t, http.StatusTeapot, observed)
}
