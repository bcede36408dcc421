package net

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTransportDo(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, "/target", http.StatusFound)
			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer s.Close()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	quit := make(chan struct{})
	defer close(quit)

	tr := NewHTTPRoundTripper(Options{Timeout: time.Second, Tracer: tp.Tracer("test")}, quit)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/page", nil)
	require.NoError(t, err)

	rsp, err := tr.Do(req, "render")
	require.NoError(t, err)
	b, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(b))

	req, err = http.NewRequest(http.MethodGet, s.URL+"/redirect", nil)
	require.NoError(t, err)

	rsp, err = tr.Do(req, "render")
	require.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, http.StatusFound, rsp.StatusCode, "redirects are not followed")

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "render", spans[0].Name())

	var status int64
	for _, a := range spans[0].Attributes() {
		if a.Key == "http.status_code" {
			status = a.Value.AsInt64()
		}
	}

	assert.Equal(t, int64(http.StatusOK), status)
}

func TestTransportDoError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	quit := make(chan struct{})
	defer close(quit)

	tr := NewHTTPRoundTripper(Options{Tracer: tp.Tracer("test")}, quit)
	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
	require.NoError(t, err)

	_, err = tr.Do(req, "relay")
	assert.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}
