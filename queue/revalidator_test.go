package queue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enet "github.com/zalando/edgerender/net"
)

func TestHTTPRevalidator(t *testing.T) {
	var calls atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "secret", r.Header.Get(RevalidateHeader))
		assert.Equal(t, "www.example.org", r.Host)

		switch r.URL.Path {
		case "/docs":
		case "/docs/en/blog/x":
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer s.Close()

	quit := make(chan struct{})
	defer close(quit)

	r := &HTTPRevalidator{
		URL:      s.URL,
		BasePath: "/docs",
		Secret:   "secret",
		Client:   enet.NewHTTPRoundTripper(enet.Options{}, quit),
		MaxTries: 3,
	}

	for _, tt := range []struct {
		msg  string
		path string
		fail bool
	}{
		{msg: "index", path: "/index"},
		{msg: "retried", path: "/en/blog/x"},
		{msg: "not retried", path: "/missing", fail: true},
	} {
		t.Run(tt.msg, func(t *testing.T) {
			err := r.Revalidate(context.Background(), NewJob(tt.path, "www.example.org", "", 0))
			if tt.fail {
				assert.ErrorIs(t, err, errRetry)
				return
			}

			require.NoError(t, err)
		})
	}

	assert.Equal(t, int32(2), calls.Load())
}
