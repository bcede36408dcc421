package net

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	for _, tt := range []struct {
		host string
		want string
	}{
		{"www.example.org", "www.example.org"},
		{"WWW.Example.ORG", "www.example.org"},
		{"www.example.org.", "www.example.org"},
		{"www.example.org:8080", "www.example.org"},
		{"WWW.EXAMPLE.ORG.:443", "www.example.org"},
		{"[::1]:8080", "::1"},
		{"", ""},
	} {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHost(tt.host))
		})
	}
}

func TestParseIPSet(t *testing.T) {
	s, err := ParseIPSet([]string{"10.0.0.0/8", "192.168.1.1", "2001:db8::/32"})
	require.NoError(t, err)

	for _, a := range []string{"10.1.2.3", "192.168.1.1", "2001:db8::1"} {
		r := &http.Request{RemoteAddr: a + ":1234"}
		if a == "2001:db8::1" {
			r.RemoteAddr = "[" + a + "]:1234"
		}

		assert.True(t, s.Contains(RemoteAddr(r)), a)
	}

	assert.False(t, s.Contains(RemoteAddr(&http.Request{RemoteAddr: "192.168.1.2:1234"})))

	_, err = ParseIPSet([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestIngressHandler(t *testing.T) {
	trusted, err := ParseIPSet([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	for _, tt := range []struct {
		msg        string
		options    IngressOptions
		remoteAddr string
		host       string
		header     http.Header
		wantHost   string
		wantFor    string
		wantProto  string
	}{{
		msg:        "untouched",
		remoteAddr: "192.0.2.1:1234",
		host:       "WWW.Example.org:8080",
		header:     http.Header{"X-Forwarded-Proto": {"https"}},
		wantHost:   "WWW.Example.org:8080",
		wantProto:  "https",
	}, {
		msg:        "normalize host",
		options:    IngressOptions{NormalizeHost: true},
		remoteAddr: "192.0.2.1:1234",
		host:       "WWW.Example.org.:8080",
		wantHost:   "www.example.org",
	}, {
		msg:        "forwarded for appended",
		options:    IngressOptions{ForwardedFor: true},
		remoteAddr: "192.0.2.1:1234",
		host:       "www.example.org",
		header:     http.Header{"X-Forwarded-For": {"203.0.113.7"}},
		wantHost:   "www.example.org",
		wantFor:    "203.0.113.7, 192.0.2.1",
	}, {
		msg:        "forwarded proto overridden",
		options:    IngressOptions{ForwardedProto: "https"},
		remoteAddr: "192.0.2.1:1234",
		host:       "www.example.org",
		header:     http.Header{"X-Forwarded-Proto": {"http"}},
		wantHost:   "www.example.org",
		wantProto:  "https",
	}, {
		msg:        "headers of untrusted clients dropped",
		options:    IngressOptions{ForwardedFor: true, TrustedProxies: trusted},
		remoteAddr: "192.0.2.1:1234",
		host:       "www.example.org",
		header:     http.Header{"X-Forwarded-For": {"203.0.113.7"}, "X-Forwarded-Proto": {"https"}},
		wantHost:   "www.example.org",
		wantFor:    "192.0.2.1",
	}, {
		msg:        "headers of trusted proxies kept",
		options:    IngressOptions{ForwardedFor: true, TrustedProxies: trusted},
		remoteAddr: "10.2.3.4:1234",
		host:       "www.example.org",
		header:     http.Header{"X-Forwarded-For": {"203.0.113.7"}, "X-Forwarded-Proto": {"https"}},
		wantHost:   "www.example.org",
		wantFor:    "203.0.113.7, 10.2.3.4",
		wantProto:  "https",
	}} {
		t.Run(tt.msg, func(t *testing.T) {
			var got *http.Request
			h := NewIngressHandler(tt.options, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = r
			}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			r.Host = tt.host
			for k, v := range tt.header {
				r.Header[k] = v
			}

			h.ServeHTTP(httptest.NewRecorder(), r)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantHost, got.Host)
			assert.Equal(t, tt.wantFor, got.Header.Get("X-Forwarded-For"))
			assert.Equal(t, tt.wantProto, got.Header.Get("X-Forwarded-Proto"))
		})
	}
}
