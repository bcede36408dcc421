package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccessEntry() *AccessEntry {
	r, _ := http.NewRequest("GET", "http://example.org/blog/first", nil)
	r.RequestURI = "/blog/first?page=2"
	r.RemoteAddr = "127.0.0.1:52000"
	r.Header.Set("User-Agent", "curl/8.5.0")

	return &AccessEntry{
		Request:      r,
		ResponseSize: 2326,
		StatusCode:   http.StatusOK,
		RequestTime:  time.Date(2000, 10, 10, 13, 55, 36, 0, time.FixedZone("test", -7*3600)),
		Duration:     42 * time.Millisecond,
		CacheStatus:  "STALE",
		RequestID:    "5f0c",
	}
}

func logAccess(t *testing.T, o Options, entry *AccessEntry) string {
	t.Helper()

	var buf bytes.Buffer
	o.AccessLogOutput = &buf
	Init(o)
	LogAccess(entry)
	return strings.TrimSuffix(buf.String(), "\n")
}

func TestAccessLogFormat(t *testing.T) {
	for _, tt := range []struct {
		name   string
		modify func(*AccessEntry)
		want   string
	}{{
		name: "full",
		want: `127.0.0.1 [10/Oct/2000:13:55:36 -0700] "GET /blog/first?page=2 HTTP/1.1" 200 2326 42 example.org STALE 5f0c "curl/8.5.0"`,
	}, {
		name:   "no cache status",
		modify: func(e *AccessEntry) { e.CacheStatus, e.RequestID = "", "" },
		want:   `127.0.0.1 [10/Oct/2000:13:55:36 -0700] "GET /blog/first?page=2 HTTP/1.1" 200 2326 42 example.org - - "curl/8.5.0"`,
	}, {
		name:   "missing request",
		modify: func(e *AccessEntry) { e.Request = nil },
		want:   `- [10/Oct/2000:13:55:36 -0700] "" 200 2326 42 - STALE 5f0c ""`,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			e := testAccessEntry()
			if tt.modify != nil {
				tt.modify(e)
			}

			assert.Equal(t, tt.want, logAccess(t, Options{}, e))
		})
	}
}

func TestAccessLogIgnoresEmptyEntry(t *testing.T) {
	assert.Empty(t, logAccess(t, Options{}, nil))
}

func TestClientHost(t *testing.T) {
	for _, tt := range []struct {
		name      string
		forwarded string
		remote    string
		want      string
	}{
		{"x-forwarded-for", "192.168.3.3", "127.0.0.1", "192.168.3.3"},
		{"x-forwarded-for list", "192.168.3.3, 10.0.0.1", "127.0.0.1", "192.168.3.3"},
		{"x-forwarded-for with port", "192.168.3.3:6969", "127.0.0.1", "192.168.3.3"},
		{"remote with port", "", "192.168.3.3:6969", "192.168.3.3"},
		{"ipv6", "", "[::1]:6969", "::1"},
		{"missing", "", "", "-"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest("GET", "http://example.org", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			assert.Equal(t, tt.want, clientHost(r))
		})
	}
}

func TestAccessLogJSON(t *testing.T) {
	out := logAccess(t, Options{AccessLogJSONEnabled: true}, testAccessEntry())

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, "STALE", entry["cache-status"])
	assert.Equal(t, "5f0c", entry["request-id"])
	assert.Equal(t, "200", entry["status"])
	assert.Equal(t, "GET /blog/first?page=2 HTTP/1.1", entry["request"])
}

func TestAccessLogDisabled(t *testing.T) {
	assert.Empty(t, logAccess(t, Options{AccessLogDisabled: true}, testAccessEntry()))
}
