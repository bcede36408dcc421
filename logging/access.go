package logging

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const accessDateFormat = "02/Jan/2006:15:04:05 -0700"

// AccessEntry describes a served request.
type AccessEntry struct {
	Request      *http.Request
	StatusCode   int
	ResponseSize int64
	Duration     time.Duration
	RequestTime  time.Time

	// CacheStatus is the classification of the incremental cache, when
	// it was consulted.
	CacheStatus string

	// RequestID is the correlation id the response carries.
	RequestID string
}

var accessLog *logrus.Logger

// accessFields in the order of the text format.
var accessFields = []string{
	"client", "timestamp", "request", "status", "response-size",
	"duration-ms", "requested-host", "cache-status", "request-id", "user-agent",
}

// accessFormatter prints one line per request:
//
//	client [timestamp] "request" status size duration-ms host cache-status request-id "user-agent"
type accessFormatter struct{}

func (accessFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	for i, key := range accessFields {
		if i > 0 {
			b.WriteByte(' ')
		}

		v, _ := e.Data[key].(string)
		switch key {
		case "timestamp":
			b.WriteString("[" + v + "]")
		case "request", "user-agent":
			b.WriteString(strconv.Quote(v))
		default:
			b.WriteString(v)
		}
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

// clientHost is the first address of X-Forwarded-For, or the address of
// the connection.
func clientHost(r *http.Request) string {
	a := r.RemoteAddr
	if ff := r.Header.Get("X-Forwarded-For"); ff != "" {
		a, _, _ = strings.Cut(ff, ",")
		a = strings.TrimSpace(a)
	}

	if h, _, err := net.SplitHostPort(a); err == nil {
		a = h
	}

	return dash(a)
}

func accessEntryFields(entry *AccessEntry) logrus.Fields {
	f := logrus.Fields{
		"client":         "-",
		"timestamp":      entry.RequestTime.Format(accessDateFormat),
		"request":        "",
		"status":         strconv.Itoa(entry.StatusCode),
		"response-size":  strconv.FormatInt(entry.ResponseSize, 10),
		"duration-ms":    strconv.FormatInt(entry.Duration.Milliseconds(), 10),
		"requested-host": "-",
		"cache-status":   dash(entry.CacheStatus),
		"request-id":     dash(entry.RequestID),
		"user-agent":     "",
	}

	if r := entry.Request; r != nil {
		f["client"] = clientHost(r)
		f["request"] = r.Method + " " + r.RequestURI + " " + r.Proto
		f["requested-host"] = dash(r.Host)
		f["user-agent"] = r.UserAgent()
	}

	return f
}

// LogAccess writes an entry to the access log, unless the access log is
// disabled.
func LogAccess(entry *AccessEntry) {
	if accessLog == nil || entry == nil {
		return
	}

	accessLog.WithFields(accessEntryFields(entry)).Info()
}
