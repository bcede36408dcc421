package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/edgerender/event"
)

const maxRemoteBody = 1 << 20

// Doer executes outgoing requests, implemented by net.Transport.
type Doer interface {
	Do(*http.Request, string) (*http.Response, error)
}

// Remote is an interceptor implemented by an HTTP endpoint. The request
// is forwarded with its method, path, query and headers, without body.
// The endpoint answers with the reserved headers, a redirect or a
// response.
type Remote struct {
	// URL of the endpoint. The path of the request is appended to its
	// path.
	URL string

	Client Doer
}

func (r *Remote) Handle(ctx context.Context, e *event.Event) (*event.Result, error) {
	req, err := http.NewRequestWithContext(ctx, e.Method, r.URL+e.RequestURI(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	req.Header = e.Header.HTTP()
	req.Header.Del("Content-Length")
	req.Header.Set("X-Forwarded-Host", e.Host())
	req.Header.Set("X-Forwarded-Proto", e.Scheme())
	req.Host = e.Host()

	rsp, err := r.Client.Do(req, "middleware")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	defer rsp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(rsp.Body, maxRemoteBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}

	log.Debugf("middleware %s %s: %d", e.Method, e.RawPath, rsp.StatusCode)
	return event.NewResult(rsp.StatusCode, event.FromHTTP(rsp.Header), body), nil
}
