package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RevalidateHeader carries the credential of the on-demand revalidation.
const RevalidateHeader = "x-prerender-revalidate"

// Doer executes outgoing requests, implemented by net.Transport.
type Doer interface {
	Do(*http.Request, string) (*http.Response, error)
}

// HTTPRevalidator consumes the jobs by asking the renderer to render the
// path again, with a HEAD request carrying the revalidation credential.
type HTTPRevalidator struct {
	// URL of the renderer.
	URL string

	// BasePath is prepended to the job paths.
	BasePath string

	// Secret is sent as the revalidation credential.
	Secret string

	Client Doer

	// Timeout of a single attempt. Default: 30 seconds.
	Timeout time.Duration

	// MaxTries of a job. Default: 5.
	MaxTries uint
}

var errRetry = errors.New("revalidation not accepted")

func (r *HTTPRevalidator) path(j Job) string {
	p := j.Path
	if p == "/index" {
		p = "/"
	}

	if r.BasePath != "" {
		p = strings.TrimSuffix(r.BasePath+p, "/")
		if p == "" {
			p = "/"
		}
	}

	return p
}

func (r *HTTPRevalidator) attempt(ctx context.Context, j Job) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.URL+r.path(j), nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	req.Host = j.Host
	req.Header.Set(RevalidateHeader, r.Secret)

	rsp, err := r.Client.Do(req, "revalidate")
	if err != nil {
		return err
	}

	_, _ = io.Copy(io.Discard, rsp.Body)
	rsp.Body.Close()

	switch {
	case rsp.StatusCode >= http.StatusInternalServerError, rsp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", errRetry, rsp.Status)
	case rsp.StatusCode >= http.StatusBadRequest:
		return backoff.Permanent(fmt.Errorf("%w: %s", errRetry, rsp.Status))
	}

	return nil
}

// Revalidate retries the failed attempts with exponential backoff.
func (r *HTTPRevalidator) Revalidate(ctx context.Context, j Job) error {
	tries := r.MaxTries
	if tries == 0 {
		tries = 5
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, r.attempt(ctx, j)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(tries))
	return err
}
