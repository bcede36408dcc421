package event

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
)

// Result is the terminal output of the pipeline.
type Result struct {
	StatusCode int
	Header     Header

	// Body is evaluated lazily, only when the response is written.
	Body func() (io.ReadCloser, error)

	// IsBase64Encoded tells that the bytes returned by Body are base64
	// encoded and need decoding before sent to the client.
	IsBase64Encoded bool
}

// NewResult creates a result with an in-memory body.
func NewResult(code int, h Header, body []byte) *Result {
	if h == nil {
		h = make(Header)
	}

	return &Result{
		StatusCode: code,
		Header:     h,
		Body:       BytesBody(body),
	}
}

// BytesBody returns a lazy body over b.
func BytesBody(b []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

// Redirect creates a redirect result to location.
func Redirect(code int, location string) *Result {
	h := make(Header)
	h.Set("location", location)
	if code == http.StatusPermanentRedirect {
		// clients not supporting 308 fall back to the refresh header
		h.Set("refresh", "0;url="+location)
	}

	return NewResult(code, h, nil)
}

// Reader opens the body, decoding base64 when needed.
func (r *Result) Reader() (io.ReadCloser, error) {
	if r.Body == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}

	rc, err := r.Body()
	if err != nil {
		return nil, err
	}

	if !r.IsBase64Encoded {
		return rc, nil
	}

	return struct {
		io.Reader
		io.Closer
	}{base64.NewDecoder(base64.StdEncoding, rc), rc}, nil
}

// IsRedirect tells whether the result redirects the client.
func (r *Result) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Header.Get("location") != ""
}
