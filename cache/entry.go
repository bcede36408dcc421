package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind of the cached artifact.
type Kind string

const (
	// Page artifacts have a document and a data representation.
	KindPage Kind = "page"

	// Route artifacts are responses of programmatic routes.
	KindRoute Kind = "route"
)

// Revalidate is the revalidation window of an artifact. In JSON it is
// either a number of seconds or false, for artifacts that never expire.
type Revalidate struct {
	Seconds int
	Never   bool
}

// After returns a window of s seconds.
func After(s int) Revalidate { return Revalidate{Seconds: s} }

// Never is the window of artifacts that never expire.
var Never = Revalidate{Never: true}

func (r Revalidate) String() string {
	if r.Never {
		return "false"
	}

	return strconv.Itoa(r.Seconds)
}

func (r Revalidate) MarshalJSON() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Revalidate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "false":
		*r = Never
		return nil
	case "true", "null":
		return fmt.Errorf("invalid revalidate value: %s", b)
	}

	var s int
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid revalidate value: %w", err)
	}

	if s < 0 {
		return fmt.Errorf("invalid revalidate value: %d", s)
	}

	*r = After(s)
	return nil
}

// Meta of the rendered response.
type Meta struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Entry is a cached artifact. Entries are replaced as a whole when
// re-rendered.
type Entry struct {
	Kind Kind `json:"kind"`

	// Document is the full HTML of a page.
	Document []byte `json:"document,omitempty"`

	// Data is the payload of a page requested by client side
	// navigation.
	Data []byte `json:"data,omitempty"`

	// Body of a route response.
	Body []byte `json:"body,omitempty"`

	Meta Meta `json:"meta"`

	// LastModified is the render time in unix milliseconds.
	LastModified int64 `json:"lastModified"`

	Revalidate Revalidate `json:"revalidate"`

	Tags []string `json:"tags,omitempty"`
}

// Encode returns the JSON representation used by the external stores.
func (e *Entry) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an entry stored by Encode.
func Decode(b []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("invalid cache entry: %w", err)
	}

	if e.Kind == "" {
		e.Kind = KindPage
	}

	return &e, nil
}
