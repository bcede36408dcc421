package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zalando/edgerender/circuit"
	"github.com/zalando/edgerender/event"
	"github.com/zalando/edgerender/logging"
	"github.com/zalando/edgerender/metrics"
	"github.com/zalando/edgerender/queue"
	"github.com/zalando/edgerender/tags"
)

const (
	StatusHeader = "x-cache-status"

	// ActionHeader marks server action requests.
	ActionHeader = "next-action"

	// RevalidateHeader carries the on-demand revalidation credential.
	RevalidateHeader = "x-prerender-revalidate"

	BypassCookie  = "__prerender_bypass"
	PreviewCookie = "__next_preview_data"

	// DataHeader set to 1 requests the data representation of a page.
	DataHeader = "rsc"

	Vary = "RSC, Next-Router-State-Tree, Next-Router-Prefetch"

	DocumentContentType = "text/html; charset=utf-8"
	DataContentType     = "text/x-component"

	// Breaker names of the stores.
	CacheBreaker = "cache"
	TagsBreaker  = "tags"
)

// Enqueuer accepts revalidation jobs.
type Enqueuer interface {
	Enqueue(context.Context, queue.Job) error
}

// Options of the interceptor.
type Options struct {
	Store Store

	// Tags is optional. Without it, tags never invalidate.
	Tags tags.Store

	// Queue receives the revalidation jobs of stale artifacts. Optional.
	Queue Enqueuer

	// Defer runs work after the response. When nil, the work runs before
	// Intercept returns.
	Defer func(func(context.Context))

	Prerender Prerender
	BasePath  string
	Locales   []string

	// Breakers guard the stores, optional.
	Breakers *circuit.Registry

	Metrics metrics.Metrics

	// Log receives the fail open events. Defaults to a rate limited
	// application log.
	Log logging.Logger

	// Now is used for computing the age of the artifacts.
	Now func() time.Time
}

// Interceptor serves the pre-rendered artifacts.
type Interceptor struct {
	options   Options
	prerender *prerenderable
	metrics   metrics.Metrics
	log       logging.Logger
	now       func() time.Time
}

// New creates an interceptor. It returns nil without error when no store
// is configured.
func New(o Options) (*Interceptor, error) {
	if o.Store == nil {
		return nil, nil
	}

	pr, err := compilePrerender(o.Prerender)
	if err != nil {
		return nil, err
	}

	i := &Interceptor{options: o, prerender: pr, metrics: o.Metrics, log: o.Log, now: o.Now}
	if i.metrics == nil {
		i.metrics = metrics.Default
	}

	if i.log == nil {
		i.log = logging.NewRateLimited(logging.New(map[string]any{"component": "cache"}), 10, time.Minute)
	}

	if i.now == nil {
		i.now = time.Now
	}

	return i, nil
}

// Bypass tells whether the request must not be served from the cache:
// server actions, on-demand revalidation and preview requests.
func Bypass(e *event.Event) bool {
	if e.Method != http.MethodGet && e.Method != http.MethodHead {
		return true
	}

	if e.Header.Has(ActionHeader) || e.Header.Has(RevalidateHeader) {
		return true
	}

	_, bypass := e.Cookies[BypassCookie]
	_, preview := e.Cookies[PreviewCookie]
	return bypass || preview
}

// IsData tells whether the data representation of a page is requested.
func IsData(e *event.Event) bool {
	return e.Header.Get(DataHeader) == "1"
}

// Prerenderable returns the store key of the event path, when the path
// is pre-renderable. The escaped form of the path is normalized, so
// that encoded delimiters stay within their segment.
func (i *Interceptor) Prerenderable(e *event.Event) (string, bool) {
	p := e.RawPath
	if e.URL != nil {
		p = e.URL.EscapedPath()
	}

	locale, path := Normalize(p, i.options.BasePath, i.options.Locales)
	if !i.prerender.match(path) {
		return "", false
	}

	return Key(locale, path), true
}

func (i *Interceptor) get(ctx context.Context, key string) (*Entry, error) {
	var entry *Entry
	err := i.options.Breakers.Get(CacheBreaker).Do(func() error {
		var err error
		entry, err = i.options.Store.Get(ctx, key)
		return err
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	return entry, nil
}

func (i *Interceptor) invalidated(ctx context.Context, entry *Entry) bool {
	if i.options.Tags == nil || len(entry.Tags) == 0 {
		return false
	}

	var revalidated bool
	err := i.options.Breakers.Get(TagsBreaker).Do(func() error {
		var err error
		revalidated, err = i.options.Tags.IsAnyTagRevalidatedAfter(ctx, entry.Tags, entry.LastModified)
		return err
	})

	if err != nil {
		i.metrics.IncStoreFailure(TagsBreaker)
		i.log.Warnf("%v: %v", tags.ErrStoreFailure, err)
		return false
	}

	return revalidated
}

func (i *Interceptor) pass(ctx context.Context, e *event.Event, s Status) *event.Result {
	e.Meta.CacheStatus = string(s)
	i.metrics.IncCacheStatus(string(s))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("cache.status", string(s)))
	return nil
}

// Intercept serves the event from the cache. It returns nil when the
// event needs rendering. Store failures are logged and treated as a
// miss.
func (i *Interceptor) Intercept(ctx context.Context, e *event.Event) *event.Result {
	if Bypass(e) {
		return nil
	}

	key, ok := i.Prerenderable(e)
	if !ok {
		return nil
	}

	entry, err := i.get(ctx, key)
	if err != nil {
		i.metrics.IncStoreFailure(CacheBreaker)
		if !errors.Is(err, circuit.ErrOpen) {
			i.log.Warnf("lookup of %s failed: %v", key, err)
		}

		return i.pass(ctx, e, StatusMiss)
	}

	if entry == nil || i.invalidated(ctx, entry) {
		return i.pass(ctx, e, StatusMiss)
	}

	body, contentType, ok := representation(entry, IsData(e))
	if !ok {
		return i.pass(ctx, e, StatusMiss)
	}

	f := Policy(entry.Revalidate, Age(entry.LastModified, i.now()))
	etag := ETag(body)

	h := make(event.Header, len(entry.Meta.Headers)+5)
	for k, v := range entry.Meta.Headers {
		h.Set(k, v)
	}

	if contentType != "" && !h.Has("content-type") {
		h.Set("content-type", contentType)
	}

	h.Set("cache-control", f.CacheControl)
	h.Set("etag", etag)
	h.Set("vary", Vary)
	h.Set(StatusHeader, string(f.Status))

	if f.Status == StatusStale {
		i.revalidate(ctx, queue.NewJob(key, e.Host(), etag, entry.LastModified))
	}

	e.Meta.CacheStatus = string(f.Status)
	i.metrics.IncCacheStatus(string(f.Status))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("cache.status", string(f.Status)),
		attribute.String("cache.key", key),
	)

	if matchETag(e.Header.Get("if-none-match"), etag) {
		h.Del("content-type")
		return event.NewResult(http.StatusNotModified, h, nil)
	}

	status := entry.Meta.Status
	if status == 0 {
		status = http.StatusOK
	}

	return event.NewResult(status, h, body)
}

func (i *Interceptor) revalidate(ctx context.Context, j queue.Job) {
	if i.options.Queue == nil {
		return
	}

	enqueue := func(ctx context.Context) {
		if err := i.options.Queue.Enqueue(ctx, j); err != nil {
			i.metrics.IncRevalidation("enqueue_failed")
			i.log.Warnf("failed to enqueue revalidation of %s: %v", j.Path, err)
			return
		}

		i.metrics.IncRevalidation("enqueued")
	}

	if i.options.Defer == nil {
		enqueue(ctx)
		return
	}

	i.options.Defer(enqueue)
}

func representation(e *Entry, data bool) ([]byte, string, bool) {
	switch {
	case e.Kind == KindRoute:
		return e.Body, "", true
	case data:
		return e.Data, DataContentType, e.Data != nil
	default:
		return e.Document, DocumentContentType, e.Document != nil
	}
}

// ETag returns the strong entity tag of a body.
func ETag(body []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(body), 36) + `"`
}

func matchETag(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}

	for _, t := range strings.Split(ifNoneMatch, ",") {
		t = strings.TrimSpace(t)
		if t == "*" || strings.TrimPrefix(t, "W/") == etag {
			return true
		}
	}

	return false
}
