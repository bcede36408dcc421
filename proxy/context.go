package proxy

import (
	stdlibcontext "context"
	"time"

	"github.com/zalando/edgerender/event"
	"github.com/zalando/edgerender/manifest"
)

// context is the state of a single request in the pipeline.
type context struct {
	ctx    stdlibcontext.Context
	routes *manifest.Routes

	// event is rewritten by the phases, original is the event as
	// received.
	event    *event.Event
	original *event.Event

	static bool
	asset  bool

	startServe time.Time
}

func newContext(ctx stdlibcontext.Context, routes *manifest.Routes, e *event.Event, requestID string) *context {
	c := &context{
		ctx:        ctx,
		routes:     routes,
		original:   e.Clone(),
		event:      e,
		startServe: time.Now(),
	}

	c.event.Meta.RequestID = requestID
	c.event.Meta.InitialURL = e.Origin() + e.RequestURI()
	return c
}

func (c *context) basePath() string {
	return c.routes.Manifest.BasePath
}

// resolved tells whether the classification found any route.
func (c *context) resolved() bool {
	return c.asset || len(c.event.Meta.ResolvedRoutes) > 0
}
