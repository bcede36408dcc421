package otel

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// XRayALBPropagator is the OTEL_PROPAGATORS name of the X-Ray
// propagator accepting the trace header of the AWS application load
// balancer.
const XRayALBPropagator = "xray-alb"

const xrayHeader = "X-Amzn-Trace-Id"

var errXRayRoot = errors.New("invalid X-Ray root")

// albPropagator is the X-Ray propagator continuing the traces started
// by the load balancer. The load balancer sends only the Root field,
// the standard propagator requires the Parent field, too.
type albPropagator struct {
	xray.Propagator
	ids *xray.IDGenerator
}

func newALBPropagator() *albPropagator {
	return &albPropagator{ids: xray.NewIDGenerator()}
}

func (p *albPropagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	extracted := p.Propagator.Extract(ctx, carrier)
	if extracted != ctx {
		return extracted
	}

	id, err := xrayRoot(carrier.Get(xrayHeader))
	if err != nil {
		return ctx
	}

	return trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: id,
		SpanID:  p.ids.NewSpanID(ctx, id),
	}))
}

// xrayRoot parses the trace id of the Root field, e.g.
// Root=1-5759e988-bd862e3fe1be46a994272793.
func xrayRoot(header string) (trace.TraceID, error) {
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k != "Root" {
			continue
		}

		version, rest, ok := strings.Cut(v, "-")
		if !ok || version != "1" {
			return trace.TraceID{}, errXRayRoot
		}

		epoch, unique, ok := strings.Cut(rest, "-")
		if !ok || len(epoch) != 8 || len(unique) != 24 {
			return trace.TraceID{}, errXRayRoot
		}

		id, err := trace.TraceIDFromHex(epoch + unique)
		if err != nil {
			return trace.TraceID{}, errors.Join(errXRayRoot, err)
		}

		return id, nil
	}

	return trace.TraceID{}, errXRayRoot
}
