// Package otel sets up the [OpenTelemetry] trace pipeline of the edge
// router: the pipeline phases, the renderer calls and the revalidation
// jobs are recorded as spans.
//
// [OpenTelemetry]: https://opentelemetry.io/
package otel

import (
	"context"
	"errors"
	"os"
	"sync"

	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/bombsimon/logrusr/v4"
	"github.com/sirupsen/logrus"
)

// DebugExporter is the OTEL_TRACES_EXPORTER value that writes the spans
// to the debug log.
const DebugExporter = "edgerender-debug"

var log = logrus.WithField("package", "otel")

// Options of the trace pipeline.
type Options struct {
	// Initialized tells that the pipeline was set up by the embedding
	// program. Init does nothing then.
	Initialized bool `yaml:"-"`

	// ServiceName is recorded as the service.name resource attribute,
	// unless OTEL_RESOURCE_ATTRIBUTES sets it.
	ServiceName string `yaml:"serviceName"`

	// SampleRatio of the root spans. Zero samples every trace.
	SampleRatio float64 `yaml:"sampleRatio"`
}

var registerOnce sync.Once

func register() {
	autoexport.RegisterSpanExporter(DebugExporter, func(context.Context) (trace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(writerFunc(func(p []byte) (int, error) {
			log.Debugf("span: %s", p)
			return len(p), nil
		})))
	})

	autoprop.RegisterTextMapPropagator(XRayALBPropagator, newALBPropagator())
}

// Init sets up the global tracer provider and text map propagator from
// the OTEL_* environment variables. When err is nil, shutdown flushes
// and stops the pipeline.
//
// See:
//   - [go.opentelemetry.io/contrib/exporters/autoexport]
//   - [go.opentelemetry.io/contrib/propagators/autoprop]
//   - https://opentelemetry.io/docs/specs/otel/configuration/sdk-environment-variables/
func Init(ctx context.Context, o *Options) (shutdown func(context.Context) error, err error) {
	if o.Initialized {
		log.Debug("OpenTelemetry pipeline initialized externally")
		return func(context.Context) error { return nil }, nil
	}

	for _, name := range []string{
		"OTEL_TRACES_EXPORTER",
		"OTEL_EXPORTER_OTLP_PROTOCOL",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_RESOURCE_ATTRIBUTES",
		"OTEL_PROPAGATORS",
	} {
		log.Debugf("%s: %s", name, os.Getenv(name))
	}

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}

		shutdownFuncs = nil
		return err
	}

	registerOnce.Do(register)

	spanExporter, err := autoexport.NewSpanExporter(ctx)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}

	res := resource.Environment()
	if o.ServiceName != "" {
		res, err = resource.Merge(
			resource.NewSchemaless(attribute.String("service.name", o.ServiceName)),
			res,
		)

		if err != nil {
			return nil, errors.Join(err, spanExporter.Shutdown(ctx))
		}
	}

	sampler := trace.ParentBased(trace.AlwaysSample())
	if o.SampleRatio > 0 && o.SampleRatio < 1 {
		sampler = trace.ParentBased(trace.TraceIDRatioBased(o.SampleRatio))
	}

	tracerProvider := trace.NewTracerProvider(
		trace.WithBatcher(spanExporter),
		trace.WithResource(res),
		trace.WithSampler(sampler),
	)

	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator())
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) { log.Error(err) }))
	otel.SetLogger(logrusr.New(log))

	return shutdown, nil
}

type writerFunc func([]byte) (int, error)

func (wf writerFunc) Write(p []byte) (n int, err error) {
	return wf(p)
}
