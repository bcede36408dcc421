package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestXRayRoot(t *testing.T) {
	for _, tt := range []struct {
		name   string
		header string
		want   string
	}{
		{"root only", "Root=1-5759e988-bd862e3fe1be46a994272793", "5759e988bd862e3fe1be46a994272793"},
		{"with self", "Self=1-67891234-12456789abcdef012345678;Root=1-5759e988-bd862e3fe1be46a994272793", "5759e988bd862e3fe1be46a994272793"},
		{"empty", "", ""},
		{"no root", "Self=1-67891234-12456789abcdef012345678", ""},
		{"wrong version", "Root=2-5759e988-bd862e3fe1be46a994272793", ""},
		{"short", "Root=1-5759e988-bd862e3f", ""},
		{"not hex", "Root=1-5759e98x-bd862e3fe1be46a994272793", ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			id, err := xrayRoot(tt.header)
			if tt.want == "" {
				assert.ErrorIs(t, err, errXRayRoot)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, id.String())
		})
	}
}

func TestALBPropagatorExtract(t *testing.T) {
	p := newALBPropagator()

	t.Run("load balancer header", func(t *testing.T) {
		carrier := propagation.MapCarrier{xrayHeader: "Root=1-5759e988-bd862e3fe1be46a994272793"}
		sc := trace.SpanContextFromContext(p.Extract(context.Background(), carrier))

		assert.True(t, sc.IsValid())
		assert.True(t, sc.IsRemote())
		assert.Equal(t, "5759e988bd862e3fe1be46a994272793", sc.TraceID().String())
	})

	t.Run("full header", func(t *testing.T) {
		carrier := propagation.MapCarrier{xrayHeader: "Root=1-5759e988-bd862e3fe1be46a994272793;Parent=53995c3f42cd8ad8;Sampled=1"}
		sc := trace.SpanContextFromContext(p.Extract(context.Background(), carrier))

		assert.Equal(t, "53995c3f42cd8ad8", sc.SpanID().String())
		assert.True(t, sc.IsSampled())
	})

	t.Run("missing header", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, p.Extract(ctx, propagation.MapCarrier{}))
	})
}
