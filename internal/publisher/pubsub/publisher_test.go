package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type summary struct{ Key string }

func (s summary) Attributes() map[string]string { return map[string]string{"content_key": s.Key} }

func TestPublishRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", summary{})
	require.Error(t, err)
	require.NoError(t, New(nil).Close())
}

func TestDialValidatesArgs(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "", "resolutions")
	require.Error(t, err)
}

// Not parallel: swaps the global propagator.
func TestMessageAttributesCarryTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	attrs := messageAttributes(ctx, summary{Key: "movie:tt1"})
	require.Equal(t, "movie:tt1", attrs["content_key"])
	require.NotEmpty(t, attrs["traceparent"])

	plain := messageAttributes(context.Background(), "no attrs")
	require.NotContains(t, plain, "content_key")
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()

	c := carrier{"a": "1"}
	c.Set("b", "2")
	require.Equal(t, "2", c.Get("b"))
	require.ElementsMatch(t, []string{"a", "b"}, c.Keys())
}
