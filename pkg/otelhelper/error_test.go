package otelhelper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, failed := StartSpan(t.Context(), tracer, "scheduler.SubmitWorkflow",
		attribute.String(WorkflowIDKey, "wf-1"))
	SetError(failed, errors.New("queue unavailable"), attribute.Int(StepOrderKey, 2))
	failed.End()

	_, ok := StartSpan(t.Context(), tracer, "scheduler.CancelWorkflow")
	SetError(ok, nil)
	ok.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "queue unavailable", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Contains(t, spans[0].Events()[0].Attributes, attribute.Int(StepOrderKey, 2))

	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Empty(t, spans[1].Events())
}
