package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	options "github.com/kart-io/sentinel-rag/pkg/options/tracing"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *options.Options)
		wantErr int
	}{
		{name: "disabled skips validation", mutate: func(o *options.Options) { o.ExporterType = "bogus" }},
		{name: "enabled defaults", mutate: func(o *options.Options) { o.Enabled = true }},
		{name: "missing endpoint", mutate: func(o *options.Options) {
			o.Enabled = true
			o.Endpoint = ""
		}, wantErr: 1},
		{name: "bad sampler and ratio", mutate: func(o *options.Options) {
			o.Enabled = true
			o.SamplerType = "sometimes"
			o.SamplerRatio = 2
		}, wantErr: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := options.NewOptions()
			tt.mutate(o)
			assert.Len(t, o.Validate(), tt.wantErr)
		})
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), nil)
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_NoopExporter(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = options.ExporterNoop
	opts.SamplerType = options.SamplerAlwaysOn

	p, err := NewProvider(context.Background(), opts)
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx, span := p.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), TraceID(ctx))
}

func TestNewProvider_InvalidOptions(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = "kafka"

	_, err := NewProvider(context.Background(), opts)
	assert.ErrorContains(t, err, "exporter-type")
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(ctx, nil)
	RecordError(ctx, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Len(t, spans[0].Events(), 1)
	assert.Empty(t, TraceID(context.Background()))
}
