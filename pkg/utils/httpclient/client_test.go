package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"echo":"pong"}`))
	}))
	defer server.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	err := NewClient(time.Second).PostJSON(context.Background(), server.URL, map[string]string{"msg": "ping"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "pong", out.Echo)
}

func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	err := NewClient(time.Second).GetJSON(context.Background(), server.URL, nil)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode())
	assert.Equal(t, "model not found", se.Body)
}

func TestDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	var out map[string]any
	err := NewClient(time.Second).GetJSON(context.Background(), server.URL, &out)
	assert.ErrorContains(t, err, "decode response")
}

func TestTraceContextPropagation(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("traceparent")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	// 1. 带 Span 的请求携带 traceparent
	ctx, span := tp.Tracer("test").Start(context.Background(), "outbound")
	require.NoError(t, NewClient(time.Second).GetJSON(ctx, server.URL, nil))
	span.End()
	assert.Contains(t, got, span.SpanContext().TraceID().String())

	// 2. 没有 Span 时不注入
	got = ""
	require.NoError(t, NewClient(time.Second).GetJSON(context.Background(), server.URL, nil))
	assert.Empty(t, got)
}

func TestCanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewClient(0).GetJSON(ctx, server.URL, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
