// Package telemetry records OpenTelemetry spans and metrics for client calls.
package telemetry

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/mcp-client-go/internal/errors"
)

const instrumentationName = "github.com/wagiedev/mcp-client-go"

// Instrument and attribute names.
const (
	MetricRequests        = "mcp.client.requests"
	MetricRequestDuration = "mcp.client.request.duration"
	MetricErrors          = "mcp.client.errors"
	MetricNotifications   = "mcp.client.notifications"

	AttrRPCSystem = "rpc.system"
	AttrRPCMethod = "rpc.method"
	AttrRequestID = "mcp.request_id"
	AttrErrorCode = "mcp.error_code"
)

// Recorder creates call spans and updates the client metrics.
// The zero value is not usable; construct one with New.
type Recorder struct {
	tracer trace.Tracer

	requests      metric.Int64Counter
	duration      metric.Float64Histogram
	errorCount    metric.Int64Counter
	notifications metric.Int64Counter
}

// New builds a Recorder. Nil providers fall back to the global ones, which
// are no-ops unless the host application installs an SDK.
func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Recorder, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	meter := mp.Meter(instrumentationName)

	requests, err := meter.Int64Counter(
		MetricRequests,
		metric.WithDescription("Total number of MCP client requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		MetricRequestDuration,
		metric.WithDescription("Duration of MCP client requests"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		MetricErrors,
		metric.WithDescription("Total number of failed MCP client requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter(
		MetricNotifications,
		metric.WithDescription("Total number of notifications received from the peer"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		tracer:        tp.Tracer(instrumentationName),
		requests:      requests,
		duration:      duration,
		errorCount:    errorCount,
		notifications: notifications,
	}, nil
}

// Nop returns a Recorder backed by the global providers, ignoring errors.
func Nop() *Recorder {
	r, err := New(nil, nil)
	if err != nil {
		panic(err)
	}

	return r
}

// Call tracks one outstanding request.
type Call struct {
	rec   *Recorder
	ctx   context.Context
	span  trace.Span
	attrs []attribute.KeyValue
	start time.Time
}

// StartCall opens a client span for method and counts the request.
func (r *Recorder) StartCall(ctx context.Context, method, requestID string) (context.Context, *Call) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRPCSystem, "jsonrpc"),
		attribute.String(AttrRPCMethod, method),
	}

	ctx, span := r.tracer.Start(ctx, "mcp.client "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
		trace.WithAttributes(attribute.String(AttrRequestID, requestID)),
	)

	r.requests.Add(ctx, 1, metric.WithAttributes(attrs...))

	return ctx, &Call{rec: r, ctx: ctx, span: span, attrs: attrs, start: time.Now()}
}

// End records the duration and outcome and ends the span.
func (c *Call) End(err error) {
	defer c.span.End()

	elapsed := float64(time.Since(c.start).Microseconds()) / 1000
	c.rec.duration.Record(c.ctx, elapsed, metric.WithAttributes(c.attrs...))

	if err == nil {
		c.span.SetStatus(codes.Ok, "")

		return
	}

	c.span.RecordError(err)
	c.span.SetStatus(codes.Error, err.Error())

	attrs := c.attrs

	if rpcErr, ok := stderrors.AsType[*errors.RPCError](err); ok {
		c.span.SetAttributes(attribute.Int(AttrErrorCode, rpcErr.Code))
		attrs = append(attrs[:len(attrs):len(attrs)], attribute.Int(AttrErrorCode, rpcErr.Code))
	}

	c.rec.errorCount.Add(c.ctx, 1, metric.WithAttributes(attrs...))
}

// NotificationReceived counts an incoming notification.
func (r *Recorder) NotificationReceived(ctx context.Context, method string) {
	r.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRPCMethod, method)))
}
