package mcpclient

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/mcp-client-go/internal/config"
	"github.com/wagiedev/mcp-client-go/internal/framing"
)

// Options holds the session configuration assembled from Option values.
type Options = config.Options

// IDGenerator produces request ids for a session.
type IDGenerator = config.IDGenerator

// StderrMode controls what happens to the peer's standard error.
type StderrMode = config.StderrMode

// Stderr policies.
const (
	StderrInherit = config.StderrInherit
	StderrCapture = config.StderrCapture
	StderrDiscard = config.StderrDiscard
)

// Framing selects how messages are delimited on the wire.
type Framing = framing.Mode

// Framing modes.
const (
	FramingNewline       = framing.ModeNewline
	FramingContentLength = framing.ModeContentLength
)

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to a fresh Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithEnv provides additional environment variables for the peer process.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		o.Env = env
	}
}

// WithDir sets the working directory for the peer process.
func WithDir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

// WithStderr selects what happens to the peer's stderr. Defaults to StderrInherit.
func WithStderr(mode StderrMode) Option {
	return func(o *Options) {
		o.Stderr = mode
	}
}

// WithStderrCallback receives each line the peer writes to stderr.
// It implies StderrCapture.
func WithStderrCallback(fn func(line string)) Option {
	return func(o *Options) {
		o.Stderr = StderrCapture
		o.StderrCallback = fn
	}
}

// ===== Timing =====

// WithRequestTimeout sets the default deadline for every call.
// Zero (the default) waits until the response, the context, or session end.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.RequestTimeout = d
	}
}

// WithShutdownGrace sets how long Close waits for the peer to exit after its
// stdin is closed before killing it. Defaults to 5 seconds.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *Options) {
		o.ShutdownGrace = d
	}
}

// ===== Wire =====

// WithFraming selects message delimiting. Defaults to FramingNewline.
func WithFraming(mode Framing) Option {
	return func(o *Options) {
		o.Framing = mode
	}
}

// WithMaxMessageSize caps a single incoming message in bytes. Defaults to 10MB.
func WithMaxMessageSize(n int) Option {
	return func(o *Options) {
		o.MaxMessageSize = n
	}
}

// WithIDGenerator replaces the request id generator. Ids must be unique
// among pending requests.
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *Options) {
		o.IDGenerator = gen
	}
}

// WithSequentialIDs numbers requests 1, 2, 3, ... instead of using ULIDs.
func WithSequentialIDs() Option {
	return func(o *Options) {
		o.IDGenerator = config.SequentialIDs()
	}
}

// WithUUIDs uses random UUID strings as request ids.
func WithUUIDs() Option {
	return func(o *Options) {
		o.IDGenerator = config.UUIDs()
	}
}

// WithCancelNotification sends notifications/cancelled to the peer when a
// call times out or its context is cancelled.
func WithCancelNotification(enabled bool) Option {
	return func(o *Options) {
		o.CancelNotification = enabled
	}
}

// WithMaxConsecutiveMalformed ends the session after n malformed messages in
// a row. Zero (the default) tolerates any number.
func WithMaxConsecutiveMalformed(n int) Option {
	return func(o *Options) {
		o.MaxConsecutiveMalformed = n
	}
}

// ===== Telemetry =====

// WithTracerProvider sets the OpenTelemetry tracer provider for call spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for client metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) {
		o.MeterProvider = mp
	}
}

// ===== MCP =====

// WithClientInfo sets the name and version sent during Initialize.
func WithClientInfo(name, version string) Option {
	return func(o *Options) {
		o.ClientName = name
		o.ClientVersion = version
	}
}

// WithToolArgumentValidation checks CallTool arguments against the tool's
// input schema, as last reported by ListTools, before sending.
func WithToolArgumentValidation(enabled bool) Option {
	return func(o *Options) {
		o.ValidateToolArguments = enabled
	}
}

// WithTransport injects a custom transport instead of spawning a process.
func WithTransport(t Transport) Option {
	return func(o *Options) {
		o.Transport = t
	}
}

// ===== Per call =====

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout    time.Duration
	hasTimeout bool
}

func applyCallOptions(opts []CallOption) callOptions {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	return co
}

// WithTimeout bounds one call, overriding WithRequestTimeout. Zero or a
// negative duration disables the deadline for this call, leaving only ctx.
func WithTimeout(d time.Duration) CallOption {
	return func(co *callOptions) {
		co.timeout = d
		co.hasTimeout = true
	}
}

// effectiveTimeout maps the call options onto the internal client's
// convention: zero means the session default, negative means none.
func (co callOptions) effectiveTimeout() time.Duration {
	switch {
	case !co.hasTimeout:
		return 0
	case co.timeout <= 0:
		return -1
	default:
		return co.timeout
	}
}
