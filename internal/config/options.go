package config

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/mcp-client-go/internal/framing"
)

const (
	// DefaultShutdownGrace is how long Close waits for the peer to exit after
	// its stdin is closed before killing it.
	DefaultShutdownGrace = 5 * time.Second

	// DefaultClientName is reported in the initialize handshake.
	DefaultClientName = "mcp-client-go"

	// DefaultClientVersion is reported in the initialize handshake.
	DefaultClientVersion = "0.1.0"
)

// StderrMode controls what happens to the peer's standard error.
type StderrMode int

const (
	// StderrInherit connects the peer's stderr to ours.
	StderrInherit StderrMode = iota
	// StderrCapture buffers stderr for diagnostics and forwards lines to
	// Options.StderrCallback.
	StderrCapture
	// StderrDiscard drops the peer's stderr.
	StderrDiscard
)

func (m StderrMode) String() string {
	switch m {
	case StderrCapture:
		return "capture"
	case StderrDiscard:
		return "discard"
	default:
		return "inherit"
	}
}

// Options configures a client session.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Command is the peer executable, either a path or a name looked up in PATH.
	Command string

	// Args are passed to the peer unchanged.
	Args []string

	// Env provides additional environment variables for the peer process.
	Env map[string]string

	// Dir sets the working directory for the peer process.
	// If empty, the current directory is used.
	Dir string

	// Stderr selects the stderr policy. Defaults to StderrInherit.
	Stderr StderrMode

	// StderrCallback receives each stderr line when Stderr is StderrCapture.
	StderrCallback func(string)

	// RequestTimeout is the default deadline for a call.
	// Zero means calls wait until the response, their context, or session end.
	RequestTimeout time.Duration

	// ShutdownGrace bounds how long Close waits for the peer to exit.
	// If zero, DefaultShutdownGrace is used.
	ShutdownGrace time.Duration

	// Framing selects message delimiting. Defaults to newline-delimited JSON.
	Framing framing.Mode

	// MaxMessageSize caps a single incoming frame in bytes.
	// If zero, framing.DefaultMaxFrameSize is used.
	MaxMessageSize int

	// IDGenerator produces request ids. Defaults to ULIDs().
	IDGenerator IDGenerator

	// CancelNotification sends notifications/cancelled to the peer when a
	// call is abandoned by timeout or context cancellation.
	CancelNotification bool

	// MaxConsecutiveMalformed ends the session after this many malformed
	// frames in a row. Zero disables the limit.
	MaxConsecutiveMalformed int

	// TracerProvider and MeterProvider instrument calls.
	// If nil, the global OpenTelemetry providers are used.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// ClientName and ClientVersion identify this client during initialize.
	ClientName    string
	ClientVersion string

	// ValidateToolArguments checks tools/call arguments against the input
	// schema from the most recent tools/list before sending.
	ValidateToolArguments bool

	// Transport allows injecting a custom transport implementation.
	// If nil, the peer is spawned as a subprocess from Command and Args.
	// This field is not serialized to JSON.
	Transport Transport `json:"-"`
}

// EffectiveShutdownGrace returns ShutdownGrace or its default.
func (o *Options) EffectiveShutdownGrace() time.Duration {
	if o.ShutdownGrace > 0 {
		return o.ShutdownGrace
	}

	return DefaultShutdownGrace
}

// EffectiveIDGenerator returns IDGenerator or its default.
func (o *Options) EffectiveIDGenerator() IDGenerator {
	if o.IDGenerator != nil {
		return o.IDGenerator
	}

	return ULIDs()
}
